package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cirrus-faas/cirrus/internal/api"
	"github.com/cirrus-faas/cirrus/internal/health"
	"github.com/cirrus-faas/cirrus/internal/infra/provision"
	"github.com/cirrus-faas/cirrus/internal/infra/sqlite"
	"github.com/cirrus-faas/cirrus/internal/infra/taskstore"
	"github.com/cirrus-faas/cirrus/internal/master"
	"github.com/cirrus-faas/cirrus/internal/registry"
	"github.com/cirrus-faas/cirrus/internal/task"
	"github.com/cirrus-faas/cirrus/internal/worker"
)

// Daemon is the Cirrus runtime. It wires together all services.
type Daemon struct {
	Config    Config
	DB        *sqlite.DB
	Registry  *registry.Registry
	Master    *master.Master
	Projects  *master.ProjectManager
	Tasks     *task.Manager
	Scheduler *task.Scheduler
	Server    *api.Server
	Health    *health.Checker

	cancel context.CancelFunc
}

// New creates and initializes a Daemon with all services wired.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	db, err := sqlite.Open(cirrusHome())
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	reg := registry.New(registry.ExecFactory{})
	prov := provision.NewVenvProvisioner(cfg.Projects.Interpreter, cfg.Projects.EnvsDir)
	specFor := workerSpecBuilder(cfg)

	pm := master.NewProjectManager(reg, db, prov, &worker.ExecResolver{}, cfg.Projects.Dir, specFor)

	mcfg := master.Config{
		ReadyTimeout:  cfg.Worker.ReadyTimeout(),
		InvokeTimeout: cfg.Worker.InvokeTimeout(),
		PollInterval:  cfg.Worker.PollInterval(),
	}
	m := master.New(reg, mcfg, pm, nil, specFor)

	store, err := taskstore.New(cfg.Tasks.Dir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open task store: %w", err)
	}
	tcfg := task.Config{
		MaxConcurrent: int64(cfg.Tasks.MaxConcurrent),
		MaxAge:        time.Duration(cfg.Tasks.MaxAgeHours) * time.Hour,
		SweepInterval: time.Duration(cfg.Tasks.SweepIntervalMin) * time.Minute,
	}
	tm := task.NewManager(reg, store, m, tcfg)

	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	srv := api.NewServer(addr, m, pm, tm)
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}
	m.SetAPIServer(srv)

	checker := health.NewChecker(db, reg, cfg.Projects.Dir)
	srv.SetHealthChecker(checker)

	d := &Daemon{
		Config:   cfg,
		DB:       db,
		Registry: reg,
		Master:   m,
		Projects: pm,
		Tasks:    tm,
		Server:   srv,
		Health:   checker,
	}

	if cfg.Scheduler.Enabled {
		jobs, err := task.LoadSchedule(cfg.Scheduler.File)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("load schedule: %w", err)
		}
		if len(jobs) > 0 {
			sched, err := task.NewScheduler(tm, jobs)
			if err != nil {
				db.Close()
				return nil, fmt.Errorf("create scheduler: %w", err)
			}
			d.Scheduler = sched
		}
	}

	// Component slots — registered in startup order so later components
	// can look earlier ones up by name.
	for _, c := range []struct {
		name      string
		component any
	}{
		{registry.ComponentRegistry, reg},
		{registry.ComponentProjectManager, pm},
		{registry.ComponentMaster, m},
		{registry.ComponentTaskManager, tm},
		{registry.ComponentAPIServer, srv},
	} {
		if err := reg.Register(c.name, c.component); err != nil {
			db.Close()
			return nil, err
		}
	}

	return d, nil
}

// workerSpecBuilder maps a project name onto the exec spec for its worker:
// this same binary re-invoked with the hidden worker subcommand, with the
// system and project dotenv files layered into its environment.
func workerSpecBuilder(cfg Config) func(project string) registry.ProcessSpec {
	exe, err := os.Executable()
	if err != nil {
		exe = "cirrus"
	}
	return func(project string) registry.ProcessSpec {
		projectDir := filepath.Join(cfg.Projects.Dir, project)
		env, err := provision.LoadWorkerEnv(
			cfg.Projects.SystemEnvFile,
			filepath.Join(projectDir, ".env"),
		)
		if err != nil {
			log.Printf("[daemon] project %s: env files: %v", project, err)
		}
		return registry.ProcessSpec{
			Project: project,
			Entry:   exe,
			Args: []string{
				"worker",
				"--project", project,
				"--dir", projectDir,
				"--interpreter", filepath.Join(cfg.Projects.EnvsDir, project, "bin", "python"),
			},
			Dir: projectDir,
			Env: env,
		}
	}
}

// Serve starts the service and blocks until a shutdown signal.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.Master.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	go d.Health.Run(ctx)
	d.Tasks.Start(ctx)
	if d.Scheduler != nil {
		d.Scheduler.Start()
	}

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	fmt.Printf("Cirrus serving on http://%s\n", addr)
	if d.Config.Telemetry.Prometheus {
		fmt.Printf("  Metrics: http://%s/metrics\n", addr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Printf("[daemon] received %v, shutting down", sig)
	case <-ctx.Done():
	}

	d.shutdown()
	return nil
}

func (d *Daemon) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if d.Scheduler != nil {
		d.Scheduler.Stop()
	}
	d.Master.Stop(shutdownCtx)
	_ = d.DB.Close()
	if d.cancel != nil {
		d.cancel()
	}
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	d.shutdown()
}

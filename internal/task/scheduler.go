package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"

	"github.com/cirrus-faas/cirrus/internal/infra/metrics"
)

// ScheduledJob is one cron-triggered invocation from the schedule file.
type ScheduledJob struct {
	ID       string          `toml:"id"`
	Project  string          `toml:"project"`
	Function string          `toml:"function"`
	Cron     string          `toml:"cron"`
	Args     json.RawMessage `toml:"-"`
	// RawArgs holds the TOML-side payload; it is re-encoded to JSON when
	// the job fires.
	RawArgs map[string]any `toml:"args"`
}

type scheduleFile struct {
	Jobs []ScheduledJob `toml:"job"`
}

// LoadSchedule parses the schedule file and validates every entry. Cron
// expressions use the standard 5-field form. A missing file is an empty
// schedule.
func LoadSchedule(path string) ([]ScheduledJob, error) {
	var f scheduleFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse schedule: %w", err)
	}
	for i := range f.Jobs {
		j := &f.Jobs[i]
		if j.ID == "" || j.Project == "" || j.Function == "" {
			return nil, fmt.Errorf("schedule job %d: id, project, and function are required", i)
		}
		if _, err := cron.ParseStandard(j.Cron); err != nil {
			return nil, fmt.Errorf("schedule job %s: %q: %w", j.ID, j.Cron, err)
		}
		if j.RawArgs != nil {
			data, err := json.Marshal(j.RawArgs)
			if err != nil {
				return nil, fmt.Errorf("schedule job %s: args: %w", j.ID, err)
			}
			j.Args = data
		}
	}
	return f.Jobs, nil
}

// Scheduler fires scheduled jobs into the task manager. Because task
// creation deduplicates on the (project, function) pair, a firing that
// lands while the previous run is still active is absorbed instead of
// piling up.
type Scheduler struct {
	mgr   *Manager
	sched gocron.Scheduler
	jobs  []ScheduledJob
}

// NewScheduler registers the jobs on a stopped scheduler.
func NewScheduler(mgr *Manager, jobs []ScheduledJob) (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	s := &Scheduler{mgr: mgr, sched: sched, jobs: jobs}
	for _, job := range jobs {
		job := job
		if _, err := sched.NewJob(
			gocron.CronJob(job.Cron, false),
			gocron.NewTask(func() { s.runJob(job) }),
			gocron.WithName(job.ID),
		); err != nil {
			return nil, fmt.Errorf("register job %s: %w", job.ID, err)
		}
	}
	return s, nil
}

// Start begins firing jobs.
func (s *Scheduler) Start() {
	s.sched.Start()
	log.Printf("[scheduler] started with %d jobs", len(s.jobs))
}

// Stop shuts the scheduler down, waiting for running job functions.
func (s *Scheduler) Stop() {
	if err := s.sched.Shutdown(); err != nil {
		log.Printf("[scheduler] shutdown: %v", err)
	}
}

func (s *Scheduler) runJob(job ScheduledJob) {
	metrics.ScheduledFirings.WithLabelValues(job.ID).Inc()
	t, existed, err := s.mgr.CreateTask(context.Background(), job.Project, job.Function, job.Args)
	if err != nil {
		log.Printf("[scheduler] job %s: %v", job.ID, err)
		return
	}
	if existed {
		log.Printf("[scheduler] job %s skipped, task %s still active", job.ID, t.TaskID)
		return
	}
	log.Printf("[scheduler] job %s fired task %s", job.ID, t.TaskID)
}

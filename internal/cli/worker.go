package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/cirrus-faas/cirrus/internal/daemon"
	"github.com/cirrus-faas/cirrus/internal/infra/provision"
	"github.com/cirrus-faas/cirrus/internal/worker"
)

func init() {
	workerCmd.Flags().StringVar(&workerProject, "project", "", "Project name")
	workerCmd.Flags().StringVar(&workerDir, "dir", "", "Project source directory")
	workerCmd.Flags().StringVar(&workerInterpreter, "interpreter", "", "Project interpreter path")
	_ = workerCmd.MarkFlagRequired("project")
	_ = workerCmd.MarkFlagRequired("dir")
	rootCmd.AddCommand(workerCmd)
}

var (
	workerProject     string
	workerDir         string
	workerInterpreter string
)

// workerCmd is the entry point the service re-invokes itself with for each
// project. It speaks newline-delimited JSON on stdin/stdout; logs go to
// stderr where the parent captures them.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Hidden: true,
	Short:  "Run one project worker (internal)",
	RunE:   runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}

	prov := provision.NewVenvProvisioner(cfg.Projects.Interpreter, cfg.Projects.EnvsDir)
	interpreter := workerInterpreter
	if interpreter == "" {
		interpreter = prov.Interpreter(workerProject)
	}

	runner := worker.NewRunner(worker.Config{
		ProjectName: workerProject,
		ProjectDir:  workerDir,
		Resolver: &worker.ExecResolver{
			Interpreter:   interpreter,
			InvokeTimeout: cfg.Worker.InvokeTimeout(),
		},
		Prepare: func(ctx context.Context) error {
			if err := prov.EnsureEnvironment(ctx, workerProject, workerDir); err != nil {
				return err
			}
			return prov.InstallDependencies(ctx, workerProject, workerDir)
		},
	})
	return runner.Run(cmd.Context(), os.Stdin, os.Stdout)
}

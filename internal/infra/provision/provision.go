// Package provision prepares per-project runtime environments: a virtualenv
// with the project's dependencies installed, plus environment variables
// merged from the system and project dotenv files.
package provision

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// VenvProvisioner manages one virtualenv per project under envsDir, created
// with the base interpreter and populated from the project's
// requirements.txt when present.
type VenvProvisioner struct {
	// BaseInterpreter is the system Python used to create venvs.
	BaseInterpreter string
	// EnvsDir is where per-project venvs live.
	EnvsDir string
}

// NewVenvProvisioner returns a provisioner rooted at envsDir. An empty
// interpreter defaults to python3 on PATH.
func NewVenvProvisioner(baseInterpreter, envsDir string) *VenvProvisioner {
	if baseInterpreter == "" {
		baseInterpreter = "python3"
	}
	return &VenvProvisioner{BaseInterpreter: baseInterpreter, EnvsDir: envsDir}
}

func (v *VenvProvisioner) envDir(project string) string {
	return filepath.Join(v.EnvsDir, project)
}

// Interpreter returns the path of the project venv's Python binary.
func (v *VenvProvisioner) Interpreter(project string) string {
	return filepath.Join(v.envDir(project), "bin", "python")
}

// EnsureEnvironment creates the project's venv if it does not exist yet.
func (v *VenvProvisioner) EnsureEnvironment(ctx context.Context, project, _ string) error {
	if _, err := os.Stat(v.Interpreter(project)); err == nil {
		return nil
	}
	if err := os.MkdirAll(v.EnvsDir, 0o755); err != nil {
		return fmt.Errorf("create envs dir: %w", err)
	}
	log.Printf("[provision] creating venv for %s", project)
	cmd := exec.CommandContext(ctx, v.BaseInterpreter, "-m", "venv", v.envDir(project))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("create venv: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// InstallDependencies pip-installs the project's requirements.txt into its
// venv. No requirements file means nothing to install.
func (v *VenvProvisioner) InstallDependencies(ctx context.Context, project, projectDir string) error {
	reqs := filepath.Join(projectDir, "requirements.txt")
	if _, err := os.Stat(reqs); err != nil {
		return nil
	}
	log.Printf("[provision] installing dependencies for %s", project)
	cmd := exec.CommandContext(ctx, v.Interpreter(project), "-m", "pip", "install", "-q", "-r", reqs)
	cmd.Dir = projectDir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("pip install: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// RemoveEnvironment deletes the project's venv.
func (v *VenvProvisioner) RemoveEnvironment(project string) error {
	return os.RemoveAll(v.envDir(project))
}

// NoopProvisioner skips environment work entirely. Tests and pre-built
// environments use it.
type NoopProvisioner struct{}

func (NoopProvisioner) EnsureEnvironment(context.Context, string, string) error   { return nil }
func (NoopProvisioner) InstallDependencies(context.Context, string, string) error { return nil }
func (NoopProvisioner) RemoveEnvironment(string) error                            { return nil }
func (NoopProvisioner) Interpreter(string) string                                 { return "python3" }

package master

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/cirrus-faas/cirrus/internal/domain"
	"github.com/cirrus-faas/cirrus/internal/registry"
	"github.com/cirrus-faas/cirrus/internal/worker"
)

// Catalog is the deployment bookkeeping store: projects, their function
// projections, and deploy history. The sqlite store implements it.
type Catalog interface {
	UpsertProject(p domain.Project) error
	DeleteProject(name string) error
	GetProject(name string) (domain.Project, error)
	ListProjects() ([]domain.Project, error)
	ReplaceProjectFunctions(project string, fns []domain.Function) error
	ListFunctions(project string) ([]domain.Function, error)
	RecordDeploy(project string, functionCount int) error
	DeployHistory(project string, limit int) ([]domain.DeployEvent, error)
}

// Provisioner prepares and disposes of per-project runtime environments.
type Provisioner interface {
	EnsureEnvironment(ctx context.Context, project, projectDir string) error
	InstallDependencies(ctx context.Context, project, projectDir string) error
	RemoveEnvironment(project string) error
}

// ProjectManager owns the deploy lifecycle: provisioning, function
// discovery, catalog bookkeeping, and worker restarts after a redeploy.
type ProjectManager struct {
	reg         *registry.Registry
	catalog     Catalog
	prov        Provisioner
	resolver    worker.Resolver
	projectsDir string
	specFor     func(project string) registry.ProcessSpec
	onDelete    func(project string)
}

// NewProjectManager builds a project manager rooted at projectsDir.
func NewProjectManager(reg *registry.Registry, catalog Catalog, prov Provisioner, resolver worker.Resolver, projectsDir string, specFor func(project string) registry.ProcessSpec) *ProjectManager {
	return &ProjectManager{
		reg:         reg,
		catalog:     catalog,
		prov:        prov,
		resolver:    resolver,
		projectsDir: projectsDir,
		specFor:     specFor,
	}
}

// ProjectDir returns the directory a project's sources live in.
func (pm *ProjectManager) ProjectDir(name string) string {
	return filepath.Join(pm.projectsDir, name)
}

// DeployProject registers or refreshes a project whose sources are already
// in place under the projects directory: provision its environment, discover
// its functions, record everything in the catalog, and restart its worker so
// the new code is what runs.
func (pm *ProjectManager) DeployProject(ctx context.Context, name string) ([]domain.Function, error) {
	dir := pm.ProjectDir(name)
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("deploy %s: %w", name, domain.ErrProjectNotFound)
	}

	if err := pm.prov.EnsureEnvironment(ctx, name, dir); err != nil {
		return nil, fmt.Errorf("deploy %s: %w: %v", name, domain.ErrProvisionFailed, err)
	}
	if err := pm.prov.InstallDependencies(ctx, name, dir); err != nil {
		return nil, fmt.Errorf("deploy %s: %w: %v", name, domain.ErrProvisionFailed, err)
	}

	fns, err := pm.scanFunctions(name, dir)
	if err != nil {
		return nil, fmt.Errorf("deploy %s: %w", name, err)
	}

	if err := pm.catalog.UpsertProject(domain.Project{Name: name, Dir: dir, DeployedAt: time.Now().UTC()}); err != nil {
		return nil, fmt.Errorf("deploy %s: %w", name, err)
	}
	if err := pm.catalog.ReplaceProjectFunctions(name, fns); err != nil {
		return nil, fmt.Errorf("deploy %s: %w", name, err)
	}
	if err := pm.catalog.RecordDeploy(name, len(fns)); err != nil {
		log.Printf("[project] deploy %s: record history: %v", name, err)
	}

	// Restart the worker so a redeploy swaps the running code. Startup
	// failures surface on the next invocation, not here.
	pm.reg.TerminateProcess(name)
	pm.reg.StartProjectProcess(name, pm.specFor(name))

	log.Printf("[project] deployed %s with %d functions", name, len(fns))
	return fns, nil
}

// DeleteProject stops the worker and removes the project's sources,
// environment, and catalog rows.
func (pm *ProjectManager) DeleteProject(name string) error {
	if _, err := pm.catalog.GetProject(name); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}

	pm.reg.TerminateProcess(name)

	if err := os.RemoveAll(pm.ProjectDir(name)); err != nil {
		log.Printf("[project] delete %s: remove sources: %v", name, err)
	}
	if err := pm.prov.RemoveEnvironment(name); err != nil {
		log.Printf("[project] delete %s: remove environment: %v", name, err)
	}
	if err := pm.catalog.DeleteProject(name); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	if pm.onDelete != nil {
		pm.onDelete(name)
	}
	log.Printf("[project] deleted %s", name)
	return nil
}

// DeleteFunction removes one function's source file, refreshes the catalog
// projection, and restarts the worker so the stale handler is gone.
func (pm *ProjectManager) DeleteFunction(project, function string) error {
	fns, err := pm.catalog.ListFunctions(project)
	if err != nil {
		return err
	}
	var target *domain.Function
	for i := range fns {
		if fns[i].Name == function {
			target = &fns[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("%s/%s: %w", project, function, domain.ErrFunctionNotFound)
	}

	if target.FilePath != "" {
		if err := os.Remove(target.FilePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete %s/%s: %w", project, function, err)
		}
	}

	dir := pm.ProjectDir(project)
	remaining, err := pm.scanFunctions(project, dir)
	if err != nil {
		return err
	}
	if err := pm.catalog.ReplaceProjectFunctions(project, remaining); err != nil {
		return err
	}

	pm.reg.TerminateProcess(project)
	pm.reg.StartProjectProcess(project, pm.specFor(project))
	log.Printf("[project] deleted function %s/%s", project, function)
	return nil
}

// ListProjects returns every deployed project.
func (pm *ProjectManager) ListProjects() ([]domain.Project, error) {
	return pm.catalog.ListProjects()
}

// ListFunctions returns a project's catalog projection.
func (pm *ProjectManager) ListFunctions(project string) ([]domain.Function, error) {
	if _, err := pm.catalog.GetProject(project); err != nil {
		return nil, err
	}
	return pm.catalog.ListFunctions(project)
}

// DeployHistory returns a project's most recent deploy events.
func (pm *ProjectManager) DeployHistory(project string, limit int) ([]domain.DeployEvent, error) {
	if _, err := pm.catalog.GetProject(project); err != nil {
		return nil, err
	}
	return pm.catalog.DeployHistory(project, limit)
}

// scanFunctions discovers functions and overlays manifest metadata.
func (pm *ProjectManager) scanFunctions(project, dir string) ([]domain.Function, error) {
	fns, err := pm.resolver.Discover(dir)
	if err != nil {
		return nil, err
	}
	manifest, err := loadManifest(dir)
	if err != nil {
		return nil, err
	}
	for i := range fns {
		fns[i].ProjectName = project
		if m, ok := manifest[fns[i].Name]; ok {
			if m.Entry != "" {
				fns[i].Entry = m.Entry
			}
			fns[i].Description = m.Description
		}
	}
	return fns, nil
}

// Package health provides periodic service health checks: catalog
// connectivity, data directories, and worker liveness.
package health

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cirrus-faas/cirrus/internal/registry"
)

// Pinger is the catalog connectivity probe.
type Pinger interface {
	Ping() error
}

// Check defines a single health check.
type Check struct {
	Name    string
	CheckFn func(ctx context.Context) error
}

// Status represents the result of one health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Report is the aggregate health view served by the API.
type Report struct {
	Healthy bool     `json:"healthy"`
	Checks  []Status `json:"checks"`
}

// Checker runs the standard checks, periodically or on demand.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
}

// NewChecker creates a checker with the standard checks: catalog ping,
// projects directory, and worker liveness against the registry.
func NewChecker(db Pinger, reg *registry.Registry, projectsDir string) *Checker {
	return &Checker{
		interval: 60 * time.Second,
		checks: []Check{
			{
				Name: "catalog",
				CheckFn: func(context.Context) error {
					return db.Ping()
				},
			},
			{
				Name: "projects_dir",
				CheckFn: func(context.Context) error {
					return checkDir(projectsDir)
				},
			},
			{
				Name: "workers",
				CheckFn: func(context.Context) error {
					managed := reg.ManagedProjects()
					live := reg.LiveProjects()
					if len(live) < len(managed) {
						return fmt.Errorf("%d of %d workers live", len(live), len(managed))
					}
					return nil
				},
			},
		},
	}
}

// Run starts the periodic check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	c.runAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runAll(ctx)
		}
	}
}

// Check runs every check immediately and returns the aggregate report.
func (c *Checker) Check(ctx context.Context) Report {
	c.runAll(ctx)
	statuses := c.Statuses()
	report := Report{Healthy: true, Checks: statuses}
	for _, s := range statuses {
		if !s.Healthy {
			report.Healthy = false
		}
	}
	return report
}

func (c *Checker) runAll(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: time.Now(),
		}
		if err := check.CheckFn(ctx); err != nil {
			s.Healthy = false
			s.Error = err.Error()
		} else {
			s.Healthy = true
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

func checkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // nothing deployed yet
		}
		return fmt.Errorf("check dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}

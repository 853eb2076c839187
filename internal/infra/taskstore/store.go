// Package taskstore persists tasks as one JSON document per task under the
// data directory. The file is the durable record; the task manager's memory
// is just a hot cache of active tasks.
package taskstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cirrus-faas/cirrus/internal/domain"
)

// Store reads and writes task documents under a single directory.
type Store struct {
	dir string
}

// New creates the task directory if needed and returns a store over it.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create task dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(taskID string) string {
	return filepath.Join(s.dir, taskID+".json")
}

// Save writes the task document atomically: temp file then rename, so a
// crash mid-write never leaves a truncated record.
func (s *Store) Save(t *domain.Task) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", t.TaskID, err)
	}
	tmp := s.path(t.TaskID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write task %s: %w", t.TaskID, err)
	}
	if err := os.Rename(tmp, s.path(t.TaskID)); err != nil {
		return fmt.Errorf("persist task %s: %w", t.TaskID, err)
	}
	return nil
}

// Load reads one task by id. A missing file maps to ErrTaskNotFound.
func (s *Store) Load(taskID string) (*domain.Task, error) {
	data, err := os.ReadFile(s.path(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, taskID)
		}
		return nil, fmt.Errorf("read task %s: %w", taskID, err)
	}
	var t domain.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", taskID, err)
	}
	return &t, nil
}

// List returns all stored tasks matching the optional filters. Empty
// project or status matches everything. Unreadable files are skipped.
func (s *Store) List(project string, status domain.TaskStatus) ([]*domain.Task, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("scan task dir: %w", err)
	}
	var out []*domain.Task
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		t, err := s.Load(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		if project != "" && t.ProjectName != project {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// Delete removes one task document. Missing files are fine.
func (s *Store) Delete(taskID string) error {
	if err := os.Remove(s.path(taskID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete task %s: %w", taskID, err)
	}
	return nil
}

// Sweep deletes stored tasks created before the cutoff, skipping any id in
// keep (the manager passes its active set so in-flight tasks survive).
// Returns how many documents were removed.
func (s *Store) Sweep(cutoff time.Time, keep map[string]bool) (int, error) {
	tasks, err := s.List("", "")
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, t := range tasks {
		if keep[t.TaskID] || !t.CreatedAt.Before(cutoff) {
			continue
		}
		if err := s.Delete(t.TaskID); err == nil {
			removed++
		}
	}
	return removed, nil
}

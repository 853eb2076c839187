// Package domain holds the core types shared across Cirrus: tasks, projects,
// functions, wire messages, and sentinel errors. Domain types are pure — no
// infrastructure dependency.
package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus tracks the task lifecycle.
type TaskStatus string

const (
	TaskCreated   TaskStatus = "created"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Task is a trackable asynchronous invocation of a project function.
type Task struct {
	TaskID       string          `json:"task_id"`
	ProjectName  string          `json:"project_name"`
	FunctionName string          `json:"function_name"`
	Payload      json.RawMessage `json:"payload"`
	Status       TaskStatus      `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// IsTerminal returns true once the task has reached a final state.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskCompleted || t.Status == TaskFailed || t.Status == TaskCancelled
}

// IsActive returns true while the task still counts toward the
// one-active-task-per-function deduplication rule.
func (t *Task) IsActive() bool {
	return t.Status == TaskCreated || t.Status == TaskRunning
}

// Clone returns a copy safe to hand to callers while the manager keeps
// mutating the original.
func (t *Task) Clone() *Task {
	c := *t
	return &c
}

// NewTaskID builds a readable task id. The project and function names are
// there for humans reading logs and task listings; code matches tasks to a
// pair by the ProjectName and FunctionName fields, never by parsing the id.
func NewTaskID(project, function string) string {
	return fmt.Sprintf("%s_%s_%s", project, function, uuid.NewString())
}

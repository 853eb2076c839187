package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────

var (
	// Configuration errors — fail fast at the call site.
	ErrUnknownComponent = errors.New("unknown component name")
	ErrProjectNotFound  = errors.New("project directory not found")

	// Provisioning errors — fatal to one project's startup, not the service.
	ErrProvisionFailed = errors.New("environment provisioning failed")

	// Load errors — fatal to one function, not the worker.
	ErrFunctionNotFound = errors.New("function not found")
	ErrNoEntryPoint     = errors.New("function file has no entry point")

	// Liveness errors.
	ErrProjectUnavailable   = errors.New("project unavailable — worker could not be started")
	ErrWorkerNotInitialized = errors.New("worker not initialized")
	ErrReadyTimeout         = errors.New("worker did not become ready in time")
	ErrChannelFull          = errors.New("command channel full")

	// Task errors.
	ErrTaskNotFound       = errors.New("task not found")
	ErrTaskNotCancellable = errors.New("task already reached a terminal status")

	// Scheduler errors.
	ErrBadCronExpression = errors.New("invalid cron expression")
)

// FunctionError wraps an error message raised inside a user handler so the
// caller can tell an execution failure from an orchestration failure.
type FunctionError struct {
	ProjectName  string
	FunctionName string
	Message      string
}

func (e *FunctionError) Error() string {
	return "function " + e.ProjectName + "/" + e.FunctionName + " failed: " + e.Message
}

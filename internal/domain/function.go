package domain

import "time"

// LoadStatus tracks how far a function has progressed inside its worker:
// discovered on disk, registered in the worker's table, or actually loaded.
type LoadStatus string

const (
	FunctionUnregistered LoadStatus = "unregistered"
	FunctionRegistered   LoadStatus = "registered"
	FunctionLoaded       LoadStatus = "loaded"
)

// DefaultEntry is the entry point name a function file must expose unless
// its manifest says otherwise.
const DefaultEntry = "main"

// Project is a named unit of deployment: a directory of function source
// files plus a dependency manifest.
type Project struct {
	Name       string    `json:"name"`
	Dir        string    `json:"dir"`
	DeployedAt time.Time `json:"deployed_at,omitempty"`
}

// DeployEvent is one row of a project's deploy history.
type DeployEvent struct {
	Project       string    `json:"project"`
	DeployedAt    time.Time `json:"deployed_at"`
	FunctionCount int       `json:"function_count"`
}

// Function identifies one callable entry point within a project.
// The worker that loaded it owns the authoritative copy; the catalog keeps
// a read-only projection for listing and deploy bookkeeping.
type Function struct {
	ProjectName string     `json:"project_name"`
	Name        string     `json:"name"`
	FilePath    string     `json:"file_path"`
	Entry       string     `json:"entry"`
	Description string     `json:"description,omitempty"`
	Status      LoadStatus `json:"status"`
	UpdatedAt   time.Time  `json:"updated_at,omitempty"`
}

package models

import "time"

// WorkspaceSchemaVersion is the current workspace.json schema. Upgrades are
// forward-only and monotonic.
const WorkspaceSchemaVersion = 1

// GlobalModelDirectory records the user-provided model pool.
type GlobalModelDirectory struct {
	Path     string     `json:"path"`
	AddedAt  time.Time  `json:"added_at"`
	LastSync *time.Time `json:"last_sync,omitempty"`
}

// Workspace is the .metadata/workspace.json record.
type Workspace struct {
	Version              int                   `json:"version"`
	ActiveEnvironment    string                `json:"active_environment"`
	CreatedAt            time.Time             `json:"created_at"`
	GlobalModelDirectory *GlobalModelDirectory `json:"global_model_directory"`
}

// Environment describes an on-disk environment shell. Paths are absolute.
type Environment struct {
	Name        string
	Root        string
	ComfyUIDir  string
	CECDir      string
	VenvDir     string
	ModelsLink  string
	CreatedAt   time.Time
}

// Package activities provides the Temporal activities and workflow that run
// the loader.
package activities

// LoadTablesRequest starts one loader run. The run file is given inline as
// YAML or as a path readable by the worker; inline wins when both are set.
type LoadTablesRequest struct {
	RunID       string `json:"runId,omitempty"`
	ProjectID   string `json:"projectId"`
	WorkspaceID string `json:"workspaceId,omitempty"`
	RunFile     string `json:"runFile,omitempty"`
	RunFilePath string `json:"runFilePath,omitempty"`
}

// LoadTablesResult summarizes a run. A LOAD_FAILED error carries one as
// details, listing the tables that did load.
type LoadTablesResult struct {
	RunID   string            `json:"runId"`
	Loaded  []string          `json:"loaded"`
	Dropped []string          `json:"dropped,omitempty"`
	Modes   map[string]string `json:"modes,omitempty"`
	// StateVersion is the version of the saved incremental state.
	StateVersion int64 `json:"stateVersion"`
}

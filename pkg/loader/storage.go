package loader

import (
	"context"

	"github.com/nucleus/ucl-loader/pkg/schema"
)

// JobStatus is the terminal state of a remote storage job.
type JobStatus string

const (
	JobStatusSuccess JobStatus = "success"
	JobStatusError   JobStatus = "error"
)

// JobResult is what WaitForJob returns once a job resolves.
type JobResult struct {
	ID      string
	Status  JobStatus
	Message string
	// ResultID is the identifier the job produced, e.g. the table id.
	ResultID string
}

// TableInfo is the subset of table detail the orchestrator relies on.
type TableInfo struct {
	ID             string
	RowsCount      *int64
	LastImportDate string
	Metadata       []schema.Metadata
}

// Source selects what a load job imports.
type Source struct {
	// FileID is a file previously uploaded to storage.
	FileID string
	// WorkspaceID and DataObject select a table or path in a workspace.
	WorkspaceID string
	DataObject  string
}

// DeleteWhere restricts rows removed before an incremental load.
type DeleteWhere struct {
	Column   string
	Operator string
	Values   []string
}

// LoadOptions configures one create-or-load job.
type LoadOptions struct {
	Source      Source
	Columns     []string
	PrimaryKey  []string
	Incremental bool
	DeleteWhere *DeleteWhere
	// Create asks storage to create the table from the source first.
	Create bool
}

// TableInfoLookup is the read side used by the failed-load decider.
type TableInfoLookup interface {
	GetTable(ctx context.Context, id TableID) (*TableInfo, error)
}

// Storage is the storage service as consumed by the orchestrator.
type Storage interface {
	TableInfoLookup

	// SubmitLoadJob queues a create-or-load job and returns its id.
	SubmitLoadJob(ctx context.Context, dest TableID, opts LoadOptions) (string, error)
	// WaitForJob blocks until the job succeeds or fails.
	WaitForJob(ctx context.Context, jobID string) (*JobResult, error)
	// CreateTableDefinition creates an empty typed table.
	CreateTableDefinition(ctx context.Context, bucketID string, def *schema.TableDefinition) (string, error)
	WriteTableMetadata(ctx context.Context, id TableID, provider string, entries []schema.Metadata) error
	WriteColumnMetadata(ctx context.Context, columnID, provider string, entries []schema.Metadata) error
	DropTable(ctx context.Context, id TableID) error
}

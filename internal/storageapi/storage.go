package storageapi

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/nucleus/ucl-loader/pkg/loader"
	"github.com/nucleus/ucl-loader/pkg/schema"
	"github.com/nucleus/ucl-loader/pkg/staging"
)

var _ loader.Storage = (*Client)(nil)

// =============================================================================
// WIRE TYPES
// =============================================================================

// flexID decodes identifiers the service sends either as numbers or strings.
type flexID string

func (id *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		*id = flexID(s)
		return nil
	}
	*id = flexID(b)
	return nil
}

type tableResponse struct {
	ID             string            `json:"id"`
	RowsCount      *int64            `json:"rowsCount"`
	LastImportDate string            `json:"lastImportDate"`
	Metadata       []schema.Metadata `json:"metadata"`
}

type jobResponse struct {
	ID     flexID `json:"id"`
	Status string `json:"status"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
	Results *struct {
		ID flexID `json:"id"`
	} `json:"results"`
}

type metadataEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type metadataRequest struct {
	Provider string          `json:"provider"`
	Metadata []metadataEntry `json:"metadata"`
}

type fileResponse struct {
	ID flexID `json:"id"`
}

// Job states reported by the service.
const (
	jobWaiting    = "waiting"
	jobProcessing = "processing"
	jobSuccess    = "success"
	jobError      = "error"
	jobCancelled  = "cancelled"
	jobTerminated = "terminated"
)

func tablePath(id loader.TableID) string {
	return "/v2/storage/tables/" + url.PathEscape(id.String())
}

func bucketPath(bucketID string) string {
	return "/v2/storage/buckets/" + url.PathEscape(bucketID)
}

// =============================================================================
// TABLES
// =============================================================================

// GetTable returns table detail including its metadata.
func (c *Client) GetTable(ctx context.Context, id loader.TableID) (*loader.TableInfo, error) {
	var resp tableResponse
	if err := c.get(ctx, tablePath(id), url.Values{"include": {"metadata"}}, &resp); err != nil {
		return nil, fmt.Errorf("get table %s: %w", id, err)
	}
	return &loader.TableInfo{
		ID:             resp.ID,
		RowsCount:      resp.RowsCount,
		LastImportDate: resp.LastImportDate,
		Metadata:       resp.Metadata,
	}, nil
}

// SubmitLoadJob queues a create-from-source job when opts.Create is set,
// otherwise an import into the existing table.
func (c *Client) SubmitLoadJob(ctx context.Context, dest loader.TableID, opts loader.LoadOptions) (string, error) {
	body := map[string]any{}
	switch {
	case opts.Source.FileID != "":
		body["dataFileId"] = opts.Source.FileID
	case opts.Source.WorkspaceID != "":
		body["dataWorkspaceId"] = opts.Source.WorkspaceID
		body["dataObject"] = opts.Source.DataObject
	default:
		return "", wrapError(CodeRequestRejected, false, 0, fmt.Errorf("load of %s has no source", dest))
	}
	if len(opts.Columns) > 0 {
		body["columns"] = opts.Columns
	}

	path := tablePath(dest) + "/import-async"
	if opts.Create {
		path = bucketPath(dest.BucketID()) + "/tables-async"
		body["name"] = dest.Table
		if len(opts.PrimaryKey) > 0 {
			body["primaryKey"] = opts.PrimaryKey
		}
	} else {
		body["incremental"] = opts.Incremental
		if dw := opts.DeleteWhere; dw != nil {
			body["deleteWhereColumn"] = dw.Column
			body["deleteWhereOperator"] = dw.Operator
			body["deleteWhereValues"] = dw.Values
		}
	}

	var job jobResponse
	if err := c.post(ctx, path, body, &job); err != nil {
		return "", err
	}
	if job.ID == "" {
		return "", wrapError(CodeBadResponse, false, 0, fmt.Errorf("load of %s returned no job id", dest))
	}
	c.logger.Debug("load job queued", zap.String("table", dest.String()), zap.String("jobId", string(job.ID)))
	return string(job.ID), nil
}

// CreateTableDefinition creates an empty typed table and returns its id.
func (c *Client) CreateTableDefinition(ctx context.Context, bucketID string, def *schema.TableDefinition) (string, error) {
	var job jobResponse
	if err := c.post(ctx, bucketPath(bucketID)+"/tables-definition", def, &job); err != nil {
		return "", fmt.Errorf("create table definition %s.%s: %w", bucketID, def.Name, err)
	}
	res, err := c.WaitForJob(ctx, string(job.ID))
	if err != nil {
		return "", err
	}
	if res.Status != loader.JobStatusSuccess {
		return "", &loader.JobError{JobID: res.ID, Message: res.Message}
	}
	return res.ResultID, nil
}

// DropTable deletes a table, waiting for the job when the service runs it
// asynchronously.
func (c *Client) DropTable(ctx context.Context, id loader.TableID) error {
	var job jobResponse
	if err := c.delete(ctx, tablePath(id), url.Values{"force": {"true"}}, &job); err != nil {
		return fmt.Errorf("drop table %s: %w", id, err)
	}
	if job.ID == "" {
		return nil
	}
	res, err := c.WaitForJob(ctx, string(job.ID))
	if err != nil {
		return err
	}
	if res.Status != loader.JobStatusSuccess {
		return &loader.JobError{JobID: res.ID, Message: res.Message}
	}
	return nil
}

// =============================================================================
// METADATA
// =============================================================================

func toEntries(entries []schema.Metadata) []metadataEntry {
	out := make([]metadataEntry, len(entries))
	for i, m := range entries {
		out[i] = metadataEntry{Key: m.Key, Value: m.Value}
	}
	return out
}

func (c *Client) WriteTableMetadata(ctx context.Context, id loader.TableID, provider string, entries []schema.Metadata) error {
	req := metadataRequest{Provider: provider, Metadata: toEntries(entries)}
	return c.upsert(ctx, tablePath(id)+"/metadata", req, nil)
}

func (c *Client) WriteColumnMetadata(ctx context.Context, columnID, provider string, entries []schema.Metadata) error {
	req := metadataRequest{Provider: provider, Metadata: toEntries(entries)}
	return c.upsert(ctx, "/v2/storage/columns/"+url.PathEscape(columnID)+"/metadata", req, nil)
}

// =============================================================================
// JOBS
// =============================================================================

// WaitForJob polls the job until it reaches a terminal state. The delay
// starts at PollInterval and doubles up to MaxPollInterval.
func (c *Client) WaitForJob(ctx context.Context, jobID string) (*loader.JobResult, error) {
	if jobID == "" {
		return nil, wrapError(CodeRequestRejected, false, 0, fmt.Errorf("job id is required"))
	}
	delay := c.config.PollInterval
	for {
		var job jobResponse
		if err := c.get(ctx, "/v2/storage/jobs/"+url.PathEscape(jobID), nil, &job); err != nil {
			return nil, fmt.Errorf("get job %s: %w", jobID, err)
		}

		switch job.Status {
		case jobWaiting, jobProcessing:
		case jobSuccess:
			res := &loader.JobResult{ID: jobID, Status: loader.JobStatusSuccess}
			if job.Results != nil {
				res.ResultID = string(job.Results.ID)
			}
			return res, nil
		case jobError, jobCancelled, jobTerminated:
			msg := "job " + job.Status
			if job.Error != nil && job.Error.Message != "" {
				msg = job.Error.Message
			}
			return &loader.JobResult{ID: jobID, Status: loader.JobStatusError, Message: msg}, nil
		default:
			return nil, wrapError(CodeBadResponse, false, 0, fmt.Errorf("job %s has unexpected status %q", jobID, job.Status))
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if delay > c.config.MaxPollInterval {
			delay = c.config.MaxPollInterval
		}
	}
}

// =============================================================================
// FILES
// =============================================================================

// RegisterFile registers staged data with the storage service and returns
// the file id a load job can import from.
func (c *Client) RegisterFile(ctx context.Context, ref staging.Ref) (string, error) {
	var file fileResponse
	if err := c.post(ctx, "/v2/storage/files/register", ref, &file); err != nil {
		return "", fmt.Errorf("register file %s: %w", ref.Name, err)
	}
	if file.ID == "" {
		return "", wrapError(CodeBadResponse, false, 0, fmt.Errorf("register file %s returned no id", ref.Name))
	}
	return string(file.ID), nil
}

package activities

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	LoadRunWorkflowName = "loadRunWorkflow"
	LoadTablesActivity  = "LoadTables"
)

var loadActivityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 2 * time.Hour,
	RetryPolicy: &temporal.RetryPolicy{
		InitialInterval:        5 * time.Second,
		BackoffCoefficient:     2.0,
		MaximumInterval:        5 * time.Minute,
		MaximumAttempts:        3,
		NonRetryableErrorTypes: []string{ErrTypeInvalidInput, ErrTypeLoadFailed, ErrTypeStateConflict},
	},
}

// LoadRunWorkflow runs LoadTables once for req. The run id defaults to the
// workflow run id so logs of both sides line up.
func LoadRunWorkflow(ctx workflow.Context, req LoadTablesRequest) (*LoadTablesResult, error) {
	logger := workflow.GetLogger(ctx)
	if req.RunFile == "" && req.RunFilePath == "" {
		return nil, temporal.NewApplicationError("runFile or runFilePath is required", ErrTypeInvalidInput)
	}
	if req.RunID == "" {
		req.RunID = workflow.GetInfo(ctx).WorkflowExecution.RunID
	}

	actCtx := workflow.WithActivityOptions(ctx, loadActivityOptions)
	var result LoadTablesResult
	if err := workflow.ExecuteActivity(actCtx, LoadTablesActivity, req).Get(ctx, &result); err != nil {
		logger.Error("load run failed", "runId", req.RunID, "error", err)
		return nil, err
	}
	logger.Info("load run complete", "runId", req.RunID, "tables", len(result.Loaded))
	return &result, nil
}

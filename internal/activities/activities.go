package activities

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/nucleus/ucl-loader/internal/config"
	"github.com/nucleus/ucl-loader/pkg/loader"
	"github.com/nucleus/ucl-loader/pkg/pipeline"
	"github.com/nucleus/ucl-loader/pkg/syncstate"
)

// Error types reported to workflows.
const (
	ErrTypeInvalidInput  = "INVALID_INPUT"
	ErrTypeLoadFailed    = "LOAD_FAILED"
	ErrTypeStateConflict = "STATE_CONFLICT"
)

// Runner is the part of pipeline.OutputRunner the activities use.
type Runner interface {
	Run(ctx context.Context, req pipeline.RunRequest) (*pipeline.RunResult, error)
}

// Activities holds the loader's Temporal activities.
type Activities struct {
	runner Runner
	lookup loader.TableInfoLookup
	states syncstate.Repository
}

// NewActivities wires the activities to a runner, the storage lookup used to
// resolve inputs, and the state repository.
func NewActivities(runner Runner, lookup loader.TableInfoLookup, states syncstate.Repository) *Activities {
	return &Activities{runner: runner, lookup: lookup, states: states}
}

// =============================================================================
// ACTIVITY: LoadTables
// =============================================================================

// LoadTables loads the outputs of a run and, when every table loaded,
// stores the new incremental state. Load failures are not retried: a retry
// would reload the tables that already succeeded.
func (a *Activities) LoadTables(ctx context.Context, req LoadTablesRequest) (*LoadTablesResult, error) {
	logger := activity.GetLogger(ctx)

	rf, err := readRunFile(req)
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidInput, err)
	}
	logger.Info("loading tables", "runId", req.RunID, "componentId", rf.ComponentID, "outputs", len(rf.Outputs))

	scope := syncstate.Scope{ProjectID: req.ProjectID, ComponentID: rf.ComponentID, ConfigurationID: rf.ConfigurationID}
	stored, err := a.states.Load(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	prev, err := syncstate.New(stored.Snapshot)
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidInput, err)
	}

	plan, err := pipeline.ResolveInputs(ctx, a.lookup, prev, rf.Inputs)
	if err != nil {
		return nil, fmt.Errorf("resolve inputs: %w", err)
	}
	activity.RecordHeartbeat(ctx, "inputs resolved")

	res, err := a.runner.Run(ctx, pipeline.RunRequest{RunID: req.RunID, Run: rf, WorkspaceID: req.WorkspaceID})
	if err != nil {
		var agg *loader.AggregateLoadError
		if errors.As(err, &agg) {
			partial := LoadTablesResult{RunID: req.RunID}
			if res != nil {
				partial.RunID = res.RunID
				partial.Loaded = tableNames(res.Loaded)
				partial.Dropped = tableNames(res.Dropped)
			}
			logger.Error("tables failed to load", "failed", len(agg.Failures), "dropped", len(partial.Dropped))
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeLoadFailed, err, partial)
		}
		var opErr *loader.OperationError
		if errors.As(err, &opErr) {
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeLoadFailed, err)
		}
		return nil, err
	}
	activity.RecordHeartbeat(ctx, "tables loaded")

	next, err := pipeline.NextState(prev, plan)
	if err != nil {
		return nil, fmt.Errorf("build state: %w", err)
	}
	version, err := a.states.Save(ctx, scope, next.Snapshot(), stored.Version)
	if err != nil {
		if errors.Is(err, syncstate.ErrVersionMismatch) {
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeStateConflict, err)
		}
		return nil, fmt.Errorf("save state: %w", err)
	}

	out := &LoadTablesResult{
		RunID:        res.RunID,
		Loaded:       tableNames(res.Loaded),
		Dropped:      tableNames(res.Dropped),
		Modes:        make(map[string]string, len(res.Modes)),
		StateVersion: version,
	}
	for dest, mode := range res.Modes {
		out.Modes[dest] = mode.String()
	}
	logger.Info("load complete", "runId", res.RunID, "tables", len(out.Loaded), "stateVersion", version)
	return out, nil
}

func readRunFile(req LoadTablesRequest) (*config.RunFile, error) {
	switch {
	case req.RunFile != "":
		return config.ParseRunFile([]byte(req.RunFile))
	case req.RunFilePath != "":
		return config.LoadRunFile(req.RunFilePath)
	default:
		return nil, fmt.Errorf("runFile or runFilePath is required")
	}
}

func tableNames(ids []loader.TableID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

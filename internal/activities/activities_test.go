package activities

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/nucleus/ucl-loader/pkg/loader"
	"github.com/nucleus/ucl-loader/pkg/pipeline"
	"github.com/nucleus/ucl-loader/pkg/schema"
	"github.com/nucleus/ucl-loader/pkg/syncstate"
)

// =============================================================================
// FAKES
// =============================================================================

type stubRunner struct {
	mu       sync.Mutex
	requests []pipeline.RunRequest
	result   *pipeline.RunResult
	err      error
}

func (r *stubRunner) Run(_ context.Context, req pipeline.RunRequest) (*pipeline.RunResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	return r.result, r.err
}

type tableLookup map[string]string // table -> last import date

func (l tableLookup) GetTable(_ context.Context, id loader.TableID) (*loader.TableInfo, error) {
	date, ok := l[id.String()]
	if !ok {
		return nil, fmt.Errorf("table %s: %w", id, loader.ErrNotFound)
	}
	return &loader.TableInfo{ID: id.String(), LastImportDate: date}, nil
}

const runYAML = `
componentId: keboola.ex-db
configurationId: "42"
backend: snowflake
inputs:
  tables:
    - source: in.c-crm.customers
      changedSince: adaptive
  files:
    - tags: [{name: invoices}]
      lastImportId: "991"
outputs:
  - workspaceObject: analytics.daily
    destination: out.c-main.daily
`

var testScope = syncstate.Scope{ProjectID: "p1", ComponentID: "keboola.ex-db", ConfigurationID: "42"}

func successfulRunner() *stubRunner {
	return &stubRunner{result: &pipeline.RunResult{
		RunID:  "run-1",
		Loaded: []loader.TableID{loader.MustParseTableID("out.c-main.daily")},
		Modes:  map[string]schema.Mode{"out.c-main.daily": schema.ModeNative},
	}}
}

func newActivityEnv(t *testing.T, acts *Activities) *testsuite.TestActivityEnvironment {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	env.RegisterActivity(acts)
	return env
}

// =============================================================================
// TESTS
// =============================================================================

func TestLoadTablesSavesStateOnSuccess(t *testing.T) {
	runner := successfulRunner()
	repo := syncstate.NewMemoryRepository()
	lookup := tableLookup{"in.c-crm.customers": "2024-02-01T10:00:00+0000"}
	acts := NewActivities(runner, lookup, repo)
	env := newActivityEnv(t, acts)

	val, err := env.ExecuteActivity(acts.LoadTables, LoadTablesRequest{RunID: "run-1", ProjectID: "p1", WorkspaceID: "ws-1", RunFile: runYAML})
	require.NoError(t, err)

	var res LoadTablesResult
	require.NoError(t, val.Get(&res))
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, []string{"out.c-main.daily"}, res.Loaded)
	assert.Equal(t, map[string]string{"out.c-main.daily": "native"}, res.Modes)
	assert.Equal(t, int64(1), res.StateVersion)

	require.Len(t, runner.requests, 1)
	assert.Equal(t, "ws-1", runner.requests[0].WorkspaceID)
	assert.Equal(t, "keboola.ex-db", runner.requests[0].Run.ComponentID)

	stored, err := repo.Load(context.Background(), testScope)
	require.NoError(t, err)
	state, err := syncstate.New(stored.Snapshot)
	require.NoError(t, err)
	since, err := syncstate.ChangedSince(state, "in.c-crm.customers")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-01T10:00:00+0000", since)
	fileID, err := syncstate.FilesSinceID(state, []syncstate.Tag{{Name: "invoices"}})
	require.NoError(t, err)
	assert.Equal(t, "991", fileID)
}

func TestLoadTablesSecondRunBumpsVersion(t *testing.T) {
	repo := syncstate.NewMemoryRepository()
	lookup := tableLookup{"in.c-crm.customers": "2024-02-01T10:00:00+0000"}
	acts := NewActivities(successfulRunner(), lookup, repo)
	env := newActivityEnv(t, acts)

	_, err := env.ExecuteActivity(acts.LoadTables, LoadTablesRequest{ProjectID: "p1", RunFile: runYAML})
	require.NoError(t, err)
	val, err := env.ExecuteActivity(acts.LoadTables, LoadTablesRequest{ProjectID: "p1", RunFile: runYAML})
	require.NoError(t, err)

	var res LoadTablesResult
	require.NoError(t, val.Get(&res))
	assert.Equal(t, int64(2), res.StateVersion)
}

func TestLoadTablesFailureKeepsState(t *testing.T) {
	dest := loader.MustParseTableID("out.c-main.daily")
	loaded := loader.MustParseTableID("out.c-main.orders")
	runner := &stubRunner{
		result: &pipeline.RunResult{RunID: "run-1", Loaded: []loader.TableID{loaded}, Dropped: []loader.TableID{dest}},
		err:    &loader.AggregateLoadError{Failures: []loader.TaskFailure{
			{Destination: dest, JobID: "job-1", Message: "quota exceeded"},
		}},
	}
	repo := syncstate.NewMemoryRepository()
	acts := NewActivities(runner, tableLookup{"in.c-crm.customers": "2024-02-01T10:00:00+0000"}, repo)
	env := newActivityEnv(t, acts)

	_, err := env.ExecuteActivity(acts.LoadTables, LoadTablesRequest{ProjectID: "p1", RunFile: runYAML})
	require.Error(t, err)
	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, ErrTypeLoadFailed, appErr.Type())
	assert.True(t, appErr.NonRetryable())
	assert.Contains(t, err.Error(), `Failed to load table "out.c-main.daily": quota exceeded`)

	require.True(t, appErr.HasDetails())
	var partial LoadTablesResult
	require.NoError(t, appErr.Details(&partial))
	assert.Equal(t, "run-1", partial.RunID)
	assert.Equal(t, []string{"out.c-main.orders"}, partial.Loaded)
	assert.Equal(t, []string{"out.c-main.daily"}, partial.Dropped)

	stored, err := repo.Load(context.Background(), testScope)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.Version)
}

func TestLoadTablesRejectsMissingRunFile(t *testing.T) {
	acts := NewActivities(successfulRunner(), tableLookup{}, syncstate.NewMemoryRepository())
	env := newActivityEnv(t, acts)

	_, err := env.ExecuteActivity(acts.LoadTables, LoadTablesRequest{ProjectID: "p1"})
	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, ErrTypeInvalidInput, appErr.Type())
}

func TestLoadTablesMissingInputTable(t *testing.T) {
	runner := successfulRunner()
	acts := NewActivities(runner, tableLookup{}, syncstate.NewMemoryRepository())
	env := newActivityEnv(t, acts)

	_, err := env.ExecuteActivity(acts.LoadTables, LoadTablesRequest{ProjectID: "p1", RunFile: runYAML})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in.c-crm.customers")
	assert.Empty(t, runner.requests)
}

func TestLoadRunWorkflow(t *testing.T) {
	runner := successfulRunner()
	acts := NewActivities(runner, tableLookup{"in.c-crm.customers": "2024-02-01T10:00:00+0000"}, syncstate.NewMemoryRepository())

	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflowWithOptions(LoadRunWorkflow, workflow.RegisterOptions{Name: LoadRunWorkflowName})
	env.RegisterActivity(acts)

	env.ExecuteWorkflow(LoadRunWorkflowName, LoadTablesRequest{ProjectID: "p1", RunFile: runYAML})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var res LoadTablesResult
	require.NoError(t, env.GetWorkflowResult(&res))
	assert.Equal(t, []string{"out.c-main.daily"}, res.Loaded)

	require.Len(t, runner.requests, 1)
	assert.NotEmpty(t, runner.requests[0].RunID)
}

func TestLoadRunWorkflowRejectsEmptyRequest(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflowWithOptions(LoadRunWorkflow, workflow.RegisterOptions{Name: LoadRunWorkflowName})

	env.ExecuteWorkflow(LoadRunWorkflowName, LoadTablesRequest{ProjectID: "p1"})
	require.True(t, env.IsWorkflowCompleted())
	assert.Error(t, env.GetWorkflowError())
}

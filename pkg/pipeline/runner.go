// Package pipeline drives one loader run: it turns output mappings into load
// tasks, submits and waits for them as a queue, and cleans up tables left
// empty by failed loads.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nucleus/ucl-loader/internal/config"
	"github.com/nucleus/ucl-loader/internal/metrics"
	"github.com/nucleus/ucl-loader/pkg/loader"
	"github.com/nucleus/ucl-loader/pkg/schema"
	"github.com/nucleus/ucl-loader/pkg/staging"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// FileRegistrar turns staged data into a storage file id.
type FileRegistrar interface {
	RegisterFile(ctx context.Context, ref staging.Ref) (string, error)
}

// WorkspaceDescriber reports the columns of a workspace object.
type WorkspaceDescriber interface {
	Backend() string
	Fields(ctx context.Context, object string) ([]schema.Field, []string, error)
}

// =============================================================================
// RUNNER
// =============================================================================

// RunnerOption configures an OutputRunner.
type RunnerOption func(*OutputRunner)

// WithStaging enables file outputs: files are uploaded through stager and
// registered with files.
func WithStaging(stager staging.Stager, files FileRegistrar) RunnerOption {
	return func(r *OutputRunner) {
		r.stager = stager
		r.files = files
	}
}

// WithWorkspace enables native types for workspace outputs.
func WithWorkspace(ws WorkspaceDescriber) RunnerOption {
	return func(r *OutputRunner) { r.workspace = ws }
}

func WithMetrics(m *metrics.Collector) RunnerOption {
	return func(r *OutputRunner) { r.metrics = m }
}

func WithLogger(logger *zap.Logger) RunnerOption {
	return func(r *OutputRunner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithWaitConcurrency is passed through to the load queue.
func WithWaitConcurrency(n int) RunnerOption {
	return func(r *OutputRunner) { r.waitConcurrency = n }
}

func withClock(now func() time.Time) RunnerOption {
	return func(r *OutputRunner) { r.now = now }
}

// OutputRunner loads the outputs of a run file into storage.
type OutputRunner struct {
	storage         loader.Storage
	stager          staging.Stager
	files           FileRegistrar
	workspace       WorkspaceDescriber
	metrics         *metrics.Collector
	logger          *zap.Logger
	waitConcurrency int
	now             func() time.Time
}

// NewOutputRunner creates a runner against storage.
func NewOutputRunner(storage loader.Storage, opts ...RunnerOption) *OutputRunner {
	r := &OutputRunner{
		storage:         storage,
		logger:          zap.NewNop(),
		waitConcurrency: 1,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.NewCollector(r.logger)
	}
	return r
}

// RunRequest is the input of Run.
type RunRequest struct {
	// RunID tags logs; a random id is used when empty.
	RunID       string
	Run         *config.RunFile
	WorkspaceID string
}

// RunResult reports what a run did. It is returned even when Run fails
// after submission so partial successes stay visible.
type RunResult struct {
	RunID    string
	Loaded   []loader.TableID
	Failures []loader.TaskFailure
	Dropped  []loader.TableID
	// Modes holds the translation mode chosen per destination.
	Modes map[string]schema.Mode
}

// Run loads every output mapping. A failure while preparing tasks stops the
// run before anything is submitted. Load failures are collected into a
// *loader.AggregateLoadError returned together with the result.
func (r *OutputRunner) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if req.Run == nil {
		return nil, fmt.Errorf("run file is required")
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	started := r.now()
	logger := r.logger.With(zap.String("runId", req.RunID), zap.String("componentId", req.Run.ComponentID))
	result := &RunResult{RunID: req.RunID, Modes: make(map[string]schema.Mode, len(req.Run.Outputs))}

	translator := schema.NewTranslator(req.Run.Backends())
	tasks := make([]*loader.LoadTask, 0, len(req.Run.Outputs))
	for i := range req.Run.Outputs {
		task, mode, err := r.prepare(ctx, logger, translator, req, &req.Run.Outputs[i])
		if err != nil {
			r.abandon(ctx, logger, tasks, err)
			r.metrics.RecordRun("failed", r.now().Sub(started))
			return nil, err
		}
		result.Modes[task.Destination().String()] = mode
		tasks = append(tasks, task)
	}

	queue := loader.NewLoadQueue(r.storage, tasks,
		loader.WithLogger(logger),
		loader.WithWaitConcurrency(r.waitConcurrency))
	if err := queue.Start(ctx); err != nil {
		r.abandon(ctx, logger, tasks, err)
		r.metrics.RecordRun("failed", r.now().Sub(started))
		return nil, err
	}

	waitStarted := r.now()
	qres, waitErr := queue.WaitForAll(ctx)
	r.metrics.RecordWait(r.now().Sub(waitStarted))

	for _, o := range qres.Outcomes {
		mode := result.Modes[o.Task.Destination().String()].String()
		if o.Succeeded() {
			r.metrics.RecordTableLoaded(mode)
		} else {
			r.metrics.RecordTableFailed(mode)
		}
	}
	result.Loaded = qres.Succeeded()
	result.Failures = qres.Failures()

	if waitErr == nil {
		r.metrics.RecordRun("success", r.now().Sub(started))
		logger.Info("run finished", zap.Int("tables", len(result.Loaded)))
		return result, nil
	}

	dropped, cleanErr := loader.CleanupFailed(ctx, r.storage, qres, logger)
	result.Dropped = dropped
	r.metrics.RecordTablesDropped(len(dropped))
	if cleanErr != nil {
		logger.Warn("cleanup after failed load incomplete", zap.Error(cleanErr))
	}

	outcome := "partial"
	if len(result.Loaded) == 0 {
		outcome = "failed"
	}
	r.metrics.RecordRun(outcome, r.now().Sub(started))
	return result, waitErr
}

// abandon drops tables created by tasks that never got submitted.
func (r *OutputRunner) abandon(ctx context.Context, logger *zap.Logger, tasks []*loader.LoadTask, cause error) {
	var outcomes []loader.TaskOutcome
	for _, t := range tasks {
		if !t.Submitted() && t.FreshlyCreated() {
			outcomes = append(outcomes, loader.TaskOutcome{Task: t, Err: cause})
		}
	}
	if len(outcomes) == 0 {
		return
	}
	dropped, err := loader.CleanupFailed(ctx, r.storage, &loader.QueueResult{Outcomes: outcomes}, logger)
	r.metrics.RecordTablesDropped(len(dropped))
	if err != nil {
		logger.Warn("cleanup of abandoned tables incomplete", zap.Error(err))
	}
}

// =============================================================================
// TASK PREPARATION
// =============================================================================

func (r *OutputRunner) prepare(ctx context.Context, logger *zap.Logger, tr *schema.Translator, req RunRequest, out *config.OutputMapping) (*loader.LoadTask, schema.Mode, error) {
	run := req.Run
	dest, err := loader.ParseTableID(out.Destination)
	if err != nil {
		return nil, 0, err
	}

	fresh := false
	var existing []schema.Metadata
	info, err := r.storage.GetTable(ctx, dest)
	switch {
	case loader.IsNotFound(err):
		fresh = true
	case err != nil:
		return nil, 0, fmt.Errorf("look up %s: %w", dest, err)
	default:
		existing = info.Metadata
	}

	opts := loader.LoadOptions{
		Columns:     append([]string(nil), out.Columns...),
		PrimaryKey:  append([]string(nil), out.PrimaryKey...),
		Incremental: out.Incremental,
		DeleteWhere: out.LoaderDeleteWhere(),
	}

	// column and table type metadata: derived from the workspace, then user overrides
	var (
		derivedCols  []schema.ColumnMetadata
		derivedTable []schema.Metadata
	)
	if out.WorkspaceObject != "" {
		opts.Source = loader.Source{WorkspaceID: req.WorkspaceID, DataObject: out.WorkspaceObject}
		if r.workspace != nil {
			fields, pk, err := r.workspace.Fields(ctx, out.WorkspaceObject)
			if err != nil {
				return nil, 0, fmt.Errorf("describe %s: %w", out.WorkspaceObject, err)
			}
			derivedCols, derivedTable = schema.ColumnMetadataFromFields(fields, r.workspace.Backend(), run.ComponentID)
			if len(opts.Columns) == 0 {
				for _, f := range fields {
					opts.Columns = append(opts.Columns, f.Name)
				}
			}
			if len(opts.PrimaryKey) == 0 {
				opts.PrimaryKey = pk
			}
		}
	}
	columns := mergeColumnMetadata(opts.Columns, derivedCols, out.ColumnMetadataEntries())

	if out.Source != "" {
		fileID, err := r.stage(ctx, filepath.Join(run.DataDir, out.Source))
		if err != nil {
			return nil, 0, fmt.Errorf("stage %s: %w", out.Source, err)
		}
		opts.Source = loader.Source{FileID: fileID}
	}

	// user table metadata follows the derived entries so it wins on lookup
	declaredTable := append(append([]schema.Metadata(nil), derivedTable...), out.TableMetadataEntries()...)
	tableMeta := existing
	if fresh {
		tableMeta = declaredTable
	}
	mode := tr.SelectMode(tableMeta, run.Backend, run.EnforceBaseTypes)

	if fresh {
		if len(opts.Columns) > 0 && hasTypeInfo(columns) {
			def, err := tr.CreateTableDefinition(schema.DefinitionRequest{
				TableName:        dest.Table,
				PrimaryKeys:      opts.PrimaryKey,
				Columns:          columns,
				TableMetadata:    declaredTable,
				Backend:          run.Backend,
				EnforceBaseTypes: run.EnforceBaseTypes,
			})
			if err != nil {
				return nil, 0, fmt.Errorf("table definition for %s: %w", dest, err)
			}
			if _, err := r.storage.CreateTableDefinition(ctx, dest.BucketID(), def); err != nil {
				if errors.Is(err, loader.ErrPermissionDenied) {
					return nil, 0, &loader.OperationError{Op: "create", Destination: dest, Err: err}
				}
				return nil, 0, fmt.Errorf("create %s: %w", dest, err)
			}
			r.metrics.RecordTableCreated()
			logger.Info("created typed table", zap.String("table", dest.String()), zap.Stringer("mode", mode))
		} else {
			opts.Create = true
		}
	}

	writes := []loader.MetadataWrite{
		loader.SystemMetadata(run.ComponentID, run.ConfigurationID, run.BranchID, fresh, r.now()),
		loader.TableMetadata(run.ComponentID, stripProvider(declaredTable)...),
	}
	for _, c := range columns {
		writes = append(writes, loader.ColumnMetadata(c.Column, run.ComponentID, stripProvider(c.Metadata)...))
	}
	return loader.NewLoadTask(dest, opts, fresh, writes...), mode, nil
}

func (r *OutputRunner) stage(ctx context.Context, path string) (string, error) {
	if r.stager == nil || r.files == nil {
		return "", fmt.Errorf("file outputs need staging configured")
	}
	ref, err := r.stager.Upload(ctx, path)
	if err != nil {
		return "", err
	}
	r.metrics.RecordFileStaged(ref.Size)
	return r.files.RegisterFile(ctx, ref)
}

// mergeColumnMetadata orders metadata by columns, appending user entries
// after derived ones so they win on lookup. When columns is empty the
// metadata's own column order is used; otherwise unlisted columns are
// ignored.
func mergeColumnMetadata(columns []string, derived, user []schema.ColumnMetadata) []schema.ColumnMetadata {
	byName := make(map[string][]schema.Metadata)
	var order []string
	for _, c := range columns {
		if _, ok := byName[c]; !ok {
			order = append(order, c)
			byName[c] = nil
		}
	}
	restrict := len(columns) > 0
	add := func(col string, entries []schema.Metadata) {
		if _, ok := byName[col]; !ok {
			if restrict {
				return
			}
			order = append(order, col)
		}
		byName[col] = append(byName[col], entries...)
	}
	for _, c := range derived {
		add(c.Column, c.Metadata)
	}
	for _, c := range user {
		add(c.Column, c.Metadata)
	}

	out := make([]schema.ColumnMetadata, 0, len(order))
	for _, c := range order {
		out = append(out, schema.ColumnMetadata{Column: c, Metadata: byName[c]})
	}
	return out
}

func hasTypeInfo(columns []schema.ColumnMetadata) bool {
	for _, c := range columns {
		if len(c.Metadata) > 0 {
			return true
		}
	}
	return false
}

// stripProvider drops per-entry providers; the write carries the provider.
func stripProvider(entries []schema.Metadata) []schema.Metadata {
	out := make([]schema.Metadata, len(entries))
	for i, m := range entries {
		out[i] = schema.Metadata{Key: m.Key, Value: m.Value}
	}
	return out
}

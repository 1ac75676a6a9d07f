package loader

import (
	"context"
	"errors"
	"fmt"
)

// LoadTask is one create-or-load of a destination table. It is submitted
// exactly once; its outcome is learned through LoadQueue.WaitForAll.
type LoadTask struct {
	destination    TableID
	options        LoadOptions
	freshlyCreated bool
	metadata       []MetadataWrite

	jobID     string
	submitted bool
}

// NewLoadTask builds an unsubmitted task. freshlyCreated must be true only
// when this run created the destination table.
func NewLoadTask(dest TableID, opts LoadOptions, freshlyCreated bool, metadata ...MetadataWrite) *LoadTask {
	return &LoadTask{
		destination:    dest,
		options:        opts,
		freshlyCreated: freshlyCreated,
		metadata:       append([]MetadataWrite(nil), metadata...),
	}
}

func (t *LoadTask) Destination() TableID { return t.destination }
func (t *LoadTask) Options() LoadOptions { return t.options }
func (t *LoadTask) FreshlyCreated() bool { return t.freshlyCreated }
func (t *LoadTask) JobID() string        { return t.jobID }
func (t *LoadTask) Submitted() bool      { return t.submitted }

// PendingMetadata returns the metadata writes applied after a successful load.
func (t *LoadTask) PendingMetadata() []MetadataWrite {
	return append([]MetadataWrite(nil), t.metadata...)
}

// AddMetadata appends a pending write. It panics once the task is submitted.
func (t *LoadTask) AddMetadata(w MetadataWrite) {
	if t.submitted {
		panic(fmt.Sprintf("loader: metadata added to submitted task for %s", t.destination))
	}
	t.metadata = append(t.metadata, w)
}

// StartImport submits the load job and records its id. Calling it twice is
// a programming error and panics.
func (t *LoadTask) StartImport(ctx context.Context, storage Storage) error {
	if t.submitted {
		panic(fmt.Sprintf("loader: task for %s already submitted as job %s", t.destination, t.jobID))
	}
	jobID, err := storage.SubmitLoadJob(ctx, t.destination, t.options)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			op := "load"
			if t.options.Create {
				op = "create"
			}
			return &OperationError{Op: op, Destination: t.destination, Err: err}
		}
		return err
	}
	t.jobID = jobID
	t.submitted = true
	return nil
}

// applyMetadata issues the pending writes in recorded order.
func (t *LoadTask) applyMetadata(ctx context.Context, storage Storage) error {
	for _, w := range t.metadata {
		if len(w.Entries) == 0 {
			continue
		}
		var err error
		switch w.Level {
		case LevelColumn:
			err = storage.WriteColumnMetadata(ctx, t.destination.ColumnID(w.Column), w.Provider, w.Entries)
		default:
			err = storage.WriteTableMetadata(ctx, t.destination, w.Provider, w.Entries)
		}
		if err != nil {
			return fmt.Errorf("write %s metadata (%s): %w", w.Level, w.Provider, err)
		}
	}
	return nil
}

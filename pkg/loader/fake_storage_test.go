package loader

import (
	"context"
	"fmt"
	"sync"

	"github.com/nucleus/ucl-loader/pkg/schema"
)

// fakeStorage records every call and resolves jobs from preset outcomes.
type fakeStorage struct {
	mu sync.Mutex

	submitErr map[string]error      // by destination
	jobs      map[string]*JobResult // by job id
	waitErr   map[string]error      // by job id
	tables    map[string]*TableInfo
	lookupErr map[string]error
	metaErr   error

	nextID    int
	submitted []string
	metadata  []string
	dropped   []string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		submitErr: map[string]error{},
		jobs:      map[string]*JobResult{},
		waitErr:   map[string]error{},
		tables:    map[string]*TableInfo{},
		lookupErr: map[string]error{},
	}
}

func (f *fakeStorage) GetTable(_ context.Context, id TableID) (*TableInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.lookupErr[id.String()]; ok {
		return nil, err
	}
	info, ok := f.tables[id.String()]
	if !ok {
		return nil, fmt.Errorf("table %s: %w", id, ErrNotFound)
	}
	return info, nil
}

func (f *fakeStorage) SubmitLoadJob(_ context.Context, dest TableID, _ LoadOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.submitErr[dest.String()]; ok {
		return "", err
	}
	f.nextID++
	id := fmt.Sprintf("job-%d", f.nextID)
	f.submitted = append(f.submitted, dest.String())
	if _, ok := f.jobs[id]; !ok {
		f.jobs[id] = &JobResult{ID: id, Status: JobStatusSuccess}
	}
	return id, nil
}

func (f *fakeStorage) WaitForJob(_ context.Context, jobID string) (*JobResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.waitErr[jobID]; ok {
		return nil, err
	}
	return f.jobs[jobID], nil
}

func (f *fakeStorage) CreateTableDefinition(_ context.Context, bucketID string, def *schema.TableDefinition) (string, error) {
	return bucketID + "." + def.Name, nil
}

func (f *fakeStorage) WriteTableMetadata(_ context.Context, id TableID, provider string, entries []schema.Metadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.metaErr != nil {
		return f.metaErr
	}
	f.metadata = append(f.metadata, fmt.Sprintf("%s/%s/%d", id, provider, len(entries)))
	return nil
}

func (f *fakeStorage) WriteColumnMetadata(_ context.Context, columnID, provider string, entries []schema.Metadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.metaErr != nil {
		return f.metaErr
	}
	f.metadata = append(f.metadata, fmt.Sprintf("%s/%s/%d", columnID, provider, len(entries)))
	return nil
}

func (f *fakeStorage) DropTable(_ context.Context, id TableID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, id.String())
	return nil
}

func int64Ptr(v int64) *int64 { return &v }

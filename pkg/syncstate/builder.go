package syncstate

import "sync"

// Builder accumulates the state emitted at the end of a run. Recording a
// key that already exists replaces its watermark in place; first-seen order
// is kept so the output is stable across runs.
type Builder struct {
	mu       sync.Mutex
	tables   []TableState
	tableIdx map[string]int
	files    []FileState
	filesIdx map[string]int
}

// NewBuilder starts an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		tableIdx: make(map[string]int),
		filesIdx: make(map[string]int),
	}
}

// NewBuilderFrom seeds a builder with prior state so sources untouched by
// this run keep their watermark.
func NewBuilderFrom(prev *State) *Builder {
	b := NewBuilder()
	if prev == nil {
		return b
	}
	for _, t := range prev.tables.All() {
		b.RecordTable(t.Source, t.LastImportDate)
	}
	for _, f := range prev.files.All() {
		b.RecordFiles(f.Tags, f.LastImportID)
	}
	return b
}

// RecordTable sets the watermark of a table source.
func (b *Builder) RecordTable(source, lastImportDate string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec := TableState{Source: source, LastImportDate: lastImportDate}
	if i, ok := b.tableIdx[source]; ok {
		b.tables[i] = rec
		return
	}
	b.tableIdx[source] = len(b.tables)
	b.tables = append(b.tables, rec)
}

// RecordFiles sets the watermark of a tag-selected file source.
func (b *Builder) RecordFiles(tags []Tag, lastImportID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec := FileState{Tags: append([]Tag{}, tags...), LastImportID: lastImportID}
	sig := TagSignature(tags)
	if i, ok := b.filesIdx[sig]; ok {
		b.files[i] = rec
		return
	}
	b.filesIdx[sig] = len(b.files)
	b.files = append(b.files, rec)
}

// Snapshot returns the accumulated records.
func (b *Builder) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := Snapshot{
		Tables: append([]TableState{}, b.tables...),
		Files:  make([]FileState, len(b.files)),
	}
	for i, f := range b.files {
		snap.Files[i] = cloneFileState(f)
	}
	return snap
}

// Build freezes the accumulated records into a new State.
func (b *Builder) Build() (*State, error) {
	return New(b.Snapshot())
}

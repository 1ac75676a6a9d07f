// Package syncstate holds incremental synchronization watermarks keyed by
// logical source identity.
//
// State is loaded once at the start of a run from the previous run's output,
// is read-only while the run executes, and is replaced wholesale at the end
// through a Builder. Lookups never substitute defaults: a missing key is a
// *NotFoundError so callers can tell "no prior sync" from a broken lookup.
package syncstate

import (
	"encoding/json"
	"fmt"
	"time"
)

// TableState is the persisted watermark of a table source.
type TableState struct {
	Source         string `json:"source"`
	LastImportDate string `json:"lastImportDate"`
}

// ImportedAt parses LastImportDate.
func (s TableState) ImportedAt() (time.Time, error) {
	return ParseTimestamp(s.LastImportDate)
}

// FileState is the persisted watermark of a tag-selected file source.
type FileState struct {
	Tags         []Tag  `json:"tags"`
	LastImportID string `json:"lastImportId"`
}

// Key identifies one SyncState: an exact table name or a tag-set signature.
type Key struct {
	kind  Kind
	value string
}

// TableKey builds the key of a table source.
func TableKey(source string) Key { return Key{kind: KindTable, value: source} }

// FilesKey builds the key of a tag-selected file source.
func FilesKey(tags []Tag) Key { return Key{kind: KindFiles, value: TagSignature(tags)} }

func (k Key) Kind() Kind     { return k.kind }
func (k Key) String() string { return string(k.kind) + ":" + k.value }

// SyncState is the backend-agnostic view of one recorded watermark.
type SyncState struct {
	Key       Key
	Watermark string
}

// TableStateList indexes table states by exact source name.
type TableStateList struct {
	states []TableState
	index  map[string]int
}

// NewTableStateList validates and indexes states. A source may appear once.
func NewTableStateList(states []TableState) (*TableStateList, error) {
	l := &TableStateList{
		states: make([]TableState, 0, len(states)),
		index:  make(map[string]int, len(states)),
	}
	for _, s := range states {
		if s.Source == "" {
			return nil, fmt.Errorf("table state: source is required")
		}
		if _, dup := l.index[s.Source]; dup {
			return nil, &DuplicateKeyError{Kind: KindTable, Key: s.Source}
		}
		l.index[s.Source] = len(l.states)
		l.states = append(l.states, s)
	}
	return l, nil
}

// Get returns the state recorded for source.
func (l *TableStateList) Get(source string) (TableState, error) {
	if l != nil {
		if i, ok := l.index[source]; ok {
			return l.states[i], nil
		}
	}
	return TableState{}, &NotFoundError{Kind: KindTable, Key: source}
}

// All returns a copy of the states in recorded order.
func (l *TableStateList) All() []TableState {
	if l == nil {
		return nil
	}
	return append([]TableState(nil), l.states...)
}

func (l *TableStateList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.states)
}

// FileStateList indexes file states by tag-set signature.
type FileStateList struct {
	states []FileState
	index  map[string]int
}

// NewFileStateList validates and indexes states. A tag set may appear once.
func NewFileStateList(states []FileState) (*FileStateList, error) {
	l := &FileStateList{
		states: make([]FileState, 0, len(states)),
		index:  make(map[string]int, len(states)),
	}
	for _, s := range states {
		if _, err := NormalizeTags(s.Tags); err != nil {
			return nil, fmt.Errorf("file state: %w", err)
		}
		sig := TagSignature(s.Tags)
		if _, dup := l.index[sig]; dup {
			return nil, &DuplicateKeyError{Kind: KindFiles, Key: sig}
		}
		l.index[sig] = len(l.states)
		l.states = append(l.states, cloneFileState(s))
	}
	return l, nil
}

// Get returns the state recorded for the tag set.
func (l *FileStateList) Get(tags []Tag) (FileState, error) {
	sig := TagSignature(tags)
	if l != nil {
		if i, ok := l.index[sig]; ok {
			return cloneFileState(l.states[i]), nil
		}
	}
	return FileState{}, &NotFoundError{Kind: KindFiles, Key: sig}
}

// All returns a copy of the states in recorded order.
func (l *FileStateList) All() []FileState {
	if l == nil {
		return nil
	}
	out := make([]FileState, len(l.states))
	for i, s := range l.states {
		out[i] = cloneFileState(s)
	}
	return out
}

func (l *FileStateList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.states)
}

func cloneFileState(s FileState) FileState {
	if s.Tags != nil {
		s.Tags = append([]Tag(nil), s.Tags...)
	}
	return s
}

// State is the read-only watermark store of one run.
type State struct {
	tables *TableStateList
	files  *FileStateList
}

// Empty returns a state with no recorded watermarks.
func Empty() *State {
	s, _ := New(Snapshot{})
	return s
}

// New builds a State from persisted records.
func New(snap Snapshot) (*State, error) {
	tables, err := NewTableStateList(snap.Tables)
	if err != nil {
		return nil, err
	}
	files, err := NewFileStateList(snap.Files)
	if err != nil {
		return nil, err
	}
	return &State{tables: tables, files: files}, nil
}

func (s *State) Tables() *TableStateList { return s.tables }
func (s *State) Files() *FileStateList   { return s.files }

// Get resolves key against the matching list.
func (s *State) Get(key Key) (SyncState, error) {
	switch key.kind {
	case KindTable:
		ts, err := s.tables.Get(key.value)
		if err != nil {
			return SyncState{}, err
		}
		return SyncState{Key: key, Watermark: ts.LastImportDate}, nil
	case KindFiles:
		if i, ok := s.files.index[key.value]; ok {
			return SyncState{Key: key, Watermark: s.files.states[i].LastImportID}, nil
		}
		return SyncState{}, &NotFoundError{Kind: KindFiles, Key: key.value}
	default:
		return SyncState{}, fmt.Errorf("unknown state key kind %q", key.kind)
	}
}

// Snapshot returns the records this state was built from.
func (s *State) Snapshot() Snapshot {
	return Snapshot{Tables: s.tables.All(), Files: s.files.All()}
}

// Snapshot is the persisted form of a run's state.
type Snapshot struct {
	Tables []TableState `json:"tables"`
	Files  []FileState  `json:"files"`
}

// Serialize encodes a snapshot. Nil lists are written as empty arrays.
func Serialize(snap Snapshot) ([]byte, error) {
	if snap.Tables == nil {
		snap.Tables = []TableState{}
	}
	files := make([]FileState, len(snap.Files))
	for i, f := range snap.Files {
		if f.Tags == nil {
			f.Tags = []Tag{}
		}
		files[i] = f
	}
	snap.Files = files
	return json.Marshal(snap)
}

// Deserialize decodes a snapshot written by Serialize.
func Deserialize(data []byte) (Snapshot, error) {
	var snap Snapshot
	if len(data) == 0 {
		return Snapshot{Tables: []TableState{}, Files: []FileState{}}, nil
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode state snapshot: %w", err)
	}
	if snap.Tables == nil {
		snap.Tables = []TableState{}
	}
	if snap.Files == nil {
		snap.Files = []FileState{}
	}
	return snap, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp accepts the ISO-8601 variants the storage service emits.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

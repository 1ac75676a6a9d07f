package loader

import (
	"fmt"
	"strings"
)

// Stages a destination table can live in.
const (
	StageIn  = "in"
	StageOut = "out"
)

// TableID is a fully-qualified destination table identifier
// ("stage.bucket.table").
type TableID struct {
	Stage  string
	Bucket string
	Table  string
}

// ParseTableID parses "stage.bucket.table". The bucket may carry the "c-"
// prefix; it is kept as given.
func ParseTableID(s string) (TableID, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return TableID{}, fmt.Errorf("invalid table id %q: expected stage.bucket.table", s)
	}
	id := TableID{Stage: parts[0], Bucket: parts[1], Table: parts[2]}
	if id.Stage != StageIn && id.Stage != StageOut {
		return TableID{}, fmt.Errorf("invalid table id %q: stage must be %q or %q", s, StageIn, StageOut)
	}
	if id.Bucket == "" || id.Table == "" {
		return TableID{}, fmt.Errorf("invalid table id %q: empty bucket or table", s)
	}
	return id, nil
}

// MustParseTableID is ParseTableID for constants and tests.
func MustParseTableID(s string) TableID {
	id, err := ParseTableID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id TableID) String() string {
	return id.Stage + "." + id.Bucket + "." + id.Table
}

// BucketID returns "stage.bucket".
func (id TableID) BucketID() string {
	return id.Stage + "." + id.Bucket
}

// ColumnID returns the storage identifier of a column of this table.
func (id TableID) ColumnID(column string) string {
	return id.String() + "." + column
}

func (id TableID) IsZero() bool { return id == TableID{} }

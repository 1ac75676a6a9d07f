// Package schema translates backend-agnostic column metadata into
// create-table definitions.
//
// The mode is chosen once per table: a table whose metadata says it was
// natively typed by the target backend gets native column definitions,
// everything else gets portable base types. Translation is pure; the same
// request always yields an equal TableDefinition.
package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Mode is the per-table column translation mode.
type Mode int

const (
	ModeBaseType Mode = iota
	ModeNative
)

func (m Mode) String() string {
	if m == ModeNative {
		return "native"
	}
	return "basetype"
}

// DefinitionRequest is the input of CreateTableDefinition.
type DefinitionRequest struct {
	TableName        string
	PrimaryKeys      []string
	Columns          []ColumnMetadata
	TableMetadata    []Metadata
	Backend          string
	EnforceBaseTypes bool
}

// Translator builds table definitions against a backend capability table.
type Translator struct {
	backends BackendTable
}

// NewTranslator copies backends; a nil table means DefaultBackends.
func NewTranslator(backends BackendTable) *Translator {
	if backends == nil {
		backends = DefaultBackends()
	}
	own := make(BackendTable, len(backends))
	for name, caps := range backends {
		own[normalizeBackend(name)] = caps
	}
	return &Translator{backends: own}
}

// SelectMode decides the translation mode of a table.
func (t *Translator) SelectMode(tableMetadata []Metadata, backend string, enforceBaseTypes bool) Mode {
	if enforceBaseTypes {
		return ModeBaseType
	}
	typedBy, ok := NativeBackendOf(tableMetadata)
	if !ok || normalizeBackend(typedBy) != normalizeBackend(backend) {
		return ModeBaseType
	}
	if !t.backends.supportsNative(backend) {
		return ModeBaseType
	}
	return ModeNative
}

// CreateTableDefinition translates req into a create-table definition.
func (t *Translator) CreateTableDefinition(req DefinitionRequest) (*TableDefinition, error) {
	if req.TableName == "" {
		return nil, fmt.Errorf("table name is required")
	}

	seen := make(map[string]struct{}, len(req.Columns))
	for _, c := range req.Columns {
		if c.Column == "" {
			return nil, fmt.Errorf("table %s: column name is required", req.TableName)
		}
		if _, dup := seen[c.Column]; dup {
			return nil, fmt.Errorf("table %s: duplicate column %q", req.TableName, c.Column)
		}
		seen[c.Column] = struct{}{}
	}
	for _, pk := range req.PrimaryKeys {
		if _, ok := seen[pk]; !ok {
			return nil, fmt.Errorf("table %s: primary key %q is not a column", req.TableName, pk)
		}
	}

	mode := t.SelectMode(req.TableMetadata, req.Backend, req.EnforceBaseTypes)

	def := &TableDefinition{
		Name:            req.TableName,
		PrimaryKeyNames: append([]string{}, req.PrimaryKeys...),
		Columns:         make([]Column, 0, len(req.Columns)),
	}
	for _, c := range req.Columns {
		def.Columns = append(def.Columns, translateColumn(mode, c))
	}
	return def, nil
}

func translateColumn(mode Mode, c ColumnMetadata) Column {
	if mode == ModeNative {
		if col, ok := nativeColumn(c); ok {
			return col
		}
		// No native type recorded for this column only.
		return BaseTypeColumn{Name: c.Column}
	}
	return baseTypeColumn(c)
}

func nativeColumn(c ColumnMetadata) (NativeColumn, bool) {
	typ, ok := lookup(c.Metadata, KeyType)
	if !ok || typ == "" {
		return NativeColumn{}, false
	}
	def := NativeType{Type: typ}
	if v, ok := lookup(c.Metadata, KeyLength); ok && v != "" {
		def.Length = strPtr(v)
	}
	if v, ok := lookup(c.Metadata, KeyDefault); ok {
		def.Default = strPtr(v)
	}
	if v, ok := lookup(c.Metadata, KeyNullable); ok {
		if b, err := parseNullable(v); err == nil {
			def.Nullable = &b
		}
	}
	return NativeColumn{Name: c.Column, Definition: def}, true
}

func baseTypeColumn(c ColumnMetadata) BaseTypeColumn {
	col := BaseTypeColumn{Name: c.Column}
	if v, ok := lookup(c.Metadata, KeyBaseType); ok && v != "" {
		col.BaseType = strPtr(v)
	}
	return col
}

func parseNullable(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "y":
		return true, nil
	case "no", "n":
		return false, nil
	}
	return strconv.ParseBool(strings.TrimSpace(v))
}

func strPtr(s string) *string { return &s }

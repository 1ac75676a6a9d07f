package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/nucleus/ucl-loader/pkg/loader"
	"github.com/nucleus/ucl-loader/pkg/schema"
	"github.com/nucleus/ucl-loader/pkg/syncstate"
)

// ChangedSinceAdaptive asks for rows changed since the last recorded import.
const ChangedSinceAdaptive = "adaptive"

// RunFile describes one loader run: which inputs feed the incremental state
// and which outputs get loaded into storage.
type RunFile struct {
	ComponentID      string          `yaml:"componentId"`
	ConfigurationID  string          `yaml:"configurationId"`
	BranchID         string          `yaml:"branchId"`
	Backend          string          `yaml:"backend"`
	EnforceBaseTypes bool            `yaml:"enforceBaseTypes"`
	NativeBackends   []string        `yaml:"nativeBackends"`
	DataDir          string          `yaml:"dataDir"`
	Inputs           Inputs          `yaml:"inputs"`
	Outputs          []OutputMapping `yaml:"outputs"`
}

type Inputs struct {
	Tables []InputTable `yaml:"tables"`
	Files  []InputFiles `yaml:"files"`
}

// InputTable is a storage table read by the run.
type InputTable struct {
	Source       string `yaml:"source"`
	ChangedSince string `yaml:"changedSince"`
}

// InputFiles selects files by tags; LastImportID is the newest file id the
// run consumed.
type InputFiles struct {
	Tags         []syncstate.Tag `yaml:"tags"`
	LastImportID string          `yaml:"lastImportId"`
}

// OutputMapping is one table to load. Exactly one of Source (a path under
// DataDir) and WorkspaceObject must be set.
type OutputMapping struct {
	Source          string                       `yaml:"source"`
	WorkspaceObject string                       `yaml:"workspaceObject"`
	Destination     string                       `yaml:"destination"`
	PrimaryKey      []string                     `yaml:"primaryKey"`
	Incremental     bool                         `yaml:"incremental"`
	Columns         []string                     `yaml:"columns"`
	DeleteWhere     *DeleteWhere                 `yaml:"deleteWhere"`
	TableMetadata   map[string]string            `yaml:"tableMetadata"`
	ColumnMetadata  map[string]map[string]string `yaml:"columnMetadata"`
}

type DeleteWhere struct {
	Column   string   `yaml:"column"`
	Operator string   `yaml:"operator"`
	Values   []string `yaml:"values"`
}

// LoadRunFile reads and validates a YAML run file.
func LoadRunFile(path string) (*RunFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run file: %w", err)
	}
	return ParseRunFile(data)
}

// ParseRunFile decodes and validates YAML. Unknown keys are rejected.
func ParseRunFile(data []byte) (*RunFile, error) {
	var rf RunFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&rf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode run file: %w", err)
	}
	if err := rf.Validate(); err != nil {
		return nil, err
	}
	return &rf, nil
}

// Validate checks the run file for errors a load would otherwise hit late.
func (r *RunFile) Validate() error {
	if r.ComponentID == "" {
		return fmt.Errorf("run file: componentId is required")
	}
	seen := make(map[string]struct{}, len(r.Outputs))
	for i, o := range r.Outputs {
		if _, err := loader.ParseTableID(o.Destination); err != nil {
			return fmt.Errorf("run file: outputs[%d]: %w", i, err)
		}
		if _, dup := seen[o.Destination]; dup {
			return fmt.Errorf("run file: outputs[%d]: destination %s mapped twice", i, o.Destination)
		}
		seen[o.Destination] = struct{}{}
		if (o.Source == "") == (o.WorkspaceObject == "") {
			return fmt.Errorf("run file: outputs[%d]: exactly one of source and workspaceObject is required", i)
		}
		if o.Incremental && o.DeleteWhere != nil && o.DeleteWhere.Column == "" {
			return fmt.Errorf("run file: outputs[%d]: deleteWhere.column is required", i)
		}
	}
	for i, in := range r.Inputs.Tables {
		if in.Source == "" {
			return fmt.Errorf("run file: inputs.tables[%d]: source is required", i)
		}
	}
	for i, in := range r.Inputs.Files {
		if _, err := syncstate.NormalizeTags(in.Tags); err != nil {
			return fmt.Errorf("run file: inputs.files[%d]: %w", i, err)
		}
	}
	return nil
}

// Backends returns the capability table named by nativeBackends, or nil
// (the defaults) when the list is empty.
func (r *RunFile) Backends() schema.BackendTable {
	if len(r.NativeBackends) == 0 {
		return nil
	}
	return schema.BackendsWithNativeTypes(r.NativeBackends...)
}

// TableMetadataEntries returns the user table metadata sorted by key.
func (o *OutputMapping) TableMetadataEntries() []schema.Metadata {
	return sortedEntries(o.TableMetadata)
}

// ColumnMetadataEntries returns the user column metadata sorted by column
// and then by key.
func (o *OutputMapping) ColumnMetadataEntries() []schema.ColumnMetadata {
	cols := make([]string, 0, len(o.ColumnMetadata))
	for c := range o.ColumnMetadata {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	out := make([]schema.ColumnMetadata, 0, len(cols))
	for _, c := range cols {
		out = append(out, schema.ColumnMetadata{Column: c, Metadata: sortedEntries(o.ColumnMetadata[c])})
	}
	return out
}

// LoaderDeleteWhere converts the mapping's filter.
func (o *OutputMapping) LoaderDeleteWhere() *loader.DeleteWhere {
	if o.DeleteWhere == nil {
		return nil
	}
	return &loader.DeleteWhere{
		Column:   o.DeleteWhere.Column,
		Operator: o.DeleteWhere.Operator,
		Values:   append([]string(nil), o.DeleteWhere.Values...),
	}
}

func sortedEntries(m map[string]string) []schema.Metadata {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]schema.Metadata, 0, len(keys))
	for _, k := range keys {
		out = append(out, schema.Metadata{Key: k, Value: m[k]})
	}
	return out
}

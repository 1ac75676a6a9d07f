package loader

import (
	"time"

	"github.com/nucleus/ucl-loader/pkg/schema"
)

// ProviderSystem namespaces metadata written by the loader itself.
const ProviderSystem = "system"

// MetadataLevel says whether a write targets a table or a column.
type MetadataLevel string

const (
	LevelTable  MetadataLevel = "table"
	LevelColumn MetadataLevel = "column"
)

// MetadataWrite is one pending metadata write of a task.
type MetadataWrite struct {
	Level    MetadataLevel
	Column   string
	Provider string
	Entries  []schema.Metadata
}

// TableMetadata builds a table-level write.
func TableMetadata(provider string, entries ...schema.Metadata) MetadataWrite {
	return MetadataWrite{Level: LevelTable, Provider: provider, Entries: entries}
}

// ColumnMetadata builds a column-level write.
func ColumnMetadata(column, provider string, entries ...schema.Metadata) MetadataWrite {
	return MetadataWrite{Level: LevelColumn, Column: column, Provider: provider, Entries: entries}
}

// SystemMetadata builds the created-by / last-updated-by entries for a
// load. Freshly created tables get KBC.createdBy.* keys; existing tables
// get KBC.lastUpdatedBy.*.
func SystemMetadata(componentID, configurationID, branchID string, freshlyCreated bool, now time.Time) MetadataWrite {
	prefix := "KBC.lastUpdatedBy."
	if freshlyCreated {
		prefix = "KBC.createdBy."
	}
	entries := []schema.Metadata{
		{Key: prefix + "component.id", Value: componentID},
	}
	if configurationID != "" {
		entries = append(entries, schema.Metadata{Key: prefix + "configuration.id", Value: configurationID})
	}
	if branchID != "" {
		entries = append(entries, schema.Metadata{Key: prefix + "branch.id", Value: branchID})
	}
	entries = append(entries, schema.Metadata{Key: prefix + "time", Value: now.UTC().Format(time.RFC3339)})
	return TableMetadata(ProviderSystem, entries...)
}

package schema

// Metadata keys recognised by the translator.
const (
	KeyNativeBackend = "KBC.datatype.backend"
	KeyType          = "KBC.datatype.type"
	KeyLength        = "KBC.datatype.length"
	KeyDefault       = "KBC.datatype.default"
	KeyNullable      = "KBC.datatype.nullable"
	KeyBaseType      = "KBC.datatype.basetype"
)

// Metadata is one key/value entry attached to a table or column.
type Metadata struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	Provider string `json:"provider,omitempty"`
}

// ColumnMetadata carries the metadata entries of one column. Column order
// in a slice of ColumnMetadata is the column order of the table.
type ColumnMetadata struct {
	Column   string
	Metadata []Metadata
}

// lookup returns the value of the last entry with key.
func lookup(entries []Metadata, key string) (string, bool) {
	var (
		val   string
		found bool
	)
	for _, m := range entries {
		if m.Key == key {
			val, found = m.Value, true
		}
	}
	return val, found
}

// NativeBackendOf returns the backend recorded as having typed the table.
func NativeBackendOf(tableMetadata []Metadata) (string, bool) {
	return lookup(tableMetadata, KeyNativeBackend)
}

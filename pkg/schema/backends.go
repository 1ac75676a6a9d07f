package schema

import "strings"

// Capabilities describes what a storage backend accepts in create-table
// requests.
type Capabilities struct {
	NativeTypes bool
}

// BackendTable maps backend names to their capabilities. Adding a backend
// is a change to this table, not to the translator.
type BackendTable map[string]Capabilities

// DefaultBackends is the capability table used when none is configured.
func DefaultBackends() BackendTable {
	return BackendTable{
		"snowflake": {NativeTypes: true},
		"synapse":   {NativeTypes: true},
		"bigquery":  {NativeTypes: true},
		"exasol":    {NativeTypes: true},
		"teradata":  {NativeTypes: true},
		"redshift":  {},
	}
}

// BackendsWithNativeTypes builds a table where each named backend supports
// native definitions.
func BackendsWithNativeTypes(names ...string) BackendTable {
	t := make(BackendTable, len(names))
	for _, n := range names {
		t[normalizeBackend(n)] = Capabilities{NativeTypes: true}
	}
	return t
}

func (t BackendTable) supportsNative(backend string) bool {
	return t[normalizeBackend(backend)].NativeTypes
}

func normalizeBackend(b string) string {
	return strings.ToLower(strings.TrimSpace(b))
}

package schema

import (
	"strconv"
	"strings"
)

// Base types understood by every backend.
const (
	BaseString    = "STRING"
	BaseInteger   = "INTEGER"
	BaseNumeric   = "NUMERIC"
	BaseFloat     = "FLOAT"
	BaseBoolean   = "BOOLEAN"
	BaseDate      = "DATE"
	BaseTimestamp = "TIMESTAMP"
)

// Field is a column as reported by a workspace's information schema.
type Field struct {
	Name      string
	DataType  string
	Nullable  bool
	Length    int
	Precision int
	Scale     int
	Default   string
	Position  int
}

// BaseTypeFor maps a SQL data type to its portable base type.
func BaseTypeFor(dataType string) string {
	t := strings.ToLower(strings.TrimSpace(dataType))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	switch t {
	case "smallint", "integer", "int", "int2", "int4", "int8", "bigint", "tinyint", "byteint", "serial", "bigserial":
		return BaseInteger
	case "numeric", "decimal", "number":
		return BaseNumeric
	case "real", "float", "float4", "float8", "double", "double precision":
		return BaseFloat
	case "boolean", "bool", "bit":
		return BaseBoolean
	case "date":
		return BaseDate
	}
	if strings.HasPrefix(t, "timestamp") || strings.HasPrefix(t, "datetime") {
		return BaseTimestamp
	}
	return BaseString
}

// ColumnMetadataFromFields describes fields read from a workspace of the
// given backend. Each column gets its base type plus native type entries,
// and the returned table metadata records backend as the native typer.
func ColumnMetadataFromFields(fields []Field, backend, provider string) ([]ColumnMetadata, []Metadata) {
	cols := make([]ColumnMetadata, 0, len(fields))
	for _, f := range fields {
		md := []Metadata{
			{Key: KeyBaseType, Value: BaseTypeFor(f.DataType), Provider: provider},
			{Key: KeyType, Value: strings.ToUpper(f.DataType), Provider: provider},
			{Key: KeyNullable, Value: strconv.FormatBool(f.Nullable), Provider: provider},
		}
		if l := fieldLength(f); l != "" {
			md = append(md, Metadata{Key: KeyLength, Value: l, Provider: provider})
		}
		if f.Default != "" {
			md = append(md, Metadata{Key: KeyDefault, Value: f.Default, Provider: provider})
		}
		cols = append(cols, ColumnMetadata{Column: f.Name, Metadata: md})
	}
	table := []Metadata{{Key: KeyNativeBackend, Value: normalizeBackend(backend), Provider: provider}}
	return cols, table
}

func fieldLength(f Field) string {
	switch {
	case f.Precision > 0 && f.Scale > 0:
		return strconv.Itoa(f.Precision) + "," + strconv.Itoa(f.Scale)
	case f.Precision > 0 && BaseTypeFor(f.DataType) == BaseNumeric:
		return strconv.Itoa(f.Precision)
	case f.Length > 0:
		return strconv.Itoa(f.Length)
	}
	return ""
}

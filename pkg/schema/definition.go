package schema

import "encoding/json"

// Column is either a NativeColumn or a BaseTypeColumn.
type Column interface {
	ColumnName() string
	column()
}

// NativeType is a column type in one backend's exact type syntax.
type NativeType struct {
	Type     string
	Length   *string
	Default  *string
	Nullable *bool
}

// NativeColumn is a column defined by a backend-native type.
type NativeColumn struct {
	Name       string
	Definition NativeType
}

func (c NativeColumn) ColumnName() string { return c.Name }
func (NativeColumn) column()              {}

// BaseTypeColumn is a column defined by a portable base type. BaseType is
// nil when no base type is known for the column.
type BaseTypeColumn struct {
	Name     string
	BaseType *string
}

func (c BaseTypeColumn) ColumnName() string { return c.Name }
func (BaseTypeColumn) column()              {}

// TableDefinition is the create-table request payload.
type TableDefinition struct {
	Name            string
	PrimaryKeyNames []string
	Columns         []Column
}

// ColumnNames returns the column names in table order.
func (d *TableDefinition) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.ColumnName()
	}
	return names
}

type definitionPayload struct {
	Type     string  `json:"type"`
	Length   *string `json:"length,omitempty"`
	Nullable *bool   `json:"nullable,omitempty"`
	Default  *string `json:"default,omitempty"`
}

type columnPayload struct {
	Name       string             `json:"name"`
	BaseType   *string            `json:"basetype,omitempty"`
	Definition *definitionPayload `json:"definition,omitempty"`
}

type tablePayload struct {
	Name             string          `json:"name"`
	PrimaryKeysNames []string        `json:"primaryKeysNames"`
	Columns          []columnPayload `json:"columns"`
}

// MarshalJSON encodes the definition in the storage service request shape.
func (d TableDefinition) MarshalJSON() ([]byte, error) {
	p := tablePayload{
		Name:             d.Name,
		PrimaryKeysNames: d.PrimaryKeyNames,
		Columns:          make([]columnPayload, 0, len(d.Columns)),
	}
	if p.PrimaryKeysNames == nil {
		p.PrimaryKeysNames = []string{}
	}
	for _, c := range d.Columns {
		switch col := c.(type) {
		case NativeColumn:
			p.Columns = append(p.Columns, columnPayload{
				Name: col.Name,
				Definition: &definitionPayload{
					Type:     col.Definition.Type,
					Length:   col.Definition.Length,
					Nullable: col.Definition.Nullable,
					Default:  col.Definition.Default,
				},
			})
		case BaseTypeColumn:
			p.Columns = append(p.Columns, columnPayload{Name: col.Name, BaseType: col.BaseType})
		}
	}
	return json.Marshal(p)
}

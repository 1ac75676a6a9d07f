// Package workspace reads table structure from a SQL workspace so loads from
// it can carry native column types.
package workspace

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/nucleus/ucl-loader/pkg/schema"
)

// DefaultBackend is reported for Postgres workspaces unless overridden.
const DefaultBackend = "postgres"

// Table is the structure of one workspace table.
type Table struct {
	Schema     string
	Name       string
	Fields     []schema.Field
	PrimaryKey []string
}

// ColumnNames returns field names in ordinal order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		names[i] = f.Name
	}
	return names
}

// Postgres introspects a PostgreSQL workspace through information_schema.
type Postgres struct {
	DB      *sql.DB
	backend string
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn, backend string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open workspace: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping workspace: %w", err)
	}
	return New(db, backend), nil
}

// New wraps an existing connection pool.
func New(db *sql.DB, backend string) *Postgres {
	if backend == "" {
		backend = DefaultBackend
	}
	return &Postgres{DB: db, backend: backend}
}

// Backend names the backend the workspace types belong to.
func (p *Postgres) Backend() string { return p.backend }

func (p *Postgres) Close() error { return p.DB.Close() }

// ListTables returns the base tables of a schema in name order.
func (p *Postgres) ListTables(ctx context.Context, schemaName string) ([]string, error) {
	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`
	rows, err := p.DB.QueryContext(ctx, query, schemaName)
	if err != nil {
		return nil, fmt.Errorf("list tables of %s: %w", schemaName, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Describe returns columns and primary key of "schema.table", or of "table"
// in the public schema.
func (p *Postgres) Describe(ctx context.Context, object string) (*Table, error) {
	schemaName, tableName := SplitObject(object)

	columnsQuery := `
		SELECT
			column_name,
			data_type,
			is_nullable,
			COALESCE(numeric_precision, 0),
			COALESCE(numeric_scale, 0),
			COALESCE(character_maximum_length, 0),
			COALESCE(column_default, ''),
			ordinal_position
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`
	rows, err := p.DB.QueryContext(ctx, columnsQuery, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", object, err)
	}
	defer rows.Close()

	t := &Table{Schema: schemaName, Name: tableName}
	for rows.Next() {
		var (
			f          schema.Field
			isNullable string
		)
		if err := rows.Scan(&f.Name, &f.DataType, &isNullable, &f.Precision, &f.Scale, &f.Length, &f.Default, &f.Position); err != nil {
			return nil, fmt.Errorf("scan column of %s: %w", object, err)
		}
		f.Nullable = isNullable == "YES"
		t.Fields = append(t.Fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", object, err)
	}
	if len(t.Fields) == 0 {
		return nil, fmt.Errorf("describe %s: table not found or has no columns", object)
	}

	pk, err := p.primaryKey(ctx, schemaName, tableName)
	if err != nil {
		return nil, err
	}
	t.PrimaryKey = pk
	return t, nil
}

func (p *Postgres) primaryKey(ctx context.Context, schemaName, tableName string) ([]string, error) {
	query := `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		WHERE tc.table_schema = $1 AND tc.table_name = $2
			AND tc.constraint_type = 'PRIMARY KEY'
		ORDER BY kcu.ordinal_position
	`
	rows, err := p.DB.QueryContext(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("primary key of %s.%s: %w", schemaName, tableName, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan primary key column: %w", err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// ColumnMetadata derives native-type column metadata for t.
func (p *Postgres) ColumnMetadata(t *Table, provider string) ([]schema.ColumnMetadata, []schema.Metadata) {
	return schema.ColumnMetadataFromFields(t.Fields, p.backend, provider)
}

// SplitObject splits "schema.table"; a bare name lives in public.
func SplitObject(object string) (string, string) {
	parts := strings.SplitN(object, ".", 2)
	if len(parts) != 2 {
		return "public", object
	}
	return parts[0], parts[1]
}

// Fields returns the ordered fields and primary key of object.
func (p *Postgres) Fields(ctx context.Context, object string) ([]schema.Field, []string, error) {
	t, err := p.Describe(ctx, object)
	if err != nil {
		return nil, nil, err
	}
	return t.Fields, t.PrimaryKey, nil
}

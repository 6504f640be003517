package dbconn

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

type Column struct {
	Name         string  `json:"name"`
	DataType     string  `json:"type"`
	Nullable     bool    `json:"nullable"`
	IsPrimaryKey bool    `json:"primary_key"`
	Default      *string `json:"default,omitempty"`
}

type Table struct {
	Name       string   `json:"name"`
	SchemaName string   `json:"schema"`
	Columns    []Column `json:"columns"`
	RowCount   *int64   `json:"row_count,omitempty"`
}

// SchemaSnapshot is built fresh per scan and never mutated after
// construction.
type SchemaSnapshot struct {
	DatabaseName string  `json:"database_name"`
	Version      string  `json:"version,omitempty"`
	Tables       []Table `json:"tables"`
}

// Summary serializes the snapshot for inclusion in a model prompt.
func (s *SchemaSnapshot) Summary() string {
	data, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(data)
}

// Snapshot reads table and column metadata from the target database. It is a
// read-only catalog query and requires an active connection.
func (m *Manager) Snapshot(ctx context.Context) (*SchemaSnapshot, error) {
	if !m.IsConnected() {
		return nil, ErrNotConnected
	}
	driver := normalizeDriver(m.cfg.Driver)
	version := m.serverVersion(ctx, driver)

	rows, err := m.db.QueryContext(ctx, tablesQuery(driver))
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	type tableRef struct {
		schema string
		name   string
		rows   *int64
	}
	refs := []tableRef{}
	for rows.Next() {
		var ref tableRef
		var estimate sql.NullInt64
		if err := rows.Scan(&ref.schema, &ref.name, &estimate); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		if estimate.Valid {
			v := estimate.Int64
			ref.rows = &v
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	rows.Close()

	tables := []Table{}
	for _, ref := range refs {
		columns, err := m.tableColumns(ctx, driver, ref.schema, ref.name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, Table{
			Name:       ref.name,
			SchemaName: ref.schema,
			Columns:    columns,
			RowCount:   ref.rows,
		})
	}
	return &SchemaSnapshot{
		DatabaseName: m.cfg.Database,
		Version:      version,
		Tables:       tables,
	}, nil
}

func (m *Manager) serverVersion(ctx context.Context, driver string) string {
	query := "SELECT version()"
	if driver == "sqlserver" {
		query = "SELECT @@VERSION"
	}
	var version string
	if err := m.db.QueryRowContext(ctx, query).Scan(&version); err != nil {
		return ""
	}
	return version
}

func (m *Manager) tableColumns(ctx context.Context, driver, schema, table string) ([]Column, error) {
	rows, err := m.db.QueryContext(ctx, columnsQuery(driver), schema, table)
	if err != nil {
		return nil, fmt.Errorf("list columns for %s.%s: %w", schema, table, err)
	}
	defer rows.Close()
	columns := []Column{}
	for rows.Next() {
		var (
			name       string
			dataType   string
			isNullable string
			colDefault sql.NullString
			isPrimary  int
		)
		if err := rows.Scan(&name, &dataType, &isNullable, &colDefault, &isPrimary); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		col := Column{
			Name:         name,
			DataType:     dataType,
			Nullable:     strings.EqualFold(isNullable, "YES"),
			IsPrimaryKey: isPrimary == 1,
		}
		if colDefault.Valid {
			v := colDefault.String
			col.Default = &v
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

func normalizeDriver(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "mysql":
		return "mysql"
	case "mssql", "sqlserver":
		return "sqlserver"
	default:
		return "postgres"
	}
}

// tablesQuery lists base tables outside the engine's system schemas, ordered
// schema then name, with a best-effort row estimate where the catalog offers
// one.
func tablesQuery(driver string) string {
	switch driver {
	case "mysql":
		return `
			SELECT t.table_schema, t.table_name, t.table_rows
			FROM information_schema.tables t
			WHERE t.table_type = 'BASE TABLE'
			AND t.table_schema NOT IN ('mysql', 'information_schema', 'performance_schema', 'sys')
			ORDER BY t.table_schema, t.table_name`
	case "sqlserver":
		return `
			SELECT t.table_schema, t.table_name, CAST(NULL AS bigint)
			FROM information_schema.tables t
			WHERE t.table_type = 'BASE TABLE'
			AND t.table_schema NOT IN ('sys', 'INFORMATION_SCHEMA')
			ORDER BY t.table_schema, t.table_name`
	default:
		return `
			SELECT t.table_schema, t.table_name,
				(SELECT c.reltuples::bigint
				 FROM pg_class c
				 JOIN pg_namespace n ON n.oid = c.relnamespace
				 WHERE c.relname = t.table_name AND n.nspname = t.table_schema)
			FROM information_schema.tables t
			WHERE t.table_type = 'BASE TABLE'
			AND t.table_schema NOT IN ('pg_catalog', 'information_schema')
			ORDER BY t.table_schema, t.table_name`
	}
}

// columnsQuery lists a table's columns in ordinal order with nullability,
// primary-key membership, and default.
func columnsQuery(driver string) string {
	base := `
		SELECT c.column_name, c.data_type, c.is_nullable, c.column_default,
			CASE WHEN pk.column_name IS NOT NULL THEN 1 ELSE 0 END
		FROM information_schema.columns c
		LEFT JOIN (
			SELECT kcu.table_schema, kcu.table_name, kcu.column_name
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
				ON tc.constraint_name = kcu.constraint_name
				AND tc.table_schema = kcu.table_schema
			WHERE tc.constraint_type = 'PRIMARY KEY'
		) pk ON pk.table_schema = c.table_schema
			AND pk.table_name = c.table_name
			AND pk.column_name = c.column_name
		WHERE c.table_schema = %s AND c.table_name = %s
		ORDER BY c.ordinal_position`
	switch driver {
	case "mysql":
		return fmt.Sprintf(base, "?", "?")
	case "sqlserver":
		return fmt.Sprintf(base, "@p1", "@p2")
	default:
		return fmt.Sprintf(base, "$1", "$2")
	}
}

package dbconn

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestSchemaSummaryRoundTrips(t *testing.T) {
	estimate := int64(120)
	def := "now()"
	snapshot := &SchemaSnapshot{
		DatabaseName: "appdb",
		Version:      "PostgreSQL 16.2",
		Tables: []Table{{
			Name:       "users",
			SchemaName: "public",
			RowCount:   &estimate,
			Columns: []Column{
				{Name: "id", DataType: "integer", IsPrimaryKey: true},
				{Name: "created_at", DataType: "timestamp", Nullable: true, Default: &def},
			},
		}},
	}

	summary := snapshot.Summary()
	var decoded SchemaSnapshot
	if err := json.Unmarshal([]byte(summary), &decoded); err != nil {
		t.Fatalf("summary must be valid JSON: %v", err)
	}
	if decoded.DatabaseName != "appdb" || len(decoded.Tables) != 1 {
		t.Fatalf("unexpected decode %+v", decoded)
	}
	if decoded.Tables[0].Columns[0].Name != "id" || !decoded.Tables[0].Columns[0].IsPrimaryKey {
		t.Fatalf("column metadata lost in %+v", decoded.Tables[0])
	}
}

func TestTablesQueryExcludesSystemSchemas(t *testing.T) {
	if q := tablesQuery("postgres"); !strings.Contains(q, "pg_catalog") {
		t.Fatalf("postgres query must exclude pg_catalog")
	}
	if q := tablesQuery("mysql"); !strings.Contains(q, "performance_schema") {
		t.Fatalf("mysql query must exclude performance_schema")
	}
	if q := tablesQuery("sqlserver"); !strings.Contains(q, "INFORMATION_SCHEMA") {
		t.Fatalf("sqlserver query must exclude INFORMATION_SCHEMA")
	}
}

func TestColumnsQueryPlaceholders(t *testing.T) {
	if q := columnsQuery("postgres"); !strings.Contains(q, "$1") || !strings.Contains(q, "$2") {
		t.Fatalf("postgres placeholders missing")
	}
	if q := columnsQuery("mysql"); strings.Count(q, "?") != 2 {
		t.Fatalf("mysql placeholders missing")
	}
	if q := columnsQuery("sqlserver"); !strings.Contains(q, "@p1") || !strings.Contains(q, "@p2") {
		t.Fatalf("sqlserver placeholders missing")
	}
}

func TestNormalizeDriver(t *testing.T) {
	cases := map[string]string{
		"":          "postgres",
		"postgres":  "postgres",
		"MySQL":     "mysql",
		"mssql":     "sqlserver",
		"sqlserver": "sqlserver",
		"unknown":   "postgres",
	}
	for in, want := range cases {
		if got := normalizeDriver(in); got != want {
			t.Fatalf("normalizeDriver(%q) = %q, want %q", in, got, want)
		}
	}
}

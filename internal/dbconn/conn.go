package dbconn

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
)

const connectTimeout = 30 * time.Second

// ConnectionConfig describes the target database. Immutable once used to
// open a connection.
type ConnectionConfig struct {
	Driver   string // postgres | mysql | mssql, default postgres
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSL      bool
}

// Manager holds at most one connection to a target database. Each scan owns
// its own Manager for its own duration; handles are never shared across
// concurrent scans.
type Manager struct {
	cfg    ConnectionConfig
	db     *sql.DB
	logger *slog.Logger
}

func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger}
}

// Connect establishes a connection, replacing any previously held one.
// Failures are classified into ConnError kinds. Establishment is bounded by
// a 30 second timeout.
func (m *Manager) Connect(ctx context.Context, cfg ConnectionConfig) error {
	m.Disconnect()
	driver, dsn, err := buildDSN(cfg)
	if err != nil {
		return &ConnError{Kind: KindGeneric, Message: err.Error()}
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return classify(err, cfg.Database)
	}
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		connErr := classify(err, cfg.Database)
		m.logger.Error("target database connection failed",
			slog.String("host", cfg.Host),
			slog.String("database", cfg.Database),
			slog.String("kind", string(connErr.Kind)))
		return connErr
	}
	m.cfg = cfg
	m.db = db
	m.logger.Info("connected to target database",
		slog.String("host", cfg.Host),
		slog.String("database", cfg.Database))
	return nil
}

// Disconnect is idempotent and safe to call when no connection is held.
func (m *Manager) Disconnect() {
	if m.db != nil {
		_ = m.db.Close()
		m.db = nil
	}
}

func (m *Manager) IsConnected() bool {
	return m.db != nil
}

func (m *Manager) Config() ConnectionConfig {
	return m.cfg
}

// Row preserves the result set's column order alongside the values, so
// callers can reason about "the first field" deterministically.
type Row struct {
	Columns []string
	Values  map[string]any
}

// Query runs a read-only statement against the target database and returns
// every row. Execution is deliberately unbounded: a slow query blocks the
// caller for as long as the database takes.
func (m *Manager) Query(ctx context.Context, query string) ([]Row, error) {
	if !m.IsConnected() {
		return nil, ErrNotConnected
	}
	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	results := []Row{}
	for rows.Next() {
		values := make([]any, len(cols))
		for i := range values {
			var v any
			values[i] = &v
		}
		if err := rows.Scan(values...); err != nil {
			return nil, err
		}
		rowValues := make(map[string]any, len(cols))
		for i, col := range cols {
			v := *(values[i].(*any))
			rowValues[col] = normalizeValue(v)
		}
		results = append(results, Row{Columns: cols, Values: rowValues})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(t)
	default:
		return t
	}
}

func buildDSN(cfg ConnectionConfig) (string, string, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = "postgres"
	}
	switch driver {
	case "postgres", "postgresql":
		port := cfg.Port
		if port == 0 {
			port = 5432
		}
		sslMode := "disable"
		if cfg.SSL {
			sslMode = "require"
		}
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=30",
			cfg.Host, port, cfg.User, cfg.Password, cfg.Database, sslMode)
		return "postgres", dsn, nil
	case "mysql":
		port := cfg.Port
		if port == 0 {
			port = 3306
		}
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", cfg.User, cfg.Password, cfg.Host, port, cfg.Database)
		if cfg.SSL {
			dsn += "&tls=true"
		} else {
			dsn += "&tls=false"
		}
		return "mysql", dsn, nil
	case "mssql", "sqlserver":
		port := cfg.Port
		if port == 0 {
			port = 1433
		}
		encrypt := "disable"
		if cfg.SSL {
			encrypt = "true"
		}
		dsn := fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s&encrypt=%s",
			url.QueryEscape(cfg.User), url.QueryEscape(cfg.Password), cfg.Host, port, cfg.Database, encrypt)
		return "sqlserver", dsn, nil
	default:
		return "", "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

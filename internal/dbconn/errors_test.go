package dbconn

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	mssql "github.com/microsoft/go-mssqldb"
)

func TestClassifyDeadlineExceeded(t *testing.T) {
	connErr := classify(context.DeadlineExceeded, "target")
	if connErr.Kind != KindTimeout {
		t.Fatalf("expected timeout kind, got %q", connErr.Kind)
	}
}

func TestClassifyPostgresAuth(t *testing.T) {
	for _, code := range []pq.ErrorCode{"28P01", "28000"} {
		connErr := classify(&pq.Error{Code: code}, "target")
		if connErr.Kind != KindAuthentication {
			t.Fatalf("code %s: expected authentication kind, got %q", code, connErr.Kind)
		}
	}
}

func TestClassifyPostgresDatabaseMissing(t *testing.T) {
	connErr := classify(&pq.Error{Code: "3D000"}, "target")
	if connErr.Kind != KindTargetNotFound {
		t.Fatalf("expected target_not_found kind, got %q", connErr.Kind)
	}
}

func TestClassifyMySQLAuth(t *testing.T) {
	connErr := classify(&mysql.MySQLError{Number: 1045, Message: "access denied"}, "target")
	if connErr.Kind != KindAuthentication {
		t.Fatalf("expected authentication kind, got %q", connErr.Kind)
	}
}

func TestClassifyMySQLDatabaseMissing(t *testing.T) {
	connErr := classify(&mysql.MySQLError{Number: 1049, Message: "unknown database"}, "target")
	if connErr.Kind != KindTargetNotFound {
		t.Fatalf("expected target_not_found kind, got %q", connErr.Kind)
	}
}

func TestClassifyMSSQLAuth(t *testing.T) {
	connErr := classify(mssql.Error{Number: 18456}, "target")
	if connErr.Kind != KindAuthentication {
		t.Fatalf("expected authentication kind, got %q", connErr.Kind)
	}
}

func TestClassifyTLS(t *testing.T) {
	connErr := classify(errors.New("SSL is not enabled on the server"), "target")
	if connErr.Kind != KindTLS {
		t.Fatalf("expected tls kind, got %q", connErr.Kind)
	}
}

func TestClassifyConnectionRefused(t *testing.T) {
	connErr := classify(errors.New("dial tcp 10.0.0.1:5432: connect: connection refused"), "target")
	if connErr.Kind != KindHostUnreachable {
		t.Fatalf("expected host_unreachable kind, got %q", connErr.Kind)
	}
}

func TestClassifyNetOpError(t *testing.T) {
	opErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("host is down")}
	connErr := classify(opErr, "target")
	if connErr.Kind != KindHostUnreachable {
		t.Fatalf("expected host_unreachable kind, got %q", connErr.Kind)
	}
}

func TestClassifyGenericFallback(t *testing.T) {
	connErr := classify(errors.New("something odd happened"), "target")
	if connErr.Kind != KindGeneric {
		t.Fatalf("expected generic kind, got %q", connErr.Kind)
	}
}

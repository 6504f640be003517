package dbconn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	mssql "github.com/microsoft/go-mssqldb"
)

type ErrorKind string

const (
	KindAuthentication  ErrorKind = "authentication"
	KindTargetNotFound  ErrorKind = "target_not_found"
	KindHostUnreachable ErrorKind = "host_unreachable"
	KindTimeout         ErrorKind = "timeout"
	KindTLS             ErrorKind = "tls"
	KindGeneric         ErrorKind = "generic"
)

// ConnError is a tagged connection failure. Callers dispatch on Kind instead
// of on concrete driver error types.
type ConnError struct {
	Kind    ErrorKind
	Message string
}

func (e *ConnError) Error() string {
	return e.Message
}

var ErrNotConnected = errors.New("not connected to a database")

func classify(err error, database string) *ConnError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ConnError{Kind: KindTimeout, Message: "connection timed out, please try again"}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "28P01", "28000":
			return &ConnError{Kind: KindAuthentication, Message: "authentication failed, please check username and password"}
		case "3D000":
			return &ConnError{Kind: KindTargetNotFound, Message: fmt.Sprintf("database %q not found on the server", database)}
		}
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1045:
			return &ConnError{Kind: KindAuthentication, Message: "authentication failed, please check username and password"}
		case 1049:
			return &ConnError{Kind: KindTargetNotFound, Message: fmt.Sprintf("database %q not found on the server", database)}
		}
	}
	var msErr mssql.Error
	if errors.As(err, &msErr) {
		switch msErr.Number {
		case 18456:
			return &ConnError{Kind: KindAuthentication, Message: "authentication failed, please check username and password"}
		case 4060:
			return &ConnError{Kind: KindTargetNotFound, Message: fmt.Sprintf("database %q not found on the server", database)}
		}
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "ssl") || strings.Contains(msg, "tls") || strings.Contains(msg, "certificate") {
		return &ConnError{Kind: KindTLS, Message: "secure connection failed, please check SSL configuration"}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ConnError{Kind: KindTimeout, Message: "connection timed out, please try again"}
	}
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") {
		return &ConnError{Kind: KindTimeout, Message: "connection timed out, please try again"}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) || strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") {
		return &ConnError{Kind: KindHostUnreachable, Message: "unable to reach database host, please verify the hostname and port"}
	}
	return &ConnError{Kind: KindGeneric, Message: fmt.Sprintf("failed to connect to database: %v", err)}
}

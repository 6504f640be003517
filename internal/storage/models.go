package storage

import "time"

const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

const (
	ViolationPending       = "pending"
	ViolationConfirmed     = "confirmed"
	ViolationFalsePositive = "false_positive"
	ViolationResolved      = "resolved"
)

const (
	ScanRunning   = "running"
	ScanCompleted = "completed"
	ScanFailed    = "failed"
)

const (
	PolicyPending    = "pending"
	PolicyProcessing = "processing"
	PolicyCompleted  = "completed"
	PolicyFailed     = "failed"
)

func ValidSeverity(s string) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

func ValidViolationStatus(s string) bool {
	switch s {
	case ViolationPending, ViolationConfirmed, ViolationFalsePositive, ViolationResolved:
		return true
	}
	return false
}

// PolicyRecord is a stored policy document. Rules extracted from it carry its
// ID; RuleCount is filled on reads, not stored.
type PolicyRecord struct {
	ID         string
	Filename   string
	RawText    string
	Status     string
	UploadedAt time.Time
	RuleCount  int
}

type RuleRecord struct {
	ID                 string
	PolicyID           string
	RuleCode           string
	Description        string
	EvaluationCriteria string
	TargetTable        string
	GeneratedSQL       string
	Severity           string
	IsActive           bool
	CreatedAt          time.Time
}

type ViolationRecord struct {
	ID                    string
	RuleID                string
	RecordIdentifier      string
	RecordData            map[string]any
	Justification         string
	RemediationSuggestion string
	Severity              string
	Status                string
	DetectedAt            time.Time
	ResolvedAt            *time.Time
}

// ViolationKey identifies one violation occurrence across scans. It is the
// sole criterion for distinguishing new violations from already known ones.
type ViolationKey struct {
	RuleID           string
	RecordIdentifier string
}

type ScanRecord struct {
	ID              string
	StartedAt       time.Time
	CompletedAt     *time.Time
	Status          string
	ViolationsFound int
	NewViolations   int
	ErrorMessage    string
}

// ScheduleConfig is a single logical row: created on the first schedule
// request, updated thereafter, never deleted.
type ScheduleConfig struct {
	ID              string
	IntervalMinutes int
	IsEnabled       bool
	NextRunAt       *time.Time
	LastRunAt       *time.Time
}

type ConnectionSettings struct {
	ID           string
	Driver       string
	Host         string
	Port         int
	DatabaseName string
	Username     string
	Password     string
	SSL          bool
	IsActive     bool
	CreatedAt    time.Time
}

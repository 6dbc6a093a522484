package models

import "time"

// Severity grades security-relevant audit entries.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// AuditEntry is one immutable audit record.
type AuditEntry struct {
	ID        int64
	RequestID string
	Timestamp time.Time
	ActorID   *int64 // nil for anonymous actors
	ActorName string
	Action    string
	Detail    string
	Severity  Severity
	Path      string
	ClientIP  string
	UserAgent string
}

// UserScope holds the ownership facts for a user record.
type UserScope struct {
	ID         int64
	Role       Role
	DistrictID *int64
}

// RecordScope holds the ownership facts for a contract or transaction.
type RecordScope struct {
	ID         int64
	NotaryID   int64
	DistrictID int64
}

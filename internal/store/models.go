package store

import (
	"encoding/json"
	"time"

	"fieldqa/api/internal/qa"
)

type Profile struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Role         qa.Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Project struct {
	ID          string
	Name        string
	Client      string
	Description string
	Status      string
	StartDate   *time.Time
	EndDate     *time.Time
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type ProjectPhase struct {
	ID          string
	ProjectID   string
	Name        string
	Discipline  qa.Discipline
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// QAItem is a tracked finding. UpdatedAt doubles as the optimistic
// concurrency version stamp: every mutation compares and advances it.
type QAItem struct {
	ID          string
	ItemNumber  string
	ProjectID   string
	PhaseID     *string
	Title       string
	Description string
	Category    string
	Discipline  qa.Discipline
	Severity    qa.Severity
	Status      qa.Status
	AssignedTo  *string
	DueDate     *time.Time
	StartedAt   *time.Time
	ResolvedAt  *time.Time
	VerifiedAt  *time.Time
	ClosedAt    *time.Time
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Review is immutable once written. ReviewerRole is the role held at
// submission time, never re-resolved later.
type Review struct {
	ID             string
	QAItemID       string
	ReviewerID     string
	ReviewerRole   qa.Role
	ProposedStatus qa.Status
	Comment        string
	CreatedAt      time.Time
}

type Attachment struct {
	ID         string
	QAItemID   string
	FileName   string
	FilePath   string
	FileSize   int64
	FileType   string
	UploadedBy string
	CreatedAt  time.Time
}

// ActivityLogEntry is one append-only audit record. ID is assigned by
// the database sequence, so (CreatedAt, ID) is a strict total order
// for concurrent writers.
type ActivityLogEntry struct {
	ID           int64
	ActivityType qa.ActivityType
	Description  string
	OldValue     *string
	NewValue     *string
	Metadata     json.RawMessage
	ProjectID    *string
	PhaseID      *string
	QAItemID     *string
	UserID       *string
	CreatedAt    time.Time
}

// Cursor addresses a position in the activity log.
type Cursor struct {
	CreatedAt time.Time
	ID        int64
}

// ItemRef is the enrichment projection of a QA item.
type ItemRef struct {
	ID         string
	ItemNumber string
	Title      string
}

// ActivityFilter holds the conjunctive timeline predicates. Before is
// the keyset pagination cursor: only entries strictly older than it
// are returned, newest first.
type ActivityFilter struct {
	FreeText     string
	ActivityType qa.ActivityType
	ProjectID    string
	QAItemID     string
	Since        *time.Time
	Until        *time.Time
	Before       *Cursor
	Limit        int
}

// NewItemInput carries the caller-supplied fields for item creation
// and bulk import.
type NewItemInput struct {
	ProjectID   string
	PhaseID     *string
	Title       string
	Description string
	Category    string
	Discipline  qa.Discipline
	Severity    qa.Severity
	AssignedTo  *string
	DueDate     *time.Time
	CreatedBy   string
}

// ItemEdit holds the optional fields of a non-status edit. Nil means
// leave unchanged.
type ItemEdit struct {
	Title       *string
	Description *string
	Category    *string
	Severity    *qa.Severity
	Discipline  *qa.Discipline
	AssignedTo  *string
	ClearAssign bool
	DueDate     *time.Time
	ClearDue    bool
}

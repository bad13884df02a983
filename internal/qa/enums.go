// Package qa holds the QA-item domain vocabulary: the closed enum sets,
// the status transition table, and the role gate that governs it.
package qa

import "fmt"

type Status string

const (
	StatusNoted    Status = "noted"
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
	StatusVerified Status = "verified"
	StatusClosed   Status = "closed"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusNoted, StatusOpen, StatusResolved, StatusVerified, StatusClosed}

func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusNoted, StatusOpen, StatusResolved, StatusVerified, StatusClosed:
		return Status(raw), nil
	}
	return "", fmt.Errorf("unknown status %q", raw)
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

func ParseSeverity(raw string) (Severity, error) {
	switch Severity(raw) {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return Severity(raw), nil
	}
	return "", fmt.Errorf("unknown severity %q", raw)
}

type Discipline string

const (
	DisciplineElectrical    Discipline = "electrical"
	DisciplineMechanical    Discipline = "mechanical"
	DisciplinePlumbing      Discipline = "plumbing"
	DisciplineCivil         Discipline = "civil"
	DisciplineArchitectural Discipline = "architectural"
)

func ParseDiscipline(raw string) (Discipline, error) {
	switch Discipline(raw) {
	case DisciplineElectrical, DisciplineMechanical, DisciplinePlumbing, DisciplineCivil, DisciplineArchitectural:
		return Discipline(raw), nil
	}
	return "", fmt.Errorf("unknown discipline %q", raw)
}

type Role string

const (
	RoleJuniorEngineer Role = "junior_engineer"
	RoleSeniorEngineer Role = "senior_engineer"
	RolePM             Role = "pm"
	RoleAdmin          Role = "admin"
)

func ParseRole(raw string) (Role, error) {
	switch Role(raw) {
	case RoleJuniorEngineer, RoleSeniorEngineer, RolePM, RoleAdmin:
		return Role(raw), nil
	}
	return "", fmt.Errorf("unknown role %q", raw)
}

// AtLeast reports whether r carries at least the authority of min.
func (r Role) AtLeast(min Role) bool {
	return roleRank(r) >= roleRank(min)
}

func roleRank(r Role) int {
	switch r {
	case RoleJuniorEngineer:
		return 1
	case RoleSeniorEngineer:
		return 2
	case RolePM:
		return 3
	case RoleAdmin:
		return 4
	default:
		return 0
	}
}

type ActivityType string

const (
	ActivityStatusChange       ActivityType = "status_change"
	ActivityReviewAdded        ActivityType = "review_added"
	ActivityAttachmentUploaded ActivityType = "attachment_uploaded"
	ActivityAttachmentDeleted  ActivityType = "attachment_deleted"
	ActivityItemEdited         ActivityType = "item_edited"
	ActivityImportPerformed    ActivityType = "import_performed"
)

func ParseActivityType(raw string) (ActivityType, error) {
	switch ActivityType(raw) {
	case ActivityStatusChange, ActivityReviewAdded, ActivityAttachmentUploaded,
		ActivityAttachmentDeleted, ActivityItemEdited, ActivityImportPerformed:
		return ActivityType(raw), nil
	}
	return "", fmt.Errorf("unknown activity type %q", raw)
}

// Package activity holds the read-only training, quiz, audit and login
// signals that feed risk scoring.
package activity

import (
	"context"
	"time"
)

// EnrollmentStatus is the lifecycle state of a course enrollment.
type EnrollmentStatus string

const (
	EnrollmentEnrolled   EnrollmentStatus = "ENROLLED"
	EnrollmentInProgress EnrollmentStatus = "IN_PROGRESS"
	EnrollmentCompleted  EnrollmentStatus = "COMPLETED"
)

// Enrollment is one user's registration on a training course.
type Enrollment struct {
	TenantID    string           `json:"tenant_id"`
	UserID      string           `json:"user_id"`
	CourseID    string           `json:"course_id"`
	Status      EnrollmentStatus `json:"status"`
	EnrolledAt  time.Time        `json:"enrolled_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// Completed reports whether the enrollment counts as finished training.
func (e Enrollment) Completed() bool {
	return e.Status == EnrollmentCompleted
}

// QuizAttempt is a single graded quiz submission.
type QuizAttempt struct {
	TenantID    string    `json:"tenant_id"`
	UserID      string    `json:"user_id"`
	QuizID      string    `json:"quiz_id"`
	Score       float64   `json:"score"`
	Passed      bool      `json:"passed"`
	AttemptedAt time.Time `json:"attempted_at"`
}

// Audit actions that count as security incidents.
const (
	ActionSecurityViolation  = "SECURITY_VIOLATION"
	ActionUnauthorizedAccess = "UNAUTHORIZED_ACCESS"
	ActionDataBreach         = "DATA_BREACH"
	ActionMalwareDetected    = "MALWARE_DETECTED"
	ActionSuspiciousActivity = "SUSPICIOUS_ACTIVITY"
)

// SecurityActions lists the audit actions treated as incidents.
var SecurityActions = []string{
	ActionSecurityViolation,
	ActionUnauthorizedAccess,
	ActionDataBreach,
	ActionMalwareDetected,
	ActionSuspiciousActivity,
}

// AuditEntry is one audit-log line attributed to a user.
type AuditEntry struct {
	TenantID   string    `json:"tenant_id"`
	UserID     string    `json:"user_id"`
	Action     string    `json:"action"`
	OccurredAt time.Time `json:"occurred_at"`
}

// IsSecurityIncident reports whether the entry is security relevant.
func (a AuditEntry) IsSecurityIncident() bool {
	for _, act := range SecurityActions {
		if a.Action == act {
			return true
		}
	}
	return false
}

// Session is a login session record.
type Session struct {
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id"`
	IPAddress string    `json:"ip_address"`
	CreatedAt time.Time `json:"created_at"`
}

// Reader is the query surface over a user's non-phishing signals.
type Reader interface {
	// Enrollments returns all enrollments of the user.
	Enrollments(ctx context.Context, tenantID, userID string) ([]Enrollment, error)
	// LatestCompletion returns the most recent completion time, nil when the
	// user never completed a course.
	LatestCompletion(ctx context.Context, tenantID, userID string) (*time.Time, error)
	// RecentQuizAttempts returns up to limit attempts, newest first.
	RecentQuizAttempts(ctx context.Context, tenantID, userID string, limit int) ([]QuizAttempt, error)
	// CountSecurityIncidents counts security-relevant audit entries at or after since.
	CountSecurityIncidents(ctx context.Context, tenantID, userID string, since time.Time) (int, error)
	// RecentSessions returns up to limit sessions, newest first.
	RecentSessions(ctx context.Context, tenantID, userID string, limit int) ([]Session, error)
}

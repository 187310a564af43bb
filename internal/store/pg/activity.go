package pg

import (
	"context"
	"database/sql"
	"time"

	"awarerisk.org/internal/activity"
)

func (s *Store) Enrollments(ctx context.Context, tenantID, userID string) ([]activity.Enrollment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select tenant_id, user_id, course_id, status, enrolled_at, completed_at
		from enrollments
		where tenant_id=$1 and user_id=$2
		order by enrolled_at desc
	`, tenantID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []activity.Enrollment
	for rows.Next() {
		var (
			e         activity.Enrollment
			status    string
			completed sql.NullTime
		)
		if err := rows.Scan(&e.TenantID, &e.UserID, &e.CourseID, &status, &e.EnrolledAt, &completed); err != nil {
			return nil, err
		}
		e.Status = activity.EnrollmentStatus(status)
		if completed.Valid {
			t := completed.Time.UTC()
			e.CompletedAt = &t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) LatestCompletion(ctx context.Context, tenantID, userID string) (*time.Time, error) {
	var latest sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		select max(completed_at)
		from enrollments
		where tenant_id=$1 and user_id=$2 and status=$3
	`, tenantID, userID, string(activity.EnrollmentCompleted)).Scan(&latest)
	if err != nil {
		return nil, err
	}
	if !latest.Valid {
		return nil, nil
	}
	t := latest.Time.UTC()
	return &t, nil
}

func (s *Store) RecentQuizAttempts(ctx context.Context, tenantID, userID string, limit int) ([]activity.QuizAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		select tenant_id, user_id, quiz_id, score, passed, attempted_at
		from quiz_attempts
		where tenant_id=$1 and user_id=$2
		order by attempted_at desc`+limitClause(limit), tenantID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []activity.QuizAttempt
	for rows.Next() {
		var a activity.QuizAttempt
		if err := rows.Scan(&a.TenantID, &a.UserID, &a.QuizID, &a.Score, &a.Passed, &a.AttemptedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) CountSecurityIncidents(ctx context.Context, tenantID, userID string, since time.Time) (int, error) {
	args := stringArgs([]any{tenantID, userID, since.UTC()}, activity.SecurityActions)
	var n int
	err := s.db.QueryRowContext(ctx, `
		select count(*)
		from audit_logs
		where tenant_id=$1 and user_id=$2 and occurred_at >= $3
			and action in (`+placeholders(4, len(activity.SecurityActions))+`)
	`, args...).Scan(&n)
	return n, err
}

func (s *Store) RecentSessions(ctx context.Context, tenantID, userID string, limit int) ([]activity.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		select tenant_id, user_id, coalesce(ip_address, ''), created_at
		from sessions
		where tenant_id=$1 and user_id=$2
		order by created_at desc`+limitClause(limit), tenantID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []activity.Session
	for rows.Next() {
		var sess activity.Session
		if err := rows.Scan(&sess.TenantID, &sess.UserID, &sess.IPAddress, &sess.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

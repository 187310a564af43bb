// Package memory is an in-process implementation of every persistence
// collaborator. It backs tests and single-node deployments without Postgres.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"awarerisk.org/internal/activity"
	"awarerisk.org/internal/directory"
	"awarerisk.org/internal/phishing"
	"awarerisk.org/internal/risk"
)

var (
	_ phishing.Store   = (*Store)(nil)
	_ activity.Reader  = (*Store)(nil)
	_ directory.Reader = (*Store)(nil)
	_ risk.ScoreStore  = (*Store)(nil)
)

// Store keeps all state in maps guarded by a single lock.
type Store struct {
	mu          sync.RWMutex
	events      map[phishing.EventKey]*phishing.Event
	users       map[string]map[string]directory.User // tenant -> user id -> user
	enrollments []activity.Enrollment
	quizzes     []activity.QuizAttempt
	audit       []activity.AuditEntry
	sessions    []activity.Session
	scores      []risk.Score
}

// New returns an empty store.
func New() *Store {
	return &Store{
		events: make(map[phishing.EventKey]*phishing.Event),
		users:  make(map[string]map[string]directory.User),
	}
}

// PutUser inserts or replaces a directory user.
func (s *Store) PutUser(u directory.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.users[u.TenantID]
	if !ok {
		byID = make(map[string]directory.User)
		s.users[u.TenantID] = byID
	}
	byID[u.ID] = u
}

// AddEnrollment records a training enrollment.
func (s *Store) AddEnrollment(e activity.Enrollment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enrollments = append(s.enrollments, e)
}

// AddQuizAttempt records a graded quiz.
func (s *Store) AddQuizAttempt(a activity.QuizAttempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quizzes = append(s.quizzes, a)
}

// AddAuditEntry records an audit-log line.
func (s *Store) AddAuditEntry(a activity.AuditEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, a)
}

// AddSession records a login session.
func (s *Store) AddSession(sess activity.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, sess)
}

// phishing.Store

func (s *Store) InsertEvents(_ context.Context, events []phishing.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		if _, exists := s.events[e.Key()]; exists {
			return phishing.ErrConflict
		}
	}
	for _, e := range events {
		cp := e.Clone()
		s.events[e.Key()] = &cp
	}
	return nil
}

func (s *Store) GetEvent(_ context.Context, key phishing.EventKey) (phishing.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[key]
	if !ok {
		return phishing.Event{}, phishing.ErrNotFound
	}
	return e.Clone(), nil
}

func (s *Store) MarkClicked(_ context.Context, key phishing.EventKey, at time.Time, attrs map[string]string) (phishing.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[key]
	if !ok {
		return phishing.Event{}, phishing.ErrNotFound
	}
	if e.Clicked {
		return phishing.Event{}, phishing.ErrAlreadyClicked
	}
	at = notBefore(at, e.SentAt)
	e.Clicked = true
	e.ClickedAt = &at
	e.Metadata.MergeAttributes(attrs)
	return e.Clone(), nil
}

func (s *Store) MarkReported(_ context.Context, key phishing.EventKey, at time.Time, attrs map[string]string) (phishing.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[key]
	if !ok {
		return phishing.Event{}, phishing.ErrNotFound
	}
	if e.Reported {
		return phishing.Event{}, phishing.ErrAlreadyReported
	}
	at = notBefore(at, e.SentAt)
	e.Reported = true
	e.ReportedAt = &at
	e.Metadata.MergeAttributes(attrs)
	return e.Clone(), nil
}

func (s *Store) RecordAction(_ context.Context, key phishing.EventKey, action phishing.Action, entry phishing.ActionEntry) (phishing.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[key]
	if !ok {
		return phishing.Event{}, phishing.ErrNotFound
	}
	entry.At = notBefore(entry.At, e.SentAt)
	e.Metadata.SetAction(action, entry)
	return e.Clone(), nil
}

func (s *Store) CampaignEvents(_ context.Context, tenantID, campaignID string) ([]phishing.Event, error) {
	return s.selectEvents(func(e *phishing.Event) bool {
		return e.TenantID == tenantID && e.CampaignID == campaignID
	}, 0), nil
}

func (s *Store) UserEvents(_ context.Context, tenantID, userID string, limit int) ([]phishing.Event, error) {
	return s.selectEvents(func(e *phishing.Event) bool {
		return e.TenantID == tenantID && e.UserID == userID
	}, limit), nil
}

func (s *Store) TenantEvents(_ context.Context, tenantID string, w phishing.Window) ([]phishing.Event, error) {
	return s.selectEvents(func(e *phishing.Event) bool {
		return e.TenantID == tenantID && w.Contains(e.SentAt)
	}, 0), nil
}

// selectEvents returns matching events newest first.
func (s *Store) selectEvents(match func(*phishing.Event) bool, limit int) []phishing.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]phishing.Event, 0)
	for _, e := range s.events {
		if match(e) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].SentAt.After(out[j].SentAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func notBefore(t, floor time.Time) time.Time {
	if t.Before(floor) {
		return floor
	}
	return t
}

// directory.Reader

func (s *Store) TenantUserIDs(_ context.Context, tenantID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.users[tenantID]))
	for id := range s.users[tenantID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) DepartmentUserIDs(_ context.Context, tenantID string, departmentIDs []string) ([]string, error) {
	want := make(map[string]struct{}, len(departmentIDs))
	for _, d := range departmentIDs {
		want[d] = struct{}{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id, u := range s.users[tenantID] {
		if _, ok := want[u.DepartmentID]; ok && u.DepartmentID != "" {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) Users(_ context.Context, tenantID string, ids []string) (map[string]directory.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]directory.User, len(ids))
	for _, id := range ids {
		if u, ok := s.users[tenantID][id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

// activity.Reader

func (s *Store) Enrollments(_ context.Context, tenantID, userID string) ([]activity.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []activity.Enrollment
	for _, e := range s.enrollments {
		if e.TenantID == tenantID && e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) LatestCompletion(_ context.Context, tenantID, userID string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *time.Time
	for _, e := range s.enrollments {
		if e.TenantID != tenantID || e.UserID != userID || !e.Completed() || e.CompletedAt == nil {
			continue
		}
		if latest == nil || e.CompletedAt.After(*latest) {
			t := *e.CompletedAt
			latest = &t
		}
	}
	return latest, nil
}

func (s *Store) RecentQuizAttempts(_ context.Context, tenantID, userID string, limit int) ([]activity.QuizAttempt, error) {
	s.mu.RLock()
	var out []activity.QuizAttempt
	for _, a := range s.quizzes {
		if a.TenantID == tenantID && a.UserID == userID {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].AttemptedAt.After(out[j].AttemptedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CountSecurityIncidents(_ context.Context, tenantID, userID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	for _, a := range s.audit {
		if a.TenantID == tenantID && a.UserID == userID && a.IsSecurityIncident() && !a.OccurredAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *Store) RecentSessions(_ context.Context, tenantID, userID string, limit int) ([]activity.Session, error) {
	s.mu.RLock()
	var out []activity.Session
	for _, sess := range s.sessions {
		if sess.TenantID == tenantID && sess.UserID == userID {
			out = append(out, sess)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// risk.ScoreStore

func (s *Store) SaveScore(_ context.Context, score risk.Score) error {
	score.Recommendations = append([]string(nil), score.Recommendations...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores = append(s.scores, score)
	return nil
}

func (s *Store) ScoreHistory(_ context.Context, tenantID, userID string, limit int) ([]risk.Score, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []risk.Score
	// walk backwards so later saves come first among equal timestamps
	for i := len(s.scores) - 1; i >= 0; i-- {
		sc := s.scores[i]
		if sc.TenantID == tenantID && sc.UserID == userID {
			out = append(out, sc)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CalculatedAt.After(out[j].CalculatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LatestScore returns the snapshot with the greatest CalculatedAt. Later saves win ties.
func (s *Store) LatestScore(_ context.Context, tenantID, userID string) (risk.Score, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		latest risk.Score
		found  bool
	)
	for _, sc := range s.scores {
		if sc.TenantID != tenantID || sc.UserID != userID {
			continue
		}
		if !found || !sc.CalculatedAt.Before(latest.CalculatedAt) {
			latest, found = sc, true
		}
	}
	if !found {
		return risk.Score{}, risk.ErrNoScore
	}
	return latest, nil
}

func (s *Store) LatestScores(_ context.Context, tenantID string) ([]risk.Score, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := make(map[string]risk.Score)
	for _, sc := range s.scores {
		if sc.TenantID != tenantID {
			continue
		}
		if cur, ok := latest[sc.UserID]; !ok || !sc.CalculatedAt.Before(cur.CalculatedAt) {
			latest[sc.UserID] = sc
		}
	}
	out := make([]risk.Score, 0, len(latest))
	for _, sc := range latest {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

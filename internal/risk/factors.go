package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"awarerisk.org/internal/activity"
	"awarerisk.org/internal/directory"
	"awarerisk.org/internal/phishing"
)

const (
	phishingSample = 20
	quizSample     = 10
	sessionSample  = 50
	minSessions    = 10
	incidentWindow = 90 * 24 * time.Hour

	neutralScore          = 50
	insufficientLoginData = 80
)

// Sources are the read-only collaborators the calculators query.
type Sources struct {
	Phishing  phishing.Store
	Activity  activity.Reader
	Directory directory.Reader
}

// Factors evaluates the six sub-scores for one user.
type Factors struct {
	src Sources
	now func() time.Time
	loc *time.Location
}

// NewFactors builds calculators over src. Login hours are read in loc (UTC when nil).
func NewFactors(src Sources, now func() time.Time, loc *time.Location) *Factors {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Factors{src: src, now: now, loc: loc}
}

// Phishing scores the user's most recent simulations; 50 when there are none.
func (f *Factors) Phishing(ctx context.Context, tenantID, userID string) (float64, error) {
	events, err := f.src.Phishing.UserEvents(ctx, tenantID, userID, phishingSample)
	if err != nil {
		return 0, fmt.Errorf("phishing events: %w", err)
	}
	return phishingScore(events), nil
}

// TrainingCompletion is the completed share of enrollments; 0 without enrollments.
func (f *Factors) TrainingCompletion(ctx context.Context, tenantID, userID string) (float64, error) {
	enrollments, err := f.src.Activity.Enrollments(ctx, tenantID, userID)
	if err != nil {
		return 0, fmt.Errorf("enrollments: %w", err)
	}
	return completionScore(enrollments), nil
}

// TrainingRecency decays with the days since the last completed course.
func (f *Factors) TrainingRecency(ctx context.Context, tenantID, userID string) (float64, error) {
	last, err := f.src.Activity.LatestCompletion(ctx, tenantID, userID)
	if err != nil {
		return 0, fmt.Errorf("latest completion: %w", err)
	}
	if last == nil {
		return 0, nil
	}
	days := int(f.now().Sub(*last) / (24 * time.Hour))
	return recencyScore(days), nil
}

// QuizPerformance averages the mean score and pass rate of recent attempts.
func (f *Factors) QuizPerformance(ctx context.Context, tenantID, userID string) (float64, error) {
	attempts, err := f.src.Activity.RecentQuizAttempts(ctx, tenantID, userID, quizSample)
	if err != nil {
		return 0, fmt.Errorf("quiz attempts: %w", err)
	}
	return quizScore(attempts), nil
}

// SecurityIncidents penalises incidents in the trailing 90 days.
func (f *Factors) SecurityIncidents(ctx context.Context, tenantID, userID string) (float64, error) {
	n, err := f.src.Activity.CountSecurityIncidents(ctx, tenantID, userID, f.now().Add(-incidentWindow))
	if err != nil {
		return 0, fmt.Errorf("security incidents: %w", err)
	}
	return incidentScore(n), nil
}

// LoginAnomalies counts unusual login patterns over recent sessions.
func (f *Factors) LoginAnomalies(ctx context.Context, tenantID, userID string) (float64, error) {
	sessions, err := f.src.Activity.RecentSessions(ctx, tenantID, userID, sessionSample)
	if err != nil {
		return 0, fmt.Errorf("sessions: %w", err)
	}
	if len(sessions) < minSessions {
		return insufficientLoginData, nil
	}
	users, err := f.src.Directory.Users(ctx, tenantID, []string{userID})
	if err != nil {
		return 0, fmt.Errorf("user: %w", err)
	}
	return loginScore(sessions, users[userID].FailedLoginAttempts, f.loc), nil
}

func phishingScore(events []phishing.Event) float64 {
	if len(events) == 0 {
		return neutralScore
	}
	var clicked, reported int
	for _, e := range events {
		if e.Clicked {
			clicked++
		}
		if e.Reported {
			reported++
		}
	}
	total := float64(len(events))
	return clamp(100 - float64(clicked)/total*50 + float64(reported)/total*30)
}

func completionScore(enrollments []activity.Enrollment) float64 {
	if len(enrollments) == 0 {
		return 0
	}
	var done int
	for _, e := range enrollments {
		if e.Completed() {
			done++
		}
	}
	return float64(done) * 100 / float64(len(enrollments))
}

type recencyBand struct {
	from, to     int
	upper, lower float64
}

// Bands cover days (from, to]; the last band extends past its end and floors at 0.
var recencyBands = []recencyBand{
	{from: 30, to: 90, upper: 90, lower: 70},
	{from: 90, to: 180, upper: 70, lower: 40},
	{from: 180, to: 365, upper: 40, lower: 20},
	{from: 365, to: 730, upper: 20, lower: 0},
}

func recencyScore(days int) float64 {
	if days <= 30 {
		return 100
	}
	for i, b := range recencyBands {
		if days <= b.to || i == len(recencyBands)-1 {
			width := float64(b.to - b.from)
			v := b.upper - float64(days-b.from)/width*(b.upper-b.lower)
			return math.Max(0, v)
		}
	}
	return 0
}

func quizScore(attempts []activity.QuizAttempt) float64 {
	if len(attempts) == 0 {
		return neutralScore
	}
	var sum float64
	var passed int
	for _, a := range attempts {
		sum += a.Score
		if a.Passed {
			passed++
		}
	}
	n := float64(len(attempts))
	avg := sum / n
	passRate := float64(passed) * 100 / n
	return clamp((avg + passRate) / 2)
}

func incidentScore(n int) float64 {
	switch {
	case n <= 0:
		return 100
	case n == 1:
		return 85
	case n == 2:
		return 70
	default:
		return math.Max(0, float64(70-(n-2)*10))
	}
}

const (
	dayStartHour       = 6
	dayEndHour         = 22
	offHoursShareLimit = 30
	distinctIPLimit    = 5
	failedLoginLimit   = 3
	anomalyPenalty     = 15
)

func loginScore(sessions []activity.Session, failedAttempts int, loc *time.Location) float64 {
	var offHours, anomalies int
	ips := make(map[string]struct{})
	for _, s := range sessions {
		h := s.CreatedAt.In(loc).Hour()
		if h < dayStartHour || h >= dayEndHour {
			offHours++
		}
		if s.IPAddress != "" {
			ips[s.IPAddress] = struct{}{}
		}
	}
	if float64(offHours)*100/float64(len(sessions)) > offHoursShareLimit {
		anomalies++
	}
	if len(ips) > distinctIPLimit {
		anomalies++
	}
	if failedAttempts > failedLoginLimit {
		anomalies++
	}
	return math.Max(0, float64(100-anomalies*anomalyPenalty))
}

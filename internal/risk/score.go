// Package risk turns a user's behavioural signals into a weighted risk score,
// keeps the score history and ranks a tenant's population by it.
package risk

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoScore is returned when a user has never been scored.
	ErrNoScore = errors.New("no risk score")
	// ErrInvalidWeights is returned when a weight set is unusable.
	ErrInvalidWeights = errors.New("invalid risk weights")
	// ErrInvalidInput marks a request the engine cannot act on.
	ErrInvalidInput = errors.New("invalid risk input")
)

// Level is the coarse classification of an overall score.
type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// Classify maps an overall score to its level.
func Classify(score float64) Level {
	switch {
	case score >= 80:
		return LevelLow
	case score >= 60:
		return LevelMedium
	case score >= 40:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// Components are the six sub-scores, each in [0,100]; higher is safer.
type Components struct {
	Phishing           float64 `json:"phishing"`
	TrainingCompletion float64 `json:"training_completion"`
	TrainingRecency    float64 `json:"training_recency"`
	QuizPerformance    float64 `json:"quiz_performance"`
	SecurityIncidents  float64 `json:"security_incidents"`
	LoginAnomalies     float64 `json:"login_anomalies"`
}

// Score is one immutable snapshot of a user's risk.
type Score struct {
	ID              string     `json:"id"`
	TenantID        string     `json:"tenant_id"`
	UserID          string     `json:"user_id"`
	Components      Components `json:"components"`
	Overall         float64    `json:"overall_score"`
	Level           Level      `json:"risk_level"`
	Recommendations []string   `json:"recommendations"`
	CalculatedAt    time.Time  `json:"calculated_at"`
}

// ScoreStore is the append-only history of computed scores.
type ScoreStore interface {
	// SaveScore appends a snapshot.
	SaveScore(ctx context.Context, s Score) error
	// ScoreHistory returns a user's snapshots newest first. limit <= 0 means all.
	ScoreHistory(ctx context.Context, tenantID, userID string, limit int) ([]Score, error)
	// LatestScore returns the newest snapshot or ErrNoScore.
	LatestScore(ctx context.Context, tenantID, userID string) (Score, error)
	// LatestScores returns the newest snapshot of every scored user in the tenant.
	LatestScores(ctx context.Context, tenantID string) ([]Score, error)
}

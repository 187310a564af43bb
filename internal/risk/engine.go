package risk

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"awarerisk.org/internal/ids"
	"awarerisk.org/internal/obs"
)

const defaultWorkers = 8

// Engine computes, persists and ranks risk scores.
type Engine struct {
	factors *Factors
	scores  ScoreStore
	src     Sources
	weights Weights
	now     func() time.Time
	loc     *time.Location
	workers int
	logger  *zap.Logger
}

// Option customises an Engine.
type Option func(*Engine)

// WithWeights replaces the default weighting.
func WithWeights(w Weights) Option {
	return func(e *Engine) { e.weights = w }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLocation sets the zone used to judge login hours.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithWorkers bounds bulk scoring concurrency.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine validates the weighting and wires the calculators.
func NewEngine(src Sources, scores ScoreStore, opts ...Option) (*Engine, error) {
	e := &Engine{
		scores:  scores,
		src:     src,
		weights: DefaultWeights(),
		now:     func() time.Time { return time.Now().UTC() },
		loc:     time.UTC,
		workers: defaultWorkers,
		logger:  obs.Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.weights.Validate(); err != nil {
		return nil, err
	}
	e.factors = NewFactors(src, e.now, e.loc)
	return e, nil
}

// Weights returns the weighting in use.
func (e *Engine) Weights() Weights { return e.weights }

// CalculateUserRiskScore evaluates the six factors concurrently, combines
// them and appends the snapshot to the user's history.
func (e *Engine) CalculateUserRiskScore(ctx context.Context, tenantID, userID string) (score Score, err error) {
	start := time.Now()
	defer func() { obs.ObserveRiskCalculation(err, time.Since(start)) }()

	tenantID, userID = strings.TrimSpace(tenantID), strings.TrimSpace(userID)
	if tenantID == "" || userID == "" {
		return Score{}, fmt.Errorf("%w: tenant and user are required", ErrInvalidInput)
	}

	var c Components
	g, gctx := errgroup.WithContext(ctx)
	for _, f := range []struct {
		dst  *float64
		eval func(context.Context, string, string) (float64, error)
	}{
		{&c.Phishing, e.factors.Phishing},
		{&c.TrainingCompletion, e.factors.TrainingCompletion},
		{&c.TrainingRecency, e.factors.TrainingRecency},
		{&c.QuizPerformance, e.factors.QuizPerformance},
		{&c.SecurityIncidents, e.factors.SecurityIncidents},
		{&c.LoginAnomalies, e.factors.LoginAnomalies},
	} {
		f := f
		g.Go(func() error {
			v, err := f.eval(gctx, tenantID, userID)
			if err != nil {
				return err
			}
			*f.dst = round2(clamp(v))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Score{}, fmt.Errorf("score %s: %w", userID, err)
	}

	score = e.assemble(tenantID, userID, c)
	if err := e.scores.SaveScore(ctx, score); err != nil {
		return Score{}, fmt.Errorf("save score: %w", err)
	}
	return score, nil
}

func (e *Engine) assemble(tenantID, userID string, c Components) Score {
	overall := e.weights.Overall(c)
	level := Classify(overall)
	return Score{
		ID:              ids.New(),
		TenantID:        tenantID,
		UserID:          userID,
		Components:      c,
		Overall:         overall,
		Level:           level,
		Recommendations: Recommend(c, level),
		CalculatedAt:    e.now(),
	}
}

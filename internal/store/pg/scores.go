package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"awarerisk.org/internal/risk"
)

const scoreColumns = `id, tenant_id, user_id, phishing_score, training_completion_score,
	training_recency_score, quiz_performance_score, security_incident_score, login_anomaly_score,
	overall_score, risk_level, recommendations, calculated_at`

func scanScore(row rowScanner) (risk.Score, error) {
	var (
		sc    risk.Score
		level string
		recs  []byte
	)
	c := &sc.Components
	if err := row.Scan(&sc.ID, &sc.TenantID, &sc.UserID, &c.Phishing, &c.TrainingCompletion,
		&c.TrainingRecency, &c.QuizPerformance, &c.SecurityIncidents, &c.LoginAnomalies,
		&sc.Overall, &level, &recs, &sc.CalculatedAt); err != nil {
		return risk.Score{}, err
	}
	sc.Level = risk.Level(level)
	sc.CalculatedAt = sc.CalculatedAt.UTC()
	if len(recs) > 0 {
		if err := json.Unmarshal(recs, &sc.Recommendations); err != nil {
			return risk.Score{}, fmt.Errorf("decode recommendations: %w", err)
		}
	}
	return sc, nil
}

func (s *Store) SaveScore(ctx context.Context, sc risk.Score) error {
	recs, err := json.Marshal(sc.Recommendations)
	if err != nil {
		return fmt.Errorf("marshal recommendations: %w", err)
	}
	c := sc.Components
	_, err = s.db.ExecContext(ctx, `
		insert into risk_scores(`+scoreColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, sc.ID, sc.TenantID, sc.UserID, c.Phishing, c.TrainingCompletion, c.TrainingRecency,
		c.QuizPerformance, c.SecurityIncidents, c.LoginAnomalies, sc.Overall, string(sc.Level), recs, sc.CalculatedAt.UTC())
	return err
}

func (s *Store) ScoreHistory(ctx context.Context, tenantID, userID string, limit int) ([]risk.Score, error) {
	return s.queryScores(ctx, `
		select `+scoreColumns+`
		from risk_scores
		where tenant_id=$1 and user_id=$2
		order by calculated_at desc, id desc`+limitClause(limit), tenantID, userID)
}

func (s *Store) LatestScore(ctx context.Context, tenantID, userID string) (risk.Score, error) {
	sc, err := scanScore(s.db.QueryRowContext(ctx, `
		select `+scoreColumns+`
		from risk_scores
		where tenant_id=$1 and user_id=$2
		order by calculated_at desc, id desc
		limit 1
	`, tenantID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return risk.Score{}, risk.ErrNoScore
	}
	return sc, err
}

func (s *Store) LatestScores(ctx context.Context, tenantID string) ([]risk.Score, error) {
	return s.queryScores(ctx, `
		select distinct on (user_id) `+scoreColumns+`
		from risk_scores
		where tenant_id=$1
		order by user_id, calculated_at desc, id desc
	`, tenantID)
}

func (s *Store) queryScores(ctx context.Context, query string, args ...any) ([]risk.Score, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []risk.Score
	for rows.Next() {
		sc, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

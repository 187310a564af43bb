package risk

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// RankedUser is a latest snapshot joined with directory attributes.
type RankedUser struct {
	Score
	Name         string `json:"name,omitempty"`
	Email        string `json:"email,omitempty"`
	DepartmentID string `json:"department_id,omitempty"`
}

// Distribution counts users per level.
type Distribution struct {
	Low      int `json:"low"`
	Medium   int `json:"medium"`
	High     int `json:"high"`
	Critical int `json:"critical"`
}

// TenantRiskStats summarises the latest scores of a tenant.
type TenantRiskStats struct {
	TotalUsers   int          `json:"total_users"`
	ScoredUsers  int          `json:"scored_users"`
	AverageScore float64      `json:"average_score"`
	Distribution Distribution `json:"distribution"`
}

// History returns a user's snapshots newest first.
func (e *Engine) History(ctx context.Context, tenantID, userID string, limit int) ([]Score, error) {
	out, err := e.scores.ScoreHistory(ctx, tenantID, userID, limit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Score{}
	}
	return out, nil
}

// HighRiskUsers lists users whose latest score is below threshold, most at risk first.
func (e *Engine) HighRiskUsers(ctx context.Context, tenantID string, threshold float64, limit int) ([]RankedUser, error) {
	latest, err := e.scores.LatestScores(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	var hits []Score
	for _, s := range latest {
		if s.Overall < threshold {
			hits = append(hits, s)
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Overall != hits[j].Overall {
			return hits[i].Overall < hits[j].Overall
		}
		return hits[i].UserID < hits[j].UserID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	out := make([]RankedUser, 0, len(hits))
	if len(hits) == 0 {
		return out, nil
	}
	ids := make([]string, len(hits))
	for i, s := range hits {
		ids[i] = s.UserID
	}
	users, err := e.src.Directory.Users(ctx, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	for _, s := range hits {
		u := users[s.UserID]
		out = append(out, RankedUser{Score: s, Name: u.Name, Email: u.Email, DepartmentID: u.DepartmentID})
	}
	return out, nil
}

// TenantRiskStats averages the latest score of every tenant user and
// buckets them by level. Users never scored are not counted.
func (e *Engine) TenantRiskStats(ctx context.Context, tenantID string) (TenantRiskStats, error) {
	userIDs, err := e.src.Directory.TenantUserIDs(ctx, tenantID)
	if err != nil {
		return TenantRiskStats{}, fmt.Errorf("list tenant users: %w", err)
	}
	st := TenantRiskStats{TotalUsers: len(userIDs)}
	var sum float64
	for _, userID := range userIDs {
		s, err := e.scores.LatestScore(ctx, tenantID, userID)
		if errors.Is(err, ErrNoScore) {
			continue
		}
		if err != nil {
			return TenantRiskStats{}, err
		}
		st.ScoredUsers++
		sum += s.Overall
		switch Classify(s.Overall) {
		case LevelLow:
			st.Distribution.Low++
		case LevelMedium:
			st.Distribution.Medium++
		case LevelHigh:
			st.Distribution.High++
		default:
			st.Distribution.Critical++
		}
	}
	if st.ScoredUsers > 0 {
		st.AverageScore = round2(sum / float64(st.ScoredUsers))
	}
	return st, nil
}

package phishing

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// CampaignStats summarises one campaign.
type CampaignStats struct {
	CampaignID string `json:"campaign_id"`
	TotalSent  int    `json:"total_sent"`
	Clicked    int    `json:"clicked"`
	Reported   int    `json:"reported"`
	Opened     int    `json:"opened"`
	// Rates are percentages of TotalSent.
	ClickRate  float64 `json:"click_rate"`
	ReportRate float64 `json:"report_rate"`
	OpenRate   float64 `json:"open_rate"`
	// Average minutes between send and action; nil when nobody acted.
	AvgMinutesToClick  *float64 `json:"avg_minutes_to_click,omitempty"`
	AvgMinutesToReport *float64 `json:"avg_minutes_to_report,omitempty"`
}

// UserHistory lists a user's simulations newest first.
type UserHistory struct {
	UserID     string  `json:"user_id"`
	Events     []Event `json:"events"`
	Total      int     `json:"total"`
	Clicked    int     `json:"clicked"`
	Reported   int     `json:"reported"`
	ClickRate  float64 `json:"click_rate"`
	ReportRate float64 `json:"report_rate"`
}

// TenantStats summarises every simulation in a window.
type TenantStats struct {
	TotalSimulations int     `json:"total_simulations"`
	Clicked          int     `json:"clicked"`
	Reported         int     `json:"reported"`
	ClickRate        float64 `json:"click_rate"`
	ReportRate       float64 `json:"report_rate"`
	Campaigns        int     `json:"campaigns"`
}

// UserPerformance is one row of the vulnerable-user and best-performer rankings.
type UserPerformance struct {
	UserID       string  `json:"user_id"`
	Name         string  `json:"name,omitempty"`
	Email        string  `json:"email,omitempty"`
	DepartmentID string  `json:"department_id,omitempty"`
	Total        int     `json:"total"`
	Clicked      int     `json:"clicked"`
	Reported     int     `json:"reported"`
	ClickRate    float64 `json:"click_rate"`
	ReportRate   float64 `json:"report_rate"`
	// Score is reported*2 - clicked.
	Score int `json:"score"`
}

// DepartmentStats aggregates simulations per department.
type DepartmentStats struct {
	DepartmentID string  `json:"department_id"`
	Users        int     `json:"users"`
	Total        int     `json:"total"`
	Clicked      int     `json:"clicked"`
	Reported     int     `json:"reported"`
	ClickRate    float64 `json:"click_rate"`
	ReportRate   float64 `json:"report_rate"`
}

// CampaignStats aggregates a campaign. It returns ErrNotFound when the
// campaign has no events.
func (t *Tracker) CampaignStats(ctx context.Context, tenantID, campaignID string) (CampaignStats, error) {
	events, err := t.store.CampaignEvents(ctx, tenantID, campaignID)
	if err != nil {
		return CampaignStats{}, err
	}
	if len(events) == 0 {
		return CampaignStats{}, fmt.Errorf("campaign %s: %w", campaignID, ErrNotFound)
	}

	st := CampaignStats{CampaignID: campaignID, TotalSent: len(events)}
	var clickMinutes, reportMinutes float64
	for _, e := range events {
		if e.Clicked {
			st.Clicked++
			if e.ClickedAt != nil {
				clickMinutes += e.ClickedAt.Sub(e.SentAt).Minutes()
			}
		}
		if e.Reported {
			st.Reported++
			if e.ReportedAt != nil {
				reportMinutes += e.ReportedAt.Sub(e.SentAt).Minutes()
			}
		}
		if e.Opened() {
			st.Opened++
		}
	}
	st.ClickRate = rate(st.Clicked, st.TotalSent)
	st.ReportRate = rate(st.Reported, st.TotalSent)
	st.OpenRate = rate(st.Opened, st.TotalSent)
	if st.Clicked > 0 {
		v := round2(clickMinutes / float64(st.Clicked))
		st.AvgMinutesToClick = &v
	}
	if st.Reported > 0 {
		v := round2(reportMinutes / float64(st.Reported))
		st.AvgMinutesToReport = &v
	}
	return st, nil
}

// UserHistory returns every simulation a user received.
func (t *Tracker) UserHistory(ctx context.Context, tenantID, userID string) (UserHistory, error) {
	events, err := t.store.UserEvents(ctx, tenantID, userID, 0)
	if err != nil {
		return UserHistory{}, err
	}
	sortNewestFirst(events)
	h := UserHistory{UserID: userID, Events: events, Total: len(events)}
	for _, e := range events {
		if e.Clicked {
			h.Clicked++
		}
		if e.Reported {
			h.Reported++
		}
	}
	h.ClickRate = rate(h.Clicked, h.Total)
	h.ReportRate = rate(h.Reported, h.Total)
	if h.Events == nil {
		h.Events = []Event{}
	}
	return h, nil
}

// TenantStats aggregates the tenant's simulations sent within w.
func (t *Tracker) TenantStats(ctx context.Context, tenantID string, w Window) (TenantStats, error) {
	events, err := t.store.TenantEvents(ctx, tenantID, w)
	if err != nil {
		return TenantStats{}, err
	}
	var st TenantStats
	campaigns := make(map[string]struct{})
	for _, e := range events {
		if !w.Contains(e.SentAt) {
			continue
		}
		st.TotalSimulations++
		campaigns[e.CampaignID] = struct{}{}
		if e.Clicked {
			st.Clicked++
		}
		if e.Reported {
			st.Reported++
		}
	}
	st.Campaigns = len(campaigns)
	st.ClickRate = rate(st.Clicked, st.TotalSimulations)
	st.ReportRate = rate(st.Reported, st.TotalSimulations)
	return st, nil
}

// VulnerableUsers ranks users by click rate, highest first.
func (t *Tracker) VulnerableUsers(ctx context.Context, tenantID string, limit int) ([]UserPerformance, error) {
	rows, err := t.performance(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ClickRate != rows[j].ClickRate {
			return rows[i].ClickRate > rows[j].ClickRate
		}
		return rows[i].UserID < rows[j].UserID
	})
	return t.enrich(ctx, tenantID, top(rows, limit))
}

// BestPerformers ranks users by reported*2 - clicked, highest first.
func (t *Tracker) BestPerformers(ctx context.Context, tenantID string, limit int) ([]UserPerformance, error) {
	rows, err := t.performance(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		return rows[i].UserID < rows[j].UserID
	})
	return t.enrich(ctx, tenantID, top(rows, limit))
}

// DepartmentComparison groups the tenant's simulations by the targets'
// departments, ordered by department id.
func (t *Tracker) DepartmentComparison(ctx context.Context, tenantID string) ([]DepartmentStats, error) {
	rows, err := t.performance(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	users, err := t.dir.Users(ctx, tenantID, userIDs(rows))
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}

	byDept := make(map[string]*DepartmentStats)
	for _, r := range rows {
		dept := users[r.UserID].Department()
		d, ok := byDept[dept]
		if !ok {
			d = &DepartmentStats{DepartmentID: dept}
			byDept[dept] = d
		}
		d.Users++
		d.Total += r.Total
		d.Clicked += r.Clicked
		d.Reported += r.Reported
	}

	out := make([]DepartmentStats, 0, len(byDept))
	for _, d := range byDept {
		d.ClickRate = rate(d.Clicked, d.Total)
		d.ReportRate = rate(d.Reported, d.Total)
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DepartmentID < out[j].DepartmentID })
	return out, nil
}

// RecommendDifficulty picks the next template tier from a user's history.
func (t *Tracker) RecommendDifficulty(ctx context.Context, tenantID, userID string) (Difficulty, error) {
	h, err := t.UserHistory(ctx, tenantID, userID)
	if err != nil {
		return "", err
	}
	return difficultyFor(h.ClickRate, h.ReportRate), nil
}

func difficultyFor(clickRate, reportRate float64) Difficulty {
	switch {
	case clickRate < 10 && reportRate > 70:
		return DifficultyExpert
	case clickRate < 20 && reportRate > 50:
		return DifficultyHard
	case clickRate > 50:
		return DifficultyEasy
	default:
		return DifficultyMedium
	}
}

func (t *Tracker) performance(ctx context.Context, tenantID string) ([]UserPerformance, error) {
	events, err := t.store.TenantEvents(ctx, tenantID, Window{})
	if err != nil {
		return nil, err
	}
	byUser := make(map[string]*UserPerformance)
	for _, e := range events {
		p, ok := byUser[e.UserID]
		if !ok {
			p = &UserPerformance{UserID: e.UserID}
			byUser[e.UserID] = p
		}
		p.Total++
		if e.Clicked {
			p.Clicked++
		}
		if e.Reported {
			p.Reported++
		}
	}
	out := make([]UserPerformance, 0, len(byUser))
	for _, p := range byUser {
		p.ClickRate = rate(p.Clicked, p.Total)
		p.ReportRate = rate(p.Reported, p.Total)
		p.Score = p.Reported*2 - p.Clicked
		out = append(out, *p)
	}
	return out, nil
}

func (t *Tracker) enrich(ctx context.Context, tenantID string, rows []UserPerformance) ([]UserPerformance, error) {
	if len(rows) == 0 {
		return rows, nil
	}
	users, err := t.dir.Users(ctx, tenantID, userIDs(rows))
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	for i := range rows {
		if u, ok := users[rows[i].UserID]; ok {
			rows[i].Name = u.Name
			rows[i].Email = u.Email
			rows[i].DepartmentID = u.DepartmentID
		}
	}
	return rows, nil
}

func userIDs(rows []UserPerformance) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.UserID
	}
	return out
}

func top(rows []UserPerformance, limit int) []UserPerformance {
	if limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}

func sortNewestFirst(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].SentAt.Equal(events[j].SentAt) {
			return events[i].SentAt.After(events[j].SentAt)
		}
		return events[i].ID > events[j].ID
	})
}

// rate is n as a percentage of total, 0 when total is 0.
func rate(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(n) * 100 / float64(total))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

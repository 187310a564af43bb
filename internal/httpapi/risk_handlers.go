package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"awarerisk.org/internal/audit"
)

// defaultRiskThreshold selects HIGH and CRITICAL users.
const defaultRiskThreshold = 60

func (a *API) handleCalculateRisk(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}
	userID := chi.URLParam(r, "userID")
	score, err := a.engine.CalculateUserRiskScore(r.Context(), tenant, userID)
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "risk.score.calculated", map[string]any{
		"target_user": userID,
		"overall":     score.Overall,
		"level":       string(score.Level),
	})
	writeJSON(w, http.StatusOK, score)
}

func (a *API) handleRiskHistory(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}
	limit, err := parsePositiveInt("limit", r.URL.Query().Get("limit"), defaultListLimit, 1, maxListLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	history, err := a.engine.History(r.Context(), tenant, chi.URLParam(r, "userID"), limit)
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scores": history})
}

func (a *API) handleBulkRisk(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}
	res, err := a.engine.BulkCalculateRiskScores(r.Context(), tenant)
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "risk.bulk.completed", map[string]any{
		"total":     res.Total,
		"succeeded": res.Succeeded,
		"failed":    len(res.FailedUsers),
	})
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleHighRiskUsers(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	threshold, err := parseScore("threshold", q.Get("threshold"), defaultRiskThreshold)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parsePositiveInt("limit", q.Get("limit"), defaultListLimit, 1, maxListLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	users, err := a.engine.HighRiskUsers(r.Context(), tenant, threshold, limit)
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"threshold": threshold,
		"users":     users,
	})
}

func (a *API) handleRiskStats(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}
	stats, err := a.engine.TenantRiskStats(r.Context(), tenant)
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

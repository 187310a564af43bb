package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"awarerisk.org/internal/audit"
	"awarerisk.org/internal/auth"
	"awarerisk.org/internal/phishing"
)

const (
	defaultListLimit = 10
	maxListLimit     = 1000
)

type campaignRequest struct {
	Name                string     `json:"name"`
	Subject             string     `json:"subject"`
	TemplateID          string     `json:"template_id"`
	Difficulty          string     `json:"difficulty"`
	RedFlags            []string   `json:"red_flags"`
	TargetUserIDs       []string   `json:"target_user_ids"`
	TargetDepartmentIDs []string   `json:"target_department_ids"`
	ScheduledFor        *time.Time `json:"scheduled_for"`
}

type eventRequest struct {
	UserID   string            `json:"user_id"`
	Action   string            `json:"action"`
	Metadata map[string]string `json:"metadata"`
}

func (a *API) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}
	var body campaignRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	difficulty := phishing.DifficultyMedium
	if strings.TrimSpace(body.Difficulty) != "" {
		d, err := phishing.ParseDifficulty(body.Difficulty)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		difficulty = d
	}
	createdBy, _ := auth.UserIDFromContext(r.Context())
	req := phishing.CampaignRequest{
		TenantID:            tenant,
		Name:                body.Name,
		Subject:             body.Subject,
		TemplateID:          body.TemplateID,
		Difficulty:          difficulty,
		RedFlags:            body.RedFlags,
		TargetUserIDs:       body.TargetUserIDs,
		TargetDepartmentIDs: body.TargetDepartmentIDs,
		CreatedBy:           createdBy,
	}
	if body.ScheduledFor != nil {
		req.ScheduledFor = *body.ScheduledFor
	}

	res, err := a.tracker.CreateCampaign(r.Context(), req)
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "phishing.campaign.created", map[string]any{
		"campaign_id":  res.CampaignID,
		"target_count": res.TargetCount,
		"difficulty":   string(difficulty),
	})
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) handleRecordEvent(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}
	var body eventRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	action, err := phishing.ParseAction(body.Action)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	userID := strings.TrimSpace(body.UserID)
	if userID == "" {
		writeError(w, r, http.StatusBadRequest, "user_id is required")
		return
	}

	ev, err := a.tracker.RecordEvent(r.Context(), phishing.RecordRequest{
		TenantID:   tenant,
		UserID:     userID,
		CampaignID: chi.URLParam(r, "campaignID"),
		Action:     action,
		Metadata:   body.Metadata,
	})
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "phishing.event.recorded", map[string]any{
		"campaign_id": ev.CampaignID,
		"target_user": ev.UserID,
		"action":      string(action),
	})
	writeJSON(w, http.StatusOK, ev)
}

func (a *API) handleCampaignStats(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}
	stats, err := a.tracker.CampaignStats(r.Context(), tenant, chi.URLParam(r, "campaignID"))
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleTenantStats(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	from, err := parseTime("from", q.Get("from"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseTime("to", q.Get("to"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		writeError(w, r, http.StatusBadRequest, "to must not precede from")
		return
	}
	stats, err := a.tracker.TenantStats(r.Context(), tenant, phishing.Window{From: from, To: to})
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleVulnerableUsers(w http.ResponseWriter, r *http.Request) {
	a.listPerformers(w, r, a.tracker.VulnerableUsers)
}

func (a *API) handleBestPerformers(w http.ResponseWriter, r *http.Request) {
	a.listPerformers(w, r, a.tracker.BestPerformers)
}

type performerLister func(ctx context.Context, tenantID string, limit int) ([]phishing.UserPerformance, error)

func (a *API) listPerformers(w http.ResponseWriter, r *http.Request, list performerLister) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}
	limit, err := parsePositiveInt("limit", r.URL.Query().Get("limit"), defaultListLimit, 1, maxListLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	users, err := list(r.Context(), tenant, limit)
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	if users == nil {
		users = []phishing.UserPerformance{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleDepartments(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}
	depts, err := a.tracker.DepartmentComparison(r.Context(), tenant)
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	if depts == nil {
		depts = []phishing.DepartmentStats{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"departments": depts})
}

func (a *API) handleUserHistory(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}
	hist, err := a.tracker.UserHistory(r.Context(), tenant, chi.URLParam(r, "userID"))
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

func (a *API) handleRecommendedDifficulty(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}
	userID := chi.URLParam(r, "userID")
	d, err := a.tracker.RecommendDifficulty(r.Context(), tenant, userID)
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":    userID,
		"difficulty": d,
	})
}

// Package phishing runs simulated phishing campaigns and derives
// campaign and population statistics from their outcomes.
package phishing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"awarerisk.org/internal/directory"
	"awarerisk.org/internal/ids"
	"awarerisk.org/internal/notify"
	"awarerisk.org/internal/obs"
)

// Notification topics.
const (
	TopicSimulationStarted = "phishing.simulation.started"
	TopicEventRecorded     = "phishing.event.recorded"
	TopicClicked           = "phishing.clicked"
	TopicReported          = "phishing.reported"
)

// SimulationStarted is published once per created campaign.
type SimulationStarted struct {
	CampaignID   string     `json:"campaign_id"`
	TenantID     string     `json:"tenant_id"`
	TargetCount  int        `json:"target_count"`
	Difficulty   Difficulty `json:"difficulty"`
	CreatedBy    string     `json:"created_by,omitempty"`
	ScheduledFor time.Time  `json:"scheduled_for"`
}

func (s SimulationStarted) NotificationKey() string { return s.TenantID }

// EventRecorded is published for every recorded action.
type EventRecorded struct {
	TenantID   string            `json:"tenant_id"`
	UserID     string            `json:"user_id"`
	CampaignID string            `json:"campaign_id"`
	Action     Action            `json:"action"`
	At         time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (e EventRecorded) NotificationKey() string { return e.TenantID }

// CampaignRequest describes a campaign to launch.
type CampaignRequest struct {
	TenantID            string
	Name                string
	Subject             string
	TemplateID          string
	Difficulty          Difficulty
	RedFlags            []string
	TargetUserIDs       []string
	TargetDepartmentIDs []string
	// ScheduledFor is the send time; zero means now.
	ScheduledFor time.Time
	CreatedBy    string
}

// CampaignResult is returned by CreateCampaign.
type CampaignResult struct {
	CampaignID   string    `json:"campaign_id"`
	TargetCount  int       `json:"target_count"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

// RecordRequest records one target's action on a campaign email.
type RecordRequest struct {
	TenantID   string
	UserID     string
	CampaignID string
	Action     Action
	Metadata   map[string]string
}

// Tracker creates campaigns, records outcomes and reports on them.
type Tracker struct {
	store  Store
	dir    directory.Reader
	pub    notify.Publisher
	now    func() time.Time
	logger *zap.Logger
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithLogger sets the logger used for publish failures.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTracker wires a tracker. A nil publisher drops notifications.
func NewTracker(store Store, dir directory.Reader, pub notify.Publisher, opts ...Option) *Tracker {
	if pub == nil {
		pub = notify.Nop{}
	}
	t := &Tracker{
		store:  store,
		dir:    dir,
		pub:    pub,
		now:    func() time.Time { return time.Now().UTC() },
		logger: obs.Logger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// CreateCampaign resolves the audience, creates one event per target and
// announces the simulation. An empty audience yields a zero-target campaign.
func (t *Tracker) CreateCampaign(ctx context.Context, req CampaignRequest) (CampaignResult, error) {
	req.TenantID = strings.TrimSpace(req.TenantID)
	if req.TenantID == "" {
		return CampaignResult{}, fmt.Errorf("%w: tenant is required", ErrInvalidInput)
	}
	if req.Difficulty == "" {
		req.Difficulty = DifficultyMedium
	} else if _, err := ParseDifficulty(string(req.Difficulty)); err != nil {
		return CampaignResult{}, err
	}

	targets, err := t.resolveTargets(ctx, req)
	if err != nil {
		return CampaignResult{}, err
	}

	now := t.now()
	sendAt := now
	if !req.ScheduledFor.IsZero() {
		sendAt = req.ScheduledFor.UTC()
	}
	campaignID := ids.NewCampaignID(now)

	if len(targets) > 0 {
		events := make([]Event, 0, len(targets))
		for _, userID := range targets {
			events = append(events, Event{
				ID:         ids.New(),
				TenantID:   req.TenantID,
				UserID:     userID,
				CampaignID: campaignID,
				Subject:    req.Subject,
				SentAt:     sendAt,
				Metadata: Metadata{
					Difficulty: req.Difficulty,
					RedFlags:   append([]string(nil), req.RedFlags...),
					TemplateID: req.TemplateID,
				},
			})
		}
		if err := t.store.InsertEvents(ctx, events); err != nil {
			return CampaignResult{}, fmt.Errorf("insert campaign events: %w", err)
		}
	}
	obs.ObserveCampaignTargets(len(targets))

	t.publish(ctx, TopicSimulationStarted, SimulationStarted{
		CampaignID:   campaignID,
		TenantID:     req.TenantID,
		TargetCount:  len(targets),
		Difficulty:   req.Difficulty,
		CreatedBy:    req.CreatedBy,
		ScheduledFor: sendAt,
	})

	return CampaignResult{CampaignID: campaignID, TargetCount: len(targets), ScheduledFor: sendAt}, nil
}

// resolveTargets returns the deduplicated union of explicit users and
// department members, or the whole tenant when neither is given.
func (t *Tracker) resolveTargets(ctx context.Context, req CampaignRequest) ([]string, error) {
	var candidates []string
	switch {
	case len(req.TargetUserIDs) == 0 && len(req.TargetDepartmentIDs) == 0:
		all, err := t.dir.TenantUserIDs(ctx, req.TenantID)
		if err != nil {
			return nil, fmt.Errorf("resolve tenant users: %w", err)
		}
		candidates = all
	default:
		candidates = append(candidates, req.TargetUserIDs...)
		if len(req.TargetDepartmentIDs) > 0 {
			members, err := t.dir.DepartmentUserIDs(ctx, req.TenantID, req.TargetDepartmentIDs)
			if err != nil {
				return nil, fmt.Errorf("resolve department users: %w", err)
			}
			candidates = append(candidates, members...)
		}
	}

	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, id := range candidates {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// RecordEvent applies an action to the event identified by the request.
// Clicks and reports are accepted once per event.
func (t *Tracker) RecordEvent(ctx context.Context, req RecordRequest) (Event, error) {
	action, err := ParseAction(string(req.Action))
	if err != nil {
		return Event{}, err
	}
	key := EventKey{TenantID: req.TenantID, UserID: req.UserID, CampaignID: req.CampaignID}
	if key.TenantID == "" || key.UserID == "" || key.CampaignID == "" {
		return Event{}, fmt.Errorf("%w: tenant, user and campaign are required", ErrInvalidInput)
	}

	current, err := t.store.GetEvent(ctx, key)
	if err != nil {
		return Event{}, err
	}
	at := t.now()
	if at.Before(current.SentAt) {
		at = current.SentAt
	}

	var updated Event
	switch action {
	case ActionClicked:
		if current.Clicked {
			return Event{}, ErrAlreadyClicked
		}
		updated, err = t.store.MarkClicked(ctx, key, at, req.Metadata)
	case ActionReported:
		if current.Reported {
			return Event{}, ErrAlreadyReported
		}
		updated, err = t.store.MarkReported(ctx, key, at, req.Metadata)
	default:
		updated, err = t.store.RecordAction(ctx, key, action, ActionEntry{At: at, Details: cloneStrings(req.Metadata)})
	}
	if err != nil {
		return Event{}, err
	}
	obs.RecordPhishingAction(string(action))

	payload := EventRecorded{
		TenantID:   key.TenantID,
		UserID:     key.UserID,
		CampaignID: key.CampaignID,
		Action:     action,
		At:         at,
		Metadata:   req.Metadata,
	}
	t.publish(ctx, TopicEventRecorded, payload)
	switch action {
	case ActionClicked:
		t.publish(ctx, TopicClicked, payload)
	case ActionReported:
		t.publish(ctx, TopicReported, payload)
	}
	return updated, nil
}

// publish logs failures; the mutation has already been committed.
func (t *Tracker) publish(ctx context.Context, topic string, payload any) {
	if err := t.pub.Publish(ctx, topic, payload); err != nil {
		t.logger.Warn("publish notification failed", zap.String("topic", topic), zap.Error(err))
	}
}

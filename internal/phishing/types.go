package phishing

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")

	ErrAlreadyClicked  = fmt.Errorf("event already clicked: %w", ErrConflict)
	ErrAlreadyReported = fmt.Errorf("event already reported: %w", ErrConflict)
)

// Difficulty is the sophistication tier of a simulated phishing email.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
	DifficultyExpert Difficulty = "EXPERT"
)

// ParseDifficulty accepts a tier name in any case.
func ParseDifficulty(s string) (Difficulty, error) {
	switch d := Difficulty(strings.ToUpper(strings.TrimSpace(s))); d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard, DifficultyExpert:
		return d, nil
	default:
		return "", fmt.Errorf("%w: unknown difficulty %q", ErrInvalidInput, s)
	}
}

// Action is something a target did with a simulated email.
type Action string

const (
	ActionSent     Action = "SENT"
	ActionOpened   Action = "OPENED"
	ActionClicked  Action = "CLICKED"
	ActionReported Action = "REPORTED"
	ActionDeleted  Action = "DELETED"
)

// ParseAction normalises an action name. Unknown names are allowed and stored
// as custom actions.
func ParseAction(s string) (Action, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return "", fmt.Errorf("%w: action is required", ErrInvalidInput)
	}
	return Action(s), nil
}

// Key returns the metadata key an action is stored under.
func (a Action) Key() string {
	return strings.ToLower(string(a))
}

// ActionEntry is a timestamped record of a non-click, non-report action.
type ActionEntry struct {
	At      time.Time         `json:"timestamp"`
	Details map[string]string `json:"details,omitempty"`
}

// Metadata is the typed metadata carried by an event.
type Metadata struct {
	Difficulty Difficulty `json:"difficulty,omitempty"`
	RedFlags   []string   `json:"red_flags,omitempty"`
	TemplateID string     `json:"template_id,omitempty"`

	Opened  *ActionEntry `json:"opened,omitempty"`
	Deleted *ActionEntry `json:"deleted,omitempty"`
	// Actions holds entries for actions without a dedicated field.
	Actions map[string]ActionEntry `json:"actions,omitempty"`
	// Attributes receives caller metadata merged on click and report.
	Attributes map[string]string `json:"attributes,omitempty"`
}

// SetAction records entry under the action's key.
func (m *Metadata) SetAction(a Action, entry ActionEntry) {
	switch a {
	case ActionOpened:
		m.Opened = &entry
	case ActionDeleted:
		m.Deleted = &entry
	default:
		if m.Actions == nil {
			m.Actions = make(map[string]ActionEntry)
		}
		m.Actions[a.Key()] = entry
	}
}

// ActionEntry returns the entry recorded for a, if any.
func (m Metadata) ActionEntry(a Action) (ActionEntry, bool) {
	switch a {
	case ActionOpened:
		if m.Opened != nil {
			return *m.Opened, true
		}
		return ActionEntry{}, false
	case ActionDeleted:
		if m.Deleted != nil {
			return *m.Deleted, true
		}
		return ActionEntry{}, false
	default:
		e, ok := m.Actions[a.Key()]
		return e, ok
	}
}

// MergeAttributes copies attrs over existing attributes.
func (m *Metadata) MergeAttributes(attrs map[string]string) {
	if len(attrs) == 0 {
		return
	}
	if m.Attributes == nil {
		m.Attributes = make(map[string]string, len(attrs))
	}
	for k, v := range attrs {
		m.Attributes[k] = v
	}
}

// Clone returns a deep copy.
func (m Metadata) Clone() Metadata {
	out := m
	if m.RedFlags != nil {
		out.RedFlags = append([]string(nil), m.RedFlags...)
	}
	if m.Opened != nil {
		e := m.Opened.clone()
		out.Opened = &e
	}
	if m.Deleted != nil {
		e := m.Deleted.clone()
		out.Deleted = &e
	}
	if m.Actions != nil {
		out.Actions = make(map[string]ActionEntry, len(m.Actions))
		for k, v := range m.Actions {
			out.Actions[k] = v.clone()
		}
	}
	out.Attributes = cloneStrings(m.Attributes)
	return out
}

func (e ActionEntry) clone() ActionEntry {
	e.Details = cloneStrings(e.Details)
	return e
}

func cloneStrings(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Event is one simulated-phishing delivery to one user within one campaign.
type Event struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	UserID     string     `json:"user_id"`
	CampaignID string     `json:"campaign_id"`
	Subject    string     `json:"subject"`
	SentAt     time.Time  `json:"sent_at"`
	Clicked    bool       `json:"clicked"`
	ClickedAt  *time.Time `json:"clicked_at,omitempty"`
	Reported   bool       `json:"reported"`
	ReportedAt *time.Time `json:"reported_at,omitempty"`
	Metadata   Metadata   `json:"metadata"`
}

// Key identifies the event within its tenant.
func (e Event) Key() EventKey {
	return EventKey{TenantID: e.TenantID, UserID: e.UserID, CampaignID: e.CampaignID}
}

// Opened reports whether an open was recorded.
func (e Event) Opened() bool {
	return e.Metadata.Opened != nil
}

// Clone returns a deep copy.
func (e Event) Clone() Event {
	out := e
	if e.ClickedAt != nil {
		t := *e.ClickedAt
		out.ClickedAt = &t
	}
	if e.ReportedAt != nil {
		t := *e.ReportedAt
		out.ReportedAt = &t
	}
	out.Metadata = e.Metadata.Clone()
	return out
}

// EventKey is the unique (tenant, user, campaign) triple of an event.
type EventKey struct {
	TenantID   string
	UserID     string
	CampaignID string
}

// Window restricts queries to events sent within [From, To]. Zero bounds are open.
type Window struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t lies within the window.
func (w Window) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && t.After(w.To) {
		return false
	}
	return true
}

// Campaign describes a launched simulation.
type Campaign struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id"`
	Name         string     `json:"name"`
	Subject      string     `json:"subject"`
	TemplateID   string     `json:"template_id"`
	Difficulty   Difficulty `json:"difficulty"`
	RedFlags     []string   `json:"red_flags,omitempty"`
	ScheduledFor time.Time  `json:"scheduled_for"`
	CreatedBy    string     `json:"created_by,omitempty"`
	TargetCount  int        `json:"target_count"`
}

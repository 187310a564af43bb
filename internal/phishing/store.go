package phishing

import (
	"context"
	"time"
)

// Store is the persistence contract for phishing events. Implementations must
// make MarkClicked and MarkReported conditional single-row updates so that a
// concurrent duplicate is rejected rather than overwriting the first record.
type Store interface {
	// InsertEvents stores a campaign's events in one batch.
	InsertEvents(ctx context.Context, events []Event) error
	// GetEvent returns the event for key or ErrNotFound.
	GetEvent(ctx context.Context, key EventKey) (Event, error)
	// MarkClicked sets the click flag. It returns ErrAlreadyClicked when the
	// event was clicked before and ErrNotFound when it does not exist.
	MarkClicked(ctx context.Context, key EventKey, at time.Time, attrs map[string]string) (Event, error)
	// MarkReported is the report counterpart of MarkClicked.
	MarkReported(ctx context.Context, key EventKey, at time.Time, attrs map[string]string) (Event, error)
	// RecordAction stores entry under the action key of the event's metadata.
	RecordAction(ctx context.Context, key EventKey, action Action, entry ActionEntry) (Event, error)
	// CampaignEvents returns every event of a campaign.
	CampaignEvents(ctx context.Context, tenantID, campaignID string) ([]Event, error)
	// UserEvents returns a user's events newest first. limit <= 0 means all.
	UserEvents(ctx context.Context, tenantID, userID string, limit int) ([]Event, error)
	// TenantEvents returns the tenant's events sent within w.
	TenantEvents(ctx context.Context, tenantID string, w Window) ([]Event, error)
}

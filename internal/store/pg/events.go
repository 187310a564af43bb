package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"awarerisk.org/internal/phishing"
)

const eventColumns = `id, tenant_id, user_id, campaign_id, subject, sent_at,
	clicked, clicked_at, reported, reported_at, metadata`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (phishing.Event, error) {
	var (
		e          phishing.Event
		clickedAt  sql.NullTime
		reportedAt sql.NullTime
		meta       []byte
	)
	if err := row.Scan(&e.ID, &e.TenantID, &e.UserID, &e.CampaignID, &e.Subject, &e.SentAt,
		&e.Clicked, &clickedAt, &e.Reported, &reportedAt, &meta); err != nil {
		return phishing.Event{}, err
	}
	if clickedAt.Valid {
		t := clickedAt.Time.UTC()
		e.ClickedAt = &t
	}
	if reportedAt.Valid {
		t := reportedAt.Time.UTC()
		e.ReportedAt = &t
	}
	e.SentAt = e.SentAt.UTC()
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return phishing.Event{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return e, nil
}

func (s *Store) InsertEvents(ctx context.Context, events []phishing.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		insert into phishing_events(id, tenant_id, user_id, campaign_id, subject, sent_at, metadata)
		values ($1,$2,$3,$4,$5,$6,$7)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		meta, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.TenantID, e.UserID, e.CampaignID, e.Subject, e.SentAt, meta); err != nil {
			if isUniqueViolation(err) {
				return phishing.ErrConflict
			}
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GetEvent(ctx context.Context, key phishing.EventKey) (phishing.Event, error) {
	e, err := scanEvent(s.db.QueryRowContext(ctx, `
		select `+eventColumns+`
		from phishing_events
		where tenant_id=$1 and user_id=$2 and campaign_id=$3
	`, key.TenantID, key.UserID, key.CampaignID))
	if errors.Is(err, sql.ErrNoRows) {
		return phishing.Event{}, phishing.ErrNotFound
	}
	return e, err
}

func (s *Store) MarkClicked(ctx context.Context, key phishing.EventKey, at time.Time, attrs map[string]string) (phishing.Event, error) {
	return s.markOnce(ctx, key, at, attrs, `
		update phishing_events
		set clicked = true,
			clicked_at = greatest($4::timestamptz, sent_at),
			metadata = jsonb_set(metadata, '{attributes}', coalesce(metadata->'attributes', '{}'::jsonb) || $5::jsonb)
		where tenant_id=$1 and user_id=$2 and campaign_id=$3 and not clicked
		returning `+eventColumns, phishing.ErrAlreadyClicked)
}

func (s *Store) MarkReported(ctx context.Context, key phishing.EventKey, at time.Time, attrs map[string]string) (phishing.Event, error) {
	return s.markOnce(ctx, key, at, attrs, `
		update phishing_events
		set reported = true,
			reported_at = greatest($4::timestamptz, sent_at),
			metadata = jsonb_set(metadata, '{attributes}', coalesce(metadata->'attributes', '{}'::jsonb) || $5::jsonb)
		where tenant_id=$1 and user_id=$2 and campaign_id=$3 and not reported
		returning `+eventColumns, phishing.ErrAlreadyReported)
}

// markOnce runs a conditional update. No row means the event is missing or
// the flag was already set.
func (s *Store) markOnce(ctx context.Context, key phishing.EventKey, at time.Time, attrs map[string]string, query string, already error) (phishing.Event, error) {
	if attrs == nil {
		attrs = map[string]string{}
	}
	attrJSON, err := json.Marshal(attrs)
	if err != nil {
		return phishing.Event{}, fmt.Errorf("marshal attributes: %w", err)
	}
	e, err := scanEvent(s.db.QueryRowContext(ctx, query, key.TenantID, key.UserID, key.CampaignID, at.UTC(), attrJSON))
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return phishing.Event{}, err
	}
	if _, err := s.GetEvent(ctx, key); err != nil {
		return phishing.Event{}, err
	}
	return phishing.Event{}, already
}

func (s *Store) RecordAction(ctx context.Context, key phishing.EventKey, action phishing.Action, entry phishing.ActionEntry) (phishing.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return phishing.Event{}, err
	}
	defer func() { _ = tx.Rollback() }()

	e, err := scanEvent(tx.QueryRowContext(ctx, `
		select `+eventColumns+`
		from phishing_events
		where tenant_id=$1 and user_id=$2 and campaign_id=$3
		for update
	`, key.TenantID, key.UserID, key.CampaignID))
	if errors.Is(err, sql.ErrNoRows) {
		return phishing.Event{}, phishing.ErrNotFound
	}
	if err != nil {
		return phishing.Event{}, err
	}

	if entry.At.Before(e.SentAt) {
		entry.At = e.SentAt
	}
	entry.At = entry.At.UTC()
	e.Metadata.SetAction(action, entry)
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return phishing.Event{}, fmt.Errorf("marshal metadata: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `update phishing_events set metadata=$2 where id=$1`, e.ID, meta); err != nil {
		return phishing.Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return phishing.Event{}, err
	}
	return e, nil
}

func (s *Store) CampaignEvents(ctx context.Context, tenantID, campaignID string) ([]phishing.Event, error) {
	return s.queryEvents(ctx, `
		select `+eventColumns+`
		from phishing_events
		where tenant_id=$1 and campaign_id=$2
		order by sent_at desc, id desc
	`, tenantID, campaignID)
}

func (s *Store) UserEvents(ctx context.Context, tenantID, userID string, limit int) ([]phishing.Event, error) {
	return s.queryEvents(ctx, `
		select `+eventColumns+`
		from phishing_events
		where tenant_id=$1 and user_id=$2
		order by sent_at desc, id desc`+limitClause(limit), tenantID, userID)
}

func (s *Store) TenantEvents(ctx context.Context, tenantID string, w phishing.Window) ([]phishing.Event, error) {
	var from, to sql.NullTime
	if !w.From.IsZero() {
		from = sql.NullTime{Time: w.From.UTC(), Valid: true}
	}
	if !w.To.IsZero() {
		to = sql.NullTime{Time: w.To.UTC(), Valid: true}
	}
	return s.queryEvents(ctx, `
		select `+eventColumns+`
		from phishing_events
		where tenant_id=$1
			and ($2::timestamptz is null or sent_at >= $2)
			and ($3::timestamptz is null or sent_at <= $3)
		order by sent_at desc, id desc
	`, tenantID, from, to)
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]phishing.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []phishing.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

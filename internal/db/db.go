package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"PulseCampaign/internal/models"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, conn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, conn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

// Migrate creates missing tables and adds columns introduced after the
// first release so older installations keep working.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

const campaignColumns = `c.id, c.name, c.subject, c.body, c.status, c.scheduled_at,
	c.batch_size, c.batch_delay, COALESCE(c.sender_email, ''), COALESCE(c.sender_secret, ''), c.created_at`

func scanCampaign(row pgx.Row, extra ...any) (*models.Campaign, error) {
	var c models.Campaign
	dest := []any{
		&c.ID, &c.Name, &c.Subject, &c.Body, &c.Status, &c.ScheduledAt,
		&c.BatchSize, &c.BatchDelay, &c.Sender.Address, &c.Sender.Secret, &c.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

const recipientColumns = `r.id, r.campaign_id, r.email, COALESCE(r.name, ''), r.dob, r.status, r.sent_at`

func scanRecipients(rows pgx.Rows) ([]models.Recipient, error) {
	defer rows.Close()

	var out []models.Recipient
	for rows.Next() {
		var r models.Recipient
		if err := rows.Scan(&r.ID, &r.CampaignID, &r.Email, &r.Name, &r.DOB, &r.Status, &r.SentAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ----------------------------
// Campaigns
// ----------------------------

func (s *Store) CreateCampaign(
	ctx context.Context,
	c *models.Campaign,
	recipients []models.Recipient,
) error {

	c.Normalize()

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO campaigns
		 (name, subject, body, status, scheduled_at, batch_size, batch_delay,
		  sender_email, sender_secret, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())
		 RETURNING id, created_at`,
		c.Name,
		c.Subject,
		c.Body,
		c.Status,
		c.ScheduledAt,
		c.BatchSize,
		c.BatchDelay,
		c.Sender.Address,
		c.Sender.Secret,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}

	for i := range recipients {
		r := &recipients[i]
		r.CampaignID = c.ID
		r.Status = models.RecipientPending

		err := tx.QueryRow(ctx,
			`INSERT INTO recipients (campaign_id, email, name, dob, status)
			 VALUES ($1,$2,NULLIF($3,''),$4,$5)
			 RETURNING id`,
			r.CampaignID,
			r.Email,
			r.Name,
			r.DOB,
			r.Status,
		).Scan(&r.ID)
		if err != nil {
			return fmt.Errorf("insert recipient %s: %w", r.Email, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *Store) GetCampaign(ctx context.Context, id int64) (*models.Campaign, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+campaignColumns+` FROM campaigns c WHERE c.id=$1`, id)
	return scanCampaign(row)
}

const statsColumns = `
	COUNT(r.id),
	COUNT(r.id) FILTER (WHERE r.status='Sent'),
	COUNT(r.id) FILTER (WHERE r.status='Failed'),
	COUNT(r.id) FILTER (WHERE r.status='Pending'),
	COALESCE(SUM(CASE WHEN EXISTS (
		SELECT 1 FROM tracking_events e WHERE e.recipient_id=r.id AND e.type='open') THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN EXISTS (
		SELECT 1 FROM tracking_events e WHERE e.recipient_id=r.id AND e.type='replied') THEN 1 ELSE 0 END), 0)`

func (s *Store) ListCampaigns(ctx context.Context) ([]models.CampaignSummary, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+campaignColumns+`,`+statsColumns+`
		 FROM campaigns c
		 LEFT JOIN recipients r ON r.campaign_id=c.id
		 GROUP BY c.id
		 ORDER BY c.created_at DESC, c.id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CampaignSummary
	for rows.Next() {
		var st models.CampaignStats
		c, err := scanCampaign(rows, &st.Total, &st.Sent, &st.Failed, &st.Pending, &st.Opened, &st.Replied)
		if err != nil {
			return nil, err
		}
		out = append(out, models.CampaignSummary{Campaign: *c, Stats: st})
	}
	return out, rows.Err()
}

func (s *Store) CampaignStats(ctx context.Context, id int64) (models.CampaignStats, error) {
	var st models.CampaignStats
	err := s.Pool.QueryRow(ctx,
		`SELECT `+statsColumns+` FROM recipients r WHERE r.campaign_id=$1`, id,
	).Scan(&st.Total, &st.Sent, &st.Failed, &st.Pending, &st.Opened, &st.Replied)
	return st, err
}

// DeleteCampaign relies on ON DELETE CASCADE for recipients and events.
func (s *Store) DeleteCampaign(ctx context.Context, id int64) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM campaigns WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) UpdateCampaignStatus(
	ctx context.Context,
	id int64,
	status models.CampaignStatus,
) error {

	_, err := s.Pool.Exec(ctx,
		`UPDATE campaigns SET status=$1 WHERE id=$2`,
		status,
		id,
	)

	return err
}

// TransitionCampaignStatus moves a campaign to `to` only if its current
// status is one of `from`. It reports whether the row changed.
func (s *Store) TransitionCampaignStatus(
	ctx context.Context,
	id int64,
	from []models.CampaignStatus,
	to models.CampaignStatus,
) (bool, error) {

	allowed := make([]string, len(from))
	for i, st := range from {
		allowed[i] = string(st)
	}

	tag, err := s.Pool.Exec(ctx,
		`UPDATE campaigns SET status=$1 WHERE id=$2 AND status = ANY($3)`,
		to,
		id,
		allowed,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) DueCampaigns(ctx context.Context, now time.Time) ([]models.Campaign, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+campaignColumns+`
		 FROM campaigns c
		 WHERE c.status=$1 AND c.scheduled_at <= $2
		 ORDER BY c.scheduled_at, c.id`,
		models.CampaignScheduled,
		now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ----------------------------
// Recipients
// ----------------------------

func (s *Store) ListRecipients(ctx context.Context, campaignID int64) ([]models.Recipient, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+recipientColumns+` FROM recipients r WHERE r.campaign_id=$1 ORDER BY r.id`,
		campaignID,
	)
	if err != nil {
		return nil, err
	}
	return scanRecipients(rows)
}

func (s *Store) PendingRecipients(ctx context.Context, campaignID int64) ([]models.Recipient, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+recipientColumns+`
		 FROM recipients r
		 WHERE r.campaign_id=$1 AND r.status=$2
		 ORDER BY r.id`,
		campaignID,
		models.RecipientPending,
	)
	if err != nil {
		return nil, err
	}
	return scanRecipients(rows)
}

func (s *Store) MarkRecipientSent(ctx context.Context, id int64, at time.Time) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE recipients SET status=$1, sent_at=$2 WHERE id=$3`,
		models.RecipientSent,
		at,
		id,
	)
	return err
}

func (s *Store) MarkRecipientFailed(ctx context.Context, id int64) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE recipients SET status=$1 WHERE id=$2`,
		models.RecipientFailed,
		id,
	)
	return err
}

func (s *Store) RecipientsWithDOB(ctx context.Context) ([]models.Recipient, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+recipientColumns+` FROM recipients r WHERE r.dob IS NOT NULL ORDER BY r.id`)
	if err != nil {
		return nil, err
	}
	return scanRecipients(rows)
}

// ----------------------------
// Tracking events
// ----------------------------

func (s *Store) InsertEvent(
	ctx context.Context,
	recipientID int64,
	typ models.EventType,
	at time.Time,
) error {

	_, err := s.Pool.Exec(ctx,
		`INSERT INTO tracking_events (recipient_id, type, timestamp) VALUES ($1,$2,$3)`,
		recipientID,
		typ,
		at,
	)
	return err
}

// RecordEventOnce inserts the event unless the recipient already has one of
// the same type. Unknown recipients are ignored.
func (s *Store) RecordEventOnce(
	ctx context.Context,
	recipientID int64,
	typ models.EventType,
	at time.Time,
) (bool, error) {

	tag, err := s.Pool.Exec(ctx,
		`INSERT INTO tracking_events (recipient_id, type, timestamp)
		 SELECT $1, $2, $3
		 WHERE EXISTS (SELECT 1 FROM recipients WHERE id=$1)
		   AND NOT EXISTS (SELECT 1 FROM tracking_events WHERE recipient_id=$1 AND type=$2)
		 ON CONFLICT DO NOTHING`,
		recipientID,
		typ,
		at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// EventSentToEmail reports whether any recipient row with this email has an
// event of type typ with a timestamp in [from, to).
func (s *Store) EventSentToEmail(
	ctx context.Context,
	email string,
	typ models.EventType,
	from, to time.Time,
) (bool, error) {

	var exists bool
	err := s.Pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM tracking_events e
		   JOIN recipients r ON r.id = e.recipient_id
		   WHERE r.email=$1 AND e.type=$2 AND e.timestamp >= $3 AND e.timestamp < $4)`,
		email,
		typ,
		from,
		to,
	).Scan(&exists)
	return exists, err
}

// ----------------------------
// Reports
// ----------------------------

// ReportRows returns one row per recipient with open and reply counts.
// A zero campaignID selects every campaign.
func (s *Store) ReportRows(ctx context.Context, campaignID int64) ([]models.ReportRow, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT c.id, c.name, c.subject, r.id, r.email, r.status, r.sent_at,
		        COUNT(e.id) FILTER (WHERE e.type='open'),
		        COUNT(e.id) FILTER (WHERE e.type='replied'),
		        c.created_at
		 FROM campaigns c
		 JOIN recipients r ON r.campaign_id=c.id
		 LEFT JOIN tracking_events e ON e.recipient_id=r.id
		 WHERE $1=0 OR c.id=$1
		 GROUP BY c.id, r.id
		 ORDER BY c.id, r.id`,
		campaignID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ReportRow
	for rows.Next() {
		var row models.ReportRow
		if err := rows.Scan(
			&row.CampaignID, &row.CampaignName, &row.Subject, &row.RecipientID, &row.Email, &row.Status,
			&row.SentAt, &row.Opens, &row.Replies, &row.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

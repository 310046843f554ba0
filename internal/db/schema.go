package db

// Applied in order on every start; each statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS campaigns (
		id         BIGSERIAL PRIMARY KEY,
		name       TEXT NOT NULL,
		subject    TEXT NOT NULL,
		body       TEXT NOT NULL,
		status     TEXT NOT NULL DEFAULT 'Draft',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`ALTER TABLE campaigns ADD COLUMN IF NOT EXISTS scheduled_at TIMESTAMPTZ`,
	`ALTER TABLE campaigns ADD COLUMN IF NOT EXISTS sender_email TEXT`,
	`ALTER TABLE campaigns ADD COLUMN IF NOT EXISTS sender_secret TEXT`,
	`ALTER TABLE campaigns ADD COLUMN IF NOT EXISTS batch_size INTEGER NOT NULL DEFAULT 50 CHECK (batch_size >= 1)`,
	`ALTER TABLE campaigns ADD COLUMN IF NOT EXISTS batch_delay INTEGER NOT NULL DEFAULT 5 CHECK (batch_delay >= 0)`,

	`CREATE TABLE IF NOT EXISTS recipients (
		id          BIGSERIAL PRIMARY KEY,
		campaign_id BIGINT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
		email       TEXT NOT NULL,
		status      TEXT NOT NULL DEFAULT 'Pending',
		sent_at     TIMESTAMPTZ
	)`,
	`ALTER TABLE recipients ADD COLUMN IF NOT EXISTS name TEXT`,
	`ALTER TABLE recipients ADD COLUMN IF NOT EXISTS dob DATE`,
	`CREATE INDEX IF NOT EXISTS recipients_campaign_status_idx ON recipients (campaign_id, status)`,
	`CREATE INDEX IF NOT EXISTS recipients_email_idx ON recipients (email)`,

	`CREATE TABLE IF NOT EXISTS tracking_events (
		id           BIGSERIAL PRIMARY KEY,
		recipient_id BIGINT NOT NULL REFERENCES recipients(id) ON DELETE CASCADE,
		type         TEXT NOT NULL,
		timestamp    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS tracking_events_once_idx
		ON tracking_events (recipient_id, type) WHERE type IN ('open', 'replied')`,
	`CREATE INDEX IF NOT EXISTS tracking_events_type_ts_idx ON tracking_events (type, timestamp)`,
}

package storage

import (
	"context"
	"fmt"

	"github.com/md-rashed-zaman/slotbook/libs/db"
)

// schema is applied in order at startup; every statement is idempotent. The exclusion
// constraint on appointments backs the commit-time re-check: two confirmed appointments of
// one staff member can never hold overlapping busy spans.
var schema = []string{
	"CREATE EXTENSION IF NOT EXISTS btree_gist;",
	"CREATE EXTENSION IF NOT EXISTS pgcrypto;",
	`CREATE TABLE IF NOT EXISTS business_profiles (
		business_id    text PRIMARY KEY,
		name           text NOT NULL DEFAULT '',
		timezone       text NOT NULL DEFAULT 'UTC',
		buffer_minutes integer NOT NULL DEFAULT 10 CHECK (buffer_minutes >= 0),
		whatsapp_phone text NOT NULL DEFAULT '',
		updated_at     timestamptz NOT NULL DEFAULT now()
	);`,
	`CREATE TABLE IF NOT EXISTS services (
		id               text PRIMARY KEY,
		business_id      text NOT NULL,
		name             text NOT NULL,
		price            numeric(12,2) NOT NULL DEFAULT 0 CHECK (price >= 0),
		duration_minutes integer NOT NULL CHECK (duration_minutes > 0),
		created_at       timestamptz NOT NULL DEFAULT now()
	);`,
	`CREATE TABLE IF NOT EXISTS staff (
		id          text PRIMARY KEY,
		business_id text NOT NULL,
		name        text NOT NULL,
		phone       text NOT NULL DEFAULT '',
		avatar_url  text NOT NULL DEFAULT '',
		is_active   boolean NOT NULL DEFAULT true,
		created_at  timestamptz NOT NULL DEFAULT now()
	);`,
	`CREATE TABLE IF NOT EXISTS week_schedules (
		business_id text NOT NULL,
		weekday     smallint NOT NULL CHECK (weekday BETWEEN 0 AND 6),
		is_open     boolean NOT NULL DEFAULT false,
		start_time  text NOT NULL DEFAULT '',
		end_time    text NOT NULL DEFAULT '',
		break_start text NOT NULL DEFAULT '',
		break_end   text NOT NULL DEFAULT '',
		PRIMARY KEY (business_id, weekday)
	);`,
	`CREATE TABLE IF NOT EXISTS blocked_intervals (
		id          text PRIMARY KEY,
		business_id text NOT NULL,
		date        date NOT NULL,
		start_time  text NOT NULL,
		end_time    text NOT NULL,
		reason      text NOT NULL DEFAULT '',
		created_at  timestamptz NOT NULL DEFAULT now(),
		CHECK (start_time < end_time)
	);`,
	"CREATE INDEX IF NOT EXISTS blocked_intervals_day ON blocked_intervals (business_id, date);",
	`CREATE TABLE IF NOT EXISTS blocked_phones (
		business_id text NOT NULL,
		phone       text NOT NULL,
		created_at  timestamptz NOT NULL DEFAULT now(),
		PRIMARY KEY (business_id, phone)
	);`,
	`CREATE TABLE IF NOT EXISTS appointments (
		id           uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		business_id  text NOT NULL,
		client_name  text NOT NULL,
		client_phone text NOT NULL,
		service_id   text NOT NULL,
		staff_id     text NOT NULL DEFAULT '',
		date         date NOT NULL,
		start_at     timestamp NOT NULL,
		end_at       timestamp NOT NULL,
		busy_until   timestamp NOT NULL,
		status       text NOT NULL CHECK (status IN ('confirmed', 'cancelled', 'completed')),
		cancelled_at timestamptz,
		completed_at timestamptz,
		created_at   timestamptz NOT NULL DEFAULT now(),
		CHECK (start_at < end_at AND end_at <= busy_until),
		CONSTRAINT appointments_no_overlap EXCLUDE USING gist (
			business_id WITH =,
			staff_id WITH =,
			tsrange(start_at, busy_until, '[)') WITH &&
		) WHERE (status = 'confirmed' AND staff_id NOT IN ('', 'generic'))
	);`,
	"CREATE INDEX IF NOT EXISTS appointments_day ON appointments (business_id, date) WHERE status = 'confirmed';",
	"CREATE INDEX IF NOT EXISTS appointments_phone ON appointments (business_id, client_phone, start_at);",
	`CREATE TABLE IF NOT EXISTS appointment_cancellations (
		id             bigserial PRIMARY KEY,
		business_id    text NOT NULL,
		appointment_id uuid NOT NULL REFERENCES appointments (id),
		client_phone   text NOT NULL,
		cancelled_at   timestamptz NOT NULL
	);`,
	"CREATE INDEX IF NOT EXISTS appointment_cancellations_phone ON appointment_cancellations (business_id, client_phone, cancelled_at);",
	`CREATE TABLE IF NOT EXISTS booking_idempotency_keys (
		business_id     text NOT NULL,
		idempotency_key text NOT NULL,
		appointment_id  uuid NOT NULL REFERENCES appointments (id),
		created_at      timestamptz NOT NULL DEFAULT now(),
		PRIMARY KEY (business_id, idempotency_key)
	);`,
	`CREATE TABLE IF NOT EXISTS waiting_list (
		id           text PRIMARY KEY,
		business_id  text NOT NULL,
		client_name  text NOT NULL,
		client_phone text NOT NULL,
		date         date NOT NULL,
		service_id   text NOT NULL,
		created_at   timestamptz NOT NULL DEFAULT now()
	);`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		id             bigserial PRIMARY KEY,
		event_id       uuid NOT NULL DEFAULT gen_random_uuid(),
		business_id    text NOT NULL,
		aggregate_type text NOT NULL,
		aggregate_id   text NOT NULL,
		event_type     text NOT NULL,
		payload        jsonb NOT NULL,
		traceparent    text NOT NULL DEFAULT '',
		tracestate     text NOT NULL DEFAULT '',
		created_at     timestamptz NOT NULL DEFAULT now(),
		published_at   timestamptz
	);`,
	"CREATE INDEX IF NOT EXISTS outbox_events_unpublished ON outbox_events (id) WHERE published_at IS NULL;",
}

func Migrate(ctx context.Context, pool *db.Pool) error {
	for _, ddl := range schema {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

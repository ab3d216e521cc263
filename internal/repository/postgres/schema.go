package postgres

import (
	"context"
	"database/sql"
)

// Schema creates every table the store uses. Statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS people (
	id           TEXT PRIMARY KEY,
	first_name   TEXT NOT NULL DEFAULT '',
	last_name    TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	grade        TEXT NOT NULL DEFAULT '',
	parent_email TEXT NOT NULL DEFAULT '',
	active       BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS devices (
	id               SERIAL PRIMARY KEY,
	asset_tag        TEXT NOT NULL UNIQUE,
	serial_number    TEXT NOT NULL DEFAULT '',
	model            TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'available',
	current_holder   TEXT REFERENCES people(id),
	insurance_status TEXT NOT NULL DEFAULT 'uninsured',
	in_service       BOOLEAN NOT NULL DEFAULT FALSE,
	updated_on       TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT devices_holder_matches_status
		CHECK ((status IN ('checked_out', 'pending_signature')) = (current_holder IS NOT NULL))
);

CREATE TABLE IF NOT EXISTS checkout_records (
	id                SERIAL PRIMARY KEY,
	device_id         INTEGER NOT NULL REFERENCES devices(id),
	person_id         TEXT NOT NULL REFERENCES people(id),
	session_id        TEXT NOT NULL UNIQUE,
	student_signature TEXT NOT NULL,
	parent_signature  TEXT,
	parent_present    BOOLEAN NOT NULL DEFAULT FALSE,
	insurance_elected BOOLEAN NOT NULL DEFAULT FALSE,
	insurance_status  TEXT NOT NULL DEFAULT 'uninsured',
	status            TEXT NOT NULL DEFAULT 'pending',
	notes             TEXT NOT NULL DEFAULT '',
	created_by        INTEGER NOT NULL,
	created_on        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS maintenance_records (
	id           SERIAL PRIMARY KEY,
	device_id    INTEGER NOT NULL REFERENCES devices(id),
	person_id    TEXT NOT NULL,
	session_id   TEXT NOT NULL DEFAULT '',
	condition    TEXT NOT NULL,
	service_only BOOLEAN NOT NULL DEFAULT FALSE,
	issue        TEXT NOT NULL DEFAULT '',
	parts        TEXT[] NOT NULL DEFAULT '{}',
	photo_urls   TEXT[] NOT NULL DEFAULT '{}',
	status       TEXT NOT NULL DEFAULT 'open',
	notes        TEXT NOT NULL DEFAULT '',
	created_by   INTEGER NOT NULL,
	created_on   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_by INTEGER,
	completed_on TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS maintenance_records_session_key
	ON maintenance_records (session_id) WHERE session_id <> '';

CREATE TABLE IF NOT EXISTS fees (
	id              SERIAL PRIMARY KEY,
	person_id       TEXT NOT NULL REFERENCES people(id),
	amount_cents    INTEGER NOT NULL CHECK (amount_cents >= 0),
	balance_cents   INTEGER NOT NULL CHECK (balance_cents >= 0),
	description     TEXT NOT NULL,
	maintenance_id  INTEGER REFERENCES maintenance_records(id),
	checkout_id     INTEGER REFERENCES checkout_records(id),
	idempotency_key TEXT UNIQUE,
	superseded_by   INTEGER REFERENCES fees(id),
	created_by      INTEGER NOT NULL,
	created_on      TIMESTAMPTZ NOT NULL DEFAULT now(),
	CHECK (balance_cents <= amount_cents)
);
CREATE UNIQUE INDEX IF NOT EXISTS fees_one_active_insurance_key
	ON fees (person_id)
	WHERE description = 'Device Insurance Fee' AND superseded_by IS NULL AND amount_cents > 0;

CREATE TABLE IF NOT EXISTS payments (
	id                 SERIAL PRIMARY KEY,
	fee_id             INTEGER REFERENCES fees(id),
	person_id          TEXT NOT NULL,
	amount_cents       INTEGER NOT NULL CHECK (amount_cents > 0),
	method             TEXT NOT NULL DEFAULT '',
	notes              TEXT NOT NULL DEFAULT '',
	transaction_id     TEXT NOT NULL,
	archived           BOOLEAN NOT NULL DEFAULT FALSE,
	archived_on        TIMESTAMPTZ,
	archive_reason     TEXT NOT NULL DEFAULT '',
	original_fee_id    INTEGER REFERENCES fees(id),
	original_asset_tag TEXT NOT NULL DEFAULT '',
	fee_description    TEXT NOT NULL DEFAULT '',
	applied_fee_id     INTEGER REFERENCES fees(id),
	applied_on         TIMESTAMPTZ,
	idempotency_key    TEXT UNIQUE,
	processed_by       INTEGER NOT NULL,
	created_on         TIMESTAMPTZ NOT NULL DEFAULT now(),
	CHECK (archived OR fee_id IS NOT NULL)
);
CREATE UNIQUE INDEX IF NOT EXISTS payments_active_transaction_id_key
	ON payments (transaction_id) WHERE NOT archived;

CREATE TABLE IF NOT EXISTS sessions (
	id                     TEXT PRIMARY KEY,
	kind                   TEXT NOT NULL,
	person_id              TEXT NOT NULL,
	device_id              INTEGER NOT NULL,
	request                JSONB NOT NULL,
	steps                  JSONB NOT NULL,
	overall_status         TEXT NOT NULL,
	abandoned              BOOLEAN NOT NULL DEFAULT FALSE,
	checkout_record_id     INTEGER,
	payment_transaction_id TEXT,
	insurance_fee_id       INTEGER,
	maintenance_record_id  INTEGER,
	damage_fee_id          INTEGER,
	credits_archived       INTEGER NOT NULL DEFAULT 0,
	created_by             INTEGER NOT NULL,
	created_on             TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_on             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS session_step_events (
	id         BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	step       TEXT NOT NULL,
	status     TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	error_kind TEXT NOT NULL DEFAULT '',
	warning    TEXT NOT NULL DEFAULT '',
	override   TEXT NOT NULL DEFAULT '',
	actor      INTEGER NOT NULL,
	created_on TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, Schema)
	return err
}

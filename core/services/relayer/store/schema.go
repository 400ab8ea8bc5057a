package store

// schema is executed once at startup to create the relayer's tables if
// they do not already exist. Kept inline rather than behind a migration
// tool since the pack carries no migration runner for this shape of
// schema (pressly/goose et al. were not wired in — see DESIGN.md).
const schema = `
CREATE TABLE IF NOT EXISTS signed_transfers (
	id               BIGSERIAL PRIMARY KEY,
	nonce            TEXT NOT NULL,
	from_address     TEXT NOT NULL,
	to_address       TEXT NOT NULL,
	amount           TEXT NOT NULL,
	deadline         BIGINT NOT NULL,
	signature        BYTEA NOT NULL,
	contract_address TEXT NOT NULL,
	token_address    TEXT,

	status           TEXT NOT NULL,
	tx_hash          TEXT,
	block_number     BIGINT,
	retry_count      INT NOT NULL DEFAULT 0,
	error_message    TEXT,

	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	validated_at     TIMESTAMPTZ,
	submitted_at     TIMESTAMPTZ,
	confirmed_at     TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS signed_transfers_nonce_key ON signed_transfers (nonce);
CREATE INDEX IF NOT EXISTS signed_transfers_status_created_at_idx ON signed_transfers (status, created_at);
CREATE INDEX IF NOT EXISTS signed_transfers_from_to_idx ON signed_transfers (from_address, to_address);

CREATE TABLE IF NOT EXISTS transfer_events (
	id          BIGSERIAL PRIMARY KEY,
	transfer_id BIGINT NOT NULL REFERENCES signed_transfers(id),
	status      TEXT NOT NULL,
	message     TEXT NOT NULL,
	metadata    JSONB,
	timestamp   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS transfer_events_transfer_id_idx ON transfer_events (transfer_id, timestamp);
`

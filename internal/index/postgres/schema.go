package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS custody_records (
	chain TEXT NOT NULL,
	network TEXT NOT NULL,
	record_key TEXT NOT NULL,

	depositor BYTEA NOT NULL,
	receiver BYTEA NOT NULL,
	asset BYTEA NOT NULL,
	amount BIGINT NOT NULL,
	last_proof_at BIGINT NOT NULL,
	timeout_seconds BIGINT NOT NULL,
	bump SMALLINT NOT NULL,
	is_closed BOOLEAN NOT NULL,
	seed BYTEA NOT NULL,

	seen_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	PRIMARY KEY (chain, network, record_key),

	CONSTRAINT depositor_len CHECK (octet_length(depositor) = 32),
	CONSTRAINT receiver_len CHECK (octet_length(receiver) = 32),
	CONSTRAINT asset_len CHECK (octet_length(asset) = 32),
	CONSTRAINT amount_nonneg CHECK (amount >= 0),
	CONSTRAINT timeout_nonneg CHECK (timeout_seconds >= 0),
	CONSTRAINT bump_range CHECK (bump >= 0 AND bump <= 255),
	CONSTRAINT seed_len CHECK (octet_length(seed) <= 32)
);

CREATE INDEX IF NOT EXISTS custody_records_depositor_idx
	ON custody_records (chain, network, depositor);
CREATE INDEX IF NOT EXISTS custody_records_open_idx
	ON custody_records (chain, network) WHERE NOT is_closed;
`

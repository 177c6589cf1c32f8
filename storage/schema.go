package storage

const schema = `
CREATE TABLE IF NOT EXISTS blocks (
	height INTEGER PRIMARY KEY,
	hash   BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	height   INTEGER NOT NULL REFERENCES blocks(height) ON DELETE CASCADE,
	tx_index INTEGER NOT NULL,
	txid     BLOB NOT NULL,
	UNIQUE(height, tx_index),
	UNIQUE(txid)
);

CREATE TABLE IF NOT EXISTS contracts (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	name     TEXT NOT NULL,
	height   INTEGER NOT NULL,
	tx_index INTEGER NOT NULL,
	bytes    BLOB NOT NULL,
	UNIQUE(name, height, tx_index)
);

CREATE TABLE IF NOT EXISTS contract_state (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	contract_id INTEGER NOT NULL,
	tx_id       INTEGER NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
	height      INTEGER NOT NULL,
	path        TEXT NOT NULL,
	value       BLOB,
	deleted     INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_contract_state_lookup
	ON contract_state(contract_id, path, id DESC);

CREATE TABLE IF NOT EXISTS file_metadata (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	file_id         TEXT NOT NULL UNIQUE,
	root            BLOB NOT NULL,
	padded_len      INTEGER NOT NULL,
	original_size   INTEGER NOT NULL,
	filename        TEXT NOT NULL,
	height          INTEGER NOT NULL REFERENCES blocks(height) ON DELETE CASCADE,
	historical_root BLOB
);
`

package ledger

const schema = `
CREATE TABLE IF NOT EXISTS audit (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	time DATETIME NOT NULL,
	fingerprint TEXT NOT NULL,
	cycle_id TEXT NOT NULL,
	symbol TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT '',
	side TEXT NOT NULL DEFAULT '',
	size REAL NOT NULL DEFAULT 0,
	price REAL NOT NULL DEFAULT 0,
	exchange_id TEXT NOT NULL DEFAULT '',
	outcome TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_audit_fingerprint ON audit(fingerprint);
CREATE INDEX IF NOT EXISTS idx_audit_time ON audit(time);
`

package ledger

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteLedger stores audit entries in a SQLite table. INSERT-only:
// the audit trail is never updated in place.
type SQLiteLedger struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteLedger{db: db}, nil
}

func (l *SQLiteLedger) Append(e Entry) error {
	_, err := l.db.Exec(`
		INSERT INTO audit
		(kind, time, fingerprint, cycle_id, symbol, role, side, size, price, exchange_id, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.Kind), e.Time, e.Fingerprint, e.CycleID, e.Symbol,
		e.Role, e.Side, e.Size, e.Price, e.ExchangeID, e.Outcome,
	)
	return err
}

func (l *SQLiteLedger) ReadAll() ([]Entry, error) {
	rows, err := l.db.Query(`
		SELECT kind, time, fingerprint, cycle_id, symbol, role, side, size, price, exchange_id, outcome
		FROM audit ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var kind string
		if err := rows.Scan(&kind, &e.Time, &e.Fingerprint, &e.CycleID, &e.Symbol,
			&e.Role, &e.Side, &e.Size, &e.Price, &e.ExchangeID, &e.Outcome); err != nil {
			return nil, err
		}
		e.Kind = EntryKind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

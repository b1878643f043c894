package ledger

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"
)

var csvHeader = []string{
	"kind", "time", "fingerprint", "cycle_id", "symbol",
	"role", "side", "size", "price", "exchange_id", "outcome",
}

// CSVLedger appends entries to a line-oriented CSV file. The file is
// opened in append mode so restarts extend the same audit trail.
type CSVLedger struct {
	w *csv.Writer
	f *os.File
}

func NewCSV(path string) (*CSVLedger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(csvHeader); err != nil {
			f.Close()
			return nil, err
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, err
		}
	}

	return &CSVLedger{w: w, f: f}, nil
}

func (l *CSVLedger) Append(e Entry) error {
	l.w.Write([]string{
		string(e.Kind),
		e.Time.Format(time.RFC3339Nano),
		e.Fingerprint,
		e.CycleID,
		e.Symbol,
		e.Role,
		e.Side,
		f(e.Size),
		f(e.Price),
		e.ExchangeID,
		e.Outcome,
	})
	l.w.Flush()
	return l.w.Error()
}

func (l *CSVLedger) Close() error {
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}

// ReadAll parses the whole file back, for the offline audit.
func (l *CSVLedger) ReadAll() ([]Entry, error) {
	return ReadCSV(l.f.Name())
}

// ReadCSV loads a ledger CSV from path.
func ReadCSV(path string) ([]Entry, error) {
	data, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer data.Close()

	r := csv.NewReader(data)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("ledger: parse %s: %w", path, err)
	}

	var entries []Entry
	for i, row := range rows {
		if i == 0 && len(row) > 0 && row[0] == "kind" {
			continue // header
		}
		if len(row) != len(csvHeader) {
			return nil, fmt.Errorf("ledger: %s row %d: want %d fields, got %d", path, i+1, len(csvHeader), len(row))
		}
		ts, err := time.Parse(time.RFC3339Nano, row[1])
		if err != nil {
			return nil, fmt.Errorf("ledger: %s row %d: bad time: %w", path, i+1, err)
		}
		size, _ := strconv.ParseFloat(row[7], 64)
		price, _ := strconv.ParseFloat(row[8], 64)
		entries = append(entries, Entry{
			Kind:        EntryKind(row[0]),
			Time:        ts,
			Fingerprint: row[2],
			CycleID:     row[3],
			Symbol:      row[4],
			Role:        row[5],
			Side:        row[6],
			Size:        size,
			Price:       price,
			ExchangeID:  row[9],
			Outcome:     row[10],
		})
	}
	return entries, nil
}

func f(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

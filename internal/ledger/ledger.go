// Package ledger holds the attendance ledger model, its CSV wire format,
// and the merge engine that appends scans with duplicate rejection.
package ledger

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"

	"checkin/internal/payload"
)

// Canonical column names. Column order in a stored ledger is preserved as
// found; these are used when creating a fresh ledger and when reconciling
// a record against a ledger missing optional columns.
const (
	ColName      = "Name"
	ColIDType    = "ID Type"
	ColIDNumber  = "ID Number"
	ColPassType  = "Pass Type"
	ColEmail     = "Email"
	ColPhone     = "Phone"
	ColTimestamp = "Timestamp"
)

// BaseColumns is the minimal schema.
func BaseColumns() []string {
	return []string{ColName, ColIDType, ColIDNumber, ColPassType, ColTimestamp}
}

// ContactColumns is the schema variant carrying attendee contact info.
func ContactColumns() []string {
	return []string{ColName, ColIDType, ColIDNumber, ColPassType, ColEmail, ColPhone, ColTimestamp}
}

// Row is an accepted check-in as stored in the ledger.
type Row struct {
	payload.Record
	Timestamp string
}

// Key is the duplicate key: at most one ledger row may carry any given
// (name, id number, pass type) tuple. Comparison is exact string equality,
// case-sensitive.
type Key struct {
	Name     string
	IDNumber string
	PassType string
}

// KeyOf derives the duplicate key for a record.
func KeyOf(rec payload.Record) Key {
	return Key{Name: rec.Name, IDNumber: rec.IDNumber, PassType: rec.PassType}
}

// Ledger is an ordered sequence of raw rows under a header. Cells are kept
// as read so that rows the current schema does not understand survive a
// read-modify-write cycle byte for byte.
type Ledger struct {
	Columns []string
	Rows    [][]string
}

// New creates an empty ledger with the given header.
func New(columns []string) *Ledger {
	return &Ledger{Columns: append([]string(nil), columns...)}
}

// colIndex returns the position of a column, or -1.
func (l *Ledger) colIndex(name string) int {
	for i, c := range l.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

func (l *Ledger) cell(row []string, col string) string {
	i := l.colIndex(col)
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// Contains reports whether any existing row carries the duplicate key.
// Linear scan; fine at event scale.
func (l *Ledger) Contains(key Key) bool {
	for _, row := range l.Rows {
		k := Key{
			Name:     l.cell(row, ColName),
			IDNumber: l.cell(row, ColIDNumber),
			PassType: l.cell(row, ColPassType),
		}
		if k == key {
			return true
		}
	}
	return false
}

// Append adds a stamped row, reconciling schema first: any column the row
// needs that the ledger lacks is added at the end of the header, and all
// existing rows are backfilled with empty cells. Existing rows are never
// rewritten beyond that padding.
func (l *Ledger) Append(row Row) {
	needed := []string{ColName, ColIDType, ColIDNumber, ColPassType}
	if row.Email != "" {
		needed = append(needed, ColEmail)
	}
	if row.Phone != "" {
		needed = append(needed, ColPhone)
	}
	needed = append(needed, ColTimestamp)
	for _, col := range needed {
		if l.colIndex(col) < 0 {
			l.Columns = append(l.Columns, col)
		}
	}

	cells := make([]string, len(l.Columns))
	for i, col := range l.Columns {
		switch col {
		case ColName:
			cells[i] = row.Name
		case ColIDType:
			cells[i] = row.IDType
		case ColIDNumber:
			cells[i] = row.IDNumber
		case ColPassType:
			cells[i] = row.PassType
		case ColEmail:
			cells[i] = row.Email
		case ColPhone:
			cells[i] = row.Phone
		case ColTimestamp:
			cells[i] = row.Timestamp
		}
	}
	l.Rows = append(l.Rows, cells)
}

// Len returns the number of data rows.
func (l *Ledger) Len() int { return len(l.Rows) }

// DecodeCSV reads a ledger from its CSV wire format. The first record is
// the header. Short rows are padded with empty cells rather than rejected;
// only the append path validates content.
func DecodeCSV(data []byte) (*Ledger, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("ledger csv: missing header")
	}
	if err != nil {
		return nil, fmt.Errorf("ledger csv: %w", err)
	}

	l := New(header)
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ledger csv: %w", err)
		}
		for len(rec) < len(l.Columns) {
			rec = append(rec, "")
		}
		l.Rows = append(l.Rows, rec)
	}
	return l, nil
}

// EncodeCSV writes the ledger in its CSV wire format: header row, then one
// row per check-in, UTF-8, no index column.
func (l *Ledger) EncodeCSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(l.Columns); err != nil {
		return nil, err
	}
	for _, row := range l.Rows {
		// Pad ragged rows so every record matches the header width.
		for len(row) < len(l.Columns) {
			row = append(row, "")
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

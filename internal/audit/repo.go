// Package audit records every scan submission outcome in Postgres. The
// ledger in the remote store holds only accepted check-ins; the audit
// trail is what ops looks at when a desk reports rejected badges.
package audit

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Attempt is one submission, whatever its outcome.
type Attempt struct {
	ID       string    `json:"id"`
	DeviceID string    `json:"device_id"`
	Outcome  string    `json:"outcome"`
	Reason   string    `json:"reason"`
	Name     string    `json:"name,omitempty"`
	IDNumber string    `json:"id_number,omitempty"`
	PassType string    `json:"pass_type,omitempty"`
	At       time.Time `json:"at"`
}

// Repository persists attempts.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Record inserts an attempt row.
func (r *Repository) Record(ctx context.Context, a Attempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scan_attempts (id, device_id, outcome, reason, name, id_number, pass_type, at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, a.ID, a.DeviceID, a.Outcome, a.Reason, a.Name, a.IDNumber, a.PassType, a.At)
	return err
}

// UpsertDevice ensures an operator device record exists.
func (r *Repository) UpsertDevice(ctx context.Context, deviceID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (device_id)
		VALUES ($1)
		ON CONFLICT (device_id) DO NOTHING
	`, deviceID)
	return err
}

// ListAttempts returns recent attempts, newest first, with basic filters.
func (r *Repository) ListAttempts(ctx context.Context, deviceID, outcome string, limit, offset int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT id, device_id, outcome, reason, name, id_number, pass_type, at FROM scan_attempts`
	args := []any{}
	clauses := []string{}
	if deviceID != "" {
		args = append(args, deviceID)
		clauses = append(clauses, "device_id = $"+itoa(len(args)))
	}
	if outcome != "" {
		args = append(args, outcome)
		clauses = append(clauses, "outcome = $"+itoa(len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + joinClauses(clauses, " AND ")
	}
	query += " ORDER BY at DESC LIMIT $" + itoa(len(args)+1) + " OFFSET $" + itoa(len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.ID, &a.DeviceID, &a.Outcome, &a.Reason, &a.Name, &a.IDNumber, &a.PassType, &a.At); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func itoa(i int) string { return strconv.Itoa(i) }

func joinClauses(parts []string, sep string) string {
	if len(parts) == 0 {
		return ""
	}
	out := parts[0]
	for i := 1; i < len(parts); i++ {
		out += sep + parts[i]
	}
	return out
}

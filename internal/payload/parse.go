// Package payload turns decoded QR text into attendee records.
//
// Two shapes occur in the wild, depending on which badge printer produced
// the code:
//
//	labeled:    Name: Asha Rao ID Type: Passport ID Number: P1234567 Pass Type: 28 Oct 24
//	positional: Asha Rao,Passport,P1234567,28 Oct 24[,asha@example.com,+6591234567]
//
// Parse always tries the labeled shape first; the positional fallback is
// only consulted when Options.AllowPositional is set.
package payload

import (
	"errors"
	"regexp"
	"strings"
)

// Record is a parsed attendee record before it is stamped and appended.
type Record struct {
	Name     string
	IDType   string
	IDNumber string
	PassType string
	Email    string
	Phone    string
}

// ErrMalformed is returned for any payload that does not parse cleanly.
// Partial matches (some labels present, some missing) are malformed, never
// accepted with empty fields.
var ErrMalformed = errors.New("invalid format")

// Options controls parsing behavior.
type Options struct {
	// AllowPositional enables the comma-separated fallback when the
	// labeled shape does not match.
	AllowPositional bool
}

// Labels are fixed and case-sensitive. Values may contain internal
// whitespace but never the next label token, so a lazy match up to the
// following label is unambiguous.
var labeledRe = regexp.MustCompile(`^Name:\s*(.+?)\s+ID Type:\s*(.+?)\s+ID Number:\s*(.+?)\s+Pass Type:\s*(.+?)\s*$`)

// Parse extracts a Record from raw decoded QR text.
func Parse(raw string, opts Options) (Record, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Record{}, ErrMalformed
	}

	if m := labeledRe.FindStringSubmatch(raw); m != nil {
		rec := Record{
			Name:     strings.TrimSpace(m[1]),
			IDType:   strings.TrimSpace(m[2]),
			IDNumber: strings.TrimSpace(m[3]),
			PassType: strings.TrimSpace(m[4]),
		}
		if err := rec.validate(); err != nil {
			return Record{}, err
		}
		return rec, nil
	}

	// A payload that contains any of the labels but failed the full match
	// is a partial labeled payload. Rejecting it here keeps the positional
	// fallback from mis-splitting label text on stray commas.
	if containsLabel(raw) {
		return Record{}, ErrMalformed
	}

	if !opts.AllowPositional {
		return Record{}, ErrMalformed
	}
	return parsePositional(raw)
}

func containsLabel(raw string) bool {
	for _, label := range []string{"Name:", "ID Type:", "ID Number:", "Pass Type:"} {
		if strings.Contains(raw, label) {
			return true
		}
	}
	return false
}

// parsePositional handles the comma-separated shape: exactly four fields,
// or six when the badge carried contact info.
func parsePositional(raw string) (Record, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 && len(parts) != 6 {
		return Record{}, ErrMalformed
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	rec := Record{
		Name:     parts[0],
		IDType:   parts[1],
		IDNumber: parts[2],
		PassType: parts[3],
	}
	if len(parts) == 6 {
		rec.Email = parts[4]
		rec.Phone = parts[5]
	}
	if err := rec.validate(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// validate enforces the well-formedness invariant: the four required
// fields must be non-empty after trimming. Email and phone stay optional.
func (r Record) validate() error {
	if r.Name == "" || r.IDType == "" || r.IDNumber == "" || r.PassType == "" {
		return ErrMalformed
	}
	return nil
}

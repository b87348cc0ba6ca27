package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"checkin/internal/payload"
)

// Store errors. The adapter must keep "ledger does not exist yet" distinct
// from transport failures: the former is an expected first-run state.
var (
	ErrNotFound = errors.New("ledger not found")
	ErrConflict = errors.New("ledger version conflict")
)

// Store is the versioned blob store holding the ledger. Fetch returns the
// current ledger and an opaque version token; Commit applies only when the
// remote state still matches base, otherwise it returns ErrConflict. An
// empty base means "create new".
type Store interface {
	Fetch(ctx context.Context) (*Ledger, string, error)
	Commit(ctx context.Context, l *Ledger, base string) (string, error)
}

// Outcome kinds for a submission. Duplicate and malformed rejections are
// valid terminal outcomes, not errors.
type OutcomeKind int

const (
	Accepted OutcomeKind = iota
	RejectedDuplicate
	RejectedMalformed
	Failed
)

// Outcome is the result of submitting one scan.
type Outcome struct {
	Kind    OutcomeKind
	Row     Row    // set when Kind == Accepted
	Message string // human-readable, always set
	Err     error  // set when Kind == Failed
}

func (k OutcomeKind) String() string {
	switch k {
	case Accepted:
		return "accepted"
	case RejectedDuplicate:
		return "duplicate"
	case RejectedMalformed:
		return "malformed"
	default:
		return "failed"
	}
}

// Options configures the merge engine.
type Options struct {
	// Schema is the header for a ledger created on first write.
	Schema []string
	// AllowPositional is passed through to the payload parser.
	AllowPositional bool
	// MaxAttempts bounds the fetch/commit loop under conflicts.
	MaxAttempts int
	// Now supplies timestamps; defaults to time.Now.
	Now func() time.Time
	// Conditional records whether the store honors the base token. When
	// false the engine still retries on reported conflicts but commits are
	// effectively last-write-wins, a known and accepted race.
	Conditional bool
	// OnConflict, when set, is called once per refused commit.
	OnConflict func()
}

// Engine merges scanned records into the shared ledger.
type Engine struct {
	store Store
	opts  Options
}

// NewEngine creates a merge engine over a store.
func NewEngine(store Store, opts Options) *Engine {
	if len(opts.Schema) == 0 {
		opts.Schema = BaseColumns()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if !opts.Conditional {
		log.Printf("ledger store lacks conditional writes; concurrent commits are last-write-wins")
	}
	return &Engine{store: store, opts: opts}
}

// Timestamps use the server clock, never attendee-supplied data.
const timestampLayout = "2006-01-02 15:04:05"

// Submit parses raw decoded QR text and appends it to the ledger unless
// the duplicate key already exists. On a version conflict it refetches,
// rechecks the duplicate key (another desk may have just scanned the same
// badge) and recommits, up to MaxAttempts.
func (e *Engine) Submit(ctx context.Context, raw string) Outcome {
	rec, err := payload.Parse(raw, payload.Options{AllowPositional: e.opts.AllowPositional})
	if err != nil {
		return Outcome{Kind: RejectedMalformed, Message: "invalid format"}
	}

	key := KeyOf(rec)
	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		l, token, err := e.store.Fetch(ctx)
		switch {
		case errors.Is(err, ErrNotFound):
			// First run: the ledger is created by the first commit.
			l, token = New(e.opts.Schema), ""
		case err != nil:
			return failed(err)
		}

		if l.Contains(key) {
			return Outcome{Kind: RejectedDuplicate, Message: "already scanned"}
		}

		row := Row{Record: rec, Timestamp: e.opts.Now().Format(timestampLayout)}
		l.Append(row)

		if _, err := e.store.Commit(ctx, l, token); err != nil {
			if errors.Is(err, ErrConflict) {
				if e.opts.OnConflict != nil {
					e.opts.OnConflict()
				}
				log.Printf("ledger commit conflict for %q, attempt %d/%d", rec.Name, attempt, e.opts.MaxAttempts)
				continue
			}
			return failed(err)
		}
		return Outcome{Kind: Accepted, Row: row, Message: "checked in"}
	}

	return Outcome{
		Kind:    Failed,
		Message: "concurrent update, please retry",
		Err:     fmt.Errorf("commit: %w after %d attempts", ErrConflict, e.opts.MaxAttempts),
	}
}

func failed(err error) Outcome {
	msg := "store error, please retry manually"
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "timeout"
	}
	return Outcome{Kind: Failed, Message: msg, Err: err}
}

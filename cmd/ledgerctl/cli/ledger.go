package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/donasdosas/ledger/internal/ledger"
	"github.com/donasdosas/ledger/internal/shared"
)

// Exit codes shared by every command.
const (
	ExitOK    = 0
	ExitError = 1
	// ExitGaps signals the command succeeded but the chain has missing months.
	ExitGaps = 10
)

// LedgerOps is the part of the ledger service the operator commands drive.
type LedgerOps interface {
	Recompute(ctx context.Context, businessID int64) (ledger.RecomputeResult, error)
	Gaps(ctx context.Context, businessID int64) ([]shared.SequenceGapWarning, error)
	LockThrough(ctx context.Context, businessID int64, through shared.MonthKey, asOf time.Time) ([]shared.MonthKey, error)
	LockPrior(ctx context.Context, businessID int64, asOf time.Time) ([]shared.MonthKey, error)
	UnlockMonth(ctx context.Context, businessID int64, key shared.MonthKey) (ledger.MonthRecord, error)
}

// LedgerOpsCLI runs maintenance commands against one business's ledger.
type LedgerOpsCLI struct {
	ledger LedgerOps
}

// NewLedgerOpsCLI constructs the helper.
func NewLedgerOpsCLI(svc LedgerOps) (*LedgerOpsCLI, error) {
	if svc == nil {
		return nil, errors.New("ledger cli: service required")
	}
	return &LedgerOpsCLI{ledger: svc}, nil
}

// Options carries the flags common to the ledger commands.
type Options struct {
	BusinessID int64
	// Month is YYYY-MM. Required by lock-through and unlock.
	Month string
	// AsOf is YYYY-MM-DD. Empty means today.
	AsOf       string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

func (o *Options) defaults() {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
}

// RecomputeSummary is the JSON output of recompute.
type RecomputeSummary struct {
	BusinessID int64                       `json:"business_id"`
	Updated    []shared.MonthKey           `json:"updated"`
	Gaps       []shared.SequenceGapWarning `json:"gaps"`
}

// RecomputeCommand re-walks the chain and reports rewritten months.
func (c *LedgerOpsCLI) RecomputeCommand(ctx context.Context, opts Options) int {
	opts.defaults()
	if !requireBusiness("recompute", opts) {
		return ExitError
	}
	res, err := c.ledger.Recompute(ctx, opts.BusinessID)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "recompute: %v\n", err)
		return ExitError
	}
	summary := RecomputeSummary{BusinessID: res.BusinessID, Updated: res.Updated, Gaps: res.Gaps}
	if summary.Gaps == nil {
		summary.Gaps = []shared.SequenceGapWarning{}
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "recompute: encode json: %v\n", err)
			return ExitError
		}
	} else {
		_, _ = fmt.Fprintf(opts.Stdout, "Business %d: %d month(s) rewritten", summary.BusinessID, len(summary.Updated))
		if len(summary.Updated) > 0 {
			_, _ = fmt.Fprintf(opts.Stdout, " (%s)", joinMonths(summary.Updated))
		}
		_, _ = fmt.Fprintln(opts.Stdout)
		renderGaps(opts.Stdout, summary.Gaps)
	}
	if len(summary.Gaps) > 0 {
		return ExitGaps
	}
	return ExitOK
}

// GapsCommand lists missing months. Exits with ExitGaps when any are found.
func (c *LedgerOpsCLI) GapsCommand(ctx context.Context, opts Options) int {
	opts.defaults()
	if !requireBusiness("gaps", opts) {
		return ExitError
	}
	gaps, err := c.ledger.Gaps(ctx, opts.BusinessID)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "gaps: %v\n", err)
		return ExitError
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(map[string]any{"gaps": gaps}); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "gaps: encode json: %v\n", err)
			return ExitError
		}
	} else {
		if len(gaps) == 0 {
			_, _ = fmt.Fprintln(opts.Stdout, "No gaps detected.")
		}
		renderGaps(opts.Stdout, gaps)
	}
	if len(gaps) > 0 {
		return ExitGaps
	}
	return ExitOK
}

// LockThroughCommand locks every recorded month up to and including opts.Month.
func (c *LedgerOpsCLI) LockThroughCommand(ctx context.Context, opts Options) int {
	opts.defaults()
	if !requireBusiness("lock-through", opts) {
		return ExitError
	}
	through, err := shared.ParseMonthKey(strings.TrimSpace(opts.Month))
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "lock-through: invalid --month %q (expected YYYY-MM)\n", opts.Month)
		return ExitError
	}
	asOf, ok := parseAsOf("lock-through", opts)
	if !ok {
		return ExitError
	}
	locked, err := c.ledger.LockThrough(ctx, opts.BusinessID, through, asOf)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "lock-through: %v\n", err)
		return ExitError
	}
	return writeLocked("lock-through", opts, locked)
}

// LockPriorCommand locks every open month before the current calendar month.
func (c *LedgerOpsCLI) LockPriorCommand(ctx context.Context, opts Options) int {
	opts.defaults()
	if !requireBusiness("lock-prior", opts) {
		return ExitError
	}
	asOf, ok := parseAsOf("lock-prior", opts)
	if !ok {
		return ExitError
	}
	locked, err := c.ledger.LockPrior(ctx, opts.BusinessID, asOf)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "lock-prior: %v\n", err)
		return ExitError
	}
	return writeLocked("lock-prior", opts, locked)
}

// UnlockCommand reopens a single month.
func (c *LedgerOpsCLI) UnlockCommand(ctx context.Context, opts Options) int {
	opts.defaults()
	if !requireBusiness("unlock", opts) {
		return ExitError
	}
	key, err := shared.ParseMonthKey(strings.TrimSpace(opts.Month))
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "unlock: invalid --month %q (expected YYYY-MM)\n", opts.Month)
		return ExitError
	}
	rec, err := c.ledger.UnlockMonth(ctx, opts.BusinessID, key)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "unlock: %v\n", err)
		return ExitError
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(rec); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "unlock: encode json: %v\n", err)
			return ExitError
		}
		return ExitOK
	}
	_, _ = fmt.Fprintf(opts.Stdout, "%s is now %s\n", rec.Month, rec.Status)
	return ExitOK
}

func requireBusiness(cmd string, opts Options) bool {
	if opts.BusinessID <= 0 {
		_, _ = fmt.Fprintf(opts.Stderr, "%s: --business is required and must be positive\n", cmd)
		return false
	}
	return true
}

func parseAsOf(cmd string, opts Options) (time.Time, bool) {
	raw := strings.TrimSpace(opts.AsOf)
	if raw == "" {
		return time.Time{}, true
	}
	asOf, err := time.Parse("2006-01-02", raw)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "%s: invalid --as-of %q (expected YYYY-MM-DD)\n", cmd, opts.AsOf)
		return time.Time{}, false
	}
	return asOf, true
}

func writeLocked(cmd string, opts Options, locked []shared.MonthKey) int {
	if locked == nil {
		locked = []shared.MonthKey{}
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(map[string]any{"locked": locked}); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "%s: encode json: %v\n", cmd, err)
			return ExitError
		}
		return ExitOK
	}
	if len(locked) == 0 {
		_, _ = fmt.Fprintln(opts.Stdout, "Nothing to lock.")
		return ExitOK
	}
	_, _ = fmt.Fprintf(opts.Stdout, "Locked %d month(s): %s\n", len(locked), joinMonths(locked))
	return ExitOK
}

func renderGaps(out io.Writer, gaps []shared.SequenceGapWarning) {
	if len(gaps) == 0 {
		return
	}
	_, _ = fmt.Fprintf(out, "%d gap(s) detected:\n", len(gaps))
	for _, gap := range gaps {
		_, _ = fmt.Fprintf(out, " - between %s and %s missing %s\n", gap.After, gap.Before, joinMonths(gap.Missing))
	}
}

func joinMonths(keys []shared.MonthKey) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k.String()
	}
	return strings.Join(parts, ", ")
}

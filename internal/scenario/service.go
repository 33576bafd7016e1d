package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/donasdosas/ledger/internal/ledger"
	"github.com/donasdosas/ledger/internal/shared"
)

// Ledger is the slice of the ledger service the scenario engine reads, plus the one write a
// commit performs.
type Ledger interface {
	GetSettings(ctx context.Context, businessID int64) (ledger.Settings, error)
	GetMonth(ctx context.Context, businessID int64, key shared.MonthKey) (ledger.MonthRecord, error)
	CreateAdjustment(ctx context.Context, businessID int64, req ledger.AdjustmentRequest) (ledger.Adjustment, error)
}

// Request selects a preset by name or carries an ad-hoc scenario.
type Request struct {
	Preset   string    `json:"preset,omitempty"`
	Scenario *Scenario `json:"scenario,omitempty"`
}

// CommitRequest turns a historical what-if into a real adjustment.
type CommitRequest struct {
	Request
	Title string `json:"title" validate:"max=120"`
	Notes string `json:"notes" validate:"max=2000"`
}

// CommitResult pairs the created adjustment with the what-if it came from.
type CommitResult struct {
	Adjustment ledger.Adjustment `json:"adjustment"`
	WhatIf     WhatIf            `json:"what_if"`
}

// Service resolves scenarios and evaluates them against stored data.
type Service struct {
	ledger   Ledger
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService constructs a scenario service.
func NewService(l Ledger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{ledger: l, validate: validator.New(), logger: logger}
}

// Resolve returns the requested scenario. A preset wins over an inline scenario.
func (s *Service) Resolve(req Request) (Scenario, error) {
	if name := strings.TrimSpace(req.Preset); name != "" {
		sc := Preset(name)
		if sc.Name == "" {
			return Scenario{}, shared.Invalid("preset", "unknown preset %q", name)
		}
		return sc, nil
	}
	if req.Scenario == nil || len(req.Scenario.Deltas) == 0 {
		return Scenario{}, shared.Invalid("scenario", "preset or deltas required")
	}
	if err := s.validate.Struct(req.Scenario); err != nil {
		return Scenario{}, fmt.Errorf("%w: %w", shared.ErrValidation, err)
	}
	sc := *req.Scenario
	if sc.Name == "" {
		sc.Name = "custom"
	}
	return sc, nil
}

// Forward projects a month from current settings under the scenario.
func (s *Service) Forward(ctx context.Context, businessID int64, req Request) (Projection, error) {
	sc, err := s.Resolve(req)
	if err != nil {
		return Projection{}, err
	}
	settings, err := s.ledger.GetSettings(ctx, businessID)
	if err != nil {
		return Projection{}, err
	}
	return Forward(settings, sc), nil
}

// WhatIf re-derives a stored month under the scenario.
func (s *Service) WhatIf(ctx context.Context, businessID int64, key shared.MonthKey, req Request) (WhatIf, error) {
	sc, err := s.Resolve(req)
	if err != nil {
		return WhatIf{}, err
	}
	m, err := s.ledger.GetMonth(ctx, businessID, key)
	if err != nil {
		return WhatIf{}, err
	}
	out := Historical(m, sc)
	if len(out.Ignored) > 0 {
		s.logger.Info("what-if ignored deltas",
			slog.Int64("business_id", businessID),
			slog.String("month", key.String()),
			slog.Int("ignored", len(out.Ignored)))
	}
	return out, nil
}

// Commit books the what-if cash delta as an adjustment on the month. The ledger rejects locked
// months; a zero delta is a validation error.
func (s *Service) Commit(ctx context.Context, businessID int64, key shared.MonthKey, req CommitRequest) (CommitResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return CommitResult{}, fmt.Errorf("%w: %w", shared.ErrValidation, err)
	}
	w, err := s.WhatIf(ctx, businessID, key, req.Request)
	if err != nil {
		return CommitResult{}, err
	}
	if w.CashDelta.IsZero() {
		return CommitResult{}, shared.Invalid("scenario", "scenario does not change cash for %s", key)
	}
	kind := ledger.CashIn
	if w.CashDelta.IsNegative() {
		kind = ledger.CashOut
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "Scenario: " + w.Scenario
	}
	adj, err := s.ledger.CreateAdjustment(ctx, businessID, ledger.AdjustmentRequest{
		Month:  key.String(),
		Kind:   kind,
		Amount: w.CashDelta.Abs(),
		Title:  title,
		Notes:  req.Notes,
	})
	if err != nil {
		return CommitResult{}, err
	}
	return CommitResult{Adjustment: adj, WhatIf: w}, nil
}

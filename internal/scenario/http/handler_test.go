package scenariohttp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/donasdosas/ledger/internal/ledger"
	"github.com/donasdosas/ledger/internal/scenario"
	"github.com/donasdosas/ledger/internal/shared"
)

type stubScenarioService struct {
	forwardFn func(ctx context.Context, businessID int64, req scenario.Request) (scenario.Projection, error)
	whatIfFn  func(ctx context.Context, businessID int64, key shared.MonthKey, req scenario.Request) (scenario.WhatIf, error)
	commitFn  func(ctx context.Context, businessID int64, key shared.MonthKey, req scenario.CommitRequest) (scenario.CommitResult, error)
}

func (s *stubScenarioService) Forward(ctx context.Context, businessID int64, req scenario.Request) (scenario.Projection, error) {
	return s.forwardFn(ctx, businessID, req)
}

func (s *stubScenarioService) WhatIf(ctx context.Context, businessID int64, key shared.MonthKey, req scenario.Request) (scenario.WhatIf, error) {
	return s.whatIfFn(ctx, businessID, key, req)
}

func (s *stubScenarioService) Commit(ctx context.Context, businessID int64, key shared.MonthKey, req scenario.CommitRequest) (scenario.CommitResult, error) {
	return s.commitFn(ctx, businessID, key, req)
}

func serve(svc scenarioService, method, path, body string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	NewHandler(nil, svc).MountRoutes(r)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req = req.WithContext(shared.ContextWithBusiness(req.Context(), 3))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestPresetsListed(t *testing.T) {
	rr := serve(&stubScenarioService{}, http.MethodGet, "/scenarios/presets", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	for _, name := range []string{"price_up_10", "cogs_shock_10", "opex_shock_10", "revenue_shock_20"} {
		if !strings.Contains(rr.Body.String(), name) {
			t.Fatalf("expected preset %s in %s", name, rr.Body.String())
		}
	}
}

func TestForwardForwardsPreset(t *testing.T) {
	svc := &stubScenarioService{
		forwardFn: func(ctx context.Context, businessID int64, req scenario.Request) (scenario.Projection, error) {
			if businessID != 3 || req.Preset != "price_up_10" {
				t.Fatalf("unexpected call: %d %+v", businessID, req)
			}
			return scenario.Projection{Scenario: req.Preset, DSCR: shared.UndefinedRatio()}, nil
		},
	}
	rr := serve(svc, http.MethodPost, "/scenarios/forward", `{"preset":"price_up_10"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"dscr":null`) {
		t.Fatalf("expected undefined dscr as null, got %s", rr.Body.String())
	}
}

func TestWhatIfRejectsBadMonth(t *testing.T) {
	svc := &stubScenarioService{
		whatIfFn: func(ctx context.Context, businessID int64, key shared.MonthKey, req scenario.Request) (scenario.WhatIf, error) {
			t.Fatalf("service must not be called")
			return scenario.WhatIf{}, nil
		},
	}
	rr := serve(svc, http.MethodPost, "/scenarios/what-if/2025-00", `{"preset":"cogs_shock_10"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCommitMapsLockedMonth(t *testing.T) {
	svc := &stubScenarioService{
		commitFn: func(ctx context.Context, businessID int64, key shared.MonthKey, req scenario.CommitRequest) (scenario.CommitResult, error) {
			if req.Title != "Supplier hike" || req.Preset != "cogs_shock_10" {
				t.Fatalf("unexpected request %+v", req)
			}
			return scenario.CommitResult{}, &shared.LockedPeriodError{Month: key, Entity: "adjustment", Op: "create"}
		},
	}
	rr := serve(svc, http.MethodPost, "/scenarios/commit/2025-01", `{"preset":"cogs_shock_10","title":"Supplier hike"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestCommitCreated(t *testing.T) {
	svc := &stubScenarioService{
		commitFn: func(ctx context.Context, businessID int64, key shared.MonthKey, req scenario.CommitRequest) (scenario.CommitResult, error) {
			return scenario.CommitResult{Adjustment: ledger.Adjustment{Month: key, Kind: ledger.CashOut, Amount: decimal.NewFromInt(40)}}, nil
		},
	}
	rr := serve(svc, http.MethodPost, "/scenarios/commit/2025-01", `{"preset":"cogs_shock_10"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"kind":"CASH_OUT"`) {
		t.Fatalf("expected adjustment in body, got %s", rr.Body.String())
	}
}

func TestForwardInternalErrorHidesDetail(t *testing.T) {
	svc := &stubScenarioService{
		forwardFn: func(ctx context.Context, businessID int64, req scenario.Request) (scenario.Projection, error) {
			return scenario.Projection{}, errors.New("pg: connection refused")
		},
	}
	rr := serve(svc, http.MethodPost, "/scenarios/forward", `{"preset":"price_up_10"}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "connection refused") {
		t.Fatalf("internal detail leaked: %s", rr.Body.String())
	}
}

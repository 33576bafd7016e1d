package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/donasdosas/ledger/internal/shared"
)

const dateLayout = "2006-01-02"

// BusinessID returns the tenant resolved by the middleware stack.
func BusinessID(r *http.Request) (int64, error) {
	id := shared.BusinessFromContext(r.Context())
	if id <= 0 {
		return 0, shared.Invalid("X-Business-ID", "business id required")
	}
	return id, nil
}

// MonthParam parses a YYYY-MM route parameter.
func MonthParam(r *http.Request, name string) (shared.MonthKey, error) {
	return shared.ParseMonthKey(chi.URLParam(r, name))
}

// UUIDParam parses a UUID route parameter.
func UUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, shared.Invalid(name, "must be a UUID")
	}
	return id, nil
}

// IntParam parses a positive integer route parameter.
func IntParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Invalid(name, "must be a positive integer")
	}
	return id, nil
}

// QueryRange reads the from and to query parameters as an inclusive month range.
func QueryRange(r *http.Request) (shared.MonthRange, error) {
	q := r.URL.Query()
	return shared.ParseMonthRange(strings.TrimSpace(q.Get("from")), strings.TrimSpace(q.Get("to")))
}

// QueryBool reads a boolean flag; absent means false.
func QueryBool(r *http.Request, name string) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, shared.Invalid(name, "must be a boolean")
	}
	return v, nil
}

// ParseDate parses an optional YYYY-MM-DD value. Empty yields the zero time.
func ParseDate(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, shared.Invalid(field, "must be YYYY-MM-DD")
	}
	return t, nil
}

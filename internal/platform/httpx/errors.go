// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/donasdosas/ledger/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var locked *shared.LockedPeriodError
	var missing shared.MissingReferenceError
	var fields validator.ValidationErrors
	var invalid *shared.ValidationError

	switch {
	case errors.As(err, &locked):
		p := newProblem(http.StatusConflict, "Period Locked", err.Error())
		p.Type = "locked-period"
		p.Month = locked.Month.String()
		write(w, p)
	case errors.Is(err, shared.ErrIdempotencyConflict):
		write(w, newProblem(http.StatusConflict, "Duplicate Request", err.Error()))
	case errors.As(err, &missing):
		p := newProblem(http.StatusUnprocessableEntity, "Missing Reference", err.Error())
		p.Type = "missing-reference"
		write(w, p)
	case errors.As(err, &fields):
		p := newProblem(http.StatusBadRequest, "Validation Failed", "request failed validation")
		for _, fe := range fields {
			p.Errors = append(p.Errors, FieldError{Field: snake(fe.Field()), Reason: fe.Tag()})
		}
		write(w, p)
	case errors.As(err, &invalid):
		p := newProblem(http.StatusBadRequest, "Validation Failed", err.Error())
		if invalid.Field != "" {
			p.Errors = []FieldError{{Field: invalid.Field, Reason: invalid.Reason}}
		}
		write(w, p)
	case errors.Is(err, shared.ErrValidation):
		write(w, newProblem(http.StatusBadRequest, "Validation Failed", err.Error()))
	case errors.Is(err, shared.ErrNotFound):
		write(w, newProblem(http.StatusNotFound, "Not Found", err.Error()))
	default:
		write(w, newProblem(http.StatusInternalServerError, "Internal Error", ""))
	}
}

// snake converts validator's Go field names (UnitPrice) to the JSON form (unit_price).
func snake(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				prev := rune(name[i-1])
				if prev < 'A' || prev > 'Z' {
					b.WriteByte('_')
				}
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

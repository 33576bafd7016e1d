// Package httpx provides HTTP response utilities following RFC7807 problem details.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/donasdosas/ledger/internal/shared"
)

const maxBodyBytes = 1 << 20

// FieldError names one rejected request field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ProblemDetail represents RFC7807 problem details.
type ProblemDetail struct {
	Type   string       `json:"type,omitempty"`
	Title  string       `json:"title"`
	Status int          `json:"status"`
	Detail string       `json:"detail,omitempty"`
	Month  string       `json:"month,omitempty"`
	Errors []FieldError `json:"errors,omitempty"`
}

func newProblem(status int, title, detail string) ProblemDetail {
	return ProblemDetail{Type: "about:blank", Title: title, Status: status, Detail: detail}
}

func write(w http.ResponseWriter, p ProblemDetail) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem sends an RFC7807 problem details response.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	write(w, newProblem(status, title, detail))
}

// DecodeJSON decodes a JSON request body into target. Unknown fields and trailing data are
// validation errors.
func DecodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return shared.Invalid("body", "request body required")
		}
		return shared.Invalid("body", "%s", err.Error())
	}
	if dec.More() {
		return shared.Invalid("body", "unexpected data after JSON object")
	}
	return nil
}

// Package models holds wire types shared by the HTTP handlers.
package models

import (
	"encoding/json"
	"net/http"
)

// ProblemBase prefixes every problem type URI.
const ProblemBase = "https://counsellor.app/problems/"

// Problem types for RFC 7807 Problem Details responses.
const (
	ProblemTypeNotFound     = ProblemBase + "not-found"
	ProblemTypeBadRequest   = ProblemBase + "bad-request"
	ProblemTypeInternal     = ProblemBase + "internal-error"
	ProblemTypeUnauthorized = ProblemBase + "unauthorized"
	ProblemTypeForbidden    = ProblemBase + "forbidden"
	ProblemTypeRateLimited  = ProblemBase + "rate-limited"
	ProblemTypeConflict     = ProblemBase + "conflict"
	ProblemTypeAuth         = ProblemBase + "auth-error"
	ProblemTypeUpstream     = ProblemBase + "upstream-error"
)

// APIProblem represents an RFC 7807 Problem Details response. Code is an
// extension member carrying a stable machine-readable error code.
type APIProblem struct {
	Type     string `json:"type" example:"https://counsellor.app/problems/bad-request"`
	Title    string `json:"title" example:"Bad Request"`
	Status   int    `json:"status" example:"400"`
	Detail   string `json:"detail,omitempty" example:"invalid request body"`
	Instance string `json:"instance,omitempty" example:"/api/v1/auth/login"`
	Code     string `json:"code,omitempty" example:"CSRF_VALIDATION_FAILED"`
}

// WriteProblem writes an RFC 7807 Problem Details JSON response.
func WriteProblem(w http.ResponseWriter, p APIProblem) {
	if p.Title == "" {
		p.Title = http.StatusText(p.Status)
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// Problem writes a problem response whose type is derived from status.
func Problem(w http.ResponseWriter, status int, detail string) {
	WriteProblem(w, APIProblem{
		Type:   typeForStatus(status),
		Status: status,
		Detail: detail,
	})
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func typeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ProblemTypeBadRequest
	case http.StatusUnauthorized:
		return ProblemTypeUnauthorized
	case http.StatusForbidden:
		return ProblemTypeForbidden
	case http.StatusNotFound:
		return ProblemTypeNotFound
	case http.StatusConflict:
		return ProblemTypeConflict
	case http.StatusTooManyRequests:
		return ProblemTypeRateLimited
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return ProblemTypeUpstream
	default:
		return ProblemTypeInternal
	}
}

package models

import (
	"encoding/json"
	"net/http"
)

const problemBase = "https://transitx.dev/problems/"

// Problem is an RFC 7807 error body, served as application/problem+json.
type Problem struct {
	Type     string       `json:"type"`
	Title    string       `json:"title"`
	Status   int          `json:"status"`
	Detail   string       `json:"detail,omitempty"`
	Instance string       `json:"instance,omitempty"`
	TraceID  string       `json:"traceId"`
	Errors   []FieldError `json:"errors,omitempty"`
}

// FieldError points at one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Kind is a problem type together with its title and status.
type Kind struct {
	Type   string
	Title  string
	Status int
}

// Problem kinds served by the API.
var (
	KindValidation           = Kind{problemBase + "validation-error", "Validation error", http.StatusBadRequest}
	KindUnauthorized         = Kind{problemBase + "unauthorized", "Unauthorized", http.StatusUnauthorized}
	KindForbidden            = Kind{problemBase + "forbidden", "Forbidden", http.StatusForbidden}
	KindNotFound             = Kind{problemBase + "not-found", "Not found", http.StatusNotFound}
	KindUnsupportedMediaType = Kind{problemBase + "unsupported-media-type", "Unsupported media type", http.StatusUnsupportedMediaType}
	KindTooManyRequests      = Kind{problemBase + "too-many-requests", "Too many requests", http.StatusTooManyRequests}
	KindInternal             = Kind{problemBase + "internal-error", "Internal server error", http.StatusInternalServerError}
	KindWeatherUnavailable   = Kind{problemBase + "weather-unavailable", "Weather unavailable", http.StatusServiceUnavailable}
	KindNotReady             = Kind{problemBase + "not-ready", "Service not ready", http.StatusServiceUnavailable}
)

// NewProblem creates a problem of kind for the request identified by traceID.
func NewProblem(kind Kind, traceID, detail string) *Problem {
	return &Problem{
		Type:    kind.Type,
		Title:   kind.Title,
		Status:  kind.Status,
		Detail:  detail,
		TraceID: traceID,
	}
}

// WithInstance sets the request path the problem occurred on.
func (p *Problem) WithInstance(instance string) *Problem {
	p.Instance = instance
	return p
}

// WithErrors attaches field errors.
func (p *Problem) WithErrors(errs []FieldError) *Problem {
	p.Errors = errs
	return p
}

// Write sends the problem with its status code.
func (p *Problem) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	if p.TraceID != "" {
		w.Header().Set("X-Request-Id", p.TraceID)
	}
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

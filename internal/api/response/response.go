// Package response writes JSON and problem responses for the handlers.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/transitx/transitx/internal/api/middleware"
	"github.com/transitx/transitx/internal/api/models"
)

// JSON writes data as a JSON body with status.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	setRequestID(w, r)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Error writes problem, filling in the request path and ID.
func Error(w http.ResponseWriter, r *http.Request, problem *models.Problem) {
	if problem.TraceID == "" {
		problem.TraceID = middleware.GetRequestID(r.Context())
	}
	problem.WithInstance(r.URL.Path).Write(w)
}

// Fail writes a problem of kind with detail.
func Fail(w http.ResponseWriter, r *http.Request, kind models.Kind, detail string) {
	Error(w, r, models.NewProblem(kind, middleware.GetRequestID(r.Context()), detail))
}

// BadRequest writes a 400 validation problem listing the invalid fields.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string, errs []models.FieldError) {
	Error(w, r, models.NewProblem(models.KindValidation, middleware.GetRequestID(r.Context()), detail).
		WithErrors(errs))
}

// InternalError writes a 500 problem. Detail must not leak internals.
func InternalError(w http.ResponseWriter, r *http.Request, detail string) {
	Fail(w, r, models.KindInternal, detail)
}

func setRequestID(w http.ResponseWriter, r *http.Request) {
	if id := middleware.GetRequestID(r.Context()); id != "" {
		w.Header().Set(middleware.RequestIDHeader, id)
	}
}

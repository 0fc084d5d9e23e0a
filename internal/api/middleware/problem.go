package middleware

import (
	"net/http"

	"github.com/transitx/transitx/internal/api/models"
)

// writeProblem answers r with a problem of kind. The response package sits
// above this one, so middleware writes problems directly.
func writeProblem(w http.ResponseWriter, r *http.Request, kind models.Kind, detail string) {
	models.NewProblem(kind, GetRequestID(r.Context()), detail).
		WithInstance(r.URL.Path).
		Write(w)
}

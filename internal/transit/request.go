package transit

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

// Request is an inference request as received over the wire.
type Request struct {
	Date      string `json:"date" validate:"required,civildate"`
	Time      string `json:"time" validate:"required,clocktime"`
	Route     string `json:"route" validate:"required,route"`
	Direction string `json:"direction" validate:"required,direction"`
	Location  string `json:"location" validate:"required,notblank,max=200"`
	Incident  string `json:"incident" validate:"omitempty,incident"`
	MinGap    *int   `json:"min_gap" validate:"omitempty,gte=0"`
}

// Normalized is a validated request with canonical field values.
type Normalized struct {
	Date      string
	Time      string
	At        time.Time
	Route     string
	Direction Direction
	Location  string
	Incident  string
	MinGap    int
}

// FieldError describes one invalid request field.
type FieldError struct {
	Field   string
	Message string
	Code    string
}

// ValidationError is returned when a request fails validation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + " " + f.Message
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

var fieldMessages = map[string]string{
	"required":  "is required",
	"notblank":  "must not be blank",
	"civildate": "must be a date in YYYY-MM-DD format",
	"clocktime": "must be a 24-hour time in HH:MM format",
	"route":     "must contain digits only",
	"direction": "must be N, S, E, W or a compass direction name",
	"incident":  "must be one of the known incident types",
	"gte":       "must be zero or greater",
	"max":       "is too long",
}

// Validator checks and normalizes requests.
type Validator struct {
	validate *validator.Validate
	location *time.Location
}

// NewValidator returns a Validator that interprets dates and times in loc.
func NewValidator(loc *time.Location) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("civildate", func(fl validator.FieldLevel) bool {
		_, err := time.Parse(DateLayout, fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("clocktime", func(fl validator.FieldLevel) bool {
		_, err := time.Parse(TimeLayout, fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("route", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return false
		}
		for _, r := range s {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	})
	_ = v.RegisterValidation("direction", func(fl validator.FieldLevel) bool {
		_, err := NormalizeDirection(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	_ = v.RegisterValidation("incident", func(fl validator.FieldLevel) bool {
		return IsIncident(fl.Field().String())
	})
	if loc == nil {
		loc = time.UTC
	}
	return &Validator{validate: v, location: loc}
}

// Normalize validates req and returns its canonical form. Any failure is a
// *ValidationError listing every invalid field.
func (v *Validator) Normalize(req Request) (Normalized, error) {
	if err := v.validate.Struct(req); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return Normalized{}, fmt.Errorf("validating request: %w", err)
		}
		out := &ValidationError{Fields: make([]FieldError, 0, len(verrs))}
		for _, fe := range verrs {
			msg, ok := fieldMessages[fe.Tag()]
			if !ok {
				msg = "is invalid"
			}
			out.Fields = append(out.Fields, FieldError{
				Field:   fe.Field(),
				Message: msg,
				Code:    fe.Tag(),
			})
		}
		return Normalized{}, out
	}

	day, _ := time.Parse(DateLayout, req.Date)
	clock, _ := time.Parse(TimeLayout, req.Time)
	dir, _ := NormalizeDirection(req.Direction)

	incident := req.Incident
	if incident == "" {
		incident = DefaultIncident
	}
	minGap := DefaultMinGap
	if req.MinGap != nil {
		minGap = *req.MinGap
	}

	return Normalized{
		Date:      day.Format(DateLayout),
		Time:      clock.Format(TimeLayout),
		At:        time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, v.location),
		Route:     req.Route,
		Direction: dir,
		Location:  strings.TrimSpace(req.Location),
		Incident:  incident,
		MinGap:    minGap,
	}, nil
}

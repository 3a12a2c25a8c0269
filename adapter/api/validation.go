package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RenewalRequest is the body of POST /api/v1/subscription/renewal.
type RenewalRequest struct {
	Months int `json:"months" validate:"lte=36"`
}

// PlanChangeRequest is the body of POST /api/v1/subscription/plan-change.
type PlanChangeRequest struct {
	Plan   string `json:"plan" validate:"required,max=32"`
	Months int    `json:"months" validate:"lte=36"`
}

// NotificationRequest is the body the provider posts to the notify URL.
type NotificationRequest struct {
	Status     string `json:"status"`
	NotifToken string `json:"notif_token" validate:"required"`
	TxnID      string `json:"txnid"`
}

// ValidationError lists invalid fields by their JSON name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, rule := range e.Fields {
		parts = append(parts, field+": "+rule)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Validator wraps go-playground/validator with JSON field names.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{validate: v}
}

// Validate returns a *ValidationError when s breaks a rule.
func (v *Validator) Validate(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		fields[fe.Field()] = rule
	}
	return &ValidationError{Fields: fields}
}

const maxBodyBytes = 1 << 16

var errMalformedBody = errors.New("malformed request body")

// decodeAndValidate reads a JSON body into dst. An empty body leaves dst at
// its zero value.
func (v *Validator) decodeAndValidate(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return errMalformedBody
	}
	return v.Validate(dst)
}

// writeRequestError answers a decode or validation failure.
func writeRequestError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		writeError(w, r, http.StatusUnprocessableEntity, "validation_failed", verr.Fields)
		return
	}
	writeError(w, r, http.StatusBadRequest, "bad_request", nil)
}

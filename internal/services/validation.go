package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error     string            `json:"error"`               // Error message
	Details   map[string]string `json:"details,omitempty"`   // Validation details
	Retryable bool              `json:"retryable,omitempty"` // Set when the backend was unavailable
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
	minDigits int
	maxDigits int
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return NewValidationHelperWithIdentity(6, 10)
}

// NewValidationHelperWithIdentity registers the "identity" tag with the given digit bounds.
func NewValidationHelperWithIdentity(minDigits, maxDigits int) *ValidationHelper {
	vh := &ValidationHelper{
		validator: validator.New(),
		minDigits: minDigits,
		maxDigits: maxDigits,
	}
	_ = vh.validator.RegisterValidation("identity", vh.identityShape)
	return vh
}

func (vh *ValidationHelper) identityShape(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if len(s) < vh.minDigits || len(s) > vh.maxDigits {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// ValidateIdentity checks the national identity format without any lookup.
func (vh *ValidationHelper) ValidateIdentity(identity string) error {
	err := vh.validator.Var(identity, "required,identity")
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		reason := fmt.Sprintf("must be %d to %d digits", vh.minDigits, vh.maxDigits)
		if verrs[0].Tag() == "required" {
			reason = "is required"
		}
		return &ValidationError{Field: "identity", Tag: verrs[0].Tag(), Reason: reason}
	}
	return err
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message, Retryable: statusCode == http.StatusServiceUnavailable}
	var verrs validator.ValidationErrors
	var verr *ValidationError
	switch {
	case errors.As(validationErr, &verrs):
		errorResp.Details = make(map[string]string)
		for _, err := range verrs {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	case errors.As(validationErr, &verr):
		errorResp.Details = verr.Details()
	}

	json.NewEncoder(w).Encode(errorResp)
}

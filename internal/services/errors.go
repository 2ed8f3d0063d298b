package services

import (
	"errors"
	"fmt"

	"github.com/transitpay/backoffice/internal/store"
)

var (
	ErrParse           = errors.New("settlement data could not be parsed")
	ErrMatchNotFound   = errors.New("no passenger matches identity")
	ErrValidation      = errors.New("validation failed")
	ErrDuplicateCredit = errors.New("credit already applied for identity and reference")
	ErrLedgerApply     = errors.New("credit could not be applied")
	ErrSystemic        = errors.New("reconciliation backend unavailable")

	ErrFileNotFound     = errors.New("settlement file not found")
	ErrLineNotFound     = errors.New("settlement line not found")
	ErrLineNotEligible  = errors.New("settlement line is not eligible for this action")
	ErrProposalNotFound = errors.New("resolution proposal not found or expired")
)

// ValidationError is returned before any state is touched.
type ValidationError struct {
	Field  string
	Tag    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Details renders the error the same way validator failures are rendered.
func (e *ValidationError) Details() map[string]string {
	tag := e.Tag
	if tag == "" {
		tag = "format"
	}
	return map[string]string{e.Field: fmt.Sprintf("Field Validation Failed on '%s' tag", tag)}
}

// systemic tags store connectivity failures so they fail the whole operation.
func systemic(op string, err error) error {
	if errors.Is(err, ErrSystemic) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrSystemic, err)
}

// storeErr maps store sentinels to service errors for a single entity lookup.
func storeErr(op string, err error, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return notFound
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%s: %w", op, ErrLineNotEligible)
	default:
		return systemic(op, err)
	}
}

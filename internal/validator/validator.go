package validator

import (
	"errors"
	"fmt"

	playground "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	ErrInvalidID      = errors.New("invalid identifier")
	ErrInvalidRequest = errors.New("invalid request")
)

var validate = playground.New(playground.WithRequiredStructEnabled())

// ParseID accepts the canonical dashed form or the same 32 hex digits without
// dashes. Other spellings uuid.Parse tolerates (braces, urn prefix) are
// rejected.
func ParseID(raw string) (uuid.UUID, error) {
	if len(raw) != 36 && len(raw) != 32 {
		return uuid.Nil, ErrInvalidID
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, ErrInvalidID
	}
	return id, nil
}

// Struct checks the validate tags on s. Failures wrap both ErrInvalidRequest
// and the underlying field errors.
func Struct(s any) error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

// Details lists every failing field of a Struct error by tag.
func Details(err error) map[string]string {
	var fieldErrs playground.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return nil
	}
	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Field()] = fe.Tag()
	}
	return details
}

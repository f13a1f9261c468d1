// Package validation wraps go-playground/validator so that decoded
// OCPP payloads and supervisor command parameters are checked against
// their struct tags before reaching domain logic.
package validation

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ocpp-sim/chargepoint-simulator/internal/errs"
)

// Validator validates tagged structs.
type Validator struct {
	validate *validator.Validate
}

// FieldError describes one failed validation rule.
type FieldError struct {
	Field   string
	Tag     string
	Value   string
	Message string
}

func (e FieldError) Error() string { return e.Message }

// FieldErrors is a collection of FieldError, itself an error.
type FieldErrors []FieldError

func (e FieldErrors) Error() string {
	msgs := make([]string, len(e))
	for i, fe := range e {
		msgs[i] = fe.Message
	}
	return strings.Join(msgs, "; ")
}

// New builds a Validator with the struct validator's default tag set.
func New() *Validator {
	return &Validator{validate: validator.New()}
}

// Struct validates s and, on failure, returns an InputError wrapping a
// FieldErrors collection.
func (v *Validator) Struct(op string, s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs FieldErrors
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			fieldErrs = append(fieldErrs, FieldError{
				Field:   fe.Field(),
				Tag:     fe.Tag(),
				Value:   fmt.Sprintf("%v", fe.Value()),
				Message: fmt.Sprintf("field %s failed rule %q", fe.Field(), fe.Tag()),
			})
		}
		return errs.NewInputError(op, fieldErrs)
	}
	return errs.NewInputError(op, err)
}

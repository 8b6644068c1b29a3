package admission

import "errors"

// ReasonInsufficientVRAM is the denial reason for capacity denials.
const ReasonInsufficientVRAM = "Insufficient VRAM"

// validationError signals a malformed request (fix the request, do not retry).
type validationError struct{ msg string }

func (e validationError) Error() string { return "invalid request: " + e.msg }

// StatusCode maps validation errors to 400 in the HTTP layer.
func (e validationError) StatusCode() int { return 400 }

// ErrValidation constructs a validation error.
func ErrValidation(msg string) error { return validationError{msg: msg} }

// IsValidation reports whether err indicates a malformed request.
func IsValidation(err error) bool {
	var ve validationError
	return errors.As(err, &ve)
}

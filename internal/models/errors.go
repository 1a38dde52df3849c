package models

import "errors"

// Error taxonomy for engine and manager operations. Operations wrap these
// sentinels with context; acknowledgements surface the stable code.
var (
	ErrValidation   = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("not authorized")
	ErrConflict     = errors.New("conflict")
	ErrTransaction  = errors.New("transaction failed")
)

const (
	CodeValidation   = 400
	CodeUnauthorized = 401
	CodeNotFound     = 404
	CodeConflict     = 409
	CodeTransaction  = 500
)

// CodeOf maps an operation error to its stable numeric code.
// Unclassified errors are reported as transaction failures.
func CodeOf(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrConflict):
		return CodeConflict
	default:
		return CodeTransaction
	}
}

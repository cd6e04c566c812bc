package status

import "errors"

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrForbidden         = errors.New("forbidden")
	ErrAuth              = errors.New("authentication failed")
	ErrGateway           = errors.New("payment gateway error")
	ErrTransientNetwork  = errors.New("transient network error")
	ErrPollTimeout       = errors.New("transaction status unknown: polling timed out")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrForcedLogout      = errors.New("session expired: login required")
)

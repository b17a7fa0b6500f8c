package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrTaskNotFound        = errors.New("task not found")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrProviderFailure     = errors.New("provider failure")
	ErrMaterialize         = errors.New("materialize failed")
	ErrReconcileInProgress = errors.New("reconcile in progress")
	ErrDuplicateOperation  = errors.New("duplicate operation")
)

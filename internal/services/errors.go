package services

import "errors"

var (
	// ErrNotFound indicates the email does not resolve to an account.
	ErrNotFound = errors.New("account not found")
	// ErrEmailTaken indicates a registration attempt with an existing email.
	ErrEmailTaken = errors.New("email already registered")
)

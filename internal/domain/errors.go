package domain

import "errors"

var (
	ErrMissingFields       = errors.New("missing required fields")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("already exists")
	ErrInvalidState        = errors.New("invalid state transition")
	ErrNoContacts          = errors.New("no valid contacts after filtering blocklist")
	ErrNoPendingContacts   = errors.New("no pending contacts to send")
	ErrNoEligibleSender    = errors.New("no healthy sender available")
	ErrQuotaExceeded       = errors.New("sender quota exceeded")
	ErrEmptyMessage        = errors.New("message cannot be empty")
	ErrSessionNotConnected = errors.New("session not found or not connected")
	ErrInvalidDelay        = errors.New("minDelay must not exceed maxDelay")
	ErrInvalidInput        = errors.New("invalid input")
)

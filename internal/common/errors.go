// Package common defines sentinel errors shared by the queue, scheduler and
// transfer layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Queue-level errors.
	ErrNotFound          = errors.New("not found")
	ErrInvalidSpec       = errors.New("invalid job spec")
	ErrInvalidTransition = errors.New("invalid status transition")

	// Auth errors raised by token providers before a request is sent.
	ErrUnauthorized = errors.New("unauthorized")
	ErrTokenExpired = errors.New("token expired")
)

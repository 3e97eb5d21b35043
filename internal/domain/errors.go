package domain

import (
	"errors"
)

var (
	// ErrNotPaired is returned when an outbound send is attempted for a
	// bot whose cached status is not connected.
	ErrNotPaired = errors.New("bot is not paired with whatsapp")

	// ErrBotNotFound is returned when the referenced bot has no instance
	// record at all.
	ErrBotNotFound = errors.New("bot not found")

	// ErrInvalidPhone is returned when an outbound phone number contains
	// no usable digits.
	ErrInvalidPhone = errors.New("invalid phone number")

	// ErrUnknownInstance marks webhook events for instance names with no
	// owning bot. These are logged and dropped, never escalated.
	ErrUnknownInstance = errors.New("no bot owns this instance")
)

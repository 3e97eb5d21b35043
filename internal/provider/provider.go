package provider

import (
	"context"
	"errors"
	"fmt"
)

// State is the provider's authoritative view of an instance.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// StateInfo carries the connection state plus, when the instance is
// authenticated, the paired phone JID and profile display name.
type StateInfo struct {
	State       State
	OwnerJID    string
	ProfileName string
}

// Client is the capability surface of the WhatsApp gateway. Every call
// may fail transiently (network, timeout, gateway 5xx) or be rejected
// (unknown instance, invalid state); the two are distinguished via
// IsTransient/IsRejected on the returned error.
type Client interface {
	CreateInstance(ctx context.Context, name string) (qr string, err error)
	ConnectInstance(ctx context.Context, name string) (qr string, err error)
	ConnectionState(ctx context.Context, name string) (StateInfo, error)
	SendText(ctx context.Context, name, phone, text string) (providerMessageID string, err error)
	Logout(ctx context.Context, name string) error
	DeleteInstance(ctx context.Context, name string) error
}

// ErrorKind classifies provider failures.
type ErrorKind int

const (
	// KindTransient covers network errors, timeouts and gateway-side 5xx
	// responses. Safe to retry later, never persisted as terminal state.
	KindTransient ErrorKind = iota
	// KindRejected covers semantic refusals such as instance not found
	// or invalid state (gateway 4xx responses).
	KindRejected
)

type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == KindTransient
}

func IsRejected(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == KindRejected
}

package push

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyInitialized is returned by a second Initialize call.
	ErrAlreadyInitialized = errors.New("push: coordinator already initialized")
	// ErrRegistration wraps failures reported by the platform push service.
	ErrRegistration = errors.New("push: registration failed")
	// ErrMalformedEvent marks events missing required fields.
	ErrMalformedEvent = errors.New("push: malformed event")
	// ErrCallbackUnavailable marks events that arrived before Configure and
	// could not be buffered.
	ErrCallbackUnavailable = errors.New("push: no callback configured")
	// ErrHandlerPanic wraps a panic recovered inside an event handler.
	ErrHandlerPanic = errors.New("push: handler panicked")
	// ErrUnknownFamily is returned by LookupFamily for unsupported platforms.
	ErrUnknownFamily = errors.New("push: unknown platform family")
)

func malformed(reason string) error {
	return fmt.Errorf("%w: %s", ErrMalformedEvent, reason)
}

func registrationError(err error) error {
	if err == nil {
		return ErrRegistration
	}
	if errors.Is(err, ErrRegistration) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrRegistration, err)
}

func panicError(kind EventKind, v any) error {
	return fmt.Errorf("%w: %s: %v", ErrHandlerPanic, kind, v)
}

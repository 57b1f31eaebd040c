// Package errkind classifies errors raised by the probe core into the
// taxonomy of spec §7: Transient, Negotiation, FabricLost, Resource, and
// Shutdown. Call sites annotate an error with a Kind via Wrap or New, then
// recover the Kind with Classify.
package errkind

import "github.com/pkg/errors"

// Kind is one of the five error categories the probe FSM distinguishes
// when deciding how to recover.
type Kind int

const (
	// Unknown is returned by Classify when an error was never annotated
	// via Wrap or New.
	Unknown Kind = iota
	// Transient errors are retried once on the FSM's next tick.
	Transient
	// Negotiation errors reset the FSM back to SendReset.
	Negotiation
	// FabricLost errors reset the underlying fabric endpoint.
	FabricLost
	// Resource errors are fatal to the current operation; repeated
	// occurrence across resets is surfaced to the application.
	Resource
	// Shutdown indicates cooperative exit was requested; never surfaced
	// as an application-visible error.
	Shutdown
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "Transient"
	case Negotiation:
		return "Negotiation"
	case FabricLost:
		return "FabricLost"
	case Resource:
		return "Resource"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// Sentinel base errors, one per Kind. Wrap, New and Classify do not use
// them; Classify recovers the Kind from the error built by Wrap or New via
// errors.As.
var (
	sentinelTransient   = errors.New("transient error")
	sentinelNegotiation = errors.New("negotiation error")
	sentinelFabricLost  = errors.New("fabric lost")
	sentinelResource    = errors.New("resource exhausted")
	sentinelShutdown    = errors.New("shutdown")
)

// Wrap annotates cause with the given Kind so that Classify can later
// recover it. A nil cause returns nil.
func Wrap(kind Kind, cause error, message string) error {
	if cause == nil {
		return nil
	}
	return &kindError{kind: kind, cause: errors.WithMessage(cause, message)}
}

// New constructs a fresh error of the given Kind, with no wrapped cause.
func New(kind Kind, message string) error {
	return &kindError{kind: kind, cause: errors.New(message)}
}

type kindError struct {
	kind  Kind
	cause error
}

func (e *kindError) Error() string { return e.cause.Error() }
func (e *kindError) Unwrap() error { return e.cause }
func (e *kindError) Kind() Kind    { return e.kind }

// Classify recovers the Kind with which err (or one of its wrapped causes)
// was annotated. It returns Unknown if err is nil or was never classified.
func Classify(err error) Kind {
	if err == nil {
		return Unknown
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return Unknown
}

// Is reports whether err was classified as kind.
func Is(err error, kind Kind) bool { return Classify(err) == kind }

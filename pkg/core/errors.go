// Package core wires every other driftbox package into the top-level
// Store clients actually call: document create/update/delete, paginated
// changes, query, and compaction, each serialized per (account,
// collection) and backed by three shared caches.
package core

import "fmt"

// Kind names one of the client-visible error kinds the core surfaces,
// distinct from the plain Go errors internal packages return for
// malformed input.
type Kind int

const (
	// NotFound: the requested id/state/ORM row does not exist.
	NotFound Kind = iota
	// DataCorruption: an on-disk value failed to deserialize.
	DataCorruption
	// InvalidProperties: client-visible validation failure.
	InvalidProperties
	// WillDestroy: update collided with a destroy in the same request.
	WillDestroy
	// StateMismatch: ifInState did not match the current state.
	StateMismatch
	// AnchorNotFound: pagination anchor not present in the result set.
	AnchorNotFound
	// Forbidden: quota or ACL denial.
	Forbidden
	// InternalError: a lower-level I/O failure.
	InternalError
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "notFound"
	case DataCorruption:
		return "dataCorruption"
	case InvalidProperties:
		return "invalidProperties"
	case WillDestroy:
		return "willDestroy"
	case StateMismatch:
		return "stateMismatch"
	case AnchorNotFound:
		return "anchorNotFound"
	case Forbidden:
		return "forbidden"
	case InternalError:
		return "internalError"
	default:
		return "unknown"
	}
}

// Error is the client-visible error every Store operation returns.
// Property and Reason are only meaningful for InvalidProperties;
// Detail carries the wrapped lower-level cause for InternalError and
// DataCorruption.
type Error struct {
	Kind     Kind
	Property string
	Reason   string
	Detail   error
}

func (e *Error) Error() string {
	switch {
	case e.Property != "" || e.Reason != "":
		return fmt.Sprintf("core: %s: property=%q reason=%q", e.Kind, e.Property, e.Reason)
	case e.Detail != nil:
		return fmt.Sprintf("core: %s: %v", e.Kind, e.Detail)
	default:
		return fmt.Sprintf("core: %s", e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Detail }

func newErr(kind Kind, detail error) *Error {
	return &Error{Kind: kind, Detail: detail}
}

func invalidProperty(property, reason string) *Error {
	return &Error{Kind: InvalidProperties, Property: property, Reason: reason}
}

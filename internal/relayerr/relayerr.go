// Package relayerr defines the error kinds shared by all relay core
// components. Every error that reaches a caller carries a stable
// machine-readable Kind plus a human-readable detail string, so the
// HTTP layer can map it to a status code and the caller can decide
// whether a retry makes sense.
package relayerr

import "fmt"

// Kind is the machine-readable error classification.
type Kind string

const (
	// KindNotFound — unknown thread, artifact ref, or capability.
	KindNotFound Kind = "not_found"
	// KindConflict — expected_version mismatch on a state patch.
	KindConflict Kind = "conflict"
	// KindValidation — malformed patch op, unresolved ref, bad path.
	KindValidation Kind = "validation"
	// KindCapability — the invoked capability itself failed.
	KindCapability Kind = "capability"
	// KindTimeout — a capability exceeded its time budget.
	KindTimeout Kind = "timeout"
	// KindLimit — a policy limit (hop count, payload size) was hit.
	KindLimit Kind = "limit"
)

// Error is the structured error returned by relay core operations.
type Error struct {
	Kind   Kind   `json:"kind"`
	Detail string `json:"message"`

	// Entity/Key identify what was missing for not_found errors.
	Entity string `json:"entity,omitempty"`
	Key    string `json:"key,omitempty"`

	// CurrentVersion is set on conflict errors so the caller can
	// re-fetch and re-apply without a second round trip.
	CurrentVersion int `json:"current_version,omitempty"`

	// OpIndex is the index of the failing patch operation for
	// validation errors raised during patch application. -1 when the
	// error is not tied to a specific op.
	OpIndex int `json:"op_index"`

	// Cause is the underlying error, when there is one. For
	// capability errors it carries the capability's own detail.
	Cause error `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// NotFound builds a not_found error for the given entity and key.
func NotFound(entity, key string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Detail:  entity + " not found: " + key,
		Entity:  entity,
		Key:     key,
		OpIndex: -1,
	}
}

// Conflict builds a version-mismatch error carrying the current version.
func Conflict(expected, current int) *Error {
	return &Error{
		Kind:           KindConflict,
		Detail:         fmt.Sprintf("expected version %d but state is at version %d", expected, current),
		CurrentVersion: current,
		OpIndex:        -1,
	}
}

// Validation builds a validation error not tied to a patch op.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Detail: fmt.Sprintf(format, args...), OpIndex: -1}
}

// ValidationAt builds a validation error for the patch op at index.
func ValidationAt(index int, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Detail: fmt.Sprintf(format, args...), OpIndex: index}
}

// Capability wraps a capability's own failure.
func Capability(name string, cause error) *Error {
	return &Error{
		Kind:    KindCapability,
		Detail:  "capability " + name + " failed",
		Cause:   cause,
		OpIndex: -1,
	}
}

// Timeout builds a timeout error for a capability invocation.
func Timeout(name string, detail string) *Error {
	return &Error{Kind: KindTimeout, Detail: "capability " + name + " timed out: " + detail, OpIndex: -1}
}

// Limit builds a policy-limit error.
func Limit(format string, args ...any) *Error {
	return &Error{Kind: KindLimit, Detail: fmt.Sprintf(format, args...), OpIndex: -1}
}

// IsKind reports whether err is a relay error of the given kind.
func IsKind(err error, kind Kind) bool {
	re, ok := AsError(err)
	return ok && re.Kind == kind
}

// AsError unwraps err to a *Error if there is one in the chain.
func AsError(err error) (*Error, bool) {
	for err != nil {
		if re, ok := err.(*Error); ok {
			return re, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

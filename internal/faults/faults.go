// Package faults types the error kinds from the control plane's error
// handling design: every business rejection or operational fault carries a
// code, a user-facing message, and an audit payload instead of an opaque
// error string.
package faults

import "fmt"

// Kind names one of the conceptual error kinds. Business rejections
// (RateLimited, GateRejected, PanicActive) are never transport faults: the
// ingress pipeline turns them into a durable rejected Decision instead of
// propagating a Fault to the caller. The remaining kinds surface to callers
// or operators as described in their doc comment.
type Kind string

const (
	// KindInputInvalid is a malformed submit/admin request. Surfaced to the
	// caller; nothing is persisted.
	KindInputInvalid Kind = "input_invalid"
	// KindTenantForbidden is a tenant/profile ownership mismatch. Surfaced;
	// nothing is persisted.
	KindTenantForbidden Kind = "tenant_forbidden"
	// KindNotFound is a lookup miss on an entity the caller has no visibility
	// into either way (unknown tenant/profile/decision id). Surfaced as 404.
	KindNotFound Kind = "not_found"
	// KindIdempotencyKeyInvalid is an idempotency key that fails the shape
	// check (length bounds). Surfaced as 409, ahead of every other check.
	KindIdempotencyKeyInvalid Kind = "idempotency_key_invalid"
	// KindPoolFull is returned when connect() exceeds the configured cap.
	// Surfaced and raises an operational alert.
	KindPoolFull Kind = "pool_full"
	// KindBrokerRefused is an adapter error on connect/query. Surfaced; a
	// reconnect is scheduled.
	KindBrokerRefused Kind = "broker_refused"
	// KindInternal is any unexpected fault. Logged with a trace id, emitted
	// as a critical alert, and returned to the caller as a retryable
	// transport error.
	KindInternal Kind = "internal_fault"
)

// Fault is the typed error value carried for the kinds above. Gate/rate
// limit rejections are expressed as domain.Decision values, not Faults — see
// the ingress package.
type Fault struct {
	Kind      Kind
	Message   string
	Retryable bool
	Details   map[string]any
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func InputInvalid(msg string) *Fault {
	return &Fault{Kind: KindInputInvalid, Message: msg}
}

func TenantForbidden(msg string) *Fault {
	return &Fault{Kind: KindTenantForbidden, Message: msg}
}

func NotFound(msg string) *Fault {
	return &Fault{Kind: KindNotFound, Message: msg}
}

func IdempotencyKeyInvalid(msg string) *Fault {
	return &Fault{Kind: KindIdempotencyKeyInvalid, Message: msg}
}

func PoolFull(msg string) *Fault {
	return &Fault{Kind: KindPoolFull, Message: msg, Retryable: true}
}

func BrokerRefused(msg string) *Fault {
	return &Fault{Kind: KindBrokerRefused, Message: msg, Retryable: true}
}

func Internal(msg string) *Fault {
	return &Fault{Kind: KindInternal, Message: msg, Retryable: true}
}

// As reports whether err is a *Fault and, if so, returns it.
func As(err error) (*Fault, bool) {
	f, ok := err.(*Fault)
	return f, ok
}

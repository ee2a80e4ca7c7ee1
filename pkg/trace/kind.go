// Package trace defines the events emitted by instrumented code, the
// value-kind scheme used to describe object identities, and the wire
// protocol between rewritten units and the tracing sink.
package trace

import "fmt"

// Kind tells the sink how to interpret an identity slot. The numeric
// values are part of the wire protocol and must not change.
type Kind int32

const (
	// KindNormal identifies a concrete object; the payload is the object
	// itself (or null when it could not be determined).
	KindNormal Kind = 0

	// KindThis marks the receiver of a constructor before its superclass
	// constructor has returned. The payload is always null.
	KindThis Kind = 1

	// KindStatic marks a static context (no receiver). The payload is
	// always null.
	KindStatic Kind = 2

	// KindNotImplemented marks an identity the rewriter cannot supply.
	// The payload is always null.
	KindNotImplemented Kind = 3

	// KindJVMRoot marks the outermost caller, outside any traced method.
	// The payload is always null.
	KindJVMRoot Kind = 4
)

// String returns the protocol name of a kind.
func (k Kind) String() string {
	switch k {
	case KindNormal:
		return "NORMAL"
	case KindThis:
		return "THIS"
	case KindStatic:
		return "STATIC"
	case KindNotImplemented:
		return "NOT_IMPLEMENTED"
	case KindJVMRoot:
		return "JVM_ROOT"
	default:
		return fmt.Sprintf("Kind(%d)", int32(k))
	}
}

// Known reports whether k is one of the protocol kinds.
func (k Kind) Known() bool {
	return k >= KindNormal && k <= KindJVMRoot
}

// Ref is an identity slot: a kind paired with a payload.
type Ref struct {
	Kind  Kind
	Value any
}

// Normal returns a NORMAL reference to v.
func Normal(v any) Ref { return Ref{Kind: KindNormal, Value: v} }

// Marker returns a reference of kind k with a null payload.
func Marker(k Kind) Ref { return Ref{Kind: k} }

// Valid reports whether the reference respects kind exclusivity: only
// NORMAL may carry a non-null payload.
func (r Ref) Valid() bool {
	if !r.Kind.Known() {
		return false
	}
	return r.Kind == KindNormal || r.Value == nil
}

// String formats the reference for logs.
func (r Ref) String() string {
	if r.Kind != KindNormal {
		return r.Kind.String()
	}
	if r.Value == nil {
		return "null"
	}
	return fmt.Sprint(r.Value)
}

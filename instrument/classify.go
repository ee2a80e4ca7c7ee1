package instrument

import (
	"github.com/chazu/weave/pkg/bytecode"
	"github.com/chazu/weave/pkg/flow"
	"github.com/chazu/weave/pkg/trace"
)

// Payload says where the value of an identity comes from.
type Payload int

const (
	// PayloadNull passes null.
	PayloadNull Payload = iota
	// PayloadLocal loads the value from a local slot.
	PayloadLocal
	// PayloadStack uses a value already on the operand stack. The
	// rewriter that asked owns the shuffle that exposes it.
	PayloadStack
)

// Identity is the kind and payload reported for one identity slot of an
// event.
type Identity struct {
	Kind    trace.Kind
	Payload Payload
	Slot    int
}

var (
	nullIdentity    = Identity{Kind: trace.KindNormal}
	staticIdentity  = Identity{Kind: trace.KindStatic}
	thisIdentity    = Identity{Kind: trace.KindThis}
	pendingIdentity = Identity{Kind: trace.KindNotImplemented}
)

// ClassifyCaller classifies the receiver of the executing method m at a
// point whose frame is f.
func ClassifyCaller(m *bytecode.Method, f *flow.Frame) Identity {
	switch {
	case f == nil:
		return nullIdentity
	case m.IsStatic():
		return staticIdentity
	}
	return ClassifyLocal(f, 0)
}

// ClassifyLocal classifies the value held by local slot.
func ClassifyLocal(f *flow.Frame, slot int) Identity {
	if f == nil {
		return nullIdentity
	}
	switch t := f.Local(slot); t.Kind {
	case flow.UninitializedThis:
		return thisIdentity
	case flow.Uninitialized:
		return pendingIdentity
	case flow.Reference:
		return Identity{Kind: trace.KindNormal, Payload: PayloadLocal, Slot: slot}
	}
	// Top and null are indistinguishable here, and a primitive in slot 0
	// of an instance method has no identity.
	return nullIdentity
}

// ClassifyStack classifies the n-th value from the top of the stack.
func ClassifyStack(f *flow.Frame, n int) Identity {
	if f == nil {
		return nullIdentity
	}
	switch t := f.Peek(n); t.Kind {
	case flow.UninitializedThis:
		return thisIdentity
	case flow.Uninitialized:
		return pendingIdentity
	case flow.Reference, flow.Null:
		return Identity{Kind: trace.KindNormal, Payload: PayloadStack}
	}
	return nullIdentity
}

// Emit pushes the kind followed by the payload. For PayloadStack only the
// kind is pushed.
func (id Identity) Emit(b *bytecode.Builder) {
	pushKind(b, id.Kind)
	switch id.Payload {
	case PayloadNull:
		b.Emit(bytecode.OpAConstNull)
	case PayloadLocal:
		b.EmitVar(bytecode.OpALoad, id.Slot)
	}
}

// Package flow computes, for every instruction of a method, the types held
// by the operand stack and the local variables just before the instruction
// executes. It answers the questions the rewriter needs ("is this slot a
// reference?", "is the receiver initialized?"), verifies rewritten code, and
// recomputes the maximum stack depth and local count.
package flow

import (
	"fmt"
	"strings"

	"github.com/chazu/weave/pkg/bytecode"
)

// TypeKind distinguishes verifier types.
type TypeKind uint8

const (
	// Top is an unusable slot: an unassigned local, a local whose
	// assignments disagree, or the second half of a long or double.
	Top TypeKind = iota
	Int
	Float
	Long
	Double
	Null
	Reference
	// UninitializedThis is the receiver of a constructor before the
	// superclass constructor has returned.
	UninitializedThis
	// Uninitialized is an object allocated by NEW and not yet constructed.
	Uninitialized
)

// Type is the verifier type of one slot.
type Type struct {
	Kind TypeKind
	Desc string // Reference and Uninitialized: descriptor of the class
	Site int    // Uninitialized: index of the NEW instruction
}

// Common types.
var (
	TopType        = Type{Kind: Top}
	IntType        = Type{Kind: Int}
	FloatType      = Type{Kind: Float}
	LongType       = Type{Kind: Long}
	DoubleType     = Type{Kind: Double}
	NullType       = Type{Kind: Null}
	UninitThisType = Type{Kind: UninitializedThis}
)

// Ref returns the reference type with the given descriptor.
func Ref(desc string) Type {
	return Type{Kind: Reference, Desc: desc}
}

// FromDesc maps a field type descriptor to its verifier type. Booleans,
// bytes, chars and shorts are ints on the stack.
func FromDesc(desc string) Type {
	switch desc {
	case "Z", "B", "C", "S", "I":
		return IntType
	case "F":
		return FloatType
	case "J":
		return LongType
	case "D":
		return DoubleType
	default:
		return Ref(desc)
	}
}

// Size returns the number of slots a value of this type occupies.
func (t Type) Size() int {
	if t.Kind == Long || t.Kind == Double {
		return 2
	}
	return 1
}

// IsReference reports whether the slot holds a reference, including null
// and uninitialized objects.
func (t Type) IsReference() bool {
	switch t.Kind {
	case Reference, Null, UninitializedThis, Uninitialized:
		return true
	}
	return false
}

// IsArray reports whether t is a reference to an array.
func (t Type) IsArray() bool {
	return t.Kind == Reference && bytecode.IsArray(t.Desc)
}

// Descriptor returns the descriptor of the value held, for sink calls.
// Null and Top have none.
func (t Type) Descriptor() string {
	switch t.Kind {
	case Int:
		return "I"
	case Float:
		return "F"
	case Long:
		return "J"
	case Double:
		return "D"
	case Reference, Uninitialized:
		return t.Desc
	}
	return ""
}

func (t Type) String() string {
	switch t.Kind {
	case Top:
		return "T"
	case Int:
		return "I"
	case Float:
		return "F"
	case Long:
		return "J"
	case Double:
		return "D"
	case Null:
		return "null"
	case Reference:
		return t.Desc
	case UninitializedThis:
		return "uninit(this)"
	case Uninitialized:
		return fmt.Sprintf("uninit(%s@%d)", t.Desc, t.Site)
	}
	return fmt.Sprintf("Type(%d)", t.Kind)
}

// Frame holds the slot types before one instruction. Long and double
// values occupy two slots, the second being Top.
type Frame struct {
	Locals []Type
	Stack  []Type
}

// Clone returns an independent copy of the frame.
func (f *Frame) Clone() *Frame {
	return &Frame{
		Locals: append([]Type(nil), f.Locals...),
		Stack:  append([]Type(nil), f.Stack...),
	}
}

// Depth returns the stack depth in slots.
func (f *Frame) Depth() int {
	return len(f.Stack)
}

// Local returns the type of local slot i, Top if beyond the frame.
func (f *Frame) Local(i int) Type {
	if i < 0 || i >= len(f.Locals) {
		return TopType
	}
	return f.Locals[i]
}

// Peek returns the n-th value from the top of the stack (0 is the top),
// counting long and double values once. It returns Top when the stack is
// not deep enough.
func (f *Frame) Peek(n int) Type {
	i := len(f.Stack) - 1
	for ; i >= 0; i-- {
		t := f.Stack[i]
		if t.Kind == Top && i > 0 && f.Stack[i-1].Size() == 2 {
			i--
			t = f.Stack[i]
		}
		if n == 0 {
			return t
		}
		n--
	}
	return TopType
}

// PeekWidth returns the slot width of the n-th value from the top.
func (f *Frame) PeekWidth(n int) int {
	return f.Peek(n).Size()
}

func (f *Frame) String() string {
	var sb strings.Builder
	sb.WriteString("locals=[")
	for i, t := range f.Locals {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(t.String())
	}
	sb.WriteString("] stack=[")
	for i, t := range f.Stack {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(t.String())
	}
	sb.WriteString("]")
	return sb.String()
}

// Error reports code the analyzer cannot accept.
type Error struct {
	Method string
	Index  int
	Insn   string
	Msg    string
}

func (e *Error) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("flow: %s: %s", e.Method, e.Msg)
	}
	return fmt.Sprintf("flow: %s at %d (%s): %s", e.Method, e.Index, e.Insn, e.Msg)
}

package bytecode

import (
	"fmt"
	"strconv"
)

// OpPseudo is reported by pseudo-instructions (labels and line markers)
// which occupy a position in the instruction stream but execute nothing.
const OpPseudo Opcode = 0xFF

// Label identifies a position in a method's instruction stream. Labels
// are allocated per method by Method.NewLabel and placed with a LabelInsn.
type Label int

// String returns the label in listing form ("L3").
func (l Label) String() string {
	return "L" + strconv.Itoa(int(l))
}

// Insn is one element of an instruction stream. The set of implementations
// is closed: every instruction is one of the variants below.
type Insn interface {
	Op() Opcode
	isInsn()
}

// Simple is an instruction without operands (arithmetic, stack
// manipulation, array access, returns, ATHROW, ...).
type Simple struct {
	Opcode Opcode
}

// IntInsn carries an immediate integer: BIPUSH, SIPUSH, or NEWARRAY with a
// T* array type code.
type IntInsn struct {
	Opcode  Opcode
	Operand int
}

// VarInsn loads or stores a local variable slot.
type VarInsn struct {
	Opcode Opcode
	Var    int
}

// TypeInsn references a type by internal name or array descriptor:
// NEW, ANEWARRAY, CHECKCAST, INSTANCEOF.
type TypeInsn struct {
	Opcode Opcode
	Type   string
}

// FieldInsn accesses a field declared by Owner.
type FieldInsn struct {
	Opcode Opcode
	Owner  string
	Name   string
	Desc   string
}

// MethodInsn invokes a method declared by Owner.
type MethodInsn struct {
	Opcode Opcode
	Owner  string
	Name   string
	Desc   string
}

// JumpInsn is a conditional or unconditional branch.
type JumpInsn struct {
	Opcode Opcode
	Target Label
}

// LdcInsn pushes a constant. Value is one of int32, int64, float32,
// float64 or string.
type LdcInsn struct {
	Value any
}

// IincInsn increments an int local in place.
type IincInsn struct {
	Var  int
	Incr int
}

// SwitchInsn is a TABLESWITCH or LOOKUPSWITCH. Keys[i] branches to
// Targets[i]; any other key branches to Default.
type SwitchInsn struct {
	Opcode  Opcode
	Default Label
	Keys    []int
	Targets []Label
}

// LabelInsn places a label at this position.
type LabelInsn struct {
	Label Label
}

// LineInsn marks the following instructions as belonging to a source line.
type LineInsn struct {
	Line int
}

func (i Simple) Op() Opcode     { return i.Opcode }
func (i IntInsn) Op() Opcode    { return i.Opcode }
func (i VarInsn) Op() Opcode    { return i.Opcode }
func (i TypeInsn) Op() Opcode   { return i.Opcode }
func (i FieldInsn) Op() Opcode  { return i.Opcode }
func (i MethodInsn) Op() Opcode { return i.Opcode }
func (i JumpInsn) Op() Opcode   { return i.Opcode }
func (i LdcInsn) Op() Opcode    { return OpLdc }
func (i IincInsn) Op() Opcode   { return OpIInc }
func (i SwitchInsn) Op() Opcode { return i.Opcode }
func (i LabelInsn) Op() Opcode  { return OpPseudo }
func (i LineInsn) Op() Opcode   { return OpPseudo }

func (Simple) isInsn()     {}
func (IntInsn) isInsn()    {}
func (VarInsn) isInsn()    {}
func (TypeInsn) isInsn()   {}
func (FieldInsn) isInsn()  {}
func (MethodInsn) isInsn() {}
func (JumpInsn) isInsn()   {}
func (LdcInsn) isInsn()    {}
func (IincInsn) isInsn()   {}
func (SwitchInsn) isInsn() {}
func (LabelInsn) isInsn()  {}
func (LineInsn) isInsn()   {}

// IsPseudo reports whether insn is a label or line marker.
func IsPseudo(insn Insn) bool {
	return insn.Op() == OpPseudo
}

// LdcSize returns the number of stack slots pushed by an LDC of value.
func LdcSize(value any) (int, error) {
	switch value.(type) {
	case int32, float32, string:
		return 1, nil
	case int64, float64:
		return 2, nil
	default:
		return 0, fmt.Errorf("unsupported LDC constant %T", value)
	}
}

// FormatInsn renders a single instruction for listings and error messages.
func FormatInsn(insn Insn) string {
	switch i := insn.(type) {
	case Simple:
		return i.Opcode.String()
	case IntInsn:
		if i.Opcode == OpNewArray {
			if desc, err := ArrayTypeCode(i.Operand); err == nil {
				return fmt.Sprintf("%s %s", i.Opcode, desc[1:])
			}
		}
		return fmt.Sprintf("%s %d", i.Opcode, i.Operand)
	case VarInsn:
		return fmt.Sprintf("%s %d", i.Opcode, i.Var)
	case TypeInsn:
		return fmt.Sprintf("%s %s", i.Opcode, i.Type)
	case FieldInsn:
		return fmt.Sprintf("%s %s.%s : %s", i.Opcode, i.Owner, i.Name, i.Desc)
	case MethodInsn:
		return fmt.Sprintf("%s %s.%s%s", i.Opcode, i.Owner, i.Name, i.Desc)
	case JumpInsn:
		return fmt.Sprintf("%s %s", i.Opcode, i.Target)
	case LdcInsn:
		switch v := i.Value.(type) {
		case string:
			return fmt.Sprintf("LDC %q", v)
		case int64:
			return fmt.Sprintf("LDC %dL", v)
		case float32:
			return fmt.Sprintf("LDC %gF", v)
		case float64:
			return fmt.Sprintf("LDC %gD", v)
		default:
			return fmt.Sprintf("LDC %v", v)
		}
	case IincInsn:
		return fmt.Sprintf("IINC %d %d", i.Var, i.Incr)
	case SwitchInsn:
		s := i.Opcode.String()
		for k, key := range i.Keys {
			s += fmt.Sprintf(" %d:%s", key, i.Targets[k])
		}
		return s + " default:" + i.Default.String()
	case LabelInsn:
		return i.Label.String() + ":"
	case LineInsn:
		return fmt.Sprintf("LINE %d", i.Line)
	default:
		return fmt.Sprintf("<unknown %T>", insn)
	}
}

// CloneInsn returns a copy of insn that shares no mutable state with it.
func CloneInsn(insn Insn) Insn {
	if sw, ok := insn.(SwitchInsn); ok {
		sw.Keys = append([]int(nil), sw.Keys...)
		sw.Targets = append([]Label(nil), sw.Targets...)
		return sw
	}
	return insn
}

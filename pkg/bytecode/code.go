package bytecode

import "math"

// Builder accumulates an instruction stream for a method. Labels are
// allocated from the method so that they never collide with labels
// already placed in its code.
type Builder struct {
	method *Method
	code   []Insn
}

// NewBuilder creates a builder whose labels come from m.
func NewBuilder(m *Method) *Builder {
	return &Builder{method: m, code: make([]Insn, 0, 64)}
}

// Emit appends an operand-less instruction.
func (b *Builder) Emit(op Opcode) *Builder {
	b.code = append(b.code, Simple{Opcode: op})
	return b
}

// EmitInsn appends an already constructed instruction.
func (b *Builder) EmitInsn(insns ...Insn) *Builder {
	b.code = append(b.code, insns...)
	return b
}

// EmitInt appends BIPUSH, SIPUSH or NEWARRAY with an immediate operand.
func (b *Builder) EmitInt(op Opcode, operand int) *Builder {
	b.code = append(b.code, IntInsn{Opcode: op, Operand: operand})
	return b
}

// EmitPushInt appends the shortest instruction that pushes v.
func (b *Builder) EmitPushInt(v int) *Builder {
	switch {
	case v >= -1 && v <= 5:
		b.code = append(b.code, Simple{Opcode: OpIConstM1 + Opcode(v+1)})
	case v >= math.MinInt8 && v <= math.MaxInt8:
		b.code = append(b.code, IntInsn{Opcode: OpBIPush, Operand: v})
	case v >= math.MinInt16 && v <= math.MaxInt16:
		b.code = append(b.code, IntInsn{Opcode: OpSIPush, Operand: v})
	default:
		b.code = append(b.code, LdcInsn{Value: int32(v)})
	}
	return b
}

// EmitVar appends a local variable load or store.
func (b *Builder) EmitVar(op Opcode, slot int) *Builder {
	b.code = append(b.code, VarInsn{Opcode: op, Var: slot})
	return b
}

// EmitType appends NEW, ANEWARRAY, CHECKCAST or INSTANCEOF.
func (b *Builder) EmitType(op Opcode, typ string) *Builder {
	b.code = append(b.code, TypeInsn{Opcode: op, Type: typ})
	return b
}

// EmitField appends a field access.
func (b *Builder) EmitField(op Opcode, owner, name, desc string) *Builder {
	b.code = append(b.code, FieldInsn{Opcode: op, Owner: owner, Name: name, Desc: desc})
	return b
}

// EmitInvoke appends a method invocation.
func (b *Builder) EmitInvoke(op Opcode, owner, name, desc string) *Builder {
	b.code = append(b.code, MethodInsn{Opcode: op, Owner: owner, Name: name, Desc: desc})
	return b
}

// EmitLdc appends an LDC of v.
func (b *Builder) EmitLdc(v any) *Builder {
	b.code = append(b.code, LdcInsn{Value: v})
	return b
}

// EmitString appends an LDC of a string constant.
func (b *Builder) EmitString(s string) *Builder {
	return b.EmitLdc(s)
}

// EmitIinc appends IINC.
func (b *Builder) EmitIinc(slot, incr int) *Builder {
	b.code = append(b.code, IincInsn{Var: slot, Incr: incr})
	return b
}

// EmitJump appends a branch to target.
func (b *Builder) EmitJump(op Opcode, target Label) *Builder {
	b.code = append(b.code, JumpInsn{Opcode: op, Target: target})
	return b
}

// EmitSwitch appends a LOOKUPSWITCH (or TABLESWITCH when the keys are
// consecutive).
func (b *Builder) EmitSwitch(keys []int, targets []Label, dflt Label) *Builder {
	op := OpLookupSwitch
	if consecutive(keys) {
		op = OpTableSwitch
	}
	b.code = append(b.code, SwitchInsn{
		Opcode:  op,
		Default: dflt,
		Keys:    append([]int(nil), keys...),
		Targets: append([]Label(nil), targets...),
	})
	return b
}

func consecutive(keys []int) bool {
	for i := 1; i < len(keys); i++ {
		if keys[i] != keys[i-1]+1 {
			return false
		}
	}
	return len(keys) > 0
}

// NewLabel allocates a fresh label from the method.
func (b *Builder) NewLabel() Label {
	return b.method.NewLabel()
}

// Mark places label at the current position.
func (b *Builder) Mark(l Label) *Builder {
	b.code = append(b.code, LabelInsn{Label: l})
	return b
}

// Line appends a source line marker.
func (b *Builder) Line(line int) *Builder {
	b.code = append(b.code, LineInsn{Line: line})
	return b
}

// Len returns the number of instructions emitted so far.
func (b *Builder) Len() int {
	return len(b.code)
}

// Code returns the accumulated stream.
func (b *Builder) Code() []Insn {
	return b.code
}

// Take returns the accumulated stream and starts a new one. Label
// allocation is unaffected.
func (b *Builder) Take() []Insn {
	code := b.code
	b.code = make([]Insn, 0, 16)
	return code
}

package interp

import (
	"errors"
	"fmt"

	"github.com/chazu/weave/pkg/bytecode"
	"github.com/chazu/weave/pkg/trace"
)

// frame is the activation of one method. Stack and locals hold slots: a
// long or double is followed by a wide marker.
type frame struct {
	vm     *VM
	unit   *bytecode.Unit
	method *bytecode.Method
	labels map[bytecode.Label]int

	locals []any
	stack  []any

	pc     int
	next   int
	done   bool
	result any
	err    error
}

func (f *frame) run() (any, error) {
	code := f.method.Code
	for {
		if f.pc >= len(code) {
			return nil, f.fault(fmt.Errorf("execution falls off the end of the code"))
		}
		insn := code[f.pc]
		if f.vm.Trace && !bytecode.IsPseudo(insn) {
			log.Debugf("%s.%s %04d %-32s depth=%d", f.unit.Name, f.method.Name, f.pc, bytecode.FormatInsn(insn), len(f.stack))
		}

		f.next = f.pc + 1
		f.err = nil
		f.step(insn)

		if err := f.err; err != nil {
			if exc, ok := IsThrown(err); ok {
				if h, ok := f.handler(exc); ok {
					f.stack = []any{exc}
					f.pc = h
					continue
				}
				return nil, err
			}
			var fault *Fault
			if errors.As(err, &fault) {
				return nil, err
			}
			return nil, f.fault(err)
		}
		if f.done {
			return f.result, nil
		}
		f.pc = f.next
	}
}

func (f *frame) fault(err error) error {
	fault := &Fault{Unit: f.unit.Name, Method: f.method.Name + f.method.Desc, Index: f.pc, Err: err}
	if f.pc < len(f.method.Code) {
		fault.Insn = bytecode.FormatInsn(f.method.Code[f.pc])
	}
	return fault
}

// handler returns the index of the first handler covering the current
// instruction that catches exc.
func (f *frame) handler(exc *Object) (int, bool) {
	for _, tc := range f.method.TryCatch {
		start, end := f.labels[tc.Start], f.labels[tc.End]
		if f.pc < start || f.pc >= end {
			continue
		}
		if tc.Type == "" || f.vm.isInstance(exc.Class, tc.Type) {
			return f.labels[tc.Handler], true
		}
	}
	return 0, false
}

func (f *frame) fail(format string, args ...any) {
	if f.err == nil {
		f.err = fmt.Errorf(format, args...)
	}
}

func (f *frame) raise(class, msg string) {
	if f.err == nil {
		f.err = f.vm.throw(class, msg)
	}
}

func (f *frame) push(v any) {
	f.stack = append(f.stack, v)
	if isWide(v) {
		f.stack = append(f.stack, wide{})
	}
}

func (f *frame) popSlot() any {
	if len(f.stack) == 0 {
		f.fail("stack underflow")
		return nil
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

func (f *frame) pop() any {
	v := f.popSlot()
	if _, ok := v.(wide); ok {
		return f.popSlot()
	}
	return v
}

func (f *frame) popInt() int32 {
	v := f.pop()
	i, ok := v.(int32)
	if !ok && f.err == nil {
		f.fail("expected int on the stack, found %T", v)
	}
	return i
}

func (f *frame) popLong() int64 {
	v := f.pop()
	l, ok := v.(int64)
	if !ok && f.err == nil {
		f.fail("expected long on the stack, found %T", v)
	}
	return l
}

func (f *frame) popRef() any {
	v := f.pop()
	switch v.(type) {
	case nil, *Object, *Array, string:
	default:
		f.fail("expected a reference on the stack, found %T", v)
	}
	return v
}

// popArray pops an array reference, raising NullPointerException on null.
func (f *frame) popArray() *Array {
	v := f.popRef()
	if f.err != nil {
		return nil
	}
	if v == nil {
		f.raise(NullPointerException, "array is null")
		return nil
	}
	arr, ok := v.(*Array)
	if !ok {
		f.fail("expected an array on the stack, found %s", classOf(v))
	}
	return arr
}

func (f *frame) local(i int) any {
	if i < 0 || i >= len(f.locals) {
		f.fail("local %d is undefined", i)
		return nil
	}
	return f.locals[i]
}

func (f *frame) setLocal(i int, v any) {
	need := i + 1
	if isWide(v) {
		need++
	}
	for len(f.locals) < need {
		f.locals = append(f.locals, nil)
	}
	f.locals[i] = v
	if isWide(v) {
		f.locals[i+1] = wide{}
	}
}

func (f *frame) jump(l bytecode.Label) {
	t, ok := f.labels[l]
	if !ok {
		f.fail("branch to unplaced label %s", l)
		return
	}
	f.next = t
}

// shuffle replaces the top depth slots by picks of them, 0 being the
// deepest.
func (f *frame) shuffle(depth int, picks ...int) {
	if len(f.stack) < depth {
		f.fail("stack underflow")
		return
	}
	top := append([]any(nil), f.stack[len(f.stack)-depth:]...)
	f.stack = f.stack[:len(f.stack)-depth]
	for _, p := range picks {
		f.stack = append(f.stack, top[p])
	}
}

func (f *frame) step(insn bytecode.Insn) {
	switch x := insn.(type) {
	case bytecode.LabelInsn, bytecode.LineInsn:
	case bytecode.IntInsn:
		switch x.Opcode {
		case bytecode.OpBIPush, bytecode.OpSIPush:
			f.push(int32(x.Operand))
		case bytecode.OpNewArray:
			desc, err := bytecode.ArrayTypeCode(x.Operand)
			if err != nil {
				f.fail("%v", err)
				return
			}
			f.newArray(desc)
		default:
			f.fail("unexpected operand form for %s", x.Opcode)
		}
	case bytecode.VarInsn:
		if x.Opcode >= bytecode.OpIStore {
			f.setLocal(x.Var, f.pop())
		} else {
			f.push(f.local(x.Var))
		}
	case bytecode.IincInsn:
		v, ok := f.local(x.Var).(int32)
		if !ok {
			f.fail("local %d does not hold an int", x.Var)
			return
		}
		f.locals[x.Var] = v + int32(x.Incr)
	case bytecode.LdcInsn:
		f.push(x.Value)
	case bytecode.TypeInsn:
		f.stepType(x)
	case bytecode.FieldInsn:
		f.stepField(x)
	case bytecode.MethodInsn:
		f.invoke(x)
	case bytecode.JumpInsn:
		f.stepJump(x)
	case bytecode.SwitchInsn:
		key := int(f.popInt())
		target := x.Default
		for i, k := range x.Keys {
			if k == key {
				target = x.Targets[i]
				break
			}
		}
		f.jump(target)
	case bytecode.Simple:
		f.stepSimple(x.Opcode)
	default:
		f.fail("unknown instruction %T", insn)
	}
}

func (f *frame) newArray(desc string) {
	n := f.popInt()
	if f.err != nil {
		return
	}
	if n < 0 {
		f.raise(NegativeArraySizeException, fmt.Sprint(n))
		return
	}
	f.push(f.vm.newArray(desc, int(n)))
}

func (f *frame) stepType(x bytecode.TypeInsn) {
	switch x.Opcode {
	case bytecode.OpNew:
		if err := f.vm.ensureInit(x.Type); err != nil {
			f.err = err
			return
		}
		f.push(f.vm.newObject(x.Type))
	case bytecode.OpANewArray:
		f.newArray("[" + bytecode.ClassDesc(x.Type))
	case bytecode.OpCheckCast:
		v := f.popRef()
		if v != nil && !f.vm.isInstance(classOf(v), x.Type) {
			f.raise(ClassCastException, classOf(v)+" cannot be cast to "+x.Type)
			return
		}
		f.push(v)
	case bytecode.OpInstanceOf:
		v := f.popRef()
		if v != nil && f.vm.isInstance(classOf(v), x.Type) {
			f.push(int32(1))
		} else {
			f.push(int32(0))
		}
	default:
		f.fail("%s does not take a type operand", x.Opcode)
	}
}

func (f *frame) stepField(x bytecode.FieldInsn) {
	switch x.Opcode {
	case bytecode.OpGetStatic:
		v, err := f.vm.Static(x.Owner, x.Name)
		if err != nil {
			f.err = err
			return
		}
		if v == nil {
			v = zero(x.Desc)
		}
		f.push(v)
	case bytecode.OpPutStatic:
		v := f.pop()
		if err := f.vm.ensureInit(x.Owner); err != nil {
			f.err = err
			return
		}
		f.vm.setStatic(x.Owner, x.Name, v)
	case bytecode.OpGetField:
		o := f.object("read field " + x.Name)
		if o == nil {
			return
		}
		v, ok := o.Fields[x.Name]
		if !ok {
			v = zero(x.Desc)
		}
		f.push(v)
	case bytecode.OpPutField:
		v := f.pop()
		if o := f.object("write field " + x.Name); o != nil {
			o.Fields[x.Name] = v
		}
	default:
		f.fail("%s is not a field instruction", x.Opcode)
	}
}

// object pops the holder of a field access.
func (f *frame) object(what string) *Object {
	v := f.popRef()
	if f.err != nil {
		return nil
	}
	if v == nil {
		f.raise(NullPointerException, "cannot "+what)
		return nil
	}
	o, ok := v.(*Object)
	if !ok {
		f.fail("%s has no fields", classOf(v))
	}
	return o
}

func (f *frame) invoke(x bytecode.MethodInsn) {
	argTypes, err := bytecode.ArgumentTypes(x.Desc)
	if err != nil {
		f.fail("%v", err)
		return
	}
	ret, err := bytecode.ReturnType(x.Desc)
	if err != nil {
		f.fail("%v", err)
		return
	}
	args := make([]any, len(argTypes))
	for i := len(args) - 1; i >= 0; i-- {
		args[i] = f.pop()
	}
	if x.Opcode == bytecode.OpInvokeStatic && x.Owner == trace.Owner {
		if !trace.IsSinkCall(x.Owner, x.Name, x.Desc) {
			f.fail("unknown sink function %s%s", x.Name, x.Desc)
			return
		}
		if err := trace.Dispatch(f.vm.sink, x.Name, args); err != nil {
			f.fail("%v", err)
		}
		return
	}
	if x.Opcode != bytecode.OpInvokeStatic {
		recv := f.popRef()
		if f.err != nil {
			return
		}
		if recv == nil {
			f.raise(NullPointerException, "cannot invoke "+x.Name)
			return
		}
		args = append([]any{recv}, args...)
	}
	if f.err != nil {
		return
	}

	if fn, ok := f.vm.natives[nativeKey(x.Owner, x.Name, x.Desc)]; ok {
		v, err := fn(args)
		f.returned(ret, v, err)
		return
	}

	var u *bytecode.Unit
	var m *bytecode.Method
	switch x.Opcode {
	case bytecode.OpInvokeStatic:
		if err := f.vm.ensureInit(x.Owner); err != nil {
			f.err = err
			return
		}
		u, m = f.vm.resolve(x.Owner, x.Name, x.Desc)
	case bytecode.OpInvokeSpecial:
		u, m = f.vm.resolve(x.Owner, x.Name, x.Desc)
		if m == nil && x.Name == bytecode.ConstructorName {
			if _, known := f.vm.super(x.Owner); known || x.Owner == bytecode.ObjectClass {
				f.builtinInit(args)
				return
			}
		}
	case bytecode.OpInvokeVirtual:
		u, m = f.vm.resolve(classOf(args[0]), x.Name, x.Desc)
	default:
		f.fail("%s is not an invocation", x.Opcode)
		return
	}
	if m == nil {
		f.fail("no method %s.%s%s", x.Owner, x.Name, x.Desc)
		return
	}
	v, err := f.vm.call(u, m, args)
	f.returned(ret, v, err)
}

func (f *frame) returned(ret string, v any, err error) {
	if err != nil {
		f.err = err
		return
	}
	if ret != "V" {
		f.push(v)
	}
}

// builtinInit constructs an instance of a class the interpreter knows
// without code. A single string argument becomes the message.
func (f *frame) builtinInit(args []any) {
	o, ok := args[0].(*Object)
	if !ok {
		f.fail("constructor invoked on %s", classOf(args[0]))
		return
	}
	if len(args) == 2 {
		if msg, ok := args[1].(string); ok {
			o.Fields["message"] = msg
		}
	}
}

func (f *frame) stepJump(x bytecode.JumpInsn) {
	var taken bool
	switch {
	case x.Opcode == bytecode.OpGoto:
		taken = true
	case x.Opcode >= bytecode.OpIfEq && x.Opcode <= bytecode.OpIfLe:
		taken = compare(x.Opcode-bytecode.OpIfEq, f.popInt(), 0)
	case x.Opcode >= bytecode.OpIfICmpEq && x.Opcode <= bytecode.OpIfICmpLe:
		b := f.popInt()
		a := f.popInt()
		taken = compare(x.Opcode-bytecode.OpIfICmpEq, a, b)
	case x.Opcode == bytecode.OpIfACmpEq || x.Opcode == bytecode.OpIfACmpNe:
		b := f.popRef()
		a := f.popRef()
		taken = (a == b) == (x.Opcode == bytecode.OpIfACmpEq)
	case x.Opcode == bytecode.OpIfNull:
		taken = f.popRef() == nil
	case x.Opcode == bytecode.OpIfNonNull:
		taken = f.popRef() != nil
	default:
		f.fail("%s is not a branch", x.Opcode)
		return
	}
	if taken && f.err == nil {
		f.jump(x.Target)
	}
}

// compare evaluates the condition at offset cond from IFEQ.
func compare(cond bytecode.Opcode, a, b int32) bool {
	switch cond {
	case 0:
		return a == b
	case 1:
		return a != b
	case 2:
		return a < b
	case 3:
		return a >= b
	case 4:
		return a > b
	default:
		return a <= b
	}
}

func (f *frame) stepSimple(op bytecode.Opcode) {
	switch op {
	case bytecode.OpNop:
	case bytecode.OpAConstNull:
		f.push(nil)
	case bytecode.OpIConstM1, bytecode.OpIConst0, bytecode.OpIConst1, bytecode.OpIConst2,
		bytecode.OpIConst3, bytecode.OpIConst4, bytecode.OpIConst5:
		f.push(int32(op) - int32(bytecode.OpIConst0))
	case bytecode.OpLConst0, bytecode.OpLConst1:
		f.push(int64(op - bytecode.OpLConst0))
	case bytecode.OpFConst0:
		f.push(float32(0))
	case bytecode.OpDConst0:
		f.push(float64(0))

	case bytecode.OpIALoad, bytecode.OpLALoad, bytecode.OpFALoad, bytecode.OpDALoad,
		bytecode.OpAALoad, bytecode.OpBALoad, bytecode.OpCALoad, bytecode.OpSALoad:
		idx := f.popInt()
		arr := f.popArray()
		if arr == nil || f.err != nil {
			return
		}
		if idx < 0 || int(idx) >= len(arr.Elems) {
			f.raise(ArrayIndexOutOfBoundsException, fmt.Sprint(idx))
			return
		}
		f.push(arr.Elems[idx])
	case bytecode.OpIAStore, bytecode.OpLAStore, bytecode.OpFAStore, bytecode.OpDAStore,
		bytecode.OpAAStore, bytecode.OpBAStore, bytecode.OpCAStore, bytecode.OpSAStore:
		v := f.pop()
		idx := f.popInt()
		arr := f.popArray()
		if arr == nil || f.err != nil {
			return
		}
		if idx < 0 || int(idx) >= len(arr.Elems) {
			f.raise(ArrayIndexOutOfBoundsException, fmt.Sprint(idx))
			return
		}
		if i, ok := v.(int32); ok {
			v = narrow(arr.Desc[1:], i)
		}
		arr.Elems[idx] = v

	case bytecode.OpPop:
		f.shuffle(1)
	case bytecode.OpPop2:
		f.shuffle(2)
	case bytecode.OpDup:
		f.shuffle(1, 0, 0)
	case bytecode.OpDupX1:
		f.shuffle(2, 1, 0, 1)
	case bytecode.OpDupX2:
		f.shuffle(3, 2, 0, 1, 2)
	case bytecode.OpDup2:
		f.shuffle(2, 0, 1, 0, 1)
	case bytecode.OpDup2X1:
		f.shuffle(3, 1, 2, 0, 1, 2)
	case bytecode.OpDup2X2:
		f.shuffle(4, 2, 3, 0, 1, 2, 3)
	case bytecode.OpSwap:
		f.shuffle(2, 1, 0)

	case bytecode.OpIAdd:
		b, a := f.popInt(), f.popInt()
		f.push(a + b)
	case bytecode.OpISub:
		b, a := f.popInt(), f.popInt()
		f.push(a - b)
	case bytecode.OpIMul:
		b, a := f.popInt(), f.popInt()
		f.push(a * b)
	case bytecode.OpIDiv, bytecode.OpIRem:
		b, a := f.popInt(), f.popInt()
		if f.err != nil {
			return
		}
		if b == 0 {
			f.raise(ArithmeticException, "/ by zero")
			return
		}
		if op == bytecode.OpIDiv {
			f.push(a / b)
		} else {
			f.push(a % b)
		}
	case bytecode.OpLAdd:
		b, a := f.popLong(), f.popLong()
		f.push(a + b)
	case bytecode.OpINeg:
		f.push(-f.popInt())
	case bytecode.OpI2L:
		f.push(int64(f.popInt()))
	case bytecode.OpL2I:
		f.push(int32(f.popLong()))

	case bytecode.OpIReturn, bytecode.OpLReturn, bytecode.OpFReturn, bytecode.OpDReturn, bytecode.OpAReturn:
		f.result = f.pop()
		f.done = true
	case bytecode.OpReturn:
		f.done = true
	case bytecode.OpArrayLength:
		if arr := f.popArray(); arr != nil {
			f.push(int32(len(arr.Elems)))
		}
	case bytecode.OpAThrow:
		v := f.popRef()
		if f.err != nil {
			return
		}
		switch exc := v.(type) {
		case nil:
			f.raise(NullPointerException, "cannot throw null")
		case *Object:
			f.err = &ThrownError{Exception: exc}
		default:
			f.fail("cannot throw %s", classOf(v))
		}
	default:
		f.fail("unsupported instruction %s", op)
	}
}

package flow

import (
	"fmt"

	"github.com/chazu/weave/pkg/bytecode"
)

// Result holds the frames of one analyzed method.
type Result struct {
	// Frames[i] is the frame before instruction i, nil if i is unreachable.
	Frames    []*Frame
	MaxStack  int
	MaxLocals int
}

// At returns the frame before instruction i, or nil if it is unreachable.
func (r *Result) At(i int) *Frame {
	if i < 0 || i >= len(r.Frames) {
		return nil
	}
	return r.Frames[i]
}

// Analyze computes the frames of m, declared by the unit named owner.
// Methods without code yield an empty result.
func Analyze(owner string, m *bytecode.Method) (*Result, error) {
	a := &analyzer{owner: owner, method: m, code: m.Code}
	if err := a.run(); err != nil {
		return nil, err
	}
	return &Result{Frames: a.frames, MaxStack: a.maxStack, MaxLocals: a.maxLocals}, nil
}

// Verify analyzes m and reports the first error, if any.
func Verify(owner string, m *bytecode.Method) error {
	_, err := Analyze(owner, m)
	return err
}

// ComputeMaxs recomputes and stores m.MaxStack and m.MaxLocals.
func ComputeMaxs(owner string, m *bytecode.Method) error {
	if !m.HasCode() {
		return nil
	}
	r, err := Analyze(owner, m)
	if err != nil {
		return err
	}
	m.MaxStack, m.MaxLocals = r.MaxStack, r.MaxLocals
	return nil
}

type handler struct {
	start, end, target int
	catchType          Type
}

type analyzer struct {
	owner  string
	method *bytecode.Method
	code   []bytecode.Insn

	labels   map[bytecode.Label]int
	handlers []handler
	retDesc  string

	frames    []*Frame
	queue     []int
	queued    []bool
	maxStack  int
	maxLocals int

	// current instruction state
	index int
	cur   *Frame
	err   *Error
}

func (a *analyzer) run() error {
	n := len(a.code)
	a.frames = make([]*Frame, n)
	if n == 0 {
		return nil
	}
	a.queued = make([]bool, n)
	a.index = -1

	labels, err := bytecode.LabelIndex(a.code)
	if err != nil {
		return a.errorf("%v", err)
	}
	a.labels = labels

	for _, tc := range a.method.TryCatch {
		start, ok1 := labels[tc.Start]
		end, ok2 := labels[tc.End]
		target, ok3 := labels[tc.Handler]
		if !ok1 || !ok2 || !ok3 {
			return a.errorf("exception table refers to an unplaced label")
		}
		if end < start {
			return a.errorf("protected region %s..%s is reversed", tc.Start, tc.End)
		}
		ct := Ref(bytecode.ThrowableDesc)
		if tc.Type != "" {
			ct = Ref(bytecode.ClassDesc(tc.Type))
		}
		a.handlers = append(a.handlers, handler{start: start, end: end, target: target, catchType: ct})
	}

	ret, err := bytecode.ReturnType(a.method.Desc)
	if err != nil {
		return a.errorf("%v", err)
	}
	a.retDesc = ret

	entry, err := a.entryFrame()
	if err != nil {
		return err
	}
	if err := a.merge(0, entry); err != nil {
		return err
	}

	for len(a.queue) > 0 {
		i := a.queue[0]
		a.queue = a.queue[1:]
		a.queued[i] = false
		if err := a.step(i); err != nil {
			return err
		}
	}
	return nil
}

func (a *analyzer) entryFrame() (*Frame, error) {
	f := &Frame{}
	if !a.method.IsStatic() {
		if a.method.IsConstructor() && a.owner != bytecode.ObjectClass {
			f.Locals = append(f.Locals, UninitThisType)
		} else {
			f.Locals = append(f.Locals, Ref(bytecode.ClassDesc(a.owner)))
		}
	}
	args, err := bytecode.ArgumentTypes(a.method.Desc)
	if err != nil {
		return nil, a.errorf("%v", err)
	}
	for _, arg := range args {
		t := FromDesc(arg)
		f.Locals = append(f.Locals, t)
		if t.Size() == 2 {
			f.Locals = append(f.Locals, TopType)
		}
	}
	a.noteLocals(len(f.Locals))
	return f, nil
}

func (a *analyzer) errorf(format string, args ...any) *Error {
	e := &Error{Method: a.method.Name + a.method.Desc, Index: a.index, Msg: fmt.Sprintf(format, args...)}
	if a.index >= 0 && a.index < len(a.code) {
		e.Insn = bytecode.FormatInsn(a.code[a.index])
	}
	return e
}

func (a *analyzer) noteLocals(n int) {
	if n > a.maxLocals {
		a.maxLocals = n
	}
}

func (a *analyzer) noteStack(n int) {
	if n > a.maxStack {
		a.maxStack = n
	}
}

// merge joins f into the frame recorded at instruction i and queues i when
// that frame changed.
func (a *analyzer) merge(i int, f *Frame) error {
	if i >= len(a.code) {
		return a.errorf("execution falls off the end of the code")
	}
	old := a.frames[i]
	if old == nil {
		a.frames[i] = f.Clone()
		a.enqueue(i)
		return nil
	}
	if len(old.Stack) != len(f.Stack) {
		return a.errorf("inconsistent stack height at %d: %d != %d", i, len(old.Stack), len(f.Stack))
	}
	changed := false
	for k := range old.Stack {
		t, ok := mergeType(old.Stack[k], f.Stack[k])
		if !ok {
			return a.errorf("incompatible stack types at %d slot %d: %s and %s", i, k, old.Stack[k], f.Stack[k])
		}
		if t != old.Stack[k] {
			old.Stack[k] = t
			changed = true
		}
	}
	n := len(old.Locals)
	if len(f.Locals) < n {
		n = len(f.Locals)
	}
	if len(old.Locals) > n {
		// slots the incoming frame lacks become unusable
		for k := n; k < len(old.Locals); k++ {
			if old.Locals[k] != TopType {
				old.Locals[k] = TopType
				changed = true
			}
		}
	}
	for k := 0; k < n; k++ {
		t, ok := mergeType(old.Locals[k], f.Locals[k])
		if !ok {
			t = TopType
		}
		if t != old.Locals[k] {
			old.Locals[k] = t
			changed = true
		}
	}
	if changed {
		a.enqueue(i)
	}
	return nil
}

func (a *analyzer) enqueue(i int) {
	if !a.queued[i] {
		a.queued[i] = true
		a.queue = append(a.queue, i)
	}
}

func mergeType(x, y Type) (Type, bool) {
	if x == y {
		return x, true
	}
	if x.Kind == Null && y.Kind == Reference {
		return y, true
	}
	if y.Kind == Null && x.Kind == Reference {
		return x, true
	}
	if x.Kind == Reference && y.Kind == Reference {
		if bytecode.IsArray(x.Desc) && bytecode.IsArray(y.Desc) &&
			bytecode.IsReference(x.Desc[1:]) && bytecode.IsReference(y.Desc[1:]) {
			return Ref(bytecode.ObjectArrayDesc), true
		}
		return Ref(bytecode.ObjectDesc), true
	}
	return TopType, false
}

// step interprets instruction i on a copy of its frame and propagates the
// result to its successors and exception handlers.
func (a *analyzer) step(i int) error {
	a.index = i
	in := a.frames[i]
	a.noteStack(len(in.Stack))

	for _, h := range a.handlers {
		if i >= h.start && i < h.end {
			hf := &Frame{Locals: append([]Type(nil), in.Locals...), Stack: []Type{h.catchType}}
			a.noteStack(1)
			if err := a.merge(h.target, hf); err != nil {
				return err
			}
		}
	}

	a.cur = in.Clone()
	a.err = nil
	insn := a.code[i]
	a.execute(insn)
	if a.err != nil {
		return a.err
	}
	out := a.cur
	a.noteStack(len(out.Stack))
	a.noteLocals(len(out.Locals))

	op := insn.Op()
	switch x := insn.(type) {
	case bytecode.JumpInsn:
		t, err := a.target(x.Target)
		if err != nil {
			return err
		}
		if err := a.merge(t, out); err != nil {
			return err
		}
		if op == bytecode.OpGoto {
			return nil
		}
	case bytecode.SwitchInsn:
		if len(x.Keys) != len(x.Targets) {
			return a.errorf("switch has %d keys but %d targets", len(x.Keys), len(x.Targets))
		}
		for _, l := range append([]bytecode.Label{x.Default}, x.Targets...) {
			t, err := a.target(l)
			if err != nil {
				return err
			}
			if err := a.merge(t, out); err != nil {
				return err
			}
		}
		return nil
	}
	if op != bytecode.OpPseudo && op.EndsBlock() {
		return nil
	}
	return a.merge(i+1, out)
}

func (a *analyzer) target(l bytecode.Label) (int, error) {
	t, ok := a.labels[l]
	if !ok {
		return 0, a.errorf("branch to unplaced label %s", l)
	}
	return t, nil
}

func (a *analyzer) fail(format string, args ...any) {
	if a.err == nil {
		a.err = a.errorf(format, args...)
	}
}

// Stack helpers. After the first failure they keep the frame consistent
// enough to finish the instruction, and the failure is reported once.

func (a *analyzer) push(t Type) {
	a.cur.Stack = append(a.cur.Stack, t)
	if t.Size() == 2 {
		a.cur.Stack = append(a.cur.Stack, TopType)
	}
}

func (a *analyzer) popSlot() Type {
	s := a.cur.Stack
	if len(s) == 0 {
		a.fail("stack underflow")
		return TopType
	}
	t := s[len(s)-1]
	a.cur.Stack = s[:len(s)-1]
	return t
}

func (a *analyzer) popValue() Type {
	t := a.popSlot()
	if t.Kind == Top && len(a.cur.Stack) > 0 && a.cur.Stack[len(a.cur.Stack)-1].Size() == 2 {
		return a.popSlot()
	}
	return t
}

func (a *analyzer) pop(want TypeKind) Type {
	t := a.popValue()
	if t.Kind != want {
		a.fail("expected %s on the stack, found %s", Type{Kind: want}, t)
	}
	return t
}

// popRef pops a reference. Uninitialized objects are accepted only where
// allowUninit is set.
func (a *analyzer) popRef(allowUninit bool) Type {
	t := a.popValue()
	switch t.Kind {
	case Reference, Null:
	case UninitializedThis, Uninitialized:
		if !allowUninit {
			a.fail("uninitialized object %s used before construction", t)
		}
	default:
		a.fail("expected a reference on the stack, found %s", t)
	}
	return t
}

// popDesc pops a value assignable to the field type desc.
func (a *analyzer) popDesc(desc string) Type {
	want := FromDesc(desc)
	if want.Kind == Reference {
		return a.popRef(false)
	}
	return a.pop(want.Kind)
}

func (a *analyzer) load(slot int, want TypeKind) Type {
	t := a.cur.Local(slot)
	switch {
	case want == Reference && t.IsReference():
	case t.Kind == want:
	case want == Reference:
		a.fail("local %d holds %s, expected a reference", slot, t)
	default:
		a.fail("local %d holds %s, expected %s", slot, t, Type{Kind: want})
	}
	return t
}

func (a *analyzer) store(slot int, t Type) {
	if slot < 0 {
		a.fail("negative local index %d", slot)
		return
	}
	need := slot + t.Size()
	for len(a.cur.Locals) < need {
		a.cur.Locals = append(a.cur.Locals, TopType)
	}
	if slot > 0 && a.cur.Locals[slot-1].Size() == 2 {
		a.cur.Locals[slot-1] = TopType
	}
	a.cur.Locals[slot] = t
	if t.Size() == 2 {
		a.cur.Locals[slot+1] = TopType
	}
}

// shuffle implements the stack manipulation instructions over slots. The
// top depth slots are replaced by picks of them (0 is the deepest).
// Every entry of bounds is a slot distance from the top that must not
// split a long or double.
func (a *analyzer) shuffle(depth int, bounds []int, picks []int) {
	s := a.cur.Stack
	if len(s) < depth {
		a.fail("stack underflow")
		return
	}
	for _, b := range bounds {
		if s[len(s)-b].Kind == Top {
			a.fail("%s splits a two-slot value", a.code[a.index].Op())
			return
		}
	}
	top := append([]Type(nil), s[len(s)-depth:]...)
	s = s[:len(s)-depth]
	for _, p := range picks {
		s = append(s, top[p])
	}
	a.cur.Stack = s
}

func (a *analyzer) arrayRef(elem string) Type {
	t := a.popRef(false)
	if t.Kind == Null {
		return t
	}
	if t.Kind != Reference || !bytecode.IsArray(t.Desc) {
		a.fail("expected an array, found %s", t)
		return t
	}
	got := t.Desc[1:]
	switch elem {
	case bytecode.ObjectDesc:
		if !bytecode.IsReference(got) {
			a.fail("expected an array of references, found %s", t)
		}
	case "B":
		if got != "B" && got != "Z" {
			a.fail("expected a byte or boolean array, found %s", t)
		}
	default:
		if got != elem {
			a.fail("expected [%s, found %s", elem, t)
		}
	}
	return t
}

// initialize replaces every occurrence of an uninitialized object with its
// constructed type once its constructor has been invoked.
func (a *analyzer) initialize(u Type) {
	done := Ref(u.Desc)
	if u.Kind == UninitializedThis {
		done = Ref(bytecode.ClassDesc(a.owner))
	}
	for k, t := range a.cur.Stack {
		if t == u {
			a.cur.Stack[k] = done
		}
	}
	for k, t := range a.cur.Locals {
		if t == u {
			a.cur.Locals[k] = done
		}
	}
}

func (a *analyzer) execute(insn bytecode.Insn) {
	switch x := insn.(type) {
	case bytecode.LabelInsn, bytecode.LineInsn:
		return
	case bytecode.IntInsn:
		switch x.Opcode {
		case bytecode.OpBIPush, bytecode.OpSIPush:
			a.push(IntType)
		case bytecode.OpNewArray:
			desc, err := bytecode.ArrayTypeCode(x.Operand)
			if err != nil {
				a.fail("%v", err)
				return
			}
			a.pop(Int)
			a.push(Ref(desc))
		default:
			a.fail("unexpected operand form for %s", x.Opcode)
		}
	case bytecode.VarInsn:
		a.executeVar(x)
	case bytecode.IincInsn:
		a.load(x.Var, Int)
	case bytecode.LdcInsn:
		switch x.Value.(type) {
		case int32:
			a.push(IntType)
		case int64:
			a.push(LongType)
		case float32:
			a.push(FloatType)
		case float64:
			a.push(DoubleType)
		case string:
			a.push(Ref(bytecode.StringDesc))
		default:
			a.fail("unsupported LDC constant %T", x.Value)
		}
	case bytecode.TypeInsn:
		a.executeType(x)
	case bytecode.FieldInsn:
		a.executeField(x)
	case bytecode.MethodInsn:
		a.executeInvoke(x)
	case bytecode.JumpInsn:
		switch {
		case x.Opcode == bytecode.OpGoto:
		case x.Opcode >= bytecode.OpIfEq && x.Opcode <= bytecode.OpIfLe:
			a.pop(Int)
		case x.Opcode >= bytecode.OpIfICmpEq && x.Opcode <= bytecode.OpIfICmpLe:
			a.pop(Int)
			a.pop(Int)
		case x.Opcode == bytecode.OpIfACmpEq || x.Opcode == bytecode.OpIfACmpNe:
			a.popRef(true)
			a.popRef(true)
		case x.Opcode == bytecode.OpIfNull || x.Opcode == bytecode.OpIfNonNull:
			a.popRef(true)
		default:
			a.fail("%s is not a branch", x.Opcode)
		}
	case bytecode.SwitchInsn:
		a.pop(Int)
	case bytecode.Simple:
		a.executeSimple(x.Opcode)
	default:
		a.fail("unknown instruction %T", insn)
	}
}

func (a *analyzer) executeVar(x bytecode.VarInsn) {
	switch x.Opcode {
	case bytecode.OpILoad:
		a.push(a.load(x.Var, Int))
	case bytecode.OpLLoad:
		a.push(a.load(x.Var, Long))
	case bytecode.OpFLoad:
		a.push(a.load(x.Var, Float))
	case bytecode.OpDLoad:
		a.push(a.load(x.Var, Double))
	case bytecode.OpALoad:
		a.push(a.load(x.Var, Reference))
	case bytecode.OpIStore:
		a.store(x.Var, a.pop(Int))
	case bytecode.OpLStore:
		a.store(x.Var, a.pop(Long))
	case bytecode.OpFStore:
		a.store(x.Var, a.pop(Float))
	case bytecode.OpDStore:
		a.store(x.Var, a.pop(Double))
	case bytecode.OpAStore:
		a.store(x.Var, a.popRef(true))
	default:
		a.fail("%s is not a local variable instruction", x.Opcode)
	}
}

func (a *analyzer) executeType(x bytecode.TypeInsn) {
	switch x.Opcode {
	case bytecode.OpNew:
		a.push(Type{Kind: Uninitialized, Desc: bytecode.ClassDesc(x.Type), Site: a.index})
	case bytecode.OpANewArray:
		a.pop(Int)
		a.push(Ref("[" + bytecode.ClassDesc(x.Type)))
	case bytecode.OpCheckCast:
		if t := a.popRef(false); t.Kind == Null {
			a.push(NullType)
			return
		}
		a.push(Ref(bytecode.ClassDesc(x.Type)))
	case bytecode.OpInstanceOf:
		a.popRef(false)
		a.push(IntType)
	default:
		a.fail("%s does not take a type operand", x.Opcode)
	}
}

func (a *analyzer) executeField(x bytecode.FieldInsn) {
	if err := bytecode.ValidateFieldDesc(x.Desc); err != nil {
		a.fail("%v", err)
		return
	}
	switch x.Opcode {
	case bytecode.OpGetStatic:
		a.push(FromDesc(x.Desc))
	case bytecode.OpPutStatic:
		a.popDesc(x.Desc)
	case bytecode.OpGetField:
		a.popRef(true)
		a.push(FromDesc(x.Desc))
	case bytecode.OpPutField:
		a.popDesc(x.Desc)
		a.popRef(true)
	default:
		a.fail("%s is not a field instruction", x.Opcode)
	}
}

func (a *analyzer) executeInvoke(x bytecode.MethodInsn) {
	args, err := bytecode.ArgumentTypes(x.Desc)
	if err != nil {
		a.fail("%v", err)
		return
	}
	ret, err := bytecode.ReturnType(x.Desc)
	if err != nil {
		a.fail("%v", err)
		return
	}
	for k := len(args) - 1; k >= 0; k-- {
		a.popDesc(args[k])
	}
	switch x.Opcode {
	case bytecode.OpInvokeStatic:
	case bytecode.OpInvokeSpecial:
		if x.Name == bytecode.ConstructorName {
			recv := a.popValue()
			if recv.Kind != UninitializedThis && recv.Kind != Uninitialized {
				a.fail("constructor invoked on %s", recv)
				return
			}
			a.initialize(recv)
		} else {
			a.popRef(false)
		}
	case bytecode.OpInvokeVirtual:
		a.popRef(false)
	default:
		a.fail("%s is not an invocation", x.Opcode)
		return
	}
	if ret != "V" {
		a.push(FromDesc(ret))
	}
}

func (a *analyzer) executeSimple(op bytecode.Opcode) {
	switch op {
	case bytecode.OpNop:
	case bytecode.OpAConstNull:
		a.push(NullType)
	case bytecode.OpIConstM1, bytecode.OpIConst0, bytecode.OpIConst1, bytecode.OpIConst2,
		bytecode.OpIConst3, bytecode.OpIConst4, bytecode.OpIConst5:
		a.push(IntType)
	case bytecode.OpLConst0, bytecode.OpLConst1:
		a.push(LongType)
	case bytecode.OpFConst0:
		a.push(FloatType)
	case bytecode.OpDConst0:
		a.push(DoubleType)

	case bytecode.OpIALoad, bytecode.OpBALoad, bytecode.OpCALoad, bytecode.OpSALoad,
		bytecode.OpLALoad, bytecode.OpFALoad, bytecode.OpDALoad:
		elem := bytecode.ArrayElementDesc(op)
		a.pop(Int)
		a.arrayRef(elem)
		a.push(FromDesc(elem))
	case bytecode.OpAALoad:
		a.pop(Int)
		arr := a.arrayRef(bytecode.ObjectDesc)
		if arr.Kind == Reference && bytecode.IsArray(arr.Desc) {
			a.push(FromDesc(arr.Desc[1:]))
		} else {
			a.push(NullType)
		}
	case bytecode.OpIAStore, bytecode.OpBAStore, bytecode.OpCAStore, bytecode.OpSAStore,
		bytecode.OpLAStore, bytecode.OpFAStore, bytecode.OpDAStore:
		elem := bytecode.ArrayElementDesc(op)
		a.pop(FromDesc(elem).Kind)
		a.pop(Int)
		a.arrayRef(elem)
	case bytecode.OpAAStore:
		a.popRef(false)
		a.pop(Int)
		a.arrayRef(bytecode.ObjectDesc)

	case bytecode.OpPop:
		a.shuffle(1, []int{1}, nil)
	case bytecode.OpPop2:
		a.shuffle(2, []int{2}, nil)
	case bytecode.OpDup:
		a.shuffle(1, []int{1}, []int{0, 0})
	case bytecode.OpDupX1:
		a.shuffle(2, []int{1, 2}, []int{1, 0, 1})
	case bytecode.OpDupX2:
		a.shuffle(3, []int{1, 3}, []int{2, 0, 1, 2})
	case bytecode.OpDup2:
		a.shuffle(2, []int{2}, []int{0, 1, 0, 1})
	case bytecode.OpDup2X1:
		a.shuffle(3, []int{2, 3}, []int{1, 2, 0, 1, 2})
	case bytecode.OpDup2X2:
		a.shuffle(4, []int{2, 4}, []int{2, 3, 0, 1, 2, 3})
	case bytecode.OpSwap:
		a.shuffle(2, []int{1, 2}, []int{1, 0})

	case bytecode.OpIAdd, bytecode.OpISub, bytecode.OpIMul, bytecode.OpIDiv, bytecode.OpIRem:
		a.pop(Int)
		a.pop(Int)
		a.push(IntType)
	case bytecode.OpLAdd:
		a.pop(Long)
		a.pop(Long)
		a.push(LongType)
	case bytecode.OpINeg:
		a.pop(Int)
		a.push(IntType)
	case bytecode.OpI2L:
		a.pop(Int)
		a.push(LongType)
	case bytecode.OpL2I:
		a.pop(Long)
		a.push(IntType)

	case bytecode.OpIReturn, bytecode.OpLReturn, bytecode.OpFReturn, bytecode.OpDReturn, bytecode.OpAReturn, bytecode.OpReturn:
		if bytecode.ReturnOpcode(a.retDesc) != op {
			a.fail("%s in a method returning %s", op, a.retDesc)
			return
		}
		if op != bytecode.OpReturn {
			a.popDesc(a.retDesc)
		} else if a.method.IsConstructor() && a.cur.Local(0).Kind == UninitializedThis {
			a.fail("constructor returns before the receiver is initialized")
		}
	case bytecode.OpArrayLength:
		t := a.popRef(false)
		if t.Kind == Reference && !bytecode.IsArray(t.Desc) {
			a.fail("expected an array, found %s", t)
		}
		a.push(IntType)
	case bytecode.OpAThrow:
		a.popRef(false)
	default:
		a.fail("unsupported instruction %s", op)
	}
}

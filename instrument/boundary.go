package instrument

import (
	"github.com/chazu/weave/pkg/bytecode"
	"github.com/chazu/weave/pkg/flow"
	"github.com/chazu/weave/pkg/trace"
)

var boundaryStage = stage{name: "boundary", run: rewriteBoundary}

// rewriteBoundary reports method entry before the first instruction, a
// normal exit before every return and an exceptional exit from a handler
// covering the whole body. Constructors report the creation of their
// receiver once the superclass constructor returns, and have no
// exceptional exit.
func rewriteBoundary(rw *rewrite) error {
	m, b := rw.method, rw.b
	ctor := m.IsConstructor()

	if err := rw.enter(); err != nil {
		return err
	}

	var start bytecode.Label
	if !ctor {
		start = b.NewLabel()
		b.Mark(start)
	}

	line := 0
	exits := make(map[int]bool)
	for i, insn := range m.Code {
		rw.begin(i)
		switch x := insn.(type) {
		case bytecode.LineInsn:
			line = x.Line
		case bytecode.Simple:
			if !x.Opcode.IsReturn() {
				break
			}
			if rw.opts.coalesceExits && line > 0 {
				if exits[line] {
					rw.stats.CoalescedExits++
					break
				}
				exits[line] = true
			}
			rw.exit(false)
		case bytecode.MethodInsn:
			if ctor && rw.initializesReceiver(x) {
				rw.keep(insn)
				// [] -> [this name] -> []
				b.EmitVar(bytecode.OpALoad, 0)
				rw.text(rw.unit.Name)
				rw.call(trace.SigAfterInit)
				rw.stats.ObjectsCreated++
				continue
			}
		}
		rw.keep(insn)
	}

	if !ctor {
		end, handler := b.NewLabel(), b.NewLabel()
		b.Mark(end).Mark(handler)
		// [exc] -> [exc] -> rethrown unchanged
		rw.exit(true)
		b.Emit(bytecode.OpAThrow)
		m.TryCatch = append(m.TryCatch, bytecode.TryCatchBlock{Start: start, End: end, Handler: handler})
	}
	return nil
}

// enter emits methodEnter(name, desc, unit, rk, receiver, args).
func (rw *rewrite) enter() error {
	m, b := rw.method, rw.b
	args, err := bytecode.ArgumentTypes(m.Desc)
	if err != nil {
		return rw.errorf(ErrTypeMismatch, "%v", err)
	}

	rw.text(m.Name, m.Desc, rw.unit.Name)
	ClassifyCaller(m, rw.frames.At(0)).Emit(b)

	// Element 0 stands for the receiver of instance methods. Primitive
	// arguments stay null.
	off, slot := 1, 1
	if m.IsStatic() {
		off, slot = 0, 0
	}
	b.EmitPushInt(len(args) + off)
	b.EmitType(bytecode.OpANewArray, bytecode.ObjectClass)
	for i, a := range args {
		if bytecode.IsReference(a) {
			b.Emit(bytecode.OpDup)
			b.EmitPushInt(i + off)
			b.EmitVar(bytecode.OpALoad, slot)
			b.Emit(bytecode.OpAAStore)
		}
		slot += bytecode.TypeSize(a)
	}
	rw.call(trace.SigMethodEnter)
	rw.stats.MethodEnters++
	return nil
}

// exit emits methodExit(name, unit, exceptional). It touches only the
// slots it pushes.
func (rw *rewrite) exit(exceptional bool) {
	rw.text(rw.method.Name, rw.unit.Name)
	pushBool(rw.b, exceptional)
	rw.call(trace.SigMethodExit)
	if exceptional {
		rw.stats.ExceptionalExits++
	} else {
		rw.stats.MethodExits++
	}
}

// initializesReceiver reports whether x is the superclass constructor call
// that initializes the receiver of the constructor being rewritten. A
// delegating call to a constructor of the same unit does not count: the
// delegate reports the object.
func (rw *rewrite) initializesReceiver(x bytecode.MethodInsn) bool {
	if x.Opcode != bytecode.OpInvokeSpecial || x.Name != bytecode.ConstructorName || x.Owner == rw.unit.Name {
		return false
	}
	f := rw.frame()
	if f == nil {
		return false
	}
	args, err := bytecode.ArgumentTypes(x.Desc)
	if err != nil {
		return false
	}
	return f.Peek(len(args)).Kind == flow.UninitializedThis
}

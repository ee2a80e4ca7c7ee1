package instrument

import (
	"github.com/chazu/weave/pkg/bytecode"
	"github.com/chazu/weave/pkg/flow"
	"github.com/chazu/weave/pkg/trace"
)

var varStage = stage{name: "variables", run: eachInsn(rewriteVar)}

func rewriteVar(rw *rewrite, insn bytecode.Insn) error {
	x, ok := insn.(bytecode.VarInsn)
	if !ok {
		rw.keep(insn)
		return nil
	}
	switch x.Opcode {
	case bytecode.OpALoad:
		if x.Var == 0 && !rw.method.IsStatic() {
			// receiver loads are covered by method events
			rw.keep(insn)
			return nil
		}
		return rw.loadVar(x)
	case bytecode.OpAStore:
		return rw.storeVar(x)
	}
	rw.keep(insn)
	return nil
}

func isPrimitive(t flow.Type) bool {
	switch t.Kind {
	case flow.Int, flow.Float, flow.Long, flow.Double:
		return true
	}
	return false
}

func (rw *rewrite) varTail(slot int) {
	rw.b.EmitPushInt(slot)
	rw.text(rw.unit.Name, rw.method.Name)
	rw.caller()
}

func (rw *rewrite) loadVar(x bytecode.VarInsn) error {
	f := rw.frame()
	if f != nil && isPrimitive(f.Local(x.Var)) {
		return rw.errorf(ErrTypeMismatch, "ALOAD %d reads a slot holding %s", x.Var, f.Local(x.Var))
	}
	ClassifyLocal(f, x.Var).Emit(rw.b)
	rw.varTail(x.Var)
	rw.call(trace.SigLoadVar)
	rw.keep(x)
	rw.stats.VarLoads++
	return nil
}

func (rw *rewrite) storeVar(x bytecode.VarInsn) error {
	f := rw.frame()
	if f != nil && isPrimitive(f.Peek(0)) {
		return rw.errorf(ErrTypeMismatch, "ASTORE %d stores %s", x.Var, f.Peek(0))
	}
	// The new value is classified from the stack. The slot still holds
	// the old one, which is not reported.
	nv := ClassifyStack(f, 0)
	if nv.Payload == PayloadStack {
		// [v] -> [v v] -> [v k v]
		rw.b.Emit(bytecode.OpDup)
		rw.kindUnder(nv)
	} else {
		nv.Emit(rw.b)
	}
	pendingIdentity.Emit(rw.b)
	rw.varTail(x.Var)
	rw.call(trace.SigStoreVar)
	rw.keep(x)
	rw.stats.VarStores++
	return nil
}

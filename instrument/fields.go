package instrument

import (
	"strings"

	"github.com/chazu/weave/pkg/bytecode"
	"github.com/chazu/weave/pkg/flow"
	"github.com/chazu/weave/pkg/trace"
)

// defaultArrayHolder is reported for reference arrays whose type the
// frames do not give.
const defaultArrayHolder = bytecode.ObjectArrayDesc

var fieldStage = stage{name: "fields", run: eachInsn(rewriteAccess)}

func rewriteAccess(rw *rewrite, insn bytecode.Insn) error {
	switch x := insn.(type) {
	case bytecode.FieldInsn:
		return rw.field(x)
	case bytecode.Simple:
		switch {
		case x.Opcode.IsArrayLoad():
			return rw.arrayLoad(x)
		case x.Opcode.IsArrayStore():
			return rw.arrayStore(x)
		}
	}
	rw.keep(insn)
	return nil
}

func (rw *rewrite) field(x bytecode.FieldInsn) error {
	f := rw.frame()
	if f == nil || strings.Contains(x.Name, "$") {
		rw.stats.SkippedAccesses++
		rw.keep(x)
		return nil
	}
	static := x.Opcode == bytecode.OpGetStatic || x.Opcode == bytecode.OpPutStatic
	load := x.Opcode == bytecode.OpGetStatic || x.Opcode == bytecode.OpGetField
	ref := bytecode.IsReference(x.Desc)

	var holder Identity
	switch {
	case static:
		holder = staticIdentity
	case load:
		holder = ClassifyStack(f, 0)
	default:
		holder = ClassifyStack(f, 1)
	}
	if !static && holder.Payload != PayloadStack {
		switch {
		case load:
			// the receiver cannot be read before it is constructed
			rw.stats.SkippedAccesses++
			rw.keep(x)
			return nil
		case ref:
			return rw.errorf(ErrUnsupported, "store to %s.%s on %s reads an unavailable old value", x.Owner, x.Name, holder.Kind)
		}
	}

	switch {
	case load && ref:
		rw.loadFieldRef(x, holder)
	case load:
		rw.loadFieldPrim(x, holder)
	case ref:
		rw.storeFieldRef(x, holder)
	default:
		rw.storeFieldPrim(x, holder, f)
	}
	if load {
		rw.stats.FieldLoads++
	} else {
		rw.stats.FieldStores++
	}
	return nil
}

// fieldTail pushes the arguments every reference field event ends with.
func (rw *rewrite) fieldTail(x bytecode.FieldInsn) {
	rw.text(x.Owner, x.Name, x.Desc, rw.unit.Name, rw.method.Name)
	rw.caller()
}

// kindUnder pushes the kind of an identity whose value is on top of the
// stack and moves the value above it.
// [h] -> [k h]
func (rw *rewrite) kindUnder(id Identity) {
	pushKind(rw.b, id.Kind)
	rw.b.Emit(bytecode.OpSwap)
}

// loadFieldRef reports the value read along with the holder.
func (rw *rewrite) loadFieldRef(x bytecode.FieldInsn, holder Identity) {
	b := rw.b
	if x.Opcode == bytecode.OpGetStatic {
		// [] -> [v v k null]
		rw.keep(x)
		b.Emit(bytecode.OpDup)
		holder.Emit(b)
	} else {
		// [h] -> [h h] -> [h v] -> [v h v] -> [v v h] -> [v v k h]
		b.Emit(bytecode.OpDup)
		rw.keep(x)
		dupUnder(b, 1, 1)
		b.Emit(bytecode.OpSwap)
		rw.kindUnder(holder)
	}
	rw.fieldTail(x)
	rw.call(trace.SigLoadFieldA)
}

// storeFieldRef reports the new and the old value before the store.
func (rw *rewrite) storeFieldRef(x bytecode.FieldInsn, holder Identity) {
	b := rw.b
	if x.Opcode == bytecode.OpPutStatic {
		// [n] -> [n n] -> [n n null] -> [n null n] -> [n null n k] -> [n k null n] -> [n k null n old]
		b.Emit(bytecode.OpDup)
		b.Emit(bytecode.OpAConstNull)
		b.Emit(bytecode.OpSwap)
		pushKind(b, holder.Kind)
		bury(b)
		b.EmitField(bytecode.OpGetStatic, x.Owner, x.Name, x.Desc)
	} else {
		// [h n] -> [h n h n] -> [h n h n k] -> [h n k h n] -> [h n k h n h] -> [h n k h n old]
		b.Emit(bytecode.OpDup2)
		pushKind(b, holder.Kind)
		bury(b)
		over(b)
		b.EmitField(bytecode.OpGetField, x.Owner, x.Name, x.Desc)
	}
	rw.fieldTail(x)
	rw.call(trace.SigStoreFieldA)
	rw.keep(x)
}

// primTail pushes the trailing arguments of read and modify.
func (rw *rewrite) primTail(x bytecode.FieldInsn) {
	rw.text(x.Owner, x.Name)
	rw.caller()
	rw.text(rw.unit.Name)
}

func (rw *rewrite) loadFieldPrim(x bytecode.FieldInsn, holder Identity) {
	b := rw.b
	if holder.Payload == PayloadStack {
		// [h] -> [h h] -> [h k h]
		b.Emit(bytecode.OpDup)
		rw.kindUnder(holder)
	} else {
		holder.Emit(b)
	}
	rw.primTail(x)
	rw.call(trace.SigRead)
	rw.keep(x)
}

func (rw *rewrite) storeFieldPrim(x bytecode.FieldInsn, holder Identity, f *flow.Frame) {
	b := rw.b
	if x.Opcode == bytecode.OpPutStatic || holder.Payload != PayloadStack {
		holder.Emit(b)
		rw.primTail(x)
		rw.call(trace.SigModify)
		rw.keep(x)
		return
	}
	// [h n] -> [n h] -> [n h h] -> [n h k h] -> call -> [n h] -> [h n]
	w := f.PeekWidth(0)
	swap(b, 1, w)
	b.Emit(bytecode.OpDup)
	rw.kindUnder(holder)
	rw.primTail(x)
	rw.call(trace.SigModify)
	swap(b, w, 1)
	rw.keep(x)
}

// arrayHolder returns the descriptor of the array n values below the top.
func (rw *rewrite) arrayHolder(op bytecode.Opcode, n int) (string, error) {
	f := rw.frame()
	if f == nil {
		return defaultArrayHolder, nil
	}
	t := f.Peek(n)
	switch {
	case t.Kind == flow.Null:
		return defaultArrayHolder, nil
	case t.IsArray():
		return t.Desc, nil
	}
	return "", rw.errorf(ErrTypeMismatch, "%s on %s, expected an array", op, t)
}

func (rw *rewrite) arrayLoad(x bytecode.Simple) error {
	holder, err := rw.arrayHolder(x.Opcode, 1)
	if err != nil {
		return err
	}
	b := rw.b
	if x.Opcode == bytecode.OpAALoad {
		// [a i] -> [a i a i a i] -> [a i a i v]
		b.Emit(bytecode.OpDup2).Emit(bytecode.OpDup2).Emit(bytecode.OpAALoad)
		rw.text(holder, rw.method.Name, rw.unit.Name)
		rw.caller()
		rw.call(trace.SigLoadArrayA)
	} else {
		// [a i] -> [a i a i]
		b.Emit(bytecode.OpDup2)
		rw.caller()
		rw.text(rw.unit.Name)
		rw.call(trace.SigReadArray)
	}
	rw.keep(x)
	rw.stats.ArrayLoads++
	return nil
}

func (rw *rewrite) arrayStore(x bytecode.Simple) error {
	holder, err := rw.arrayHolder(x.Opcode, 2)
	if err != nil {
		return err
	}
	b := rw.b
	if x.Opcode == bytecode.OpAAStore {
		// [a i n] -> [n a i n] -> [n n a i n] -> [n n a i] -> [a i n n a i] -> [a i n n a i a i] -> [a i n n a i old]
		b.Emit(bytecode.OpDupX2).Emit(bytecode.OpDupX2).Emit(bytecode.OpPop)
		b.Emit(bytecode.OpDup2X2).Emit(bytecode.OpDup2).Emit(bytecode.OpAALoad)
		rw.text(holder, rw.method.Name, rw.unit.Name)
		rw.caller()
		rw.call(trace.SigStoreArrayA)
	} else {
		// [a i n] -> [n a i] -> [n a i a i] -> call -> [n a i] -> [a i n]
		w := 1
		if f := rw.frame(); f != nil {
			w = f.PeekWidth(0)
		} else if x.Opcode == bytecode.OpLAStore || x.Opcode == bytecode.OpDAStore {
			w = 2
		}
		swap(b, 2, w)
		b.Emit(bytecode.OpDup2)
		rw.caller()
		rw.text(rw.unit.Name)
		rw.call(trace.SigModifyArray)
		swap(b, w, 2)
	}
	rw.keep(x)
	rw.stats.ArrayStores++
	return nil
}

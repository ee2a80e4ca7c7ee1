package instrument

import (
	"github.com/chazu/weave/pkg/bytecode"
	"github.com/chazu/weave/pkg/trace"
)

// Arrays have no constructor. Their creation is reported as an object
// created by a pseudo constructor taking the length.
const (
	arrayInitName = bytecode.ConstructorName
	arrayInitDesc = "(I)V"
)

var allocStage = stage{name: "allocation", run: eachInsn(rewriteAlloc)}

func rewriteAlloc(rw *rewrite, insn bytecode.Insn) error {
	var desc string
	switch x := insn.(type) {
	case bytecode.IntInsn:
		if x.Opcode != bytecode.OpNewArray {
			break
		}
		d, err := bytecode.ArrayTypeCode(x.Operand)
		if err != nil {
			return rw.errorf(ErrTypeMismatch, "%v", err)
		}
		desc = d
	case bytecode.TypeInsn:
		if x.Opcode == bytecode.OpANewArray {
			desc = "[" + bytecode.ClassDesc(x.Type)
		}
	}
	rw.keep(insn)
	if desc == "" {
		return nil
	}

	b := rw.b
	// [arr] -> [arr arr desc] -> [arr]
	b.Emit(bytecode.OpDup)
	rw.text(desc)
	rw.call(trace.SigAfterInit)

	rw.text(arrayInitName, arrayInitDesc, desc)
	thisIdentity.Emit(b)
	b.Emit(bytecode.OpAConstNull)
	rw.call(trace.SigMethodEnter)

	rw.text(arrayInitName, desc)
	pushBool(b, false)
	rw.call(trace.SigMethodExit)

	rw.stats.ArraysCreated++
	return nil
}

package instrument

import (
	"github.com/chazu/weave/pkg/bytecode"
	"github.com/chazu/weave/pkg/trace"
)

// Stack shuffles. Widths are slot counts of a value or group of values,
// 1 or 2. Every sequence leaves the stack below its window untouched.

// dupUnder copies the top value beneath the value under it.
// [u t] -> [t u t]
func dupUnder(b *bytecode.Builder, top, under int) {
	switch {
	case top == 1 && under == 1:
		b.Emit(bytecode.OpDupX1)
	case top == 1 && under == 2:
		b.Emit(bytecode.OpDupX2)
	case top == 2 && under == 1:
		b.Emit(bytecode.OpDup2X1)
	default:
		b.Emit(bytecode.OpDup2X2)
	}
}

// swap exchanges the top two groups.
// [u t] -> [t u]
func swap(b *bytecode.Builder, under, top int) {
	switch {
	case under == 1 && top == 1:
		b.Emit(bytecode.OpSwap)
	case under == 1 && top == 2:
		b.Emit(bytecode.OpDup2X1).Emit(bytecode.OpPop2)
	case under == 2 && top == 1:
		b.Emit(bytecode.OpDupX2).Emit(bytecode.OpPop)
	default:
		b.Emit(bytecode.OpDup2X2).Emit(bytecode.OpPop2)
	}
}

// over copies the second value to the top.
// [a b] -> [a b a]
func over(b *bytecode.Builder) {
	b.Emit(bytecode.OpDup2).Emit(bytecode.OpPop)
}

// bury moves the top value under the next two.
// [a b c] -> [c a b]
func bury(b *bytecode.Builder) {
	b.Emit(bytecode.OpDupX2).Emit(bytecode.OpPop)
}

func pushKind(b *bytecode.Builder, k trace.Kind) {
	b.EmitPushInt(int(k))
}

func pushBool(b *bytecode.Builder, v bool) {
	if v {
		b.Emit(bytecode.OpIConst1)
	} else {
		b.Emit(bytecode.OpIConst0)
	}
}

// callSink invokes a sink function.
func callSink(b *bytecode.Builder, sig trace.Signature) {
	b.EmitInvoke(bytecode.OpInvokeStatic, trace.Owner, sig.Name, sig.Desc)
}

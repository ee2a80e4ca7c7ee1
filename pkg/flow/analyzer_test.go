package flow

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/chazu/weave/pkg/bytecode"
)

const owner = "test/Owner"

func method(t *testing.T, access bytecode.Access, name, desc string, build func(b *bytecode.Builder)) *bytecode.Method {
	t.Helper()
	m := &bytecode.Method{Access: access, Name: name, Desc: desc}
	b := bytecode.NewBuilder(m)
	build(b)
	m.Code = b.Code()
	return m
}

func analyze(t *testing.T, m *bytecode.Method) *Result {
	t.Helper()
	r, err := Analyze(owner, m)
	if err != nil {
		t.Fatalf("Analyze error: %v\n%s", err, m.Disassemble())
	}
	return r
}

func TestStraightLineFrames(t *testing.T) {
	m := method(t, bytecode.AccStatic, "f", "(JLjava/lang/String;)I", func(b *bytecode.Builder) {
		b.EmitVar(bytecode.OpLLoad, 0).
			Emit(bytecode.OpL2I).
			EmitVar(bytecode.OpALoad, 2).
			Emit(bytecode.OpPop).
			Emit(bytecode.OpIReturn)
	})
	r := analyze(t, m)

	locals := []Type{LongType, TopType, Ref(bytecode.StringDesc)}
	want := []*Frame{
		{Locals: locals, Stack: []Type{}},
		{Locals: locals, Stack: []Type{LongType, TopType}},
		{Locals: locals, Stack: []Type{IntType}},
		{Locals: locals, Stack: []Type{IntType, Ref(bytecode.StringDesc)}},
		{Locals: locals, Stack: []Type{IntType}},
	}
	if diff := cmp.Diff(want, r.Frames, cmpFrames); diff != "" {
		t.Errorf("frames mismatch (-want +got):\n%s", diff)
	}
	if r.MaxStack != 2 || r.MaxLocals != 3 {
		t.Errorf("maxs = (%d, %d), want (2, 3)", r.MaxStack, r.MaxLocals)
	}
}

// cmpFrames treats nil and empty slices alike.
var cmpFrames = cmp.Transformer("frame", func(f *Frame) string {
	if f == nil {
		return "unreachable"
	}
	return f.String()
})

func TestPeekCountsValues(t *testing.T) {
	f := &Frame{Stack: []Type{Ref("La;"), LongType, TopType, IntType}}
	tests := []struct {
		n     int
		want  Type
		width int
	}{
		{0, IntType, 1},
		{1, LongType, 2},
		{2, Ref("La;"), 1},
		{3, TopType, 1},
	}
	for _, tt := range tests {
		if got := f.Peek(tt.n); got != tt.want {
			t.Errorf("Peek(%d) = %s, want %s", tt.n, got, tt.want)
		}
		if got := f.PeekWidth(tt.n); got != tt.width {
			t.Errorf("PeekWidth(%d) = %d, want %d", tt.n, got, tt.width)
		}
	}
}

func TestConstructorReceiverLifecycle(t *testing.T) {
	m := method(t, 0, "<init>", "()V", func(b *bytecode.Builder) {
		b.EmitVar(bytecode.OpALoad, 0).
			EmitInvoke(bytecode.OpInvokeSpecial, bytecode.ObjectClass, "<init>", "()V").
			EmitVar(bytecode.OpALoad, 0).
			Emit(bytecode.OpPop).
			Emit(bytecode.OpReturn)
	})
	r := analyze(t, m)

	if got := r.At(0).Local(0); got != UninitThisType {
		t.Errorf("receiver before super call = %s, want uninit(this)", got)
	}
	if got := r.At(1).Peek(0); got != UninitThisType {
		t.Errorf("pushed receiver = %s, want uninit(this)", got)
	}
	if got := r.At(2).Local(0); got != Ref("Ltest/Owner;") {
		t.Errorf("receiver after super call = %s, want Ltest/Owner;", got)
	}
}

func TestNewObjectIsInitializedByConstructor(t *testing.T) {
	m := method(t, bytecode.AccStatic, "make", "()Ljava/lang/Object;", func(b *bytecode.Builder) {
		b.EmitType(bytecode.OpNew, "a/P").
			Emit(bytecode.OpDup).
			EmitInvoke(bytecode.OpInvokeSpecial, "a/P", "<init>", "()V").
			Emit(bytecode.OpAReturn)
	})
	r := analyze(t, m)

	u := Type{Kind: Uninitialized, Desc: "La/P;", Site: 0}
	if diff := cmp.Diff([]Type{u, u}, r.At(2).Stack); diff != "" {
		t.Errorf("stack before <init> (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Type{Ref("La/P;")}, r.At(3).Stack); diff != "" {
		t.Errorf("stack after <init> (-want +got):\n%s", diff)
	}
}

func TestMergeAndUnreachable(t *testing.T) {
	m := method(t, bytecode.AccStatic, "pick", "(I)Ljava/lang/Object;", func(b *bytecode.Builder) {
		other, join := b.NewLabel(), b.NewLabel()
		b.EmitVar(bytecode.OpILoad, 0).
			EmitJump(bytecode.OpIfEq, other).
			EmitLdc("s").
			EmitVar(bytecode.OpAStore, 1).
			Emit(bytecode.OpAConstNull).
			EmitJump(bytecode.OpGoto, join).
			Emit(bytecode.OpNop). // unreachable
			Mark(other).
			Emit(bytecode.OpIConst1).
			EmitVar(bytecode.OpIStore, 1).
			Emit(bytecode.OpAConstNull).
			Mark(join).
			Emit(bytecode.OpAReturn)
	})
	r := analyze(t, m)

	if r.At(6) != nil {
		t.Errorf("NOP after GOTO should be unreachable, got %s", r.At(6))
	}
	join := r.At(12)
	if got := join.Local(1); got != TopType {
		t.Errorf("local 1 at join = %s, want T", got)
	}
	if got := join.Peek(0); got != NullType {
		t.Errorf("top at join = %s, want null", got)
	}
}

func TestExceptionHandlerFrame(t *testing.T) {
	m := method(t, bytecode.AccStatic, "guarded", "()V", func(b *bytecode.Builder) {
		start, end, handler := b.NewLabel(), b.NewLabel(), b.NewLabel()
		b.Mark(start).
			EmitInvoke(bytecode.OpInvokeStatic, "a/B", "g", "()V").
			Emit(bytecode.OpReturn).
			Mark(end).
			Mark(handler).
			Emit(bytecode.OpAThrow)
	})
	m.TryCatch = []bytecode.TryCatchBlock{{Start: 0, End: 1, Handler: 2}}
	r := analyze(t, m)

	if diff := cmp.Diff([]Type{Ref(bytecode.ThrowableDesc)}, r.At(5).Stack); diff != "" {
		t.Errorf("handler stack (-want +got):\n%s", diff)
	}
}

func TestStackShuffles(t *testing.T) {
	m := method(t, bytecode.AccStatic, "s", "(JI)V", func(b *bytecode.Builder) {
		// I, I J, J I J, J I, I J I, I J, I, empty
		b.EmitVar(bytecode.OpILoad, 2).
			EmitVar(bytecode.OpLLoad, 0).
			Emit(bytecode.OpDup2X1).
			Emit(bytecode.OpPop2).
			Emit(bytecode.OpDupX2).
			Emit(bytecode.OpPop).
			Emit(bytecode.OpPop2).
			Emit(bytecode.OpPop).
			Emit(bytecode.OpReturn)
	})
	r := analyze(t, m)

	want := []Type{LongType, TopType, IntType}
	if diff := cmp.Diff(want, r.At(4).Stack); diff != "" {
		t.Errorf("after DUP2_X1; POP2 (-want +got):\n%s", diff)
	}
	want = []Type{IntType, LongType, TopType, IntType}
	if diff := cmp.Diff(want, r.At(5).Stack); diff != "" {
		t.Errorf("after DUP_X2 (-want +got):\n%s", diff)
	}
	if r.MaxStack != 5 {
		t.Errorf("MaxStack = %d, want 5", r.MaxStack)
	}
}

func TestVerifyErrors(t *testing.T) {
	tests := []struct {
		name  string
		desc  string
		build func(b *bytecode.Builder)
		want  string
	}{
		{"underflow", "()V", func(b *bytecode.Builder) {
			b.Emit(bytecode.OpPop).Emit(bytecode.OpReturn)
		}, "stack underflow"},
		{"type mismatch", "()V", func(b *bytecode.Builder) {
			b.Emit(bytecode.OpAConstNull).Emit(bytecode.OpIConst1).Emit(bytecode.OpIAdd).Emit(bytecode.OpPop).Emit(bytecode.OpReturn)
		}, "expected I"},
		{"split long", "(J)V", func(b *bytecode.Builder) {
			b.EmitVar(bytecode.OpLLoad, 0).Emit(bytecode.OpDup).Emit(bytecode.OpReturn)
		}, "splits a two-slot value"},
		{"falls off end", "()V", func(b *bytecode.Builder) {
			b.Emit(bytecode.OpNop)
		}, "falls off the end"},
		{"wrong return", "()I", func(b *bytecode.Builder) {
			b.Emit(bytecode.OpReturn)
		}, "in a method returning I"},
		{"uninitialized argument", "()V", func(b *bytecode.Builder) {
			b.EmitType(bytecode.OpNew, "a/P").
				EmitInvoke(bytecode.OpInvokeStatic, "a/B", "take", "(Ljava/lang/Object;)V").
				Emit(bytecode.OpReturn)
		}, "used before construction"},
		{"not an array", "(Ljava/lang/String;)V", func(b *bytecode.Builder) {
			b.EmitVar(bytecode.OpALoad, 0).Emit(bytecode.OpIConst0).Emit(bytecode.OpAALoad).Emit(bytecode.OpPop).Emit(bytecode.OpReturn)
		}, "expected an array"},
		{"undefined local", "()V", func(b *bytecode.Builder) {
			b.EmitVar(bytecode.OpALoad, 3).Emit(bytecode.OpPop).Emit(bytecode.OpReturn)
		}, "local 3 holds T"},
		{"inconsistent height", "(I)V", func(b *bytecode.Builder) {
			l := b.NewLabel()
			b.Emit(bytecode.OpIConst0).
				EmitVar(bytecode.OpILoad, 0).
				EmitJump(bytecode.OpIfEq, l).
				Emit(bytecode.OpPop).
				Mark(l).
				Emit(bytecode.OpReturn)
		}, "inconsistent stack height"},
		{"unplaced label", "()V", func(b *bytecode.Builder) {
			b.EmitJump(bytecode.OpGoto, 42)
		}, "unplaced label"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := method(t, bytecode.AccStatic, "bad", tt.desc, tt.build)
			err := Verify(owner, m)
			if err == nil {
				t.Fatalf("Verify accepted:\n%s", m.Disassemble())
			}
			var ferr *Error
			if !errors.As(err, &ferr) {
				t.Fatalf("error %T is not a *flow.Error", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want containing %q", err, tt.want)
			}
		})
	}
}

func TestConstructorMustInitializeReceiver(t *testing.T) {
	m := method(t, 0, "<init>", "()V", func(b *bytecode.Builder) {
		b.Emit(bytecode.OpReturn)
	})
	if err := Verify(owner, m); err == nil || !strings.Contains(err.Error(), "before the receiver is initialized") {
		t.Errorf("Verify = %v", err)
	}
}

func TestComputeMaxs(t *testing.T) {
	m := method(t, 0, "g", "(D)V", func(b *bytecode.Builder) {
		b.EmitVar(bytecode.OpDLoad, 1).
			EmitVar(bytecode.OpDStore, 3).
			EmitVar(bytecode.OpALoad, 0).
			EmitVar(bytecode.OpALoad, 0).
			Emit(bytecode.OpPop2).
			Emit(bytecode.OpReturn)
	})
	if err := ComputeMaxs(owner, m); err != nil {
		t.Fatal(err)
	}
	if m.MaxStack != 2 || m.MaxLocals != 5 {
		t.Errorf("maxs = (%d, %d), want (2, 5)", m.MaxStack, m.MaxLocals)
	}
}

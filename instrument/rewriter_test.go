package instrument

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/chazu/weave/config"
	"github.com/chazu/weave/pkg/bytecode"
	"github.com/chazu/weave/pkg/interp"
	"github.com/chazu/weave/pkg/trace"
)

var eventOpts = cmp.Options{
	cmpopts.EquateEmpty(),
	cmp.Comparer(func(a, b *interp.Object) bool { return a == b }),
	cmp.Comparer(func(a, b *interp.Array) bool { return a == b }),
}

func method(access bytecode.Access, name, desc string, build func(b *bytecode.Builder)) *bytecode.Method {
	m := &bytecode.Method{Access: access, Name: name, Desc: desc}
	b := bytecode.NewBuilder(m)
	build(b)
	m.Code = b.Code()
	return m
}

func unit(name string, methods ...*bytecode.Method) *bytecode.Unit {
	return &bytecode.Unit{Name: name, Super: bytecode.ObjectClass, Methods: methods}
}

// defaultCtor is <init>()V calling the Object constructor.
func defaultCtor() *bytecode.Method {
	return method(0, bytecode.ConstructorName, "()V", func(b *bytecode.Builder) {
		b.EmitVar(bytecode.OpALoad, 0).
			EmitInvoke(bytecode.OpInvokeSpecial, bytecode.ObjectClass, bytecode.ConstructorName, "()V").
			Emit(bytecode.OpReturn)
	})
}

// only returns a session with just the named categories enabled.
func only(methods, fields, variables bool) *config.Config {
	cfg := config.Default()
	cfg.Methods, cfg.Fields, cfg.Variables = methods, fields, variables
	return cfg
}

func rewriteWith(t *testing.T, cfg *config.Config, u *bytecode.Unit) (*bytecode.Unit, Result) {
	t.Helper()
	out, res, err := New(cfg).rewriteUnit(u)
	if err != nil {
		t.Fatalf("rewrite %s: %v", u.Name, err)
	}
	return out, res
}

func load(u *bytecode.Unit) (*interp.VM, *trace.Recorder) {
	rec := trace.NewRecorder()
	vm := interp.New(rec)
	vm.Load(u)
	return vm, rec
}

func checkEvents(t *testing.T, rec *trace.Recorder, want []trace.Event) {
	t.Helper()
	if diff := cmp.Diff(want, rec.Events(), eventOpts); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	if err := rec.Validate(); err != nil {
		t.Error(err)
	}
}

func TestStaticFieldIncrement(t *testing.T) {
	bump := method(bytecode.AccStatic, "bump", "()V", func(b *bytecode.Builder) {
		b.EmitField(bytecode.OpGetStatic, "a/Counter", "count", "I").
			Emit(bytecode.OpIConst1).
			Emit(bytecode.OpIAdd).
			EmitField(bytecode.OpPutStatic, "a/Counter", "count", "I").
			Emit(bytecode.OpReturn)
	})
	u := unit("a/Counter", bump)
	u.Fields = []*bytecode.Field{{Access: bytecode.AccStatic, Name: "count", Desc: "I"}}

	out, res := rewriteWith(t, nil, u)
	if res.Status != StatusRewritten {
		t.Fatalf("status = %s", res.Status)
	}
	if res.Stats.FieldLoads != 1 || res.Stats.FieldStores != 1 {
		t.Errorf("stats = %+v", res.Stats)
	}

	vm, rec := load(out)
	for range 2 {
		if _, err := vm.Invoke("a/Counter", "bump", "()V"); err != nil {
			t.Fatal(err)
		}
	}
	if v, _ := vm.Static("a/Counter", "count"); v != int32(2) {
		t.Errorf("count = %v, want 2", v)
	}

	static := trace.Marker(trace.KindStatic)
	round := []trace.Event{
		trace.MethodEnter{Name: "bump", Desc: "()V", Unit: "a/Counter", Receiver: static},
		trace.FieldLoad{Holder: static, HolderClass: "a/Counter", Field: "count", Caller: static, CallerClass: "a/Counter", Primitive: true},
		trace.FieldStore{Holder: static, HolderClass: "a/Counter", Field: "count", Caller: static, CallerClass: "a/Counter", Primitive: true},
		trace.MethodExit{Name: "bump", Unit: "a/Counter"},
	}
	checkEvents(t, rec, append(round, round...))
}

func TestArrayStoreReportsOldValue(t *testing.T) {
	run := method(bytecode.AccStatic, "run", "()[Ljava/lang/Object;", func(b *bytecode.Builder) {
		b.Emit(bytecode.OpIConst3).
			EmitType(bytecode.OpANewArray, bytecode.ObjectClass).
			EmitVar(bytecode.OpAStore, 0).
			EmitVar(bytecode.OpALoad, 0).Emit(bytecode.OpIConst2).EmitString("old").Emit(bytecode.OpAAStore).
			EmitVar(bytecode.OpALoad, 0).Emit(bytecode.OpIConst2).EmitString("new").Emit(bytecode.OpAAStore).
			EmitVar(bytecode.OpALoad, 0).Emit(bytecode.OpIConst2).Emit(bytecode.OpAALoad).Emit(bytecode.OpPop).
			EmitVar(bytecode.OpALoad, 0).
			Emit(bytecode.OpAReturn)
	})
	out, res := rewriteWith(t, only(false, true, false), unit("a/Arrays", run))
	if res.Stats.ArrayStores != 2 || res.Stats.ArrayLoads != 1 {
		t.Errorf("stats = %+v", res.Stats)
	}

	vm, rec := load(out)
	v, err := vm.Invoke("a/Arrays", "run", "()[Ljava/lang/Object;")
	if err != nil {
		t.Fatal(err)
	}
	arr, ok := v.(*interp.Array)
	if !ok {
		t.Fatalf("run returned %T", v)
	}
	if diff := cmp.Diff([]any{nil, nil, "new"}, arr.Elements()); diff != "" {
		t.Errorf("elements (-want +got):\n%s", diff)
	}

	static := trace.Marker(trace.KindStatic)
	checkEvents(t, rec, []trace.Event{
		trace.ArrayStore{New: "old", Array: arr, Index: 2, HolderClass: bytecode.ObjectArrayDesc,
			CallerMethod: "run", CallerClass: "a/Arrays", Caller: static},
		trace.ArrayStore{New: "new", Array: arr, Index: 2, Old: "old", HolderClass: bytecode.ObjectArrayDesc,
			CallerMethod: "run", CallerClass: "a/Arrays", Caller: static},
		trace.ArrayLoad{Array: arr, Index: 2, Value: "new", HolderClass: bytecode.ObjectArrayDesc,
			CallerMethod: "run", CallerClass: "a/Arrays", Caller: static},
	})
}

func TestConstructorReceiverLifecycle(t *testing.T) {
	ctor := method(0, bytecode.ConstructorName, "()V", func(b *bytecode.Builder) {
		b.EmitVar(bytecode.OpALoad, 0).
			EmitInvoke(bytecode.OpInvokeSpecial, bytecode.ObjectClass, bytecode.ConstructorName, "()V").
			EmitVar(bytecode.OpALoad, 0).
			Emit(bytecode.OpIConst1).
			EmitField(bytecode.OpPutField, "a/Point", "x", "I").
			Emit(bytecode.OpReturn)
	})
	u := unit("a/Point", ctor)
	u.Fields = []*bytecode.Field{{Name: "x", Desc: "I"}}

	out, res := rewriteWith(t, nil, u)
	if res.Stats.ObjectsCreated != 1 || res.Stats.ExceptionalExits != 0 {
		t.Errorf("stats = %+v", res.Stats)
	}

	vm, rec := load(out)
	o, err := vm.NewObject("a/Point", "()V")
	if err != nil {
		t.Fatal(err)
	}
	if o.Fields["x"] != int32(1) {
		t.Errorf("x = %v, want 1", o.Fields["x"])
	}
	checkEvents(t, rec, []trace.Event{
		trace.MethodEnter{Name: "<init>", Desc: "()V", Unit: "a/Point", Receiver: trace.Marker(trace.KindThis), Args: []any{nil}},
		trace.ObjectCreated{Object: o, Unit: "a/Point"},
		trace.FieldStore{Holder: trace.Normal(o), HolderClass: "a/Point", Field: "x",
			Caller: trace.Normal(o), CallerClass: "a/Point", Primitive: true},
		trace.MethodExit{Name: "<init>", Unit: "a/Point"},
	})
	if err := rec.Balanced(); err != nil {
		t.Error(err)
	}
}

func TestInstanceMethodEnter(t *testing.T) {
	get := method(0, "get", "(JLjava/lang/String;)Ljava/lang/Object;", func(b *bytecode.Builder) {
		b.EmitVar(bytecode.OpALoad, 3).Emit(bytecode.OpAReturn)
	})
	out, _ := rewriteWith(t, only(true, false, false), unit("a/Box", defaultCtor(), get))

	vm, rec := load(out)
	o, err := vm.NewObject("a/Box", "()V")
	if err != nil {
		t.Fatal(err)
	}
	rec.Reset()
	v, err := vm.Invoke("a/Box", "get", "(JLjava/lang/String;)Ljava/lang/Object;", o, int64(7), "s")
	if err != nil {
		t.Fatal(err)
	}
	if v != "s" {
		t.Errorf("get = %v", v)
	}
	checkEvents(t, rec, []trace.Event{
		trace.MethodEnter{Name: "get", Desc: "(JLjava/lang/String;)Ljava/lang/Object;", Unit: "a/Box",
			Receiver: trace.Normal(o), Args: []any{nil, nil, "s"}},
		trace.MethodExit{Name: "get", Unit: "a/Box"},
	})
}

func TestCoalescedExits(t *testing.T) {
	pick := func() *bytecode.Unit {
		m := method(bytecode.AccStatic, "pick", "(I)I", func(b *bytecode.Builder) {
			zero := b.NewLabel()
			b.Line(7).
				EmitVar(bytecode.OpILoad, 0).
				EmitJump(bytecode.OpIfEq, zero).
				Emit(bytecode.OpIConst1).
				Emit(bytecode.OpIReturn).
				Mark(zero).
				Emit(bytecode.OpIConst2).
				Emit(bytecode.OpIReturn)
		})
		return unit("a/Pick", m)
	}
	exits := func(rec *trace.Recorder) int {
		n := 0
		for _, ev := range rec.Events() {
			if _, ok := ev.(trace.MethodExit); ok {
				n++
			}
		}
		return n
	}

	tests := []struct {
		name     string
		coalesce bool
		stats    [2]int // MethodExits, CoalescedExits
		exits    [2]int // exits seen for pick(1), pick(0)
	}{
		{"coalesced", true, [2]int{1, 1}, [2]int{1, 0}},
		{"separate", false, [2]int{2, 0}, [2]int{1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := only(true, false, false)
			cfg.CoalesceExits = tt.coalesce
			out, res := rewriteWith(t, cfg, pick())
			if got := [2]int{res.Stats.MethodExits, res.Stats.CoalescedExits}; got != tt.stats {
				t.Errorf("stats exits, coalesced = %v, want %v", got, tt.stats)
			}
			vm, rec := load(out)
			for i, arg := range []int32{1, 0} {
				rec.Reset()
				v, err := vm.Invoke("a/Pick", "pick", "(I)I", arg)
				if err != nil {
					t.Fatal(err)
				}
				if want := int32(2 - arg); v != want {
					t.Errorf("pick(%d) = %v, want %d", arg, v, want)
				}
				if n := exits(rec); n != tt.exits[i] {
					t.Errorf("pick(%d): %d exits, want %d", arg, n, tt.exits[i])
				}
			}
		})
	}
}

func throwingUnit() *bytecode.Unit {
	boom := method(bytecode.AccStatic, "boom", "()V", func(b *bytecode.Builder) {
		b.EmitType(bytecode.OpNew, interp.RuntimeException).
			Emit(bytecode.OpDup).
			EmitInvoke(bytecode.OpInvokeSpecial, interp.RuntimeException, bytecode.ConstructorName, "()V").
			Emit(bytecode.OpAThrow)
	})
	var guard bytecode.TryCatchBlock
	outer := method(bytecode.AccStatic, "outer", "()V", func(b *bytecode.Builder) {
		start, end, handler := b.NewLabel(), b.NewLabel(), b.NewLabel()
		guard = bytecode.TryCatchBlock{Start: start, End: end, Handler: handler, Type: interp.RuntimeException}
		b.Mark(start).
			EmitInvoke(bytecode.OpInvokeStatic, "a/Boom", "boom", "()V").
			Mark(end).
			Emit(bytecode.OpReturn).
			Mark(handler).
			Emit(bytecode.OpPop).
			Emit(bytecode.OpReturn)
	})
	outer.TryCatch = []bytecode.TryCatchBlock{guard}
	return unit("a/Boom", boom, outer)
}

func TestUncaughtExceptionExitsOnce(t *testing.T) {
	out, res := rewriteWith(t, nil, throwingUnit())
	if res.Stats.ExceptionalExits != 2 {
		t.Errorf("exceptional exits = %d, want one per method", res.Stats.ExceptionalExits)
	}
	vm, rec := load(out)

	_, err := vm.Invoke("a/Boom", "boom", "()V")
	if exc, ok := interp.IsThrown(err); !ok || exc.Class != interp.RuntimeException {
		t.Fatalf("boom: %v", err)
	}
	checkEvents(t, rec, []trace.Event{
		trace.MethodEnter{Name: "boom", Desc: "()V", Unit: "a/Boom", Receiver: trace.Marker(trace.KindStatic)},
		trace.MethodExit{Name: "boom", Unit: "a/Boom", Exceptional: true},
	})

	rec.Reset()
	if _, err := vm.Invoke("a/Boom", "outer", "()V"); err != nil {
		t.Fatalf("outer: %v", err)
	}
	checkEvents(t, rec, []trace.Event{
		trace.MethodEnter{Name: "outer", Desc: "()V", Unit: "a/Boom", Receiver: trace.Marker(trace.KindStatic)},
		trace.MethodEnter{Name: "boom", Desc: "()V", Unit: "a/Boom", Receiver: trace.Marker(trace.KindStatic)},
		trace.MethodExit{Name: "boom", Unit: "a/Boom", Exceptional: true},
		trace.MethodExit{Name: "outer", Unit: "a/Boom"},
	})
	if err := rec.Balanced(); err != nil {
		t.Error(err)
	}
}

func TestVariableEvents(t *testing.T) {
	id := method(bytecode.AccStatic, "id", "(Ljava/lang/Object;)Ljava/lang/Object;", func(b *bytecode.Builder) {
		b.EmitVar(bytecode.OpALoad, 0).
			EmitVar(bytecode.OpAStore, 1).
			EmitVar(bytecode.OpALoad, 1).
			Emit(bytecode.OpAReturn)
	})
	out, res := rewriteWith(t, only(false, false, true), unit("a/Vars", id))
	if res.Stats.VarLoads != 2 || res.Stats.VarStores != 1 {
		t.Errorf("stats = %+v", res.Stats)
	}
	vm, rec := load(out)
	if _, err := vm.Invoke("a/Vars", "id", "(Ljava/lang/Object;)Ljava/lang/Object;", "x"); err != nil {
		t.Fatal(err)
	}
	static := trace.Marker(trace.KindStatic)
	checkEvents(t, rec, []trace.Event{
		trace.VarLoad{Value: trace.Normal("x"), Var: 0, CallerClass: "a/Vars", CallerMethod: "id", Caller: static},
		trace.VarStore{New: trace.Normal("x"), Old: trace.Marker(trace.KindNotImplemented), Var: 1,
			CallerClass: "a/Vars", CallerMethod: "id", Caller: static},
		trace.VarLoad{Value: trace.Normal("x"), Var: 1, CallerClass: "a/Vars", CallerMethod: "id", Caller: static},
	})
}

func TestArrayAllocation(t *testing.T) {
	mk := method(bytecode.AccStatic, "mk", "()[I", func(b *bytecode.Builder) {
		b.Emit(bytecode.OpIConst2).
			EmitInt(bytecode.OpNewArray, bytecode.TInt).
			Emit(bytecode.OpAReturn)
	})
	out, res := rewriteWith(t, only(true, false, false), unit("a/Alloc", mk))
	if res.Stats.ArraysCreated != 1 {
		t.Errorf("arrays = %d", res.Stats.ArraysCreated)
	}
	vm, rec := load(out)
	v, err := vm.Invoke("a/Alloc", "mk", "()[I")
	if err != nil {
		t.Fatal(err)
	}
	static := trace.Marker(trace.KindStatic)
	checkEvents(t, rec, []trace.Event{
		trace.MethodEnter{Name: "mk", Desc: "()[I", Unit: "a/Alloc", Receiver: static},
		trace.ObjectCreated{Object: v, Unit: "[I"},
		trace.MethodEnter{Name: "<init>", Desc: "(I)V", Unit: "[I", Receiver: trace.Marker(trace.KindThis)},
		trace.MethodExit{Name: "<init>", Unit: "[I"},
		trace.MethodExit{Name: "mk", Unit: "a/Alloc"},
	})
	if err := rec.Balanced(); err != nil {
		t.Error(err)
	}
}

func TestUnreachableCodeIsRewritten(t *testing.T) {
	run := method(bytecode.AccStatic, "run", "()V", func(b *bytecode.Builder) {
		b.Emit(bytecode.OpReturn)
		// nothing below is reachable
		b.EmitField(bytecode.OpGetStatic, "a/Dead", "arr", "[Ljava/lang/Object;").
			EmitVar(bytecode.OpAStore, 0).
			EmitVar(bytecode.OpALoad, 0).Emit(bytecode.OpIConst0).Emit(bytecode.OpAALoad).Emit(bytecode.OpPop).
			Emit(bytecode.OpIConst1).EmitInt(bytecode.OpNewArray, bytecode.TInt).Emit(bytecode.OpPop).
			Emit(bytecode.OpReturn)
	})
	u := unit("a/Dead", run)
	u.Fields = []*bytecode.Field{{Access: bytecode.AccStatic, Name: "arr", Desc: "[Ljava/lang/Object;"}}

	out, res := rewriteWith(t, nil, u)
	if res.Status != StatusRewritten {
		t.Fatalf("status = %s (%s)", res.Status, res.Reason)
	}
	want := Stats{Methods: 1, MethodEnters: 1, ArraysCreated: 1,
		ArrayLoads: 1, VarLoads: 1, VarStores: 1, SkippedAccesses: 1}
	if diff := cmp.Diff(want, res.Stats, cmpopts.IgnoreFields(Stats{}, "MethodExits", "ExceptionalExits", "CoalescedExits")); diff != "" {
		t.Errorf("stats (-want +got):\n%s", diff)
	}

	vm, rec := load(out)
	if _, err := vm.Invoke("a/Dead", "run", "()V"); err != nil {
		t.Fatal(err)
	}
	checkEvents(t, rec, []trace.Event{
		trace.MethodEnter{Name: "run", Desc: "()V", Unit: "a/Dead", Receiver: trace.Marker(trace.KindStatic)},
		trace.MethodExit{Name: "run", Unit: "a/Dead"},
	})
	if err := rec.Balanced(); err != nil {
		t.Error(err)
	}
}

func TestWideValues(t *testing.T) {
	set := method(0, "set", "(J)V", func(b *bytecode.Builder) {
		b.Emit(bytecode.OpIConst1).
			EmitInt(bytecode.OpNewArray, bytecode.TDouble).
			EmitVar(bytecode.OpAStore, 3).
			EmitVar(bytecode.OpALoad, 0).
			EmitVar(bytecode.OpLLoad, 1).
			EmitField(bytecode.OpPutField, "a/Wide", "l", "J").
			EmitVar(bytecode.OpALoad, 3).
			Emit(bytecode.OpIConst0).
			Emit(bytecode.OpDConst0).
			Emit(bytecode.OpDAStore).
			EmitVar(bytecode.OpALoad, 3).
			Emit(bytecode.OpIConst0).
			Emit(bytecode.OpDALoad).
			Emit(bytecode.OpPop2).
			Emit(bytecode.OpReturn)
	})
	u := unit("a/Wide", defaultCtor(), set)
	u.Fields = []*bytecode.Field{{Name: "l", Desc: "J"}}

	out, _ := rewriteWith(t, nil, u)
	vm, rec := load(out)
	o, err := vm.NewObject("a/Wide", "()V")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := vm.Invoke("a/Wide", "set", "(J)V", o, int64(5)); err != nil {
		t.Fatal(err)
	}
	if o.Fields["l"] != int64(5) {
		t.Errorf("l = %v, want 5", o.Fields["l"])
	}
	if err := rec.Validate(); err != nil {
		t.Error(err)
	}
	if err := rec.Balanced(); err != nil {
		t.Error(err)
	}

	var stores, loads int
	for _, ev := range rec.Events() {
		switch e := ev.(type) {
		case trace.FieldStore:
			stores++
			if e.Holder != trace.Normal(o) || !e.Primitive {
				t.Errorf("field store %v", e)
			}
		case trace.ArrayStore:
			stores++
		case trace.ArrayLoad:
			loads++
		}
	}
	if stores != 2 || loads != 1 {
		t.Errorf("stores = %d, loads = %d", stores, loads)
	}
}

func TestFallback(t *testing.T) {
	tests := []struct {
		name string
		m    *bytecode.Method
		kind error
	}{
		{
			// a reference store on the receiver before super() has no old value
			name: "unsupported",
			m: method(0, bytecode.ConstructorName, "()V", func(b *bytecode.Builder) {
				b.EmitVar(bytecode.OpALoad, 0).
					Emit(bytecode.OpAConstNull).
					EmitField(bytecode.OpPutField, "a/Bad", "next", "Ljava/lang/Object;").
					EmitVar(bytecode.OpALoad, 0).
					EmitInvoke(bytecode.OpInvokeSpecial, bytecode.ObjectClass, bytecode.ConstructorName, "()V").
					Emit(bytecode.OpReturn)
			}),
			kind: ErrUnsupported,
		},
		{
			name: "verify",
			m: method(bytecode.AccStatic, "f", "(I)V", func(b *bytecode.Builder) {
				b.EmitVar(bytecode.OpALoad, 0).Emit(bytecode.OpPop).Emit(bytecode.OpReturn)
			}),
			kind: ErrVerify,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := unit("a/Bad", tt.m)
			data, err := bytecode.WireCodec{}.Encode(u)
			if err != nil {
				t.Fatal(err)
			}
			r := New(nil)
			out, res, err := r.Transform(data)
			if err != nil {
				t.Fatal(err)
			}
			if res.Status != StatusFallback {
				t.Errorf("status = %s, want fallback", res.Status)
			}
			if string(out) != string(data) {
				t.Error("fallback output differs from the input")
			}
			failures := r.Failures().Failures()
			if len(failures) != 1 {
				t.Fatalf("%d failures recorded", len(failures))
			}
			if !errors.Is(failures[0].Err, tt.kind) {
				t.Errorf("failure %v is not %v", failures[0].Err, tt.kind)
			}
			if !IsRewriteError(failures[0].Err) {
				t.Errorf("failure %T is not a rewrite error", failures[0].Err)
			}
		})
	}
}

func TestDisabledIsTransparent(t *testing.T) {
	u := throwingUnit()
	data, err := bytecode.WireCodec{}.Encode(u)
	if err != nil {
		t.Fatal(err)
	}
	off := config.Default()
	off.Enabled = false
	for _, cfg := range []*config.Config{off, only(false, false, false)} {
		r := New(cfg)
		got, err := r.RewriteUnit(u)
		if err != nil {
			t.Fatal(err)
		}
		if got != u {
			t.Error("disabled rewrite returned a new unit")
		}
		out, res, err := r.Transform(data)
		if err != nil {
			t.Fatal(err)
		}
		if res.Status != StatusSkipped || string(out) != string(data) {
			t.Errorf("status = %s, output changed = %t", res.Status, string(out) != string(data))
		}
	}
}

func TestFilter(t *testing.T) {
	cfg := config.Default()
	cfg.Exclude = []string{"a/skip/"}
	r := New(cfg)

	tests := []struct {
		unit     string
		excluded bool
	}{
		{"java/lang/String", true},
		{"java/util/HashMap$Node", true},
		{trace.Owner, true},
		{"a/skip/Thing", true},
		{"a/keep/Thing", false},
	}
	for _, tt := range tests {
		u := throwingUnit()
		u.Name = tt.unit
		data, err := bytecode.WireCodec{}.Encode(u)
		if err != nil {
			t.Fatal(err)
		}
		first, res, err := r.Transform(data)
		if err != nil {
			t.Fatalf("%s: %v", tt.unit, err)
		}
		if got := res.Status == StatusSkipped; got != tt.excluded {
			t.Errorf("%s: status %s", tt.unit, res.Status)
		}
		if !tt.excluded {
			continue
		}
		second, _, err := r.Transform(first)
		if err != nil {
			t.Fatal(err)
		}
		if string(first) != string(data) || string(second) != string(data) {
			t.Errorf("%s: excluded unit was modified", tt.unit)
		}
	}

	custom := New(cfg, WithFilter(FilterFunc(func(name string) bool { return name == "a/Boom" })))
	if _, res, _ := custom.rewriteUnit(throwingUnit()); res.Status != StatusSkipped {
		t.Errorf("custom filter: status %s", res.Status)
	}
}

func TestRewriteLeavesInputUnchanged(t *testing.T) {
	u := throwingUnit()
	before := u.Disassemble()
	out, _ := rewriteWith(t, nil, u)
	if u.Disassemble() != before {
		t.Error("input unit was modified")
	}
	if out.Disassemble() == before {
		t.Error("output carries no instrumentation")
	}
}

func TestTransformRejectsGarbage(t *testing.T) {
	_, res, err := New(nil).Transform([]byte("not a unit"))
	if err == nil || res.Status != StatusFailed {
		t.Errorf("Transform = %s, %v", res.Status, err)
	}
}

func TestStatus(t *testing.T) {
	for _, s := range []Status{StatusRewritten, StatusSkipped, StatusFallback, StatusFailed} {
		got, err := ParseStatus(s.String())
		if err != nil || got != s {
			t.Errorf("ParseStatus(%q) = %v, %v", s, got, err)
		}
	}
	if _, err := ParseStatus("bogus"); err == nil {
		t.Error("ParseStatus accepted bogus")
	}
}

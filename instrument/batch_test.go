package instrument

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/chazu/weave/config"
	"github.com/chazu/weave/pkg/bytecode"
)

func encode(t *testing.T, u *bytecode.Unit) []byte {
	t.Helper()
	data, err := bytecode.WireCodec{}.Encode(u)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func batchInputs(t *testing.T) ([]Input, []Status) {
	t.Helper()
	excluded := throwingUnit()
	excluded.Name = "java/lang/String"
	bad := unit("a/Bad", method(bytecode.AccStatic, "f", "(I)V", func(b *bytecode.Builder) {
		b.EmitVar(bytecode.OpALoad, 0).Emit(bytecode.OpPop).Emit(bytecode.OpReturn)
	}))

	var inputs []Input
	var want []Status
	for i := range 4 {
		inputs = append(inputs,
			Input{Name: "boom.wvbc", Data: encode(t, throwingUnit())},
			Input{Name: "string.wvbc", Data: encode(t, excluded)},
			Input{Name: "garbage.wvbc", Data: []byte{byte(i)}},
			Input{Name: "bad.wvbc", Data: encode(t, bad)},
			Input{Name: "mixed.wvbc", Data: encode(t, mixedUnit())},
		)
		want = append(want, StatusRewritten, StatusSkipped, StatusFailed, StatusFallback, StatusRewritten)
	}
	return inputs, want
}

func TestTransformBatch(t *testing.T) {
	inputs, want := batchInputs(t)
	cfg := config.Default()
	cfg.Workers = 3
	r := New(cfg)

	m, err := r.TransformBatch(context.Background(), inputs)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Entries) != len(inputs) {
		t.Fatalf("%d entries for %d inputs", len(m.Entries), len(inputs))
	}
	for i, e := range m.Entries {
		if e.Input != inputs[i].Name {
			t.Errorf("entry %d is %s, want %s", i, e.Input, inputs[i].Name)
		}
		if e.Result.Status != want[i] {
			t.Errorf("entry %d (%s): status %s, want %s (%s)", i, e.Input, e.Result.Status, want[i], e.Result.Reason)
		}
		switch e.Result.Status {
		case StatusFailed:
			if e.Err == nil || e.Output != nil {
				t.Errorf("entry %d: failed without error", i)
			}
		case StatusSkipped, StatusFallback:
			if string(e.Output) != string(inputs[i].Data) {
				t.Errorf("entry %d: output differs from input", i)
			}
		}
	}
	if got := m.Count(StatusFallback); got != 4 || r.Failures().Len() != 4 {
		t.Errorf("fallbacks = %d, failures logged = %d", got, r.Failures().Len())
	}
	if m.Stats().Methods == 0 {
		t.Error("no methods counted")
	}
}

func TestTransformBatchCanceled(t *testing.T) {
	inputs, _ := batchInputs(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m, err := New(nil).TransformBatch(ctx, inputs)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if m.Count(StatusFailed) != len(inputs) {
		t.Errorf("%d of %d failed", m.Count(StatusFailed), len(inputs))
	}
}

func TestTraceWritesDisassembly(t *testing.T) {
	cfg := config.Default()
	cfg.Trace = true
	cfg.TraceDir = t.TempDir()
	r := New(cfg)

	if _, _, err := r.Transform(encode(t, throwingUnit())); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(r.TracePath("a/Boom"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "methodExit") {
		t.Errorf("trace lacks the injected calls:\n%s", data)
	}

	if p := r.TracePath("../x"); !strings.HasPrefix(p, cfg.TraceDir) {
		t.Errorf("TracePath escaped the trace dir: %s", p)
	}
}

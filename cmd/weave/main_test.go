package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/weave/instrument"
	"github.com/chazu/weave/pkg/bytecode"
)

func writeUnit(t *testing.T, path string, u *bytecode.Unit) {
	t.Helper()
	data, err := bytecode.WireCodec{}.Encode(u)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func mainUnit() *bytecode.Unit {
	m := &bytecode.Method{Access: bytecode.AccStatic | bytecode.AccPublic, Name: "main", Desc: "()V"}
	b := bytecode.NewBuilder(m)
	b.Emit(bytecode.OpReturn)
	m.Code = b.Code()
	return &bytecode.Unit{Name: "app/Main", Super: bytecode.ObjectClass, Methods: []*bytecode.Method{m}}
}

func TestCollect(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, filepath.Join(dir, "app", "Main.wvbc"), mainUnit())
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	single := filepath.Join(dir, "other.bin")
	writeUnit(t, single, mainUnit())

	files, err := collect([]string{dir, single})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{filepath.Join(dir, "app", "Main.wvbc"), single}
	if len(files) != len(want) || files[0] != want[0] || files[1] != want[1] {
		t.Errorf("collect = %v, want %v", files, want)
	}

	if _, err := collect([]string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("collect accepted a missing path")
	}
}

func TestWriteOutputsAndRun(t *testing.T) {
	src := filepath.Join(t.TempDir(), "Main.wvbc")
	writeUnit(t, src, mainUnit())
	data, err := os.ReadFile(src)
	if err != nil {
		t.Fatal(err)
	}

	m, err := instrument.New(nil).TransformBatch(context.Background(), []instrument.Input{{Name: src, Data: data}})
	if err != nil {
		t.Fatal(err)
	}
	out := t.TempDir()
	units, err := writeOutputs(out, m)
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 1 {
		t.Fatalf("%d units written", len(units))
	}
	if _, err := os.Stat(filepath.Join(out, "app", "Main.wvbc")); err != nil {
		t.Error(err)
	}

	if err := runEntry("app/Main.main", units); err != nil {
		t.Error(err)
	}
	for _, bad := range []string{"main", "app/Main.", ".main"} {
		if err := runEntry(bad, units); err == nil {
			t.Errorf("runEntry(%q) succeeded", bad)
		}
	}
}

func TestWriteOutputsStaysInDir(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "out")
	u := mainUnit()
	u.Name = "../../escaped"
	data, err := bytecode.WireCodec{}.Encode(u)
	if err != nil {
		t.Fatal(err)
	}
	m := &instrument.Manifest{Entries: []instrument.Entry{{Input: "escaped.wvbc", Output: data}}}

	if _, err := writeOutputs(out, m); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(out, "_", "_", "escaped"+unitExt)); err != nil {
		t.Errorf("unit not written under the output dir: %v", err)
	}
	for _, p := range []string{filepath.Join(root, "escaped"+unitExt), filepath.Join(filepath.Dir(root), "escaped"+unitExt)} {
		if _, err := os.Stat(p); err == nil {
			t.Errorf("unit written outside the output dir at %s", p)
		}
	}
}

func TestOutputPath(t *testing.T) {
	dir := filepath.Join("base", "out")
	for _, name := range []string{"app/Main", "..", "../x", "/etc/passwd", "a/../../b"} {
		p, err := outputPath(dir, name)
		if err != nil {
			t.Errorf("outputPath(%q): %v", name, err)
			continue
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil || strings.HasPrefix(rel, "..") {
			t.Errorf("outputPath(%q) = %s, outside %s", name, p, dir)
		}
	}
}

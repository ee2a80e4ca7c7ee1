package bytecode

import (
	"path/filepath"
	"reflect"
	"testing"
)

func TestArgumentTypes(t *testing.T) {
	tests := []struct {
		desc string
		want []string
		size int
	}{
		{"()V", nil, 0},
		{"(I)V", []string{"I"}, 1},
		{"(JLjava/lang/String;)I", []string{"J", "Ljava/lang/String;"}, 3},
		{"([[IDZ)V", []string{"[[I", "D", "Z"}, 4},
		{"([Ljava/lang/Object;)Ljava/lang/Object;", []string{"[Ljava/lang/Object;"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			got, err := ArgumentTypes(tt.desc)
			if err != nil {
				t.Fatalf("ArgumentTypes error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ArgumentTypes = %v, want %v", got, tt.want)
			}
			size, err := ArgumentsSize(tt.desc)
			if err != nil {
				t.Fatalf("ArgumentsSize error: %v", err)
			}
			if size != tt.size {
				t.Errorf("ArgumentsSize = %d, want %d", size, tt.size)
			}
		})
	}
}

func TestMalformedDescriptors(t *testing.T) {
	for _, desc := range []string{"", "I", "(", "(Ljava/lang/String)V", "(Q)V", "()"} {
		_, errArgs := ArgumentTypes(desc)
		_, errRet := ReturnType(desc)
		if errArgs == nil && errRet == nil {
			t.Errorf("descriptor %q should be rejected", desc)
		}
	}
	if err := ValidateFieldDesc("II"); err == nil {
		t.Error("ValidateFieldDesc(\"II\") should fail")
	}
}

func TestReturnType(t *testing.T) {
	tests := []struct{ desc, want string }{
		{"()V", "V"},
		{"(I)J", "J"},
		{"()[Ljava/lang/String;", "[Ljava/lang/String;"},
	}
	for _, tt := range tests {
		got, err := ReturnType(tt.desc)
		if err != nil {
			t.Fatalf("ReturnType(%q) error: %v", tt.desc, err)
		}
		if got != tt.want {
			t.Errorf("ReturnType(%q) = %q, want %q", tt.desc, got, tt.want)
		}
	}
}

func TestTypeHelpers(t *testing.T) {
	if TypeSize("J") != 2 || TypeSize("D") != 2 || TypeSize("I") != 1 || TypeSize("V") != 0 {
		t.Error("TypeSize mismatch")
	}
	if !IsReference("[I") || !IsReference(StringDesc) || IsReference("I") {
		t.Error("IsReference mismatch")
	}
	if elem, err := ElementType("[[J"); err != nil || elem != "[J" {
		t.Errorf("ElementType([[J) = %q, %v", elem, err)
	}
	if _, err := ElementType(StringDesc); err == nil {
		t.Error("ElementType of a class should fail")
	}
	if ClassDesc("a/B") != "La/B;" || ClassDesc("[I") != "[I" {
		t.Error("ClassDesc mismatch")
	}
	if InternalName("La/B;") != "a/B" {
		t.Error("InternalName mismatch")
	}
}

func TestLoadStoreReturnOpcodes(t *testing.T) {
	tests := []struct {
		desc             string
		load, store, ret Opcode
	}{
		{"I", OpILoad, OpIStore, OpIReturn},
		{"Z", OpILoad, OpIStore, OpIReturn},
		{"J", OpLLoad, OpLStore, OpLReturn},
		{"F", OpFLoad, OpFStore, OpFReturn},
		{"D", OpDLoad, OpDStore, OpDReturn},
		{StringDesc, OpALoad, OpAStore, OpAReturn},
		{"[I", OpALoad, OpAStore, OpAReturn},
	}
	for _, tt := range tests {
		if got := LoadOpcode(tt.desc); got != tt.load {
			t.Errorf("LoadOpcode(%q) = %s, want %s", tt.desc, got, tt.load)
		}
		if got := StoreOpcode(tt.desc); got != tt.store {
			t.Errorf("StoreOpcode(%q) = %s, want %s", tt.desc, got, tt.store)
		}
		if got := ReturnOpcode(tt.desc); got != tt.ret {
			t.Errorf("ReturnOpcode(%q) = %s, want %s", tt.desc, got, tt.ret)
		}
	}
}

func TestRelPath(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"com/example/Point", filepath.Join("com", "example", "Point")},
		{"Main", "Main"},
		{"../../escaped", filepath.Join("_", "_", "escaped")},
		{"/abs/A", filepath.Join("_", "abs", "A")},
		{"a/./b//c", filepath.Join("a", "_", "b", "_", "c")},
		{"", "_"},
	}
	for _, tt := range tests {
		if got := RelPath(tt.name); got != tt.want {
			t.Errorf("RelPath(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

package bytecode

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Access holds the access and property flags of units, fields and methods.
type Access uint16

const (
	AccPublic       Access = 0x0001
	AccPrivate      Access = 0x0002
	AccProtected    Access = 0x0004
	AccStatic       Access = 0x0008
	AccFinal        Access = 0x0010
	AccSynchronized Access = 0x0020
	AccBridge       Access = 0x0040
	AccNative       Access = 0x0100
	AccInterface    Access = 0x0200
	AccAbstract     Access = 0x0400
	AccSynthetic    Access = 0x1000
)

// Has reports whether all bits of flag are set.
func (a Access) Has(flag Access) bool {
	return a&flag == flag
}

// Constructor and class initializer method names.
const (
	ConstructorName = "<init>"
	ClassInitName   = "<clinit>"
)

// RelPath maps an internal unit name to a relative file path. Empty, "."
// and ".." segments become "_", so the result never leaves the directory
// it is joined to.
func RelPath(name string) string {
	parts := strings.Split(name, "/")
	for i, p := range parts {
		if p == "" || p == "." || p == ".." {
			parts[i] = "_"
		}
	}
	return filepath.Join(parts...)
}

// Unit is one compiled program unit (a class): the granularity at which
// code is loaded and rewritten.
type Unit struct {
	Version    uint16
	Access     Access
	Name       string // internal name, e.g. "com/example/Point"
	Super      string // internal name of the superclass, "" for the root
	Interfaces []string
	SourceFile string
	Fields     []*Field
	Methods    []*Method
}

// Field declares a field of a unit.
type Field struct {
	Access Access
	Name   string
	Desc   string
}

// TryCatchBlock is a protected region [Start, End) whose exceptions of
// Type (an internal name, "" for any) transfer control to Handler.
// Blocks are listed in priority order.
type TryCatchBlock struct {
	Start   Label
	End     Label
	Handler Label
	Type    string
}

// Method is a method of a unit together with its instruction stream.
// Abstract and native methods have no code.
type Method struct {
	Access    Access
	Name      string
	Desc      string
	MaxStack  int
	MaxLocals int
	Code      []Insn
	TryCatch  []TryCatchBlock

	// NextLabel is the first label number not yet used in Code.
	NextLabel int
}

// NewLabel allocates a label unique within the method.
func (m *Method) NewLabel() Label {
	l := Label(m.NextLabel)
	m.NextLabel++
	return l
}

// IsStatic reports whether the method has no receiver.
func (m *Method) IsStatic() bool { return m.Access.Has(AccStatic) }

// IsSynthetic reports whether the method was generated by a compiler.
func (m *Method) IsSynthetic() bool { return m.Access.Has(AccSynthetic) }

// IsConstructor reports whether the method is an instance initializer.
func (m *Method) IsConstructor() bool { return m.Name == ConstructorName }

// HasCode reports whether the method carries an instruction stream.
func (m *Method) HasCode() bool {
	return len(m.Code) > 0 && !m.Access.Has(AccAbstract) && !m.Access.Has(AccNative)
}

// String returns "name+desc".
func (m *Method) String() string {
	return m.Name + m.Desc
}

// Clone returns a deep copy of the method.
func (m *Method) Clone() *Method {
	c := *m
	if m.Code != nil {
		c.Code = make([]Insn, len(m.Code))
		for i, insn := range m.Code {
			c.Code[i] = CloneInsn(insn)
		}
	}
	c.TryCatch = append([]TryCatchBlock(nil), m.TryCatch...)
	return &c
}

// FindMethod returns the method with the given name and descriptor.
func (u *Unit) FindMethod(name, desc string) *Method {
	for _, m := range u.Methods {
		if m.Name == name && m.Desc == desc {
			return m
		}
	}
	return nil
}

// FindField returns the field with the given name.
func (u *Unit) FindField(name string) *Field {
	for _, f := range u.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Clone returns a deep copy of the unit. The rewriter works on clones so
// that a failed rewrite never leaves a partially modified input behind.
func (u *Unit) Clone() *Unit {
	c := *u
	c.Interfaces = append([]string(nil), u.Interfaces...)
	c.Fields = make([]*Field, len(u.Fields))
	for i, f := range u.Fields {
		fc := *f
		c.Fields[i] = &fc
	}
	c.Methods = make([]*Method, len(u.Methods))
	for i, m := range u.Methods {
		c.Methods[i] = m.Clone()
	}
	return &c
}

// LabelIndex maps every label placed in code to its instruction index.
func LabelIndex(code []Insn) (map[Label]int, error) {
	idx := make(map[Label]int)
	for i, insn := range code {
		if l, ok := insn.(LabelInsn); ok {
			if _, dup := idx[l.Label]; dup {
				return nil, fmt.Errorf("label %s placed twice", l.Label)
			}
			idx[l.Label] = i
		}
	}
	return idx, nil
}

package trace

import (
	"fmt"
	"strings"
)

// Event is one observation delivered to a Sink. The set of events is
// closed; each variant is an immutable value.
type Event interface {
	// Refs returns the identity slots carried by the event.
	Refs() []Ref
	String() string
	isEvent()
}

// MethodEnter is emitted before the first original instruction of a
// method. Args has one element per parameter, plus a leading null for
// the receiver of instance methods; primitive parameters are null.
type MethodEnter struct {
	Name     string
	Desc     string
	Unit     string
	Receiver Ref
	Args     []any
}

// MethodExit is emitted when a method returns or propagates an exception.
type MethodExit struct {
	Name        string
	Unit        string
	Exceptional bool
}

// ObjectCreated is emitted once an object has been constructed, or right
// after an array has been allocated.
type ObjectCreated struct {
	Object any
	Unit   string
}

// FieldLoad is emitted around a field read. Primitive reads carry no
// value, type or caller method.
type FieldLoad struct {
	Value        any
	Holder       Ref
	HolderClass  string
	Field        string
	Type         string
	CallerClass  string
	CallerMethod string
	Caller       Ref
	Primitive    bool
}

// FieldStore is emitted before a field write. Primitive writes carry no
// values, type or caller method.
type FieldStore struct {
	Holder       Ref
	New          any
	Old          any
	HolderClass  string
	Field        string
	Type         string
	CallerClass  string
	CallerMethod string
	Caller       Ref
	Primitive    bool
}

// ArrayLoad is emitted around an array element read. Primitive reads carry
// no value, holder class or caller method.
type ArrayLoad struct {
	Array        any
	Index        int32
	Value        any
	HolderClass  string
	CallerMethod string
	CallerClass  string
	Caller       Ref
	Primitive    bool
}

// ArrayStore is emitted before an array element write.
type ArrayStore struct {
	New          any
	Array        any
	Index        int32
	Old          any
	HolderClass  string
	CallerMethod string
	CallerClass  string
	Caller       Ref
	Primitive    bool
}

// VarLoad is emitted before a reference local variable is read.
type VarLoad struct {
	Value        Ref
	Var          int32
	CallerClass  string
	CallerMethod string
	Caller       Ref
}

// VarStore is emitted before a reference local variable is written. The
// old value is not available and is always reported as NOT_IMPLEMENTED.
type VarStore struct {
	New          Ref
	Old          Ref
	Var          int32
	CallerClass  string
	CallerMethod string
	Caller       Ref
}

func (MethodEnter) isEvent()   {}
func (MethodExit) isEvent()    {}
func (ObjectCreated) isEvent() {}
func (FieldLoad) isEvent()     {}
func (FieldStore) isEvent()    {}
func (ArrayLoad) isEvent()     {}
func (ArrayStore) isEvent()    {}
func (VarLoad) isEvent()       {}
func (VarStore) isEvent()      {}

func (e MethodEnter) Refs() []Ref   { return []Ref{e.Receiver} }
func (e MethodExit) Refs() []Ref    { return nil }
func (e ObjectCreated) Refs() []Ref { return nil }
func (e FieldLoad) Refs() []Ref     { return []Ref{e.Holder, e.Caller} }
func (e FieldStore) Refs() []Ref    { return []Ref{e.Holder, e.Caller} }
func (e ArrayLoad) Refs() []Ref     { return []Ref{e.Caller} }
func (e ArrayStore) Refs() []Ref    { return []Ref{e.Caller} }
func (e VarLoad) Refs() []Ref       { return []Ref{e.Value, e.Caller} }
func (e VarStore) Refs() []Ref      { return []Ref{e.New, e.Old, e.Caller} }

func (e MethodEnter) String() string {
	args := make([]string, len(e.Args))
	for i, a := range e.Args {
		args[i] = formatValue(a)
	}
	return fmt.Sprintf("enter %s.%s%s recv=%s args=[%s]", e.Unit, e.Name, e.Desc, e.Receiver, strings.Join(args, ", "))
}

func (e MethodExit) String() string {
	if e.Exceptional {
		return fmt.Sprintf("exit %s.%s (exception)", e.Unit, e.Name)
	}
	return fmt.Sprintf("exit %s.%s", e.Unit, e.Name)
}

func (e ObjectCreated) String() string {
	return fmt.Sprintf("created %s %s", e.Unit, formatValue(e.Object))
}

func (e FieldLoad) String() string {
	if e.Primitive {
		return fmt.Sprintf("read %s.%s holder=%s by %s", e.HolderClass, e.Field, e.Holder, e.Caller)
	}
	return fmt.Sprintf("load %s.%s:%s holder=%s val=%s by %s.%s %s",
		e.HolderClass, e.Field, e.Type, e.Holder, formatValue(e.Value), e.CallerClass, e.CallerMethod, e.Caller)
}

func (e FieldStore) String() string {
	if e.Primitive {
		return fmt.Sprintf("modify %s.%s holder=%s by %s", e.HolderClass, e.Field, e.Holder, e.Caller)
	}
	return fmt.Sprintf("store %s.%s:%s holder=%s new=%s old=%s by %s.%s %s",
		e.HolderClass, e.Field, e.Type, e.Holder, formatValue(e.New), formatValue(e.Old), e.CallerClass, e.CallerMethod, e.Caller)
}

func (e ArrayLoad) String() string {
	if e.Primitive {
		return fmt.Sprintf("readArray %s[%d] by %s", formatValue(e.Array), e.Index, e.Caller)
	}
	return fmt.Sprintf("loadArray %s %s[%d] val=%s by %s.%s %s",
		e.HolderClass, formatValue(e.Array), e.Index, formatValue(e.Value), e.CallerClass, e.CallerMethod, e.Caller)
}

func (e ArrayStore) String() string {
	if e.Primitive {
		return fmt.Sprintf("modifyArray %s[%d] by %s", formatValue(e.Array), e.Index, e.Caller)
	}
	return fmt.Sprintf("storeArray %s %s[%d] new=%s old=%s by %s.%s %s",
		e.HolderClass, formatValue(e.Array), e.Index, formatValue(e.New), formatValue(e.Old), e.CallerClass, e.CallerMethod, e.Caller)
}

func (e VarLoad) String() string {
	return fmt.Sprintf("loadVar %d val=%s in %s.%s %s", e.Var, e.Value, e.CallerClass, e.CallerMethod, e.Caller)
}

func (e VarStore) String() string {
	return fmt.Sprintf("storeVar %d new=%s old=%s in %s.%s %s", e.Var, e.New, e.Old, e.CallerClass, e.CallerMethod, e.Caller)
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", x)
	default:
		return fmt.Sprint(x)
	}
}

// Validate checks kind exclusivity on every identity slot of ev.
func Validate(ev Event) error {
	for _, r := range ev.Refs() {
		if !r.Valid() {
			return fmt.Errorf("trace: %s carries %s with payload %v", ev, r.Kind, r.Value)
		}
	}
	return nil
}

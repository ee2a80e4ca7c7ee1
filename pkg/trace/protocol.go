package trace

import "fmt"

// Owner is the internal name of the unit that rewritten code calls into.
// All sink functions are static methods of this unit.
const Owner = "NativeInterface"

// Signature names one sink function.
type Signature struct {
	Name string
	Desc string
}

const (
	obj  = "Ljava/lang/Object;"
	str  = "Ljava/lang/String;"
	objs = "[Ljava/lang/Object;"
)

// Sink functions, as invoked by rewritten code.
var (
	SigMethodEnter = Signature{"methodEnter", "(" + str + str + str + "I" + obj + objs + ")V"}
	SigMethodExit  = Signature{"methodExit", "(" + str + str + "Z)V"}
	SigAfterInit   = Signature{"afterInitMethod", "(" + obj + str + ")V"}

	SigLoadFieldA  = Signature{"loadFieldA", "(" + obj + "I" + obj + str + str + str + str + str + "I" + obj + ")V"}
	SigStoreFieldA = Signature{"storeFieldA", "(I" + obj + obj + obj + str + str + str + str + str + "I" + obj + ")V"}
	SigRead        = Signature{"read", "(I" + obj + str + str + "I" + obj + str + ")V"}
	SigModify      = Signature{"modify", "(I" + obj + str + str + "I" + obj + str + ")V"}

	SigLoadArrayA  = Signature{"loadArrayA", "(" + objs + "I" + obj + str + str + str + "I" + obj + ")V"}
	SigStoreArrayA = Signature{"storeArrayA", "(" + obj + objs + "I" + obj + str + str + str + "I" + obj + ")V"}
	SigReadArray   = Signature{"readArray", "(" + obj + "II" + obj + str + ")V"}
	SigModifyArray = Signature{"modifyArray", "(" + obj + "II" + obj + str + ")V"}
	SigLoadVar     = Signature{"loadVar", "(I" + obj + "I" + str + str + "I" + obj + ")V"}
	SigStoreVar    = Signature{"storeVar", "(I" + obj + "I" + obj + "I" + str + str + "I" + obj + ")V"}
)

// Signatures lists every sink function.
var Signatures = []Signature{
	SigMethodEnter, SigMethodExit, SigAfterInit,
	SigLoadFieldA, SigStoreFieldA, SigRead, SigModify,
	SigLoadArrayA, SigStoreArrayA, SigReadArray, SigModifyArray,
	SigLoadVar, SigStoreVar,
}

// IsSinkCall reports whether an invocation targets the sink.
func IsSinkCall(owner, name, desc string) bool {
	if owner != Owner {
		return false
	}
	for _, s := range Signatures {
		if s.Name == name && s.Desc == desc {
			return true
		}
	}
	return false
}

// Elementer is implemented by runtime arrays so that the decoder can read
// the argument array of methodEnter.
type Elementer interface {
	Elements() []any
}

// Decode converts a sink invocation into an event. Arguments use the
// runtime representation of the caller: int32 for int and boolean,
// string for strings, nil for null, anything else for objects.
func Decode(name string, args []any) (Event, error) {
	d := decoder{name: name, args: args}
	var ev Event
	switch name {
	case SigMethodEnter.Name:
		d.arity(6)
		ev = MethodEnter{
			Name:     d.text(0),
			Desc:     d.text(1),
			Unit:     d.text(2),
			Receiver: d.ref(3, 4),
			Args:     d.elements(5),
		}
	case SigMethodExit.Name:
		d.arity(3)
		ev = MethodExit{Name: d.text(0), Unit: d.text(1), Exceptional: d.i32(2) != 0}
	case SigAfterInit.Name:
		d.arity(2)
		ev = ObjectCreated{Object: d.args[0], Unit: d.text(1)}
	case SigLoadFieldA.Name:
		d.arity(10)
		ev = FieldLoad{
			Value:        d.args[0],
			Holder:       d.ref(1, 2),
			HolderClass:  d.text(3),
			Field:        d.text(4),
			Type:         d.text(5),
			CallerClass:  d.text(6),
			CallerMethod: d.text(7),
			Caller:       d.ref(8, 9),
		}
	case SigStoreFieldA.Name:
		d.arity(11)
		ev = FieldStore{
			Holder:       d.ref(0, 1),
			New:          d.args[2],
			Old:          d.args[3],
			HolderClass:  d.text(4),
			Field:        d.text(5),
			Type:         d.text(6),
			CallerClass:  d.text(7),
			CallerMethod: d.text(8),
			Caller:       d.ref(9, 10),
		}
	case SigRead.Name, SigModify.Name:
		d.arity(7)
		holder, holderClass, field := d.ref(0, 1), d.text(2), d.text(3)
		caller, callerClass := d.ref(4, 5), d.text(6)
		if name == SigRead.Name {
			ev = FieldLoad{Holder: holder, HolderClass: holderClass, Field: field, Caller: caller, CallerClass: callerClass, Primitive: true}
		} else {
			ev = FieldStore{Holder: holder, HolderClass: holderClass, Field: field, Caller: caller, CallerClass: callerClass, Primitive: true}
		}
	case SigLoadArrayA.Name:
		d.arity(8)
		ev = ArrayLoad{
			Array:        d.args[0],
			Index:        d.i32(1),
			Value:        d.args[2],
			HolderClass:  d.text(3),
			CallerMethod: d.text(4),
			CallerClass:  d.text(5),
			Caller:       d.ref(6, 7),
		}
	case SigStoreArrayA.Name:
		d.arity(9)
		ev = ArrayStore{
			New:          d.args[0],
			Array:        d.args[1],
			Index:        d.i32(2),
			Old:          d.args[3],
			HolderClass:  d.text(4),
			CallerMethod: d.text(5),
			CallerClass:  d.text(6),
			Caller:       d.ref(7, 8),
		}
	case SigReadArray.Name, SigModifyArray.Name:
		d.arity(5)
		arr, idx, caller, callerClass := d.args[0], d.i32(1), d.ref(2, 3), d.text(4)
		if name == SigReadArray.Name {
			ev = ArrayLoad{Array: arr, Index: idx, Caller: caller, CallerClass: callerClass, Primitive: true}
		} else {
			ev = ArrayStore{Array: arr, Index: idx, Caller: caller, CallerClass: callerClass, Primitive: true}
		}
	case SigLoadVar.Name:
		d.arity(7)
		ev = VarLoad{
			Value:        d.ref(0, 1),
			Var:          d.i32(2),
			CallerClass:  d.text(3),
			CallerMethod: d.text(4),
			Caller:       d.ref(5, 6),
		}
	case SigStoreVar.Name:
		d.arity(9)
		ev = VarStore{
			New:          d.ref(0, 1),
			Old:          d.ref(2, 3),
			Var:          d.i32(4),
			CallerClass:  d.text(5),
			CallerMethod: d.text(6),
			Caller:       d.ref(7, 8),
		}
	default:
		return nil, fmt.Errorf("trace: unknown sink function %q", name)
	}
	if d.err != nil {
		return nil, d.err
	}
	return ev, nil
}

// Dispatch decodes a sink invocation and delivers it to s.
func Dispatch(s Sink, name string, args []any) error {
	ev, err := Decode(name, args)
	if err != nil {
		return err
	}
	Deliver(s, ev)
	return nil
}

// decoder records the first argument error; accessors return zero values
// once an error has been seen.
type decoder struct {
	name string
	args []any
	err  error
}

func (d *decoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf("trace: %s: "+format, append([]any{d.name}, args...)...)
	}
}

func (d *decoder) arity(n int) {
	if len(d.args) != n {
		d.fail("expected %d arguments, got %d", n, len(d.args))
		d.args = make([]any, n)
	}
}

func (d *decoder) text(i int) string {
	switch v := d.args[i].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		d.fail("argument %d: expected string, got %T", i, v)
		return ""
	}
}

func (d *decoder) i32(i int) int32 {
	v, ok := d.args[i].(int32)
	if !ok {
		d.fail("argument %d: expected int, got %T", i, d.args[i])
	}
	return v
}

func (d *decoder) ref(kind, value int) Ref {
	return Ref{Kind: Kind(d.i32(kind)), Value: d.args[value]}
}

func (d *decoder) elements(i int) []any {
	switch v := d.args[i].(type) {
	case nil:
		return nil
	case []any:
		return v
	case Elementer:
		return v.Elements()
	default:
		d.fail("argument %d: expected object array, got %T", i, v)
		return nil
	}
}

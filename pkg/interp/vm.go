package interp

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/weave/pkg/bytecode"
	"github.com/chazu/weave/pkg/trace"
)

var log = commonlog.GetLogger("weave.interp")

// DefaultMaxDepth bounds the call depth of a VM.
const DefaultMaxDepth = 256

// Native implements a method without code. Instance methods receive the
// receiver as args[0].
type Native func(args []any) (any, error)

// Fault reports code the interpreter cannot execute: a malformed
// instruction, a missing method, an operand of the wrong type.
type Fault struct {
	Unit   string
	Method string
	Index  int
	Insn   string
	Err    error
}

func (e *Fault) Error() string {
	return fmt.Sprintf("interp: %s.%s at %d (%s): %v", e.Unit, e.Method, e.Index, e.Insn, e.Err)
}

func (e *Fault) Unwrap() error {
	return e.Err
}

// VM holds loaded units, static state and the sink that receives the
// events of instrumented code. A VM is not safe for concurrent use.
type VM struct {
	// MaxDepth bounds nested invocations.
	MaxDepth int
	// Trace logs every executed instruction at debug level.
	Trace bool

	sink        trace.Sink
	units       map[string]*bytecode.Unit
	statics     map[string]map[string]any
	initialized map[string]bool
	natives     map[string]Native
	labels      map[*bytecode.Method]map[bytecode.Label]int
	depth       int
	nextID      int
}

// New returns a VM delivering sink calls to sink, which may be nil.
func New(sink trace.Sink) *VM {
	if sink == nil {
		sink = trace.Discard
	}
	return &VM{
		MaxDepth:    DefaultMaxDepth,
		sink:        sink,
		units:       make(map[string]*bytecode.Unit),
		statics:     make(map[string]map[string]any),
		initialized: make(map[string]bool),
		natives:     make(map[string]Native),
		labels:      make(map[*bytecode.Method]map[bytecode.Label]int),
	}
}

// Load makes units available for execution, replacing any unit of the
// same name.
func (vm *VM) Load(units ...*bytecode.Unit) {
	for _, u := range units {
		vm.units[u.Name] = u
	}
}

// Unit returns a loaded unit.
func (vm *VM) Unit(name string) (*bytecode.Unit, bool) {
	u, ok := vm.units[name]
	return u, ok
}

// RegisterNative binds fn to the method owner.name desc. Natives take
// precedence over loaded code.
func (vm *VM) RegisterNative(owner, name, desc string, fn Native) {
	vm.natives[nativeKey(owner, name, desc)] = fn
}

func nativeKey(owner, name, desc string) string {
	return owner + "." + name + desc
}

// Static returns the value of a static field, initializing its unit.
func (vm *VM) Static(owner, name string) (any, error) {
	if err := vm.ensureInit(owner); err != nil {
		return nil, err
	}
	owner = vm.fieldOwner(owner, name)
	if v, ok := vm.statics[owner][name]; ok {
		return v, nil
	}
	if u, ok := vm.units[owner]; ok {
		if f := u.FindField(name); f != nil {
			return zero(f.Desc), nil
		}
	}
	return nil, nil
}

// Invoke runs the method owner.name desc. For instance methods args[0] is
// the receiver and dispatch is virtual on its class.
func (vm *VM) Invoke(owner, name, desc string, args ...any) (any, error) {
	if fn, ok := vm.natives[nativeKey(owner, name, desc)]; ok {
		return fn(args)
	}
	u, m := vm.resolve(owner, name, desc)
	if m == nil {
		return nil, fmt.Errorf("interp: no method %s.%s%s", owner, name, desc)
	}
	if m.IsStatic() {
		if err := vm.ensureInit(u.Name); err != nil {
			return nil, err
		}
	} else {
		if len(args) == 0 || args[0] == nil {
			return nil, vm.throw(NullPointerException, "receiver of "+name)
		}
		if cls := classOf(args[0]); cls != owner && name != bytecode.ConstructorName {
			if vu, vmeth := vm.resolve(cls, name, desc); vmeth != nil {
				u, m = vu, vmeth
			}
		}
	}
	return vm.call(u, m, args)
}

// NewObject allocates an instance of class and runs the constructor with
// descriptor desc.
func (vm *VM) NewObject(class, desc string, args ...any) (*Object, error) {
	if err := vm.ensureInit(class); err != nil {
		return nil, err
	}
	o := vm.newObject(class)
	if _, err := vm.Invoke(class, bytecode.ConstructorName, desc, append([]any{o}, args...)...); err != nil {
		return nil, err
	}
	return o, nil
}

func (vm *VM) newObject(class string) *Object {
	vm.nextID++
	return &Object{Class: class, Fields: make(map[string]any), id: vm.nextID}
}

func (vm *VM) newArray(desc string, n int) *Array {
	vm.nextID++
	elems := make([]any, n)
	if z := zero(desc[1:]); z != nil {
		for i := range elems {
			elems[i] = z
		}
	}
	return &Array{Desc: desc, Elems: elems, id: vm.nextID}
}

// throw returns the error that raises a built-in exception.
func (vm *VM) throw(class, msg string) error {
	o := vm.newObject(class)
	o.Fields["message"] = msg
	return &ThrownError{Exception: o}
}

func (vm *VM) super(class string) (string, bool) {
	if u, ok := vm.units[class]; ok {
		return u.Super, u.Super != ""
	}
	s, ok := builtinSupers[class]
	return s, ok
}

// resolve finds the method declared by class or its nearest superclass.
func (vm *VM) resolve(class, name, desc string) (*bytecode.Unit, *bytecode.Method) {
	for class != "" {
		u, ok := vm.units[class]
		if !ok {
			return nil, nil
		}
		if m := u.FindMethod(name, desc); m != nil {
			return u, m
		}
		class = u.Super
	}
	return nil, nil
}

// fieldOwner returns the class in the hierarchy of class declaring field
// name, or class itself.
func (vm *VM) fieldOwner(class, name string) string {
	for c := class; c != ""; {
		u, ok := vm.units[c]
		if !ok {
			break
		}
		if u.FindField(name) != nil {
			return c
		}
		c = u.Super
	}
	return class
}

// isInstance reports whether a value of runtime class class may be stored
// where target is expected. Both are internal names or array descriptors.
func (vm *VM) isInstance(class, target string) bool {
	if class == target || target == bytecode.ObjectClass {
		return true
	}
	if bytecode.IsArray(class) || bytecode.IsArray(target) {
		if !bytecode.IsArray(class) || !bytecode.IsArray(target) {
			return false
		}
		ce, te := class[1:], target[1:]
		if !bytecode.IsReference(ce) || !bytecode.IsReference(te) {
			return ce == te
		}
		return vm.isInstance(bytecode.InternalName(ce), bytecode.InternalName(te))
	}
	if u, ok := vm.units[class]; ok {
		for _, itf := range u.Interfaces {
			if vm.isInstance(itf, target) {
				return true
			}
		}
	}
	if s, ok := vm.super(class); ok {
		return vm.isInstance(s, target)
	}
	return false
}

// ensureInit runs the static initializer of class and its superclasses
// once.
func (vm *VM) ensureInit(class string) error {
	if vm.initialized[class] {
		return nil
	}
	u, ok := vm.units[class]
	if !ok {
		return nil
	}
	vm.initialized[class] = true
	if u.Super != "" {
		if err := vm.ensureInit(u.Super); err != nil {
			return err
		}
	}
	if m := u.FindMethod(bytecode.ClassInitName, "()V"); m != nil {
		log.Debugf("initializing %s", class)
		if _, err := vm.call(u, m, nil); err != nil {
			return err
		}
	}
	return nil
}

func (vm *VM) setStatic(owner, name string, v any) {
	owner = vm.fieldOwner(owner, name)
	fields, ok := vm.statics[owner]
	if !ok {
		fields = make(map[string]any)
		vm.statics[owner] = fields
	}
	fields[name] = v
}

func (vm *VM) labelIndex(m *bytecode.Method) (map[bytecode.Label]int, error) {
	if idx, ok := vm.labels[m]; ok {
		return idx, nil
	}
	idx, err := bytecode.LabelIndex(m.Code)
	if err != nil {
		return nil, err
	}
	vm.labels[m] = idx
	return idx, nil
}

// call runs m with its arguments, receiver first for instance methods.
func (vm *VM) call(u *bytecode.Unit, m *bytecode.Method, args []any) (any, error) {
	if fn, ok := vm.natives[nativeKey(u.Name, m.Name, m.Desc)]; ok {
		return fn(args)
	}
	if !m.HasCode() {
		return nil, fmt.Errorf("interp: %s.%s%s has no code", u.Name, m.Name, m.Desc)
	}
	if vm.depth >= vm.MaxDepth {
		return nil, fmt.Errorf("interp: call depth %d exceeded in %s.%s", vm.MaxDepth, u.Name, m.Name)
	}
	vm.depth++
	defer func() { vm.depth-- }()

	labels, err := vm.labelIndex(m)
	if err != nil {
		return nil, &Fault{Unit: u.Name, Method: m.Name + m.Desc, Index: -1, Err: err}
	}
	f := &frame{vm: vm, unit: u, method: m, labels: labels}
	for _, a := range args {
		f.locals = append(f.locals, a)
		if isWide(a) {
			f.locals = append(f.locals, wide{})
		}
	}
	return f.run()
}

// IsThrown reports whether err is an uncaught exception and returns it.
func IsThrown(err error) (*Object, bool) {
	var te *ThrownError
	if errors.As(err, &te) {
		return te.Exception, true
	}
	return nil, false
}

// Package interp executes compiled units. It exists so that instrumented
// code can be run end to end: calls into the sink unit are decoded and
// handed to a trace.Sink instead of being resolved as ordinary methods.
//
// Values use the natural Go representation of the platform types: int32
// for int, boolean, byte, char and short, int64 for long, float32 and
// float64 for float and double, string for string constants, *Object and
// *Array for references, and nil for null.
package interp

import (
	"fmt"
	"strings"

	"github.com/chazu/weave/pkg/bytecode"
)

// Object is an instance of a class.
type Object struct {
	Class  string
	Fields map[string]any
	id     int
}

func (o *Object) String() string {
	return fmt.Sprintf("%s@%d", o.Class, o.id)
}

// Array is a runtime array. Desc is the array descriptor, e.g. "[I".
type Array struct {
	Desc  string
	Elems []any
	id    int
}

// Elements returns the backing elements.
func (a *Array) Elements() []any {
	return a.Elems
}

func (a *Array) String() string {
	return fmt.Sprintf("%s@%d", a.Desc, a.id)
}

// ThrownError is returned when an exception escapes the invoked method.
type ThrownError struct {
	Exception *Object
}

func (e *ThrownError) Error() string {
	if msg, ok := e.Exception.Fields["message"].(string); ok && msg != "" {
		return fmt.Sprintf("uncaught %s: %s", e.Exception.Class, msg)
	}
	return "uncaught " + e.Exception.Class
}

// Built-in exception classes raised by the interpreter itself.
const (
	NullPointerException           = "java/lang/NullPointerException"
	ArithmeticException            = "java/lang/ArithmeticException"
	ArrayIndexOutOfBoundsException = "java/lang/ArrayIndexOutOfBoundsException"
	NegativeArraySizeException     = "java/lang/NegativeArraySizeException"
	ClassCastException             = "java/lang/ClassCastException"
	RuntimeException               = "java/lang/RuntimeException"
)

// builtinSupers is the hierarchy of the classes the interpreter knows
// without loading them.
var builtinSupers = map[string]string{
	"java/lang/String":             bytecode.ObjectClass,
	bytecode.ThrowableClass:        bytecode.ObjectClass,
	"java/lang/Exception":          bytecode.ThrowableClass,
	"java/lang/Error":              bytecode.ThrowableClass,
	RuntimeException:               "java/lang/Exception",
	NullPointerException:           RuntimeException,
	ArithmeticException:            RuntimeException,
	ArrayIndexOutOfBoundsException: RuntimeException,
	NegativeArraySizeException:     RuntimeException,
	ClassCastException:             RuntimeException,
}

// zero returns the default value of a field or array element of type desc.
func zero(desc string) any {
	switch desc {
	case "Z", "B", "C", "S", "I":
		return int32(0)
	case "J":
		return int64(0)
	case "F":
		return float32(0)
	case "D":
		return float64(0)
	}
	return nil
}

// narrow truncates an int stored into a byte, char or short array.
func narrow(desc string, v int32) int32 {
	switch desc {
	case "B":
		return int32(int8(v))
	case "C":
		return int32(uint16(v))
	case "S":
		return int32(int16(v))
	case "Z":
		return v & 1
	}
	return v
}

// wide marks the second slot of a long or double.
type wide struct{}

func isWide(v any) bool {
	switch v.(type) {
	case int64, float64:
		return true
	}
	return false
}

// classOf returns the internal name, or array descriptor, of the runtime
// class of a reference.
func classOf(v any) string {
	switch x := v.(type) {
	case *Object:
		return x.Class
	case *Array:
		return x.Desc
	case string:
		return "java/lang/String"
	}
	return ""
}

// FormatValue renders a value for diagnostics.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", x)
	case int64:
		return fmt.Sprintf("%dL", x)
	case *Array:
		if !bytecode.IsReference(x.Desc[1:]) {
			parts := make([]string, len(x.Elems))
			for i, e := range x.Elems {
				parts[i] = fmt.Sprint(e)
			}
			return "[" + strings.Join(parts, " ") + "]"
		}
		return x.String()
	}
	return fmt.Sprint(v)
}

package bytecode

import (
	"fmt"
	"strings"
)

// Well-known descriptors.
const (
	ObjectDesc      = "Ljava/lang/Object;"
	ObjectArrayDesc = "[Ljava/lang/Object;"
	StringDesc      = "Ljava/lang/String;"
	ThrowableDesc   = "Ljava/lang/Throwable;"
	ObjectClass     = "java/lang/Object"
	ThrowableClass  = "java/lang/Throwable"
)

// ArgumentTypes splits a method descriptor such as "(IJLjava/lang/String;)V"
// into its parameter type descriptors.
func ArgumentTypes(desc string) ([]string, error) {
	if !strings.HasPrefix(desc, "(") {
		return nil, fmt.Errorf("malformed method descriptor %q", desc)
	}
	end := strings.IndexByte(desc, ')')
	if end < 0 {
		return nil, fmt.Errorf("malformed method descriptor %q", desc)
	}
	var args []string
	rest := desc[1:end]
	for rest != "" {
		n, err := fieldDescLen(rest)
		if err != nil {
			return nil, fmt.Errorf("method descriptor %q: %w", desc, err)
		}
		args = append(args, rest[:n])
		rest = rest[n:]
	}
	return args, nil
}

// ReturnType returns the return type descriptor of a method descriptor.
func ReturnType(desc string) (string, error) {
	end := strings.IndexByte(desc, ')')
	if !strings.HasPrefix(desc, "(") || end < 0 || end == len(desc)-1 {
		return "", fmt.Errorf("malformed method descriptor %q", desc)
	}
	ret := desc[end+1:]
	if ret == "V" {
		return ret, nil
	}
	if err := ValidateFieldDesc(ret); err != nil {
		return "", fmt.Errorf("method descriptor %q: %w", desc, err)
	}
	return ret, nil
}

// ArgumentsSize returns the number of local slots occupied by the
// parameters of desc, not counting a receiver.
func ArgumentsSize(desc string) (int, error) {
	args, err := ArgumentTypes(desc)
	if err != nil {
		return 0, err
	}
	size := 0
	for _, a := range args {
		size += TypeSize(a)
	}
	return size, nil
}

// ValidateFieldDesc checks that desc is exactly one field type descriptor.
func ValidateFieldDesc(desc string) error {
	n, err := fieldDescLen(desc)
	if err != nil {
		return err
	}
	if n != len(desc) {
		return fmt.Errorf("trailing characters in type descriptor %q", desc)
	}
	return nil
}

func fieldDescLen(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty type descriptor")
	}
	switch s[0] {
	case 'Z', 'B', 'C', 'S', 'I', 'F', 'J', 'D':
		return 1, nil
	case 'L':
		end := strings.IndexByte(s, ';')
		if end < 2 {
			return 0, fmt.Errorf("unterminated class descriptor %q", s)
		}
		return end + 1, nil
	case '[':
		n, err := fieldDescLen(s[1:])
		if err != nil {
			return 0, err
		}
		return n + 1, nil
	default:
		return 0, fmt.Errorf("bad type descriptor %q", s)
	}
}

// TypeSize returns the slot width of a type descriptor: 2 for long and
// double, 0 for void, 1 otherwise.
func TypeSize(desc string) int {
	switch desc {
	case "J", "D":
		return 2
	case "V":
		return 0
	default:
		return 1
	}
}

// IsReference reports whether desc names an object or array type.
func IsReference(desc string) bool {
	return strings.HasPrefix(desc, "L") || strings.HasPrefix(desc, "[")
}

// IsArray reports whether desc is an array descriptor.
func IsArray(desc string) bool {
	return strings.HasPrefix(desc, "[")
}

// ElementType returns the component descriptor of an array descriptor.
func ElementType(desc string) (string, error) {
	if !IsArray(desc) {
		return "", fmt.Errorf("%q is not an array descriptor", desc)
	}
	return desc[1:], nil
}

// ClassDesc converts an internal name ("a/B") or array descriptor to a
// type descriptor ("La/B;").
func ClassDesc(internalName string) string {
	if IsArray(internalName) {
		return internalName
	}
	return "L" + internalName + ";"
}

// InternalName converts a class descriptor ("La/B;") to its internal name.
// Array descriptors are returned unchanged.
func InternalName(desc string) string {
	if strings.HasPrefix(desc, "L") && strings.HasSuffix(desc, ";") {
		return desc[1 : len(desc)-1]
	}
	return desc
}

// LoadOpcode returns the local variable load instruction for desc.
func LoadOpcode(desc string) Opcode {
	switch desc {
	case "J":
		return OpLLoad
	case "F":
		return OpFLoad
	case "D":
		return OpDLoad
	case "Z", "B", "C", "S", "I":
		return OpILoad
	default:
		return OpALoad
	}
}

// StoreOpcode returns the local variable store instruction for desc.
func StoreOpcode(desc string) Opcode {
	return LoadOpcode(desc) + (OpIStore - OpILoad)
}

// ReturnOpcode returns the return instruction for a return descriptor.
func ReturnOpcode(desc string) Opcode {
	switch desc {
	case "V":
		return OpReturn
	case "J":
		return OpLReturn
	case "F":
		return OpFReturn
	case "D":
		return OpDReturn
	case "Z", "B", "C", "S", "I":
		return OpIReturn
	default:
		return OpAReturn
	}
}

// ArrayElementDesc returns the element descriptor implied by an array
// access opcode. Object element accesses return ObjectDesc; BALOAD is
// shared by byte and boolean arrays and reports "B".
func ArrayElementDesc(op Opcode) string {
	switch op {
	case OpIALoad, OpIAStore:
		return "I"
	case OpLALoad, OpLAStore:
		return "J"
	case OpFALoad, OpFAStore:
		return "F"
	case OpDALoad, OpDAStore:
		return "D"
	case OpBALoad, OpBAStore:
		return "B"
	case OpCALoad, OpCAStore:
		return "C"
	case OpSALoad, OpSAStore:
		return "S"
	default:
		return ObjectDesc
	}
}

package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of the whole unit.
func (u *Unit) Disassemble() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("; === %s ===\n", u.Name))
	if u.Super != "" {
		sb.WriteString(fmt.Sprintf("; extends %s\n", u.Super))
	}
	if u.SourceFile != "" {
		sb.WriteString(fmt.Sprintf("; source %s\n", u.SourceFile))
	}
	sb.WriteString(fmt.Sprintf("; Access: 0x%04X\n", uint16(u.Access)))

	if len(u.Fields) > 0 {
		sb.WriteString("; Fields:\n")
		for _, f := range u.Fields {
			sb.WriteString(fmt.Sprintf(";   %s %s%s\n", f.Name, f.Desc, accessSuffix(f.Access)))
		}
	}
	for _, m := range u.Methods {
		sb.WriteString("\n")
		sb.WriteString(m.Disassemble())
	}
	return sb.String()
}

// Disassemble returns a listing of the method's instruction stream.
func (m *Method) Disassemble() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("; method %s%s%s\n", m.Name, m.Desc, accessSuffix(m.Access)))
	if !m.HasCode() {
		sb.WriteString(";   (no code)\n")
		return sb.String()
	}
	sb.WriteString(fmt.Sprintf("; MaxStack: %d  MaxLocals: %d\n", m.MaxStack, m.MaxLocals))

	for i, insn := range m.Code {
		switch insn.(type) {
		case LabelInsn:
			sb.WriteString(fmt.Sprintf("      %s\n", FormatInsn(insn)))
		case LineInsn:
			sb.WriteString(fmt.Sprintf("      ; %s\n", FormatInsn(insn)))
		default:
			sb.WriteString(fmt.Sprintf("%04d    %s\n", i, FormatInsn(insn)))
		}
	}

	if len(m.TryCatch) > 0 {
		sb.WriteString("; Exception table:\n")
		for _, tc := range m.TryCatch {
			typ := tc.Type
			if typ == "" {
				typ = "any"
			}
			sb.WriteString(fmt.Sprintf(";   [%s, %s) -> %s  %s\n", tc.Start, tc.End, tc.Handler, typ))
		}
	}
	return sb.String()
}

func accessSuffix(a Access) string {
	var flags []string
	if a.Has(AccStatic) {
		flags = append(flags, "static")
	}
	if a.Has(AccSynthetic) {
		flags = append(flags, "synthetic")
	}
	if a.Has(AccAbstract) {
		flags = append(flags, "abstract")
	}
	if a.Has(AccNative) {
		flags = append(flags, "native")
	}
	if len(flags) == 0 {
		return ""
	}
	return " [" + strings.Join(flags, " ") + "]"
}

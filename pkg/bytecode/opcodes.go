package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// Values follow the platform's encoding so that disassembly matches
// the usual tooling.
type Opcode byte

const (
	// ========================================================================
	// Constants (0x00-0x14)
	// ========================================================================

	OpNop        Opcode = 0x00
	OpAConstNull Opcode = 0x01
	OpIConstM1   Opcode = 0x02
	OpIConst0    Opcode = 0x03
	OpIConst1    Opcode = 0x04
	OpIConst2    Opcode = 0x05
	OpIConst3    Opcode = 0x06
	OpIConst4    Opcode = 0x07
	OpIConst5    Opcode = 0x08
	OpLConst0    Opcode = 0x09
	OpLConst1    Opcode = 0x0A
	OpFConst0    Opcode = 0x0B
	OpDConst0    Opcode = 0x0E
	OpBIPush     Opcode = 0x10 // IntInsn
	OpSIPush     Opcode = 0x11 // IntInsn
	OpLdc        Opcode = 0x12 // LdcInsn

	// ========================================================================
	// Local variables (0x15-0x3A)
	// ========================================================================

	OpILoad  Opcode = 0x15
	OpLLoad  Opcode = 0x16
	OpFLoad  Opcode = 0x17
	OpDLoad  Opcode = 0x18
	OpALoad  Opcode = 0x19
	OpIStore Opcode = 0x36
	OpLStore Opcode = 0x37
	OpFStore Opcode = 0x38
	OpDStore Opcode = 0x39
	OpAStore Opcode = 0x3A

	// ========================================================================
	// Array elements (0x2E-0x35, 0x4F-0x56)
	// ========================================================================

	OpIALoad  Opcode = 0x2E
	OpLALoad  Opcode = 0x2F
	OpFALoad  Opcode = 0x30
	OpDALoad  Opcode = 0x31
	OpAALoad  Opcode = 0x32
	OpBALoad  Opcode = 0x33
	OpCALoad  Opcode = 0x34
	OpSALoad  Opcode = 0x35
	OpIAStore Opcode = 0x4F
	OpLAStore Opcode = 0x50
	OpFAStore Opcode = 0x51
	OpDAStore Opcode = 0x52
	OpAAStore Opcode = 0x53
	OpBAStore Opcode = 0x54
	OpCAStore Opcode = 0x55
	OpSAStore Opcode = 0x56

	// ========================================================================
	// Stack manipulation (0x57-0x5F)
	// ========================================================================

	OpPop    Opcode = 0x57
	OpPop2   Opcode = 0x58
	OpDup    Opcode = 0x59
	OpDupX1  Opcode = 0x5A
	OpDupX2  Opcode = 0x5B
	OpDup2   Opcode = 0x5C
	OpDup2X1 Opcode = 0x5D
	OpDup2X2 Opcode = 0x5E
	OpSwap   Opcode = 0x5F

	// ========================================================================
	// Arithmetic (0x60-0x84)
	// ========================================================================

	OpIAdd Opcode = 0x60
	OpLAdd Opcode = 0x61
	OpISub Opcode = 0x64
	OpIMul Opcode = 0x68
	OpIDiv Opcode = 0x6C
	OpIRem Opcode = 0x70
	OpINeg Opcode = 0x74
	OpIInc Opcode = 0x84 // IincInsn
	OpI2L  Opcode = 0x85
	OpL2I  Opcode = 0x88

	// ========================================================================
	// Control flow (0x99-0xAB)
	// ========================================================================

	OpIfEq         Opcode = 0x99
	OpIfNe         Opcode = 0x9A
	OpIfLt         Opcode = 0x9B
	OpIfGe         Opcode = 0x9C
	OpIfGt         Opcode = 0x9D
	OpIfLe         Opcode = 0x9E
	OpIfICmpEq     Opcode = 0x9F
	OpIfICmpNe     Opcode = 0xA0
	OpIfICmpLt     Opcode = 0xA1
	OpIfICmpGe     Opcode = 0xA2
	OpIfICmpGt     Opcode = 0xA3
	OpIfICmpLe     Opcode = 0xA4
	OpIfACmpEq     Opcode = 0xA5
	OpIfACmpNe     Opcode = 0xA6
	OpGoto         Opcode = 0xA7
	OpTableSwitch  Opcode = 0xAA // SwitchInsn
	OpLookupSwitch Opcode = 0xAB // SwitchInsn

	// ========================================================================
	// Return (0xAC-0xB1)
	// ========================================================================

	OpIReturn Opcode = 0xAC
	OpLReturn Opcode = 0xAD
	OpFReturn Opcode = 0xAE
	OpDReturn Opcode = 0xAF
	OpAReturn Opcode = 0xB0
	OpReturn  Opcode = 0xB1

	// ========================================================================
	// Fields and invocation (0xB2-0xB8)
	// ========================================================================

	OpGetStatic     Opcode = 0xB2 // FieldInsn
	OpPutStatic     Opcode = 0xB3 // FieldInsn
	OpGetField      Opcode = 0xB4 // FieldInsn
	OpPutField      Opcode = 0xB5 // FieldInsn
	OpInvokeVirtual Opcode = 0xB6 // MethodInsn
	OpInvokeSpecial Opcode = 0xB7 // MethodInsn
	OpInvokeStatic  Opcode = 0xB8 // MethodInsn

	// ========================================================================
	// Objects and arrays (0xBB-0xC7)
	// ========================================================================

	OpNew         Opcode = 0xBB // TypeInsn
	OpNewArray    Opcode = 0xBC // IntInsn, operand is a T_* code
	OpANewArray   Opcode = 0xBD // TypeInsn
	OpArrayLength Opcode = 0xBE
	OpAThrow      Opcode = 0xBF
	OpCheckCast   Opcode = 0xC0 // TypeInsn
	OpInstanceOf  Opcode = 0xC1 // TypeInsn
	OpIfNull      Opcode = 0xC6
	OpIfNonNull   Opcode = 0xC7
)

// Primitive array type codes used as the OpNewArray operand.
const (
	TBoolean = 4
	TChar    = 5
	TFloat   = 6
	TDouble  = 7
	TByte    = 8
	TShort   = 9
	TInt     = 10
	TLong    = 11
)

// OpcodeInfo provides metadata about each opcode for disassembly and
// stack-effect checks.
type OpcodeInfo struct {
	Name      string // Human-readable name
	StackPop  int    // Slots popped (-1 = depends on operands)
	StackPush int    // Slots pushed (-1 = depends on operands)
}

// opcodeInfoTable maps opcodes to their metadata. Effects are in slots,
// so long and double values count twice.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Constants
	OpNop:        {"NOP", 0, 0},
	OpAConstNull: {"ACONST_NULL", 0, 1},
	OpIConstM1:   {"ICONST_M1", 0, 1},
	OpIConst0:    {"ICONST_0", 0, 1},
	OpIConst1:    {"ICONST_1", 0, 1},
	OpIConst2:    {"ICONST_2", 0, 1},
	OpIConst3:    {"ICONST_3", 0, 1},
	OpIConst4:    {"ICONST_4", 0, 1},
	OpIConst5:    {"ICONST_5", 0, 1},
	OpLConst0:    {"LCONST_0", 0, 2},
	OpLConst1:    {"LCONST_1", 0, 2},
	OpFConst0:    {"FCONST_0", 0, 1},
	OpDConst0:    {"DCONST_0", 0, 2},
	OpBIPush:     {"BIPUSH", 0, 1},
	OpSIPush:     {"SIPUSH", 0, 1},
	OpLdc:        {"LDC", 0, -1},

	// Local variables
	OpILoad:  {"ILOAD", 0, 1},
	OpLLoad:  {"LLOAD", 0, 2},
	OpFLoad:  {"FLOAD", 0, 1},
	OpDLoad:  {"DLOAD", 0, 2},
	OpALoad:  {"ALOAD", 0, 1},
	OpIStore: {"ISTORE", 1, 0},
	OpLStore: {"LSTORE", 2, 0},
	OpFStore: {"FSTORE", 1, 0},
	OpDStore: {"DSTORE", 2, 0},
	OpAStore: {"ASTORE", 1, 0},

	// Array elements
	OpIALoad:  {"IALOAD", 2, 1},
	OpLALoad:  {"LALOAD", 2, 2},
	OpFALoad:  {"FALOAD", 2, 1},
	OpDALoad:  {"DALOAD", 2, 2},
	OpAALoad:  {"AALOAD", 2, 1},
	OpBALoad:  {"BALOAD", 2, 1},
	OpCALoad:  {"CALOAD", 2, 1},
	OpSALoad:  {"SALOAD", 2, 1},
	OpIAStore: {"IASTORE", 3, 0},
	OpLAStore: {"LASTORE", 4, 0},
	OpFAStore: {"FASTORE", 3, 0},
	OpDAStore: {"DASTORE", 4, 0},
	OpAAStore: {"AASTORE", 3, 0},
	OpBAStore: {"BASTORE", 3, 0},
	OpCAStore: {"CASTORE", 3, 0},
	OpSAStore: {"SASTORE", 3, 0},

	// Stack manipulation
	OpPop:    {"POP", 1, 0},
	OpPop2:   {"POP2", 2, 0},
	OpDup:    {"DUP", 1, 2},
	OpDupX1:  {"DUP_X1", 2, 3},
	OpDupX2:  {"DUP_X2", 3, 4},
	OpDup2:   {"DUP2", 2, 4},
	OpDup2X1: {"DUP2_X1", 3, 5},
	OpDup2X2: {"DUP2_X2", 4, 6},
	OpSwap:   {"SWAP", 2, 2},

	// Arithmetic
	OpIAdd: {"IADD", 2, 1},
	OpLAdd: {"LADD", 4, 2},
	OpISub: {"ISUB", 2, 1},
	OpIMul: {"IMUL", 2, 1},
	OpIDiv: {"IDIV", 2, 1},
	OpIRem: {"IREM", 2, 1},
	OpINeg: {"INEG", 1, 1},
	OpIInc: {"IINC", 0, 0},
	OpI2L:  {"I2L", 1, 2},
	OpL2I:  {"L2I", 2, 1},

	// Control flow
	OpIfEq:         {"IFEQ", 1, 0},
	OpIfNe:         {"IFNE", 1, 0},
	OpIfLt:         {"IFLT", 1, 0},
	OpIfGe:         {"IFGE", 1, 0},
	OpIfGt:         {"IFGT", 1, 0},
	OpIfLe:         {"IFLE", 1, 0},
	OpIfICmpEq:     {"IF_ICMPEQ", 2, 0},
	OpIfICmpNe:     {"IF_ICMPNE", 2, 0},
	OpIfICmpLt:     {"IF_ICMPLT", 2, 0},
	OpIfICmpGe:     {"IF_ICMPGE", 2, 0},
	OpIfICmpGt:     {"IF_ICMPGT", 2, 0},
	OpIfICmpLe:     {"IF_ICMPLE", 2, 0},
	OpIfACmpEq:     {"IF_ACMPEQ", 2, 0},
	OpIfACmpNe:     {"IF_ACMPNE", 2, 0},
	OpGoto:         {"GOTO", 0, 0},
	OpTableSwitch:  {"TABLESWITCH", 1, 0},
	OpLookupSwitch: {"LOOKUPSWITCH", 1, 0},

	// Return
	OpIReturn: {"IRETURN", 1, 0},
	OpLReturn: {"LRETURN", 2, 0},
	OpFReturn: {"FRETURN", 1, 0},
	OpDReturn: {"DRETURN", 2, 0},
	OpAReturn: {"ARETURN", 1, 0},
	OpReturn:  {"RETURN", 0, 0},

	// Fields and invocation
	OpGetStatic:     {"GETSTATIC", 0, -1},
	OpPutStatic:     {"PUTSTATIC", -1, 0},
	OpGetField:      {"GETFIELD", 1, -1},
	OpPutField:      {"PUTFIELD", -1, 0},
	OpInvokeVirtual: {"INVOKEVIRTUAL", -1, -1},
	OpInvokeSpecial: {"INVOKESPECIAL", -1, -1},
	OpInvokeStatic:  {"INVOKESTATIC", -1, -1},

	// Objects and arrays
	OpNew:         {"NEW", 0, 1},
	OpNewArray:    {"NEWARRAY", 1, 1},
	OpANewArray:   {"ANEWARRAY", 1, 1},
	OpArrayLength: {"ARRAYLENGTH", 1, 1},
	OpAThrow:      {"ATHROW", 1, 0},
	OpCheckCast:   {"CHECKCAST", 1, 1},
	OpInstanceOf:  {"INSTANCEOF", 1, 1},
	OpIfNull:      {"IFNULL", 1, 0},
	OpIfNonNull:   {"IFNONNULL", 1, 0},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// Known reports whether op is part of the supported instruction set.
func (op Opcode) Known() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// IsJump returns true if this opcode is a conditional or unconditional jump.
func (op Opcode) IsJump() bool {
	return (op >= OpIfEq && op <= OpGoto) || op == OpIfNull || op == OpIfNonNull
}

// IsConditional returns true if control may fall through to the next instruction.
func (op Opcode) IsConditional() bool {
	return op.IsJump() && op != OpGoto
}

// IsReturn returns true if this opcode returns normally from the method.
func (op Opcode) IsReturn() bool {
	return op >= OpIReturn && op <= OpReturn
}

// IsArrayLoad returns true for the xALOAD family.
func (op Opcode) IsArrayLoad() bool {
	return op >= OpIALoad && op <= OpSALoad
}

// IsArrayStore returns true for the xASTORE family.
func (op Opcode) IsArrayStore() bool {
	return op >= OpIAStore && op <= OpSAStore
}

// EndsBlock returns true if control never falls through this opcode.
func (op Opcode) EndsBlock() bool {
	return op == OpGoto || op == OpAThrow || op.IsReturn() || op == OpTableSwitch || op == OpLookupSwitch
}

// AllOpcodes returns a slice of all defined opcodes.
// Useful for testing that all opcodes have metadata.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// ArrayTypeCode returns the descriptor of the array created by OpNewArray
// with the given T_* operand.
func ArrayTypeCode(operand int) (string, error) {
	switch operand {
	case TBoolean:
		return "[Z", nil
	case TChar:
		return "[C", nil
	case TFloat:
		return "[F", nil
	case TDouble:
		return "[D", nil
	case TByte:
		return "[B", nil
	case TShort:
		return "[S", nil
	case TInt:
		return "[I", nil
	case TLong:
		return "[J", nil
	default:
		return "", fmt.Errorf("unknown primitive array type operand %d", operand)
	}
}

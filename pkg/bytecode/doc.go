// Package bytecode models compiled program units for a stack-based
// managed platform: units (classes) with fields and methods, and method
// bodies as streams of typed instructions.
//
// The instruction set is the subset of the platform's opcodes that the
// instrumentation engine reads and emits. Opcode values follow the
// platform encoding so that listings match the usual tooling.
//
// # Architecture Overview
//
//   - Opcodes: the opcode table with names and slot-level stack effects
//     (long and double values occupy two slots)
//
//   - Insn: a closed set of instruction variants (Simple, IntInsn, VarInsn,
//     TypeInsn, FieldInsn, MethodInsn, JumpInsn, LdcInsn, IincInsn,
//     SwitchInsn) plus the LabelInsn and LineInsn pseudo-instructions
//
//   - Unit, Method, Field: the program model. Branch targets and protected
//     regions refer to labels, so instructions can be inserted anywhere
//     without patching offsets
//
//   - Builder: an emitter for instruction streams, used by code generators
//     and tests
//
//   - WireCodec: the "WVBC" envelope around a canonical CBOR body, used to
//     read and write units as bytes
//
// # Descriptors
//
// Types are written as platform type descriptors: "I" (int), "J" (long),
// "Lpkg/Name;" (object), "[I" (int array). Method descriptors list the
// parameter types in parentheses followed by the return type, as in
// "(ILjava/lang/String;)V".
package bytecode

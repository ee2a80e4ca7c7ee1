package bytecode

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// WireVersion is the current unit wire format version.
// Increment when making incompatible changes to the format.
const WireVersion uint16 = 1

// WireMagic prefixes every encoded unit.
var WireMagic = []byte{'W', 'V', 'B', 'C'}

// cborEncMode uses canonical mode so that equal units encode to equal bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// WireCodec reads and writes units in the WVBC envelope:
//
//	[magic:4] [version:2] [cbor body]
type WireCodec struct{}

// Encode serializes a unit.
func (WireCodec) Encode(u *Unit) ([]byte, error) {
	w, err := toWire(u)
	if err != nil {
		return nil, err
	}
	body, err := cborEncMode.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("bytecode: marshal unit %s: %w", u.Name, err)
	}
	buf := make([]byte, 0, len(body)+6)
	buf = append(buf, WireMagic...)
	buf = binary.BigEndian.AppendUint16(buf, WireVersion)
	return append(buf, body...), nil
}

// Decode parses a unit produced by Encode.
func (WireCodec) Decode(data []byte) (*Unit, error) {
	if len(data) < 6 {
		return nil, fmt.Errorf("bytecode: unit too short: need at least 6 bytes, got %d", len(data))
	}
	if !bytes.Equal(data[:4], WireMagic) {
		return nil, fmt.Errorf("bytecode: invalid magic: expected %q, got %q", WireMagic, data[:4])
	}
	if v := binary.BigEndian.Uint16(data[4:6]); v > WireVersion {
		return nil, fmt.Errorf("bytecode: wire version %d is newer than supported version %d", v, WireVersion)
	}
	var w wireUnit
	if err := cbor.Unmarshal(data[6:], &w); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal unit: %w", err)
	}
	return fromWire(&w)
}

type insnKind uint8

const (
	kindSimple insnKind = iota + 1
	kindInt
	kindVar
	kindType
	kindField
	kindMethod
	kindJump
	kindLdc
	kindIinc
	kindSwitch
	kindLabel
	kindLine
)

type constKind uint8

const (
	constInt constKind = iota + 1
	constLong
	constFloat
	constDouble
	constString
)

type wireUnit struct {
	Version    uint16       `cbor:"1,keyasint,omitempty"`
	Access     uint16       `cbor:"2,keyasint,omitempty"`
	Name       string       `cbor:"3,keyasint"`
	Super      string       `cbor:"4,keyasint,omitempty"`
	Interfaces []string     `cbor:"5,keyasint,omitempty"`
	SourceFile string       `cbor:"6,keyasint,omitempty"`
	Fields     []wireField  `cbor:"7,keyasint,omitempty"`
	Methods    []wireMethod `cbor:"8,keyasint,omitempty"`
}

type wireField struct {
	Access uint16 `cbor:"1,keyasint,omitempty"`
	Name   string `cbor:"2,keyasint"`
	Desc   string `cbor:"3,keyasint"`
}

type wireMethod struct {
	Access    uint16         `cbor:"1,keyasint,omitempty"`
	Name      string         `cbor:"2,keyasint"`
	Desc      string         `cbor:"3,keyasint"`
	MaxStack  int            `cbor:"4,keyasint,omitempty"`
	MaxLocals int            `cbor:"5,keyasint,omitempty"`
	Code      []wireInsn     `cbor:"6,keyasint,omitempty"`
	TryCatch  []wireTryCatch `cbor:"7,keyasint,omitempty"`
	NextLabel int            `cbor:"8,keyasint,omitempty"`
}

type wireTryCatch struct {
	Start   int    `cbor:"1,keyasint"`
	End     int    `cbor:"2,keyasint"`
	Handler int    `cbor:"3,keyasint"`
	Type    string `cbor:"4,keyasint,omitempty"`
}

// wireInsn flattens every instruction variant. A, B and Strs are
// interpreted according to Kind.
type wireInsn struct {
	Kind   insnKind   `cbor:"1,keyasint"`
	Op     Opcode     `cbor:"2,keyasint,omitempty"`
	A      int        `cbor:"3,keyasint,omitempty"`
	B      int        `cbor:"4,keyasint,omitempty"`
	Strs   []string   `cbor:"5,keyasint,omitempty"`
	Keys   []int      `cbor:"6,keyasint,omitempty"`
	Labels []int      `cbor:"7,keyasint,omitempty"`
	Const  *wireConst `cbor:"8,keyasint,omitempty"`
}

type wireConst struct {
	Kind  constKind `cbor:"1,keyasint"`
	Int   int64     `cbor:"2,keyasint,omitempty"`
	Float float64   `cbor:"3,keyasint,omitempty"`
	Str   string    `cbor:"4,keyasint,omitempty"`
}

func toWire(u *Unit) (*wireUnit, error) {
	w := &wireUnit{
		Version:    u.Version,
		Access:     uint16(u.Access),
		Name:       u.Name,
		Super:      u.Super,
		Interfaces: u.Interfaces,
		SourceFile: u.SourceFile,
	}
	for _, f := range u.Fields {
		w.Fields = append(w.Fields, wireField{Access: uint16(f.Access), Name: f.Name, Desc: f.Desc})
	}
	for _, m := range u.Methods {
		wm := wireMethod{
			Access:    uint16(m.Access),
			Name:      m.Name,
			Desc:      m.Desc,
			MaxStack:  m.MaxStack,
			MaxLocals: m.MaxLocals,
			NextLabel: m.NextLabel,
		}
		for i, insn := range m.Code {
			wi, err := insnToWire(insn)
			if err != nil {
				return nil, fmt.Errorf("bytecode: encode %s.%s%s at %d: %w", u.Name, m.Name, m.Desc, i, err)
			}
			wm.Code = append(wm.Code, wi)
		}
		for _, tc := range m.TryCatch {
			wm.TryCatch = append(wm.TryCatch, wireTryCatch{
				Start: int(tc.Start), End: int(tc.End), Handler: int(tc.Handler), Type: tc.Type,
			})
		}
		w.Methods = append(w.Methods, wm)
	}
	return w, nil
}

func insnToWire(insn Insn) (wireInsn, error) {
	switch i := insn.(type) {
	case Simple:
		return wireInsn{Kind: kindSimple, Op: i.Opcode}, nil
	case IntInsn:
		return wireInsn{Kind: kindInt, Op: i.Opcode, A: i.Operand}, nil
	case VarInsn:
		return wireInsn{Kind: kindVar, Op: i.Opcode, A: i.Var}, nil
	case TypeInsn:
		return wireInsn{Kind: kindType, Op: i.Opcode, Strs: []string{i.Type}}, nil
	case FieldInsn:
		return wireInsn{Kind: kindField, Op: i.Opcode, Strs: []string{i.Owner, i.Name, i.Desc}}, nil
	case MethodInsn:
		return wireInsn{Kind: kindMethod, Op: i.Opcode, Strs: []string{i.Owner, i.Name, i.Desc}}, nil
	case JumpInsn:
		return wireInsn{Kind: kindJump, Op: i.Opcode, A: int(i.Target)}, nil
	case LdcInsn:
		c, err := constToWire(i.Value)
		if err != nil {
			return wireInsn{}, err
		}
		return wireInsn{Kind: kindLdc, Const: c}, nil
	case IincInsn:
		return wireInsn{Kind: kindIinc, A: i.Var, B: i.Incr}, nil
	case SwitchInsn:
		labels := make([]int, len(i.Targets))
		for k, t := range i.Targets {
			labels[k] = int(t)
		}
		return wireInsn{Kind: kindSwitch, Op: i.Opcode, A: int(i.Default), Keys: i.Keys, Labels: labels}, nil
	case LabelInsn:
		return wireInsn{Kind: kindLabel, A: int(i.Label)}, nil
	case LineInsn:
		return wireInsn{Kind: kindLine, A: i.Line}, nil
	default:
		return wireInsn{}, fmt.Errorf("unknown instruction %T", insn)
	}
}

func constToWire(v any) (*wireConst, error) {
	switch c := v.(type) {
	case int32:
		return &wireConst{Kind: constInt, Int: int64(c)}, nil
	case int64:
		return &wireConst{Kind: constLong, Int: c}, nil
	case float32:
		return &wireConst{Kind: constFloat, Float: float64(c)}, nil
	case float64:
		return &wireConst{Kind: constDouble, Float: c}, nil
	case string:
		return &wireConst{Kind: constString, Str: c}, nil
	default:
		return nil, fmt.Errorf("unsupported LDC constant %T", v)
	}
}

func fromWire(w *wireUnit) (*Unit, error) {
	u := &Unit{
		Version:    w.Version,
		Access:     Access(w.Access),
		Name:       w.Name,
		Super:      w.Super,
		Interfaces: w.Interfaces,
		SourceFile: w.SourceFile,
	}
	for _, f := range w.Fields {
		u.Fields = append(u.Fields, &Field{Access: Access(f.Access), Name: f.Name, Desc: f.Desc})
	}
	for _, wm := range w.Methods {
		m := &Method{
			Access:    Access(wm.Access),
			Name:      wm.Name,
			Desc:      wm.Desc,
			MaxStack:  wm.MaxStack,
			MaxLocals: wm.MaxLocals,
			NextLabel: wm.NextLabel,
		}
		for i, wi := range wm.Code {
			insn, err := insnFromWire(wi)
			if err != nil {
				return nil, fmt.Errorf("bytecode: decode %s.%s%s at %d: %w", u.Name, m.Name, m.Desc, i, err)
			}
			m.Code = append(m.Code, insn)
		}
		for _, tc := range wm.TryCatch {
			m.TryCatch = append(m.TryCatch, TryCatchBlock{
				Start: Label(tc.Start), End: Label(tc.End), Handler: Label(tc.Handler), Type: tc.Type,
			})
		}
		u.Methods = append(u.Methods, m)
	}
	return u, nil
}

func insnFromWire(w wireInsn) (Insn, error) {
	if w.Kind != kindLdc && w.Kind != kindIinc && w.Kind != kindLabel && w.Kind != kindLine && !w.Op.Known() {
		return nil, fmt.Errorf("unknown opcode 0x%02X", byte(w.Op))
	}
	switch w.Kind {
	case kindSimple:
		return Simple{Opcode: w.Op}, nil
	case kindInt:
		return IntInsn{Opcode: w.Op, Operand: w.A}, nil
	case kindVar:
		return VarInsn{Opcode: w.Op, Var: w.A}, nil
	case kindType:
		if len(w.Strs) != 1 {
			return nil, fmt.Errorf("type instruction needs 1 operand, got %d", len(w.Strs))
		}
		return TypeInsn{Opcode: w.Op, Type: w.Strs[0]}, nil
	case kindField, kindMethod:
		if len(w.Strs) != 3 {
			return nil, fmt.Errorf("member instruction needs 3 operands, got %d", len(w.Strs))
		}
		if w.Kind == kindField {
			return FieldInsn{Opcode: w.Op, Owner: w.Strs[0], Name: w.Strs[1], Desc: w.Strs[2]}, nil
		}
		return MethodInsn{Opcode: w.Op, Owner: w.Strs[0], Name: w.Strs[1], Desc: w.Strs[2]}, nil
	case kindJump:
		return JumpInsn{Opcode: w.Op, Target: Label(w.A)}, nil
	case kindLdc:
		if w.Const == nil {
			return nil, fmt.Errorf("LDC without constant")
		}
		switch w.Const.Kind {
		case constInt:
			return LdcInsn{Value: int32(w.Const.Int)}, nil
		case constLong:
			return LdcInsn{Value: w.Const.Int}, nil
		case constFloat:
			return LdcInsn{Value: float32(w.Const.Float)}, nil
		case constDouble:
			return LdcInsn{Value: w.Const.Float}, nil
		case constString:
			return LdcInsn{Value: w.Const.Str}, nil
		default:
			return nil, fmt.Errorf("unknown constant kind %d", w.Const.Kind)
		}
	case kindIinc:
		return IincInsn{Var: w.A, Incr: w.B}, nil
	case kindSwitch:
		if len(w.Keys) != len(w.Labels) {
			return nil, fmt.Errorf("switch has %d keys but %d targets", len(w.Keys), len(w.Labels))
		}
		targets := make([]Label, len(w.Labels))
		for k, l := range w.Labels {
			targets[k] = Label(l)
		}
		return SwitchInsn{Opcode: w.Op, Default: Label(w.A), Keys: w.Keys, Targets: targets}, nil
	case kindLabel:
		return LabelInsn{Label: Label(w.A)}, nil
	case kindLine:
		return LineInsn{Line: w.A}, nil
	default:
		return nil, fmt.Errorf("unknown instruction kind %d", w.Kind)
	}
}

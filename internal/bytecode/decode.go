package bytecode

import "encoding/binary"

// Operand is one decoded instruction operand. Which field is meaningful
// depends on Tag; Int does multiple duty (register index, integer literal,
// capture slot/sentinel, function-table index, or data-section offset)
// exactly the way the corresponding quad.Operand does before encoding —
// decode doesn't try to disambiguate TagFunc's two meanings (function index
// for OpMakeFunc's A operand vs. identifier offset everywhere else), the VM
// does that from opcode context same as the compiler/emitter did.
type Operand struct {
	Tag   OperandTag
	Int   int64
	Float float64
}

// Instr is one decoded instruction.
type Instr struct {
	Op  OpCode
	Dst Operand
	A   Operand
	B   Operand
	Len int // bytes consumed, including the opcode byte
}

// Decode reads one instruction from code starting at pc. jumpWidth is the
// owning function's FuncDesc.JumpWidth — needed both to size a TagJump
// operand's payload and to resolve its displacement (encoded relative to
// the end of the instruction, per Emit's encodeOperand) into an absolute
// code offset.
func Decode(code []byte, pc int, jumpWidth int) Instr {
	p := pc
	var in Instr
	in.Op = OpCode(code[p])
	p++
	p, in.Dst = decodeOperand(code, p, jumpWidth)
	p, in.A = decodeOperand(code, p, jumpWidth)
	p, in.B = decodeOperand(code, p, jumpWidth)
	in.Len = p - pc
	end := pc + in.Len
	resolveJump(&in.Dst, end)
	resolveJump(&in.A, end)
	resolveJump(&in.B, end)
	return in
}

func resolveJump(op *Operand, end int) {
	if op.Tag == TagJump {
		op.Int = int64(end) + op.Int
	}
}

func decodeOperand(code []byte, p int, jumpWidth int) (int, Operand) {
	tag := OperandTag(code[p])
	p++
	var op Operand
	op.Tag = tag
	switch tag {
	case TagNone, TagNull, TagTrue, TagFalse:
	case TagReg, TagStr, TagFunc, TagCount, TagCapture:
		v, n := binary.Uvarint(code[p:])
		op.Int = int64(v)
		p += n
	case TagInt:
		v, n := binary.Varint(code[p:])
		op.Int = v
		p += n
	case TagFloat:
		op.Float = readFloat64(code[p : p+8])
		p += 8
	case TagJump:
		op.Int = readCLQ(code[p:p+jumpWidth], jumpWidth)
		p += jumpWidth
	}
	return p, op
}

// DecodeInhaleDescs unpacks FuncDesc.InhaleDesc back into (fromExhale, index)
// pairs, the inverse of Emit's encodeInhaleDescs.
func DecodeInhaleDescs(desc []byte) []struct {
	FromExhale bool
	Index      int
} {
	out := make([]struct {
		FromExhale bool
		Index      int
	}, len(desc))
	for i, b := range desc {
		out[i].FromExhale = b&1 != 0
		out[i].Index = int(b >> 1)
	}
	return out
}

package bytecode

import (
	"fmt"

	"uncil/internal/container"
	"uncil/internal/program"
	"uncil/internal/quad"
)

// Emit lowers a compiled quad.Module into a program.Program. Per function it
// runs the two-pass process spec §4.6 describes: a dry pass measures how
// wide the function's jump displacements need to be, then a real pass
// encodes code bytes against that fixed width, writing every jump's
// displacement from label positions measured under that width before
// encoding starts. The growing code/data/debug sections
// (spec §4.3) are assembled through container.StrBuf rather than raw slice
// append so their allocation is tagged the same way any other compound
// payload's backing storage is.
func Emit(mod *quad.Module) (*program.Program, error) {
	data, litOffsets, identOffsets := buildStringPools(mod)

	code := container.NewStrBuf()
	debug := container.NewStrBuf()
	descs := make([]program.FuncDesc, len(mod.Functions))
	mainIndex := 0

	for i, fn := range mod.Functions {
		if fn.Main {
			mainIndex = i
		}
		nameOffset := 0
		if fn.Name != "" {
			nameOffset = data.Len()
			appendLenPrefixedBuf(data, fn.Name)
		}

		width, err := chooseJumpWidth(fn, litOffsets, identOffsets)
		if err != nil {
			return nil, err
		}
		fnCode, fnDebug, err := encodeFunction(fn, width, litOffsets, identOffsets)
		if err != nil {
			return nil, err
		}

		descs[i] = program.FuncDesc{
			CodeOffset:  int64(code.Len()),
			DebugOffset: int64(debug.Len()),
			JumpWidth:   uint8(width),
			Flags:       funcFlags(fn),
			Registers:   fn.Locals + fn.Temps,
			FirstLocal:  0,
			Exhale:      fn.Exhale,
			Required:    fn.Required,
			Optional:    fn.Optional,
			Inhale:      fn.Inhale,
			InhaleDesc:  encodeInhaleDescs(fn.InhaleDescs),
			ExhaleRegs:  append([]int(nil), fn.ExhaleRegs...),
			NameOffset:  nameOffset,
		}
		code.Append(fnCode)
		debug.Append(fnDebug)
	}

	return program.New(code.Bytes(), data.Bytes(), descs, debug.Bytes(), mainIndex), nil
}

func funcFlags(fn *quad.Function) uint32 {
	var f uint32
	if fn.Named {
		f |= program.FlagNamed
	}
	if fn.Ellipsis {
		f |= program.FlagEllipsis
	}
	if fn.Main {
		f |= program.FlagMain
	}
	return f
}

// encodeInhaleDescs packs each InhaleRef into one byte: bit 0 marks whether
// the slot refers to the parent's exhale array (set) or its inhale array
// (clear); the remaining 7 bits are the index, matching program.FuncDesc's
// documented layout.
func encodeInhaleDescs(refs []quad.InhaleRef) []byte {
	out := make([]byte, len(refs))
	for i, r := range refs {
		b := byte(r.Index&0x7f) << 1
		if r.FromExhale {
			b |= 1
		}
		out[i] = b
	}
	return out
}

// buildStringPools returns the live StrBuf backing the data section (not
// just its current bytes) since Emit keeps appending function-name offsets
// into it after the literal/identifier pools are laid down.
func buildStringPools(mod *quad.Module) (data *container.StrBuf, litOffsets, identOffsets []int) {
	data = container.NewStrBuf()
	data.AppendByte(0) // offset 0 is reserved so NameOffset==0 unambiguously means "unnamed"
	litOffsets = make([]int, len(mod.Literals))
	for i, s := range mod.Literals {
		litOffsets[i] = data.Len()
		appendLenPrefixedBuf(data, s)
	}
	identOffsets = make([]int, len(mod.Idents))
	for i, s := range mod.Idents {
		identOffsets[i] = data.Len()
		appendLenPrefixedBuf(data, s)
	}
	return data, litOffsets, identOffsets
}

// appendLenPrefixedBuf writes a VLQ byte-length followed by the raw string
// bytes onto buf, the data-section string format both pools and per-function
// names use.
func appendLenPrefixedBuf(buf *container.StrBuf, s string) {
	var tmp []byte
	putUvarint(&tmp, uint64(len(s)))
	buf.Append(tmp)
	buf.AppendString(s)
}

func regOf(fn *quad.Function, op quad.Operand) int {
	if op.Kind == quad.KindLocal {
		return int(op.Int)
	}
	return fn.Locals + int(op.Int) // temps follow locals in the shared register file
}

func operandTag(kind quad.OperandKind) OperandTag {
	switch kind {
	case quad.KindNone:
		return TagNone
	case quad.KindTmp, quad.KindLocal:
		return TagReg
	case quad.KindExhale, quad.KindInhale:
		return TagCapture
	case quad.KindIntLit, quad.KindUnsigned:
		return TagInt
	case quad.KindFloatLit:
		return TagFloat
	case quad.KindNull:
		return TagNull
	case quad.KindTrue:
		return TagTrue
	case quad.KindFalse:
		return TagFalse
	case quad.KindStrIdx:
		return TagStr
	case quad.KindIdentIdx, quad.KindPublic:
		return TagFunc // reinterpreted below: public/ident operands carry a data-section offset, same payload shape as TagFunc (a plain VLQ)
	case quad.KindJumpTarget:
		return TagJump
	case quad.KindFuncIdx:
		return TagFunc
	default:
		return TagNone
	}
}

// operandPayloadSize returns the byte size of op's payload (excluding the
// leading tag byte). litOffsets/identOffsets let it measure the real
// data-section offset a string/public operand encodes to, not its pool
// index, so the dry-measure pass agrees with the real encode pass.
func operandPayloadSize(fn *quad.Function, op quad.Operand, jumpWidth int, litOffsets, identOffsets []int) int {
	switch operandTag(op.Kind) {
	case TagNone, TagNull, TagTrue, TagFalse:
		return 0
	case TagReg:
		return uvarintLen(uint64(regOf(fn, op)))
	case TagInt:
		return varintLen(op.Int)
	case TagFloat:
		return 8
	case TagStr:
		return uvarintLen(uint64(litOffsets[op.Str]))
	case TagFunc:
		if op.Kind == quad.KindPublic || op.Kind == quad.KindIdentIdx {
			return uvarintLen(uint64(identOffsets[op.Str]))
		}
		return uvarintLen(uint64(op.Int))
	case TagCapture:
		return uvarintLen(uint64(op.Int))
	case TagJump:
		return jumpWidth
	default:
		return 0
	}
}

func instrSize(fn *quad.Function, q quad.Quad, jumpWidth int, litOffsets, identOffsets []int) int {
	return 1 + // opcode byte
		1 + operandPayloadSize(fn, q.Dst, jumpWidth, litOffsets, identOffsets) +
		1 + operandPayloadSize(fn, q.A, jumpWidth, litOffsets, identOffsets) +
		1 + operandPayloadSize(fn, q.B, jumpWidth, litOffsets, identOffsets)
}

type jumpSite struct {
	endPos int
	target int
}

// measure walks fn's quads assuming jumpWidth, returning the byte position
// of every label and the (end-of-instruction, target-label) pairs that will
// need a displacement patched in. Per-label byte positions are looked up
// through fn.Labels (the label-id -> quad-index aux-name table the quad
// compiler built as it placed each label, spec §4.3) rather than rescanning
// the quad list for OpLabel pseudo-ops on every dry/real pass.
func measure(fn *quad.Function, jumpWidth int, litOffsets, identOffsets []int) (labelPos map[int]int, sites []jumpSite) {
	posAtIndex := make([]int, len(fn.Quads)+1)
	pos := 0
	for i, q := range fn.Quads {
		posAtIndex[i] = pos
		if q.Op == quad.OpLabel {
			continue
		}
		size := instrSize(fn, q, jumpWidth, litOffsets, identOffsets)
		if q.A.Kind == quad.KindJumpTarget {
			sites = append(sites, jumpSite{endPos: pos + size, target: int(q.A.Int)})
		}
		if q.B.Kind == quad.KindJumpTarget {
			sites = append(sites, jumpSite{endPos: pos + size, target: int(q.B.Int)})
		}
		pos += size
	}
	posAtIndex[len(fn.Quads)] = pos

	labelPos = make(map[int]int, fn.Labels.Len())
	fn.Labels.Iterate(func(id uint64, val interface{}) {
		labelPos[int(id)] = posAtIndex[val.(int)]
	})
	return labelPos, sites
}

// chooseJumpWidth does the dry pass: measure under the widest encoding,
// then pick the narrowest width that still covers every displacement.
func chooseJumpWidth(fn *quad.Function, litOffsets, identOffsets []int) (int, error) {
	labelPos, sites := measure(fn, 4, litOffsets, identOffsets)
	maxAbs := int64(0)
	for _, s := range sites {
		target, ok := labelPos[s.target]
		if !ok {
			return 0, fmt.Errorf("quad: function %q references unknown label %d", fn.Name, s.target)
		}
		disp := int64(target - s.endPos)
		if disp < 0 {
			disp = -disp
		}
		if disp > maxAbs {
			maxAbs = disp
		}
	}
	if maxAbs <= 127 {
		return 1, nil
	}
	if maxAbs <= 32767 {
		return 2, nil
	}
	return 4, nil
}

func encodeFunction(fn *quad.Function, jumpWidth int, litOffsets, identOffsets []int) (code, debug []byte, err error) {
	labelPos, _ := measure(fn, jumpWidth, litOffsets, identOffsets)

	lastPos, lastLine := 0, 0
	var entries [][2]int64 // pc delta, line delta, recorded before debug-table encoding

	pos := 0
	for _, q := range fn.Quads {
		if q.Op == quad.OpLabel {
			continue
		}
		size := instrSize(fn, q, jumpWidth, litOffsets, identOffsets)
		endPos := pos + size

		if q.Line != lastLine || len(entries) == 0 {
			entries = append(entries, [2]int64{int64(pos - lastPos), int64(q.Line - lastLine)})
			lastPos, lastLine = pos, q.Line
		}

		code = append(code, byte(bytecodeOp(q.Op)))
		if err := encodeOperand(&code, fn, q.Dst, jumpWidth, litOffsets, identOffsets, endPos, labelPos); err != nil {
			return nil, nil, err
		}
		if err := encodeOperand(&code, fn, q.A, jumpWidth, litOffsets, identOffsets, endPos, labelPos); err != nil {
			return nil, nil, err
		}
		if err := encodeOperand(&code, fn, q.B, jumpWidth, litOffsets, identOffsets, endPos, labelPos); err != nil {
			return nil, nil, err
		}
		pos = endPos
	}

	putUvarint(&debug, uint64(len(entries)))
	for _, e := range entries {
		putUvarint(&debug, uint64(e[0]))
		putVarint(&debug, e[1])
	}
	return code, debug, nil
}

func bytecodeOp(op quad.OpCode) OpCode { return OpCode(op) }

// encodeOperand appends one tagged operand. jumpEndPos is the byte position
// immediately after the instruction this operand belongs to, used only when
// op is a jump target (displacement = label position - jumpEndPos).
func encodeOperand(buf *[]byte, fn *quad.Function, op quad.Operand, jumpWidth int, litOffsets, identOffsets []int, jumpEndPos int, labelPos map[int]int) error {
	tag := operandTag(op.Kind)
	*buf = append(*buf, byte(tag))
	switch tag {
	case TagNone, TagNull, TagTrue, TagFalse:
		// no payload
	case TagReg:
		putUvarint(buf, uint64(regOf(fn, op)))
	case TagInt:
		putVarint(buf, op.Int)
	case TagFloat:
		var b [8]byte
		putFloat64(b[:], op.Float)
		*buf = append(*buf, b[:]...)
	case TagStr:
		if op.Str < 0 || op.Str >= len(litOffsets) {
			return fmt.Errorf("quad: literal index %d out of range", op.Str)
		}
		putUvarint(buf, uint64(litOffsets[op.Str]))
	case TagCapture:
		putUvarint(buf, uint64(op.Int))
	case TagFunc:
		if op.Kind == quad.KindPublic || op.Kind == quad.KindIdentIdx {
			if op.Str < 0 || op.Str >= len(identOffsets) {
				return fmt.Errorf("quad: identifier index %d out of range", op.Str)
			}
			putUvarint(buf, uint64(identOffsets[op.Str]))
		} else {
			putUvarint(buf, uint64(op.Int))
		}
	case TagJump:
		target, ok := labelPos[int(op.Int)]
		if !ok {
			return fmt.Errorf("quad: unresolved label %d", op.Int)
		}
		putCLQ(buf, int64(target-jumpEndPos), jumpWidth)
	}
	return nil
}

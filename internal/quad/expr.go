package quad

import (
	"strconv"

	"uncil/internal/container"
	"uncil/internal/lexer"
)

// targetKind distinguishes the three kinds of assignable expression: a
// simple register/capture/public reference, an attribute access, or an
// index access. Attribute and index targets carry the already-evaluated
// base/key operands so an assignment can reuse them without re-evaluating
// the base expression.
type targetKind uint8

const (
	targetLocal targetKind = iota
	targetAttr
	targetIndex
)

type target struct {
	kind   targetKind
	base   Operand
	key    Operand
	simple Operand
}

// targetLoad materializes a target's current value, emitting a get for
// attribute/index targets.
func (c *Compiler) targetLoad(t target) Operand {
	switch t.kind {
	case targetAttr:
		r := c.tmp()
		c.emit(Quad{Op: OpGetAttr, Dst: r, A: t.base, B: t.key})
		return r
	case targetIndex:
		r := c.tmp()
		c.emit(Quad{Op: OpGetIndex, Dst: r, A: t.base, B: t.key})
		return r
	default:
		return t.simple
	}
}

func (c *Compiler) assignTargetTo(t target, val Operand) {
	switch t.kind {
	case targetAttr:
		c.emit(Quad{Op: OpSetAttr, A: t.base, B: t.key, Dst: val})
		c.freeTmp(t.base)
	case targetIndex:
		c.emit(Quad{Op: OpSetIndex, A: t.base, B: t.key, Dst: val})
		c.freeTmp(t.base)
		c.freeTmp(t.key)
	default:
		c.assignTo(t.simple, val)
	}
}

// assignTo stores val into a simple (local/tmp/public/inhale) destination.
func (c *Compiler) assignTo(dst Operand, val Operand) {
	switch dst.Kind {
	case KindPublic:
		c.emit(Quad{Op: OpSetPublic, A: dst, B: val})
	case KindInhale:
		c.emit(Quad{Op: OpSetCapture, A: dst, B: val})
	default:
		c.emit(Quad{Op: OpMove, Dst: dst, A: val})
	}
}

// postfixTarget parses a primary expression followed by any chain of
// `.attr`, `.?attr`, `[index]` and `(args)` postfix operators, returning the
// last step as an assignable target.
func (c *Compiler) postfixTarget() target {
	var cur target
	if c.check(lexer.TIdent) {
		name := c.advance().Lit
		cur = target{kind: targetLocal, simple: c.resolve(name)}
	} else {
		cur = target{kind: targetLocal, simple: c.primaryExpr()}
	}

	for {
		switch c.peek().Type {
		case lexer.TDot:
			c.advance()
			name := c.expect(lexer.TIdent, "attribute name").Lit
			obj := c.targetLoad(cur)
			cur = target{kind: targetAttr, base: obj, key: StrIdx(c.lits.intern(name))}

		case lexer.TDotQuestion:
			c.advance()
			name := c.expect(lexer.TIdent, "attribute name").Lit
			obj := c.targetLoad(cur)
			r := c.tmp()
			isNull := c.tmp()
			endLabel := c.newLabel()
			c.emit(Quad{Op: OpEq, Dst: isNull, A: obj, B: NullOperand()})
			c.emit(Quad{Op: OpMove, Dst: r, A: NullOperand()})
			c.emit(Quad{Op: OpJumpIfTrue, A: isNull, B: Label(endLabel)})
			c.freeTmp(isNull)
			c.emit(Quad{Op: OpGetAttr, Dst: r, A: obj, B: StrIdx(c.lits.intern(name))})
			c.placeLabel(endLabel)
			cur = target{kind: targetLocal, simple: r}

		case lexer.TLBracket:
			c.advance()
			idx := c.expression()
			c.expect(lexer.TRBracket, "']'")
			obj := c.targetLoad(cur)
			cur = target{kind: targetIndex, base: obj, key: idx}

		case lexer.TLParen:
			obj := c.targetLoad(cur)
			args := c.parseArgs()
			for _, a := range args {
				c.emit(Quad{Op: OpPush, A: a})
				c.freeTmp(a)
			}
			// A call is only a true tail call when nothing in the postfix
			// chain follows it (the call site directly becomes the
			// return value), so peek ahead before committing to OPTAILCALL.
			chains := c.peek().Type == lexer.TDot || c.peek().Type == lexer.TDotQuestion ||
				c.peek().Type == lexer.TLBracket || c.peek().Type == lexer.TLParen
			if c.tailCall && !chains {
				c.emit(Quad{Op: OpTailCall, A: obj, B: Unsigned(int64(len(args)))})
				c.freeTmp(obj)
				c.lastWasTail = true
				return target{kind: targetLocal, simple: Operand{}}
			}
			result := c.tmp()
			c.emit(Quad{Op: OpCall, Dst: result, A: obj, B: Unsigned(int64(len(args)))})
			c.freeTmp(obj)
			cur = target{kind: targetLocal, simple: result}

		default:
			return cur
		}
	}
}

func (c *Compiler) parseArgs() []Operand {
	c.expect(lexer.TLParen, "'('")
	// Arguments are never themselves in tail position, even when the call
	// they belong to is: suspend tail-call detection while parsing them.
	savedTail := c.tailCall
	c.tailCall = false
	var args []Operand
	c.skipNewlines()
	for !c.check(lexer.TRParen) && !c.atEnd() {
		args = append(args, c.expression())
		c.skipNewlines()
		if !c.match(lexer.TComma) {
			break
		}
		c.skipNewlines()
	}
	c.expect(lexer.TRParen, "')'")
	c.tailCall = savedTail
	return args
}

// primaryExpr parses everything that isn't a bare identifier (postfixTarget
// handles identifiers itself so it can resolve them as assignable targets).
// Anything parsed here is, by construction, not the tail-position call a
// pending return statement might be looking for (array/dict elements,
// parenthesized sub-expressions, and nested function bodies all compute a
// value that's used by something else), so tail-call detection is
// suspended for the duration.
func (c *Compiler) primaryExpr() Operand {
	savedTail := c.tailCall
	c.tailCall = false
	defer func() { c.tailCall = savedTail }()
	tok := c.peek()
	switch tok.Type {
	case lexer.TInt:
		c.advance()
		n, err := strconv.ParseInt(tok.Lit, 10, 64)
		if err != nil {
			c.fail(tok.Line, "invalid integer literal %q", tok.Lit)
		}
		return IntLit(n)
	case lexer.TFloat:
		c.advance()
		f, err := strconv.ParseFloat(tok.Lit, 64)
		if err != nil {
			c.fail(tok.Line, "invalid float literal %q", tok.Lit)
		}
		return FloatLit(f)
	case lexer.TString:
		c.advance()
		return StrIdx(c.lits.intern(tok.Lit))
	case lexer.TTrue:
		c.advance()
		return BoolOperand(true)
	case lexer.TFalse:
		c.advance()
		return BoolOperand(false)
	case lexer.TNull:
		c.advance()
		return NullOperand()
	case lexer.TLParen:
		c.advance()
		v := c.expression()
		c.expect(lexer.TRParen, "')'")
		return v
	case lexer.TLBracket:
		return c.arrayLiteral()
	case lexer.TLBrace:
		return c.dictLiteral()
	case lexer.TFunction:
		c.advance()
		return c.funcLiteralBody("")
	default:
		c.fail(tok.Line, "unexpected token in expression")
		c.advance()
		return NullOperand()
	}
}

func (c *Compiler) arrayLiteral() Operand {
	c.advance() // [
	dst := c.tmp()
	c.emit(Quad{Op: OpNewArray, Dst: dst})
	c.skipNewlines()
	var idx int64
	for !c.check(lexer.TRBracket) && !c.atEnd() {
		el := c.expression()
		c.emit(Quad{Op: OpSetIndex, A: dst, B: IntLit(idx), Dst: el})
		c.freeTmp(el)
		idx++
		c.skipNewlines()
		if !c.match(lexer.TComma) {
			break
		}
		c.skipNewlines()
	}
	c.skipNewlines()
	c.expect(lexer.TRBracket, "']'")
	return dst
}

func (c *Compiler) dictLiteral() Operand {
	c.advance() // {
	dst := c.tmp()
	c.emit(Quad{Op: OpNewDict, Dst: dst})
	c.skipNewlines()
	for !c.check(lexer.TRBrace) && !c.atEnd() {
		var key Operand
		switch {
		case c.check(lexer.TLBracket):
			c.advance()
			key = c.expression()
			c.expect(lexer.TRBracket, "']'")
		case c.check(lexer.TIdent) || c.check(lexer.TString):
			lit := c.advance().Lit
			key = StrIdx(c.lits.intern(lit))
		default:
			c.fail(c.peek().Line, "expected dict key")
			return dst
		}
		c.expect(lexer.TColon, "':'")
		val := c.expression()
		c.emit(Quad{Op: OpSetIndex, A: dst, B: key, Dst: val})
		c.freeTmp(val)
		c.skipNewlines()
		if !c.match(lexer.TComma) {
			break
		}
		c.skipNewlines()
	}
	c.skipNewlines()
	c.expect(lexer.TRBrace, "'}'")
	return dst
}

// funcLiteralBody parses `(params) block end`; the leading `function`
// keyword has already been consumed by the caller. name is non-empty for
// `function name(...)` declarations, used only to set the Named flag and aid
// tracebacks.
func (c *Compiler) funcLiteralBody(name string) Operand {
	line := c.peek().Line
	c.expect(lexer.TLParen, "'('")

	fn := &Function{Name: name, Line: line, Parent: c.cur.index, Labels: container.NewBPlusTree()}
	if name != "" {
		fn.Named = true
	}
	fx := &funcCtx{fn: fn, index: len(c.funcs), parent: c.cur, scope: newScope(nil), exhaleOf: map[string]int{}}
	c.funcs = append(c.funcs, fx)
	prevCur := c.cur
	c.cur = fx

	required := 0
	for !c.check(lexer.TRParen) && !c.atEnd() {
		if c.check(lexer.TEllipsis) {
			c.advance()
			fn.Ellipsis = true
			break
		}
		pname := c.expect(lexer.TIdent, "parameter name").Lit
		c.declareLocal(pname)
		required++
		if !c.match(lexer.TComma) {
			break
		}
	}
	c.expect(lexer.TRParen, "')'")
	fn.Required = required

	c.block(lexer.TEnd)
	c.expect(lexer.TEnd, "'end'")
	c.finishFunc(fx)

	c.cur = prevCur
	dst := c.tmp()
	c.emit(Quad{Op: OpMakeFunc, Dst: dst, A: FuncIdx(fx.index)})
	return dst
}

// ---------------------------------------------------------------------
// precedence climbing: ?? > or > and > equality > relational > additive
// > multiplicative > unary > power > postfix/primary
// ---------------------------------------------------------------------

func (c *Compiler) expression() Operand { return c.coalesceExpr() }

func (c *Compiler) coalesceExpr() Operand {
	left := c.orExpr()
	for c.check(lexer.TQuestionQuestion) {
		c.advance()
		right := c.orExpr()
		dst := c.tmp()
		isNull := c.tmp()
		elseLabel := c.newLabel()
		endLabel := c.newLabel()
		c.emit(Quad{Op: OpEq, Dst: isNull, A: left, B: NullOperand()})
		c.emit(Quad{Op: OpJumpIfFalse, A: isNull, B: Label(elseLabel)})
		c.freeTmp(isNull)
		c.emit(Quad{Op: OpMove, Dst: dst, A: right})
		c.emit(Quad{Op: OpJump, A: Label(endLabel)})
		c.placeLabel(elseLabel)
		c.emit(Quad{Op: OpMove, Dst: dst, A: left})
		c.placeLabel(endLabel)
		c.freeTmp(left)
		c.freeTmp(right)
		left = dst
	}
	return left
}

func (c *Compiler) orExpr() Operand {
	left := c.andExpr()
	for c.check(lexer.TOr) {
		c.advance()
		right := c.andExpr()
		dst := c.tmp()
		c.emit(Quad{Op: OpOr, Dst: dst, A: left, B: right})
		c.freeTmp(left)
		c.freeTmp(right)
		left = dst
	}
	return left
}

func (c *Compiler) andExpr() Operand {
	left := c.equalityExpr()
	for c.check(lexer.TAnd) {
		c.advance()
		right := c.equalityExpr()
		dst := c.tmp()
		c.emit(Quad{Op: OpAnd, Dst: dst, A: left, B: right})
		c.freeTmp(left)
		c.freeTmp(right)
		left = dst
	}
	return left
}

func (c *Compiler) equalityExpr() Operand {
	left := c.relationalExpr()
	for {
		var op OpCode
		switch c.peek().Type {
		case lexer.TEq:
			op = OpEq
		case lexer.TNeq:
			op = OpNeq
		default:
			return left
		}
		c.advance()
		right := c.relationalExpr()
		dst := c.tmp()
		c.emit(Quad{Op: op, Dst: dst, A: left, B: right})
		c.freeTmp(left)
		c.freeTmp(right)
		left = dst
	}
}

func (c *Compiler) relationalExpr() Operand {
	left := c.additiveExpr()
	for {
		var op OpCode
		switch c.peek().Type {
		case lexer.TLt:
			op = OpLt
		case lexer.TLe:
			op = OpLe
		case lexer.TGt:
			op = OpGt
		case lexer.TGe:
			op = OpGe
		default:
			return left
		}
		c.advance()
		right := c.additiveExpr()
		dst := c.tmp()
		c.emit(Quad{Op: op, Dst: dst, A: left, B: right})
		c.freeTmp(left)
		c.freeTmp(right)
		left = dst
	}
}

func (c *Compiler) additiveExpr() Operand {
	left := c.multiplicativeExpr()
	for {
		var op OpCode
		switch c.peek().Type {
		case lexer.TPlus:
			op = OpAdd
		case lexer.TMinus:
			op = OpSub
		default:
			return left
		}
		c.advance()
		right := c.multiplicativeExpr()
		dst := c.tmp()
		c.emit(Quad{Op: op, Dst: dst, A: left, B: right})
		c.freeTmp(left)
		c.freeTmp(right)
		left = dst
	}
}

func (c *Compiler) multiplicativeExpr() Operand {
	left := c.unaryExpr()
	for {
		var op OpCode
		switch c.peek().Type {
		case lexer.TStar:
			op = OpMul
		case lexer.TSlash:
			op = OpDiv
		case lexer.TSlashSlash:
			op = OpIDiv
		case lexer.TPercent:
			op = OpMod
		default:
			return left
		}
		c.advance()
		right := c.unaryExpr()
		dst := c.tmp()
		c.emit(Quad{Op: op, Dst: dst, A: left, B: right})
		c.freeTmp(left)
		c.freeTmp(right)
		left = dst
	}
}

func (c *Compiler) unaryExpr() Operand {
	switch c.peek().Type {
	case lexer.TMinus:
		c.advance()
		v := c.unaryExpr()
		dst := c.tmp()
		c.emit(Quad{Op: OpNeg, Dst: dst, A: v})
		c.freeTmp(v)
		return dst
	case lexer.TNot:
		c.advance()
		v := c.unaryExpr()
		dst := c.tmp()
		c.emit(Quad{Op: OpNot, Dst: dst, A: v})
		c.freeTmp(v)
		return dst
	default:
		return c.powerExpr()
	}
}

// powerExpr is right-associative: 2 ^ 3 ^ 2 == 2 ^ (3 ^ 2).
func (c *Compiler) powerExpr() Operand {
	left := c.postfixExpr()
	if c.check(lexer.TCaret) {
		c.advance()
		right := c.unaryExpr()
		dst := c.tmp()
		c.emit(Quad{Op: OpPow, Dst: dst, A: left, B: right})
		c.freeTmp(left)
		c.freeTmp(right)
		return dst
	}
	return left
}

func (c *Compiler) postfixExpr() Operand {
	return c.targetLoad(c.postfixTarget())
}

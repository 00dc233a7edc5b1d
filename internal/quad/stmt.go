package quad

import "uncil/internal/lexer"

func (c *Compiler) statement() {
	switch c.peek().Type {
	case lexer.TIf:
		c.ifStmt()
	case lexer.TWhile:
		c.whileStmt()
	case lexer.TFor:
		c.forStmt()
	case lexer.TFunction:
		c.funcDeclStmt()
	case lexer.TReturn:
		c.returnStmt()
	case lexer.TBreak:
		c.advance()
		c.breakStmt()
	case lexer.TContinue:
		c.advance()
		c.continueStmt()
	case lexer.TTry:
		c.tryStmt()
	case lexer.TWith:
		c.withStmt()
	case lexer.TDelete:
		c.deleteStmt()
	case lexer.TPublic:
		c.publicStmt()
	case lexer.TThrow:
		c.throwStmt()
	default:
		c.exprOrAssignStmt()
	}
}

func (c *Compiler) block(enders ...lexer.TokenType) {
	c.skipNewlines()
	for !c.atEnd() && !c.atAny(enders...) {
		c.statement()
		if c.err != nil {
			return
		}
		c.skipNewlines()
	}
}

func (c *Compiler) atAny(types ...lexer.TokenType) bool {
	for _, t := range types {
		if c.check(t) {
			return true
		}
	}
	return false
}

func (c *Compiler) ifStmt() {
	c.advance() // if
	cond := c.expression()
	c.expect(lexer.TThen, "'then'")
	elseLabel := c.newLabel()
	endLabel := c.newLabel()
	c.emit(Quad{Op: OpJumpIfFalse, A: cond, B: Label(elseLabel)})
	c.freeTmp(cond)
	c.block(lexer.TElse, lexer.TEnd)
	c.emit(Quad{Op: OpJump, A: Label(endLabel)})
	c.placeLabel(elseLabel)
	if c.match(lexer.TElse) {
		c.block(lexer.TEnd)
	}
	c.expect(lexer.TEnd, "'end'")
	c.placeLabel(endLabel)
}

func (c *Compiler) whileStmt() {
	c.advance() // while
	startLabel := c.newLabel()
	endLabel := c.newLabel()
	c.placeLabel(startLabel)
	cond := c.expression()
	c.expect(lexer.TDo, "'do'")
	c.emit(Quad{Op: OpJumpIfFalse, A: cond, B: Label(endLabel)})
	c.freeTmp(cond)
	c.cur.loops = append(c.cur.loops, loopInfo{continueLabel: startLabel, breakLabel: endLabel})
	c.block(lexer.TEnd)
	c.cur.loops = c.cur.loops[:len(c.cur.loops)-1]
	c.expect(lexer.TEnd, "'end'")
	c.emit(Quad{Op: OpJump, A: Label(startLabel)})
	c.placeLabel(endLabel)
}

// forStmt implements the numeric for of spec scenario 1:
// for i = start, stop[, step] do ... end
func (c *Compiler) forStmt() {
	c.advance() // for
	name := c.expect(lexer.TIdent, "loop variable").Lit
	c.expect(lexer.TAssign, "'='")
	start := c.expression()
	c.expect(lexer.TComma, "','")
	stop := c.expression()
	var step Operand
	hasStep := false
	if c.match(lexer.TComma) {
		step = c.expression()
		hasStep = true
	}
	c.expect(lexer.TDo, "'do'")

	loopVar := c.declareLocal(name)
	c.emit(Quad{Op: OpMove, Dst: loopVar, A: start})
	c.freeTmp(start)
	if !hasStep {
		step = IntLit(1)
	}

	startLabel := c.newLabel()
	endLabel := c.newLabel()
	contLabel := c.newLabel()
	c.placeLabel(startLabel)
	cond := c.tmp()
	c.emit(Quad{Op: OpLe, Dst: cond, A: loopVar, B: stop})
	c.emit(Quad{Op: OpJumpIfFalse, A: cond, B: Label(endLabel)})
	c.freeTmp(cond)

	c.cur.loops = append(c.cur.loops, loopInfo{continueLabel: contLabel, breakLabel: endLabel})
	c.block(lexer.TEnd)
	c.cur.loops = c.cur.loops[:len(c.cur.loops)-1]
	c.expect(lexer.TEnd, "'end'")

	c.placeLabel(contLabel)
	c.emit(Quad{Op: OpAdd, Dst: loopVar, A: loopVar, B: step})
	c.freeTmp(stop)
	c.freeTmp(step)
	c.emit(Quad{Op: OpJump, A: Label(startLabel)})
	c.placeLabel(endLabel)
}

func (c *Compiler) breakStmt() {
	if len(c.cur.loops) == 0 {
		c.fail(c.peek().Line, "'break' outside loop")
		return
	}
	top := c.cur.loops[len(c.cur.loops)-1]
	c.emit(Quad{Op: OpJump, A: Label(top.breakLabel)})
}

func (c *Compiler) continueStmt() {
	if len(c.cur.loops) == 0 {
		c.fail(c.peek().Line, "'continue' outside loop")
		return
	}
	top := c.cur.loops[len(c.cur.loops)-1]
	c.emit(Quad{Op: OpJump, A: Label(top.continueLabel)})
}

func (c *Compiler) returnStmt() {
	c.advance()
	if c.check(lexer.TNewline) || c.check(lexer.TSemicolon) || c.check(lexer.TEnd) || c.atEnd() {
		c.emit(Quad{Op: OpReturn, A: Unsigned(0)})
		return
	}
	if c.tryTailCall() {
		return
	}
	n := 0
	first := c.expression()
	c.emit(Quad{Op: OpPush, A: first})
	c.freeTmp(first)
	n++
	for c.match(lexer.TComma) {
		v := c.expression()
		c.emit(Quad{Op: OpPush, A: v})
		c.freeTmp(v)
		n++
	}
	c.emit(Quad{Op: OpReturn, A: Unsigned(int64(n))})
}

// tryTailCall recognizes `return <postfix-call-chain>` as the statement's
// sole return expression (nothing else follows before the end of the
// statement) and, if so, emits a tail call in place of the usual
// push-argument/call/push-result/return sequence: the callee runs in the
// current call frame instead of growing the call stack, so deep recursive
// tail calls run in constant frame depth (spec §4.7). If the expression
// turns out not to end in a bare call (e.g. `return a + f(x)`, or the call
// isn't the outermost operation), the attempt is rolled back and the normal
// expression path runs instead.
func (c *Compiler) tryTailCall() bool {
	savePos := c.pos
	saveQuads := len(c.cur.fn.Quads)

	c.tailCall = true
	c.lastWasTail = false
	c.postfixTarget()
	c.tailCall = false

	atEnd := c.check(lexer.TNewline) || c.check(lexer.TSemicolon) || c.check(lexer.TEnd) || c.atEnd()
	if c.lastWasTail && atEnd {
		c.lastWasTail = false
		return true
	}

	c.lastWasTail = false
	c.pos = savePos
	c.cur.fn.Quads = c.cur.fn.Quads[:saveQuads]
	return false
}

// funcDeclStmt: `function name(params) ... end` sugar for
// `name = function(params) ... end`. A bare `function(params) ... end` used
// as a statement is a no-op expression statement (its value is discarded).
func (c *Compiler) funcDeclStmt() {
	c.advance() // function
	if c.check(lexer.TIdent) && c.peekAt(1).Type == lexer.TLParen {
		name := c.advance().Lit
		fnOp := c.funcLiteralBody(name)
		dst := c.resolveOrDeclare(name)
		c.assignTo(dst, fnOp)
		return
	}
	fnOp := c.funcLiteralBody("")
	c.freeTmp(fnOp)
}

func (c *Compiler) tryStmt() {
	c.advance() // try
	catchLabel := c.newLabel()
	endLabel := c.newLabel()
	c.emit(Quad{Op: OpTryPush, A: Label(catchLabel)})
	c.block(lexer.TCatch, lexer.TEnd)
	c.emit(Quad{Op: OpTryPop})
	c.emit(Quad{Op: OpJump, A: Label(endLabel)})
	c.placeLabel(catchLabel)
	if c.match(lexer.TCatch) {
		errName := ""
		if c.check(lexer.TIdent) {
			errName = c.advance().Lit
		}
		if errName != "" {
			dst := c.declareLocal(errName)
			c.emit(Quad{Op: OpGetCapture, Dst: dst, A: Operand{Kind: KindUnsigned, Int: -1}})
		}
		c.block(lexer.TEnd)
	}
	c.expect(lexer.TEnd, "'end'")
	c.placeLabel(endLabel)
}

func (c *Compiler) withStmt() {
	c.advance() // with
	res := c.expression()
	c.emit(Quad{Op: OpWithPush, A: res})
	c.freeTmp(res)
	c.expect(lexer.TDo, "'do'")
	c.block(lexer.TEnd)
	c.expect(lexer.TEnd, "'end'")
	c.emit(Quad{Op: OpWithPop})
}

// throwStmt: `throw <expr>` raises expr as the exception value (spec §4.7),
// unwinding to the nearest enclosing try-frame via OpThrow.
func (c *Compiler) throwStmt() {
	c.advance() // throw
	val := c.expression()
	c.emit(Quad{Op: OpThrow, A: val})
	c.freeTmp(val)
}

func (c *Compiler) deleteStmt() {
	c.advance()
	t := c.postfixTarget()
	switch t.kind {
	case targetAttr:
		c.emit(Quad{Op: OpDelAttr, A: t.base, B: t.key})
	case targetIndex:
		c.emit(Quad{Op: OpDelIndex, A: t.base, B: t.key})
		c.freeTmp(t.key)
	default:
		c.fail(c.peek().Line, "'delete' requires an attribute or index target")
	}
	c.freeTmp(t.base)
}

func (c *Compiler) publicStmt() {
	c.advance() // public
	name := c.expect(lexer.TIdent, "identifier").Lit
	var val Operand = NullOperand()
	if c.match(lexer.TAssign) {
		val = c.expression()
	}
	c.emit(Quad{Op: OpSetPublic, A: Operand{Kind: KindPublic, Str: c.idents.intern(name)}, B: val})
	c.freeTmp(val)
}

func (c *Compiler) exprOrAssignStmt() {
	// A bare "name = ..." is distinguished up front so assignment to a
	// fresh name declares a local rather than reading it as an implicit
	// global (only attribute/index targets and `public` go through that
	// path).
	if c.check(lexer.TIdent) && c.peekAt(1).Type == lexer.TAssign {
		name := c.advance().Lit
		c.advance() // =
		val := c.expression()
		dst := c.resolveOrDeclare(name)
		c.assignTo(dst, val)
		c.freeTmp(val)
		return
	}
	t := c.postfixTarget()
	if c.match(lexer.TAssign) {
		val := c.expression()
		c.assignTargetTo(t, val)
		c.freeTmp(val)
		return
	}
	// plain expression statement (e.g. a bare call): discard the value.
	c.freeTmp(c.targetLoad(t))
}

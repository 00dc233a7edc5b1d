package quad

import (
	"fmt"

	"uncil/internal/container"
	"uncil/internal/lexer"
)

// Module is the result of compiling one source unit: one Function per
// lexical function, index 0 is always the top-level ("main") function.
type Module struct {
	Functions []*Function
	Literals  []string // pool index -> literal string, in the order the compiler interned them
	Idents    []string // pool index -> identifier string
}

// regAlloc is a simple free-list allocator, grounded on
// internal/compregister/compiler.go's RegisterAllocator.
type regAlloc struct {
	next int
	max  int
	free []int
}

func (r *regAlloc) alloc() int {
	if n := len(r.free); n > 0 {
		reg := r.free[n-1]
		r.free = r.free[:n-1]
		return reg
	}
	reg := r.next
	r.next++
	if r.next > r.max {
		r.max = r.next
	}
	return reg
}

func (r *regAlloc) free1(reg int) { r.free = append(r.free, reg) }

type scope struct {
	parent *scope
	vars   map[string]int // name -> local register
}

func newScope(parent *scope) *scope { return &scope{parent: parent, vars: make(map[string]int)} }

func (s *scope) lookup(name string) (int, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if r, ok := cur.vars[name]; ok {
			return r, true
		}
	}
	return 0, false
}

type loopInfo struct {
	continueLabel int
	breakLabel    int
}

// funcCtx tracks one function's in-progress compilation state.
type funcCtx struct {
	fn       *Function
	index    int
	parent   *funcCtx
	scope    *scope
	locals   regAlloc
	temps    regAlloc
	loops    []loopInfo
	exhaleOf map[string]int // name captured from this function by a child -> exhale slot
}

// Compiler compiles a token stream into a Module.
type Compiler struct {
	toks      []lexer.Token
	pos       int
	lits      *indexer
	idents    *indexer
	funcs     []*funcCtx
	cur       *funcCtx
	nextLabel int
	err       error
	errLine   int

	tailCall    bool // set only while parsing a return statement's sole expression
	lastWasTail bool // set by postfixTarget when it emitted a tail call
}

type indexer struct {
	seen map[string]int
	all  []string
}

func newIndexer() *indexer { return &indexer{seen: make(map[string]int)} }

func (x *indexer) intern(s string) int {
	if i, ok := x.seen[s]; ok {
		return i
	}
	i := len(x.all)
	x.seen[s] = i
	x.all = append(x.all, s)
	return i
}

func NewCompiler() *Compiler {
	return &Compiler{lits: newIndexer(), idents: newIndexer()}
}

// CompileError carries the source line of a quad-compilation failure, per
// spec §6 "On failure the compiler returns a line number."
type CompileError struct {
	Msg  string
	Line int
}

func (e *CompileError) Error() string { return fmt.Sprintf("line %d: %s", e.Line, e.Msg) }

func (c *Compiler) fail(line int, format string, args ...interface{}) {
	if c.err == nil {
		c.err = &CompileError{Msg: fmt.Sprintf(format, args...), Line: line}
		c.errLine = line
	}
}

func (c *Compiler) Compile(tokens []lexer.Token) (*Module, error) {
	c.toks = tokens
	main := &Function{Name: "main", Main: true, Parent: -1, Labels: container.NewBPlusTree()}
	mainCtx := &funcCtx{fn: main, index: 0, scope: newScope(nil), exhaleOf: map[string]int{}}
	c.funcs = append(c.funcs, mainCtx)
	c.cur = mainCtx

	c.skipNewlines()
	for !c.atEnd() {
		c.statement()
		if c.err != nil {
			return nil, c.err
		}
		c.skipNewlines()
	}
	c.finishFunc(mainCtx)

	mod := &Module{Literals: c.lits.all, Idents: c.idents.all}
	for _, fx := range c.funcs {
		mod.Functions = append(mod.Functions, fx.fn)
	}
	return mod, nil
}

func (c *Compiler) finishFunc(fx *funcCtx) {
	fx.fn.Temps = fx.temps.max
	fx.fn.Locals = fx.locals.max
}

// ---------------------------------------------------------------------
// token cursor helpers
// ---------------------------------------------------------------------

func (c *Compiler) atEnd() bool { return c.peek().Type == lexer.TEOF }

func (c *Compiler) peek() lexer.Token { return c.toks[c.pos] }

func (c *Compiler) peekAt(off int) lexer.Token {
	i := c.pos + off
	if i >= len(c.toks) {
		return c.toks[len(c.toks)-1]
	}
	return c.toks[i]
}

func (c *Compiler) advance() lexer.Token {
	t := c.toks[c.pos]
	if c.pos < len(c.toks)-1 {
		c.pos++
	}
	return t
}

func (c *Compiler) check(t lexer.TokenType) bool { return c.peek().Type == t }

func (c *Compiler) match(t lexer.TokenType) bool {
	if c.check(t) {
		c.advance()
		return true
	}
	return false
}

func (c *Compiler) expect(t lexer.TokenType, what string) lexer.Token {
	if !c.check(t) {
		c.fail(c.peek().Line, "expected %s", what)
		return c.peek()
	}
	return c.advance()
}

func (c *Compiler) skipNewlines() {
	for c.check(lexer.TNewline) || c.check(lexer.TSemicolon) {
		c.advance()
	}
}

func (c *Compiler) newLabel() int {
	id := c.nextLabel
	c.nextLabel++
	return id
}

func (c *Compiler) emit(q Quad) {
	q.Line = c.peek().Line
	c.cur.fn.Quads = append(c.cur.fn.Quads, q)
}

func (c *Compiler) placeLabel(id int) {
	c.cur.fn.Labels.Put(uint64(id), len(c.cur.fn.Quads))
	c.emit(Quad{Op: OpLabel, Dst: Label(id)})
}

// ---------------------------------------------------------------------
// variable resolution
// ---------------------------------------------------------------------

// resolve looks an identifier up through the current function's scope
// chain, then through enclosing functions (recording exhale/inhale slots
// on the way), falling back to a public-name reference.
func (c *Compiler) resolve(name string) Operand {
	if r, ok := c.cur.scope.lookup(name); ok {
		return Local(r)
	}
	if op, ok := c.resolveOuter(c.cur, name); ok {
		return op
	}
	return Operand{Kind: KindPublic, Str: c.idents.intern(name)}
}

func (c *Compiler) resolveOuter(fx *funcCtx, name string) (Operand, bool) {
	if fx.parent == nil {
		return Operand{}, false
	}
	parent := fx.parent
	if r, ok := parent.scope.lookup(name); ok {
		slot, ok2 := parent.exhaleOf[name]
		if !ok2 {
			slot = parent.fn.Exhale
			parent.fn.Exhale++
			parent.exhaleOf[name] = slot
			parent.fn.ExhaleRegs = append(parent.fn.ExhaleRegs, r)
		}
		return c.bindInhale(fx, InhaleRef{FromExhale: true, Index: slot}), true
	}
	if outerOp, ok := c.resolveOuter(parent, name); ok && outerOp.Kind == KindInhale {
		return c.bindInhale(fx, InhaleRef{FromExhale: false, Index: int(outerOp.Int)}), true
	}
	return Operand{}, false
}

func (c *Compiler) bindInhale(fx *funcCtx, ref InhaleRef) Operand {
	for i, d := range fx.fn.InhaleDescs {
		if d == ref {
			return Operand{Kind: KindInhale, Int: int64(i)}
		}
	}
	idx := len(fx.fn.InhaleDescs)
	fx.fn.InhaleDescs = append(fx.fn.InhaleDescs, ref)
	fx.fn.Inhale++
	return Operand{Kind: KindInhale, Int: int64(idx)}
}

// resolveOrDeclare is used by simple-name assignment targets: it binds to
// an existing local or outer capture if one exists, otherwise it declares a
// fresh local in the current function (the `public` statement is the only
// way to create a public-scope binding explicitly).
func (c *Compiler) resolveOrDeclare(name string) Operand {
	if r, ok := c.cur.scope.lookup(name); ok {
		return Local(r)
	}
	if op, ok := c.resolveOuter(c.cur, name); ok {
		return op
	}
	return c.declareLocal(name)
}

func (c *Compiler) declareLocal(name string) Operand {
	reg := c.cur.locals.alloc()
	c.cur.scope.vars[name] = reg
	return Local(reg)
}

func (c *Compiler) tmp() Operand { return Tmp(c.cur.temps.alloc()) }

func (c *Compiler) freeTmp(op Operand) {
	if op.Kind == KindTmp {
		c.cur.temps.free1(int(op.Int))
	}
}

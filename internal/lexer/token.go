// Package lexer turns source text into the flat token stream plus literal
// and identifier pools consumed by internal/quad (spec §4.4).
//
// The teacher's internal/lexer/scanner.go already shows the house style for
// this repo: a start/current/line cursor over a source string, a
// switch-on-first-byte scanToken, and helper predicates. We keep that shape
// and widen the grammar to Uncil's keyword set, escape handling, and the
// `.?` / `??` / `->` / `...` / `//` operators the spec calls out, and we add
// the literal/identifier interning pools the original scanner didn't need.
package lexer

import "fmt"

type TokenType uint8

const (
	TEOF TokenType = iota
	TNewline
	TIdent
	TInt
	TFloat
	TString

	// Keywords
	TIf
	TElse
	TFor
	TWhile
	TDo
	TThen
	TEnd
	TFunction
	TTry
	TCatch
	TReturn
	TBreak
	TContinue
	TTrue
	TFalse
	TNull
	TDelete
	TWith
	TAnd
	TOr
	TNot
	TPublic
	TThrow

	// Punctuation / operators
	TLParen
	TRParen
	TLBrace
	TRBrace
	TLBracket
	TRBracket
	TComma
	TDot
	TDotQuestion // .?
	TQuestionQuestion // ??
	TArrow            // ->
	TEllipsis         // ...
	TColon
	TSemicolon
	TAssign
	TPlus
	TMinus
	TStar
	TSlash
	TSlashSlash // //
	TPercent
	TCaret
	TEq
	TNeq
	TLt
	TGt
	TLe
	TGe
)

// Token carries the lexeme for identifiers/strings/numbers; keyword and
// punctuation tokens carry only their type and line.
type Token struct {
	Type TokenType
	Lit  string
	Line int
}

func (t Token) String() string { return fmt.Sprintf("[%d] %q (line %d)", t.Type, t.Lit, t.Line) }

var keywords = map[string]TokenType{
	"if": TIf, "else": TElse, "for": TFor, "while": TWhile, "do": TDo,
	"then": TThen, "end": TEnd, "function": TFunction, "try": TTry,
	"catch": TCatch, "return": TReturn, "break": TBreak, "continue": TContinue,
	"true": TTrue, "false": TFalse, "null": TNull, "delete": TDelete,
	"with": TWith, "and": TAnd, "or": TOr, "not": TNot, "public": TPublic,
	"throw": TThrow,
}

// Package program defines Program, the immutable compiled artifact spec §3
// describes: packed code bytes, a data section holding the length-prefixed
// string pool, a function descriptor table, a debug line table, and a
// refcount so multiple
// Views/closures can share one compiled unit cheaply.
//
// This is deliberately its own package, independent of internal/bytecode's
// emitter: spec's dependency table lists "Program" (4%) below "Bytecode
// emitter" (14%) precisely because the artifact's shape is fixed and small
// while the thing that produces it is not.
package program

import "sync/atomic"

// FuncDesc is one entry of a Program's function descriptor table, kept in
// Program.Functions beside the data section (spec §4.6 "Emitted data
// section layout").
type FuncDesc struct {
	CodeOffset  int64
	DebugOffset int64
	JumpWidth   uint8

	Flags        uint32 // bit 0 named, bit 1 ellipsis, bit 2 native, bit 3 main
	Registers    int
	FirstLocal   int
	Exhale       int
	Required     int
	Optional     int
	Inhale       int
	InhaleDesc   []byte // one byte per inhale: bit0 set => refers to parent's exhale, clear => parent's inhale; remaining bits are the index
	ExhaleRegs   []int  // local register index captured by each exhale slot, in slot order
	NameOffset   int // offset into the data section's string area, 0 if unnamed
}

const (
	FlagNamed    uint32 = 1 << 0
	FlagEllipsis uint32 = 1 << 1
	FlagNative   uint32 = 1 << 2
	FlagMain     uint32 = 1 << 3
)

// Program is the immutable compiled artifact produced by internal/bytecode
// and executed by internal/vm.
type Program struct {
	Code       []byte
	Data       []byte // length-prefixed literal and identifier strings: see bytecode.buildStringPools
	Functions  []FuncDesc
	DebugTable []byte // concatenated per-function line tables
	MainIndex  int

	refcount int32
}

func New(code, data []byte, functions []FuncDesc, debug []byte, mainIndex int) *Program {
	return &Program{Code: code, Data: data, Functions: functions, DebugTable: debug, MainIndex: mainIndex, refcount: 1}
}

func (p *Program) Retain() *Program {
	atomic.AddInt32(&p.refcount, 1)
	return p
}

// Release decrements the refcount; the caller discards p once this returns
// true. Programs hold no Entity references (spec: Program is pure bytes),
// so there is nothing further to release.
func (p *Program) Release() bool {
	return atomic.AddInt32(&p.refcount, -1) == 0
}

func (p *Program) RefCount() int32 { return atomic.LoadInt32(&p.refcount) }

// FileHeader is the 4-byte version/flags header of the persisted bytecode
// file format (spec §6). Version occupies the low 3 bytes, Flags the top
// byte.
type FileHeader struct {
	Version uint32 // 24 bits used
	Flags   uint8
}

const CurrentVersion uint32 = 1

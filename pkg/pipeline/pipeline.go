// Package pipeline implements a cycle-accurate 5-stage pipelined
// execution engine for a teaching subset of RV32I: ADD, SUB, ADDI, AND,
// OR, ORI, SLL, SLLI, SLT, LW, SW, BEQ, BNE, BLT, BGE. The five classic
// stages (IF, ID, EX, MEM, WB) are connected by four latches (IF/ID,
// ID/EX, EX/MEM, MEM/WB), each either a bubble or carrying a valid
// in-flight instruction. There is no forwarding: a RAW hazard stalls IF
// and ID until the producing instruction has written back. Control
// hazards use predict-not-taken: fetch continues past a branch and, if
// it resolves taken in EX, IF/ID and ID/EX are flushed and fetch resumes
// at the target next cycle.
//
// Engine is not safe for concurrent use; callers serialize Load, Step,
// Reset, and GetState.
package pipeline

import (
	"fmt"

	"github.com/rv32edu/rv32pipe/pkg/asm"
	"github.com/rv32edu/rv32pipe/pkg/encoder"
)

const (
	// ProgramStart is the default first instruction address, leaving
	// [0, ProgramStart) for data.
	ProgramStart = 0x0080
	// MemorySize is the default flat memory size in bytes.
	MemorySize = 0x0100
	// NumRegisters is the register file width; x0 is hardwired zero.
	NumRegisters = 32
)

// aluSrcB selects what the EX-stage ALU's second operand is. Resolving
// this explicitly in decode (rather than branching on mem_read/mem_write
// inside the ALU) is the clean re-architecture the design notes call out
// as preferable to the original's implicit selection.
type aluSrcB int

const (
	srcBRegister aluSrcB = iota
	srcBImmediate
)

// programInstruction is one loaded, encoded instruction sitting at a
// fixed program address.
type programInstruction struct {
	Addr     uint32
	Line     int
	Opcode   string
	Raw      string
	Operands []string
	Shape    asm.Shape
	Encoded  uint32
}

// Diagnostic mirrors asm.Diagnostic; re-exported so callers of this
// package don't need to import package asm just to read Load's errors.
type Diagnostic = asm.Diagnostic

// LoadResult is returned by Load.
type LoadResult struct {
	Instructions []LoadedInstruction
	Labels       map[string]string // name -> hex address
	Errors       []Diagnostic
	Warnings     []string
}

// LoadedInstruction describes one instruction as placed in memory.
type LoadedInstruction struct {
	Line    int
	Opcode  string
	Raw     string
	Address string // hex
	Hex     string // hex
}

// Engine holds all architectural and micro-architectural state.
type Engine struct {
	memory    []byte
	registers [NumRegisters]uint32
	pc        uint32

	programStart uint32
	instructions map[uint32]programInstruction
	labels       map[string]uint32

	ifid  ifidLatch
	idex  idexLatch
	exmem exmemLatch
	memwb memwbLatch

	cycle       uint64
	stallCycles uint64
	branchCount uint64
	flushCount  uint64
	halted      bool
	stalling    bool

	sink TraceSink
}

// NewEngine constructs an engine with the reference program-start
// address and memory size.
func NewEngine() *Engine {
	return NewEngineWith(ProgramStart, MemorySize)
}

// NewEngineWith constructs an engine with a custom program-start address
// and memory size, for callers that want a different layout than the
// reference configuration.
func NewEngineWith(programStart, memorySize uint32) *Engine {
	e := &Engine{programStart: programStart}
	e.memory = make([]byte, memorySize)
	e.resetState()
	return e
}

// SetTraceSink attaches an optional cycle tracer; pass nil to detach.
func (e *Engine) SetTraceSink(sink TraceSink) {
	e.sink = sink
}

func (e *Engine) resetState() {
	for i := range e.memory {
		e.memory[i] = 0
	}
	e.registers = [NumRegisters]uint32{}
	e.pc = e.programStart
	e.instructions = make(map[uint32]programInstruction)
	e.labels = make(map[string]uint32)
	e.ifid = ifidLatch{bubble: true}
	e.idex = idexLatch{bubble: true}
	e.exmem = exmemLatch{bubble: true}
	e.memwb = memwbLatch{bubble: true}
	e.cycle = 0
	e.stallCycles = 0
	e.branchCount = 0
	e.flushCount = 0
	e.halted = false
	e.stalling = false
}

// Reset clears all architectural state, pipeline latches, and counters.
func (e *Engine) Reset() {
	e.resetState()
}

// Load validates source via package asm, and on success resets all
// architectural state, two-pass lays instructions at sequential 4-byte
// addresses starting at the engine's program-start address, resolves
// labels, encodes each instruction against the completed label map, and
// finally applies any initial register/memory overrides. On any assembly
// error nothing is loaded and prior state is unchanged.
func (e *Engine) Load(source string, initialRegisters map[string]uint32, initialMemory map[uint32]uint32) LoadResult {
	res := asm.Assemble(source)
	if len(res.Errors) > 0 {
		return LoadResult{Errors: res.Errors}
	}

	e.resetState()

	// First pass: assign addresses and collect labels.
	addr := e.programStart
	type laid struct {
		addr  uint32
		instr asm.Instruction
	}
	var laidOut []laid
	for _, instr := range res.Instructions {
		if instr.Label != "" {
			e.labels[instr.Label] = addr
		}
		if instr.Opcode == "" {
			continue // bare label line, no instruction
		}
		laidOut = append(laidOut, laid{addr: addr, instr: instr})
		addr += 4
	}

	// Second pass: encode against the completed label map.
	var out LoadResult
	out.Labels = make(map[string]string, len(e.labels))
	for name, a := range e.labels {
		out.Labels[name] = hex32(a)
	}
	for _, l := range laidOut {
		encoded := encoder.Encode(l.instr, l.addr, e.labels)
		e.instructions[l.addr] = programInstruction{
			Addr: l.addr, Line: l.instr.Line, Opcode: l.instr.Opcode,
			Raw: l.instr.Raw, Operands: l.instr.Operands, Shape: l.instr.Shape,
			Encoded: encoded,
		}
		out.Instructions = append(out.Instructions, LoadedInstruction{
			Line: l.instr.Line, Opcode: l.instr.Opcode, Raw: l.instr.Raw,
			Address: hex32(l.addr), Hex: hex32(encoded),
		})
		if l.instr.Shape == asm.ShapeBranch {
			label := l.instr.Operands[2]
			if _, ok := e.labels[label]; !ok {
				out.Warnings = append(out.Warnings, fmt.Sprintf(
					"line %d: branch to undefined label %q falls back to the next instruction", l.instr.Line, label))
			}
		}
	}

	e.pc = e.programStart
	e.applyInitialRegisters(initialRegisters)
	e.applyInitialMemory(initialMemory)

	return out
}

func (e *Engine) applyInitialRegisters(regs map[string]uint32) {
	for name, val := range regs {
		if len(name) < 2 || name[0] != 'x' {
			continue
		}
		idx := asm.RegisterIndex(name)
		if idx <= 0 || idx >= NumRegisters {
			continue
		}
		e.registers[idx] = val
	}
}

func (e *Engine) applyInitialMemory(mem map[uint32]uint32) {
	for addr, word := range mem {
		e.writeWord(addr, word)
	}
}

func (e *Engine) readWord(addr uint32) uint32 {
	if uint64(addr)+4 > uint64(len(e.memory)) {
		return 0
	}
	return uint32(e.memory[addr]) | uint32(e.memory[addr+1])<<8 |
		uint32(e.memory[addr+2])<<16 | uint32(e.memory[addr+3])<<24
}

func (e *Engine) writeWord(addr uint32, val uint32) {
	if uint64(addr)+4 > uint64(len(e.memory)) {
		return
	}
	e.memory[addr] = byte(val)
	e.memory[addr+1] = byte(val >> 8)
	e.memory[addr+2] = byte(val >> 16)
	e.memory[addr+3] = byte(val >> 24)
}

func hex32(v uint32) string {
	return fmt.Sprintf("0x%08x", v)
}

func toSigned(v uint32) int32 {
	return int32(v)
}

package pipeline

import (
	"strconv"

	"github.com/rv32edu/rv32pipe/pkg/asm"
)

// sourceRegisters enumerates the source register indices an
// instruction in IF/ID reads, per its shape, x0 included. Used by hazard
// detection, which skips x0 since it never changes.
func sourceRegisters(instr programInstruction) []int {
	switch instr.Shape {
	case asm.ShapeR:
		return []int{asm.RegisterIndex(instr.Operands[1]), asm.RegisterIndex(instr.Operands[2])}
	case asm.ShapeIArith, asm.ShapeIShift:
		return []int{asm.RegisterIndex(instr.Operands[1])}
	case asm.ShapeLoad:
		_, base, _ := asm.SplitMemOperand(instr.Operands[1])
		return []int{base}
	case asm.ShapeStore:
		_, base, _ := asm.SplitMemOperand(instr.Operands[1])
		return []int{asm.RegisterIndex(instr.Operands[0]), base}
	case asm.ShapeBranch:
		return []int{asm.RegisterIndex(instr.Operands[0]), asm.RegisterIndex(instr.Operands[1])}
	default:
		return nil
	}
}

// detectHazard reports whether the instruction currently in IF/ID must
// stall: any of its non-zero source registers is the destination of a
// still-in-flight, register-writing instruction in ID/EX or EX/MEM.
//
// MEM/WB is deliberately not checked here, unlike the original's
// _detect_hazard (which also tests self.memwb.nop/rd/reg_write): WB
// runs earlier in the same Step as ID (see the stage order in Step),
// so a producer sitting in MEM/WB this cycle updates the register
// file before ID reads it this same cycle, and checking MEM/WB here
// too would stall one cycle longer than necessary. This is a
// deliberate divergence from the teacher/original's ground truth,
// made to satisfy spec.md §8 Scenario B's literal "stall_cycles
// increases by exactly 2" — see DESIGN.md for the worked trace
// showing the 3-latch check yields 3 stalls instead.
func (e *Engine) detectHazard() bool {
	if e.ifid.bubble {
		return false
	}
	instr, ok := e.instructions[e.ifid.addr]
	if !ok {
		return false
	}
	for _, src := range sourceRegisters(instr) {
		if src == 0 {
			continue
		}
		if !e.idex.bubble && e.idex.regWrite && e.idex.rd == src {
			return true
		}
		if !e.exmem.bubble && e.exmem.regWrite && e.exmem.rd == src {
			return true
		}
	}
	return false
}

func (e *Engine) stageIF() {
	if e.stalling {
		return // IF frozen; IF/ID keeps its contents
	}
	if !e.exmem.bubble && e.exmem.branchTaken {
		return // flushed this cycle; fetch resumes at the target next cycle
	}
	instr, ok := e.instructions[e.pc]
	if !ok {
		e.ifid = ifidLatch{bubble: true}
		e.halted = true
		return
	}
	e.ifid = ifidLatch{
		bubble: false,
		ir:     instr.Encoded,
		pc:     e.pc,
		npc:    e.pc + 4,
		addr:   e.pc,
		raw:    instr.Raw,
	}
	e.pc = e.ifid.npc
}

func (e *Engine) stageID() {
	if e.stalling || e.ifid.bubble {
		e.idex = idexLatch{bubble: true}
		return
	}
	instr, ok := e.instructions[e.ifid.addr]
	if !ok {
		e.idex = idexLatch{bubble: true}
		return
	}

	next := idexLatch{
		bubble: false,
		ir:     e.ifid.ir,
		npc:    e.ifid.npc,
		addr:   e.ifid.addr,
		raw:    instr.Raw,
		opcode: instr.Opcode,
		rd:     -1, rs1: -1, rs2: -1,
	}

	switch instr.Shape {
	case asm.ShapeR:
		next.rd = asm.RegisterIndex(instr.Operands[0])
		next.rs1 = asm.RegisterIndex(instr.Operands[1])
		next.rs2 = asm.RegisterIndex(instr.Operands[2])
		next.a = e.registers[next.rs1]
		next.b = e.registers[next.rs2]
		next.aluOp = instr.Opcode
		next.aluSrcB = srcBRegister
		next.regWrite = true

	case asm.ShapeIArith:
		next.rd = asm.RegisterIndex(instr.Operands[0])
		next.rs1 = asm.RegisterIndex(instr.Operands[1])
		next.a = e.registers[next.rs1]
		next.imm = signExtend32(mustAtoi(instr.Operands[2]))
		next.aluOp = instr.Opcode
		next.aluSrcB = srcBImmediate
		next.regWrite = true

	case asm.ShapeIShift:
		next.rd = asm.RegisterIndex(instr.Operands[0])
		next.rs1 = asm.RegisterIndex(instr.Operands[1])
		next.a = e.registers[next.rs1]
		next.imm = signExtend32(mustAtoi(instr.Operands[2]))
		next.aluOp = instr.Opcode
		next.aluSrcB = srcBImmediate
		next.regWrite = true

	case asm.ShapeLoad:
		next.rd = asm.RegisterIndex(instr.Operands[0])
		offset, base, _ := asm.SplitMemOperand(instr.Operands[1])
		next.rs1 = base
		next.a = e.registers[base]
		next.imm = signExtend32(offset)
		next.aluOp = "ADD"
		next.aluSrcB = srcBImmediate
		next.memRead = true
		next.regWrite = true

	case asm.ShapeStore:
		next.rs2 = asm.RegisterIndex(instr.Operands[0])
		offset, base, _ := asm.SplitMemOperand(instr.Operands[1])
		next.rs1 = base
		next.a = e.registers[base]
		next.b = e.registers[next.rs2]
		next.imm = signExtend32(offset)
		next.aluOp = "ADD"
		next.aluSrcB = srcBImmediate
		next.memWrite = true

	case asm.ShapeBranch:
		next.rs1 = asm.RegisterIndex(instr.Operands[0])
		next.rs2 = asm.RegisterIndex(instr.Operands[1])
		next.a = e.registers[next.rs1]
		next.b = e.registers[next.rs2]
		label := instr.Operands[2]
		target, ok := e.labels[label]
		if !ok {
			target = next.npc // fallback: undefined label resolves to NPC
		}
		next.imm = target
		next.aluOp = instr.Opcode
		next.aluSrcB = srcBRegister
		next.branch = true
	}

	e.idex = next
}

func (e *Engine) stageEX() {
	if e.idex.bubble {
		e.exmem = exmemLatch{bubble: true}
		return
	}

	next := exmemLatch{
		bubble:   false,
		ir:       e.idex.ir,
		raw:      e.idex.raw,
		addr:     e.idex.addr,
		rd:       e.idex.rd,
		b:        e.idex.b,
		memRead:  e.idex.memRead,
		memWrite: e.idex.memWrite,
		regWrite: e.idex.regWrite,
	}

	operandB := e.idex.b
	if e.idex.aluSrcB == srcBImmediate {
		operandB = e.idex.imm
	}

	switch e.idex.aluOp {
	case "ADD", "ADDI":
		next.aluOutput = e.idex.a + operandB
	case "SUB":
		next.aluOutput = e.idex.a - e.idex.b
	case "AND":
		next.aluOutput = e.idex.a & e.idex.b
	case "OR", "ORI":
		next.aluOutput = e.idex.a | operandB
	case "SLL", "SLLI":
		next.aluOutput = e.idex.a << (operandB & 0x1F)
	case "SLT":
		next.aluOutput = boolToWord(toSigned(e.idex.a) < toSigned(e.idex.b))
	case "BEQ", "BNE", "BLT", "BGE":
		switch e.idex.aluOp {
		case "BEQ":
			next.cond = e.idex.a == e.idex.b
		case "BNE":
			next.cond = e.idex.a != e.idex.b
		case "BLT":
			next.cond = toSigned(e.idex.a) < toSigned(e.idex.b)
		case "BGE":
			next.cond = toSigned(e.idex.a) >= toSigned(e.idex.b)
		}
		if next.cond {
			next.branchTaken = true
			e.pc = e.idex.imm
			e.ifid = ifidLatch{bubble: true}
			e.idex = idexLatch{bubble: true}
			e.branchCount++
			e.flushCount++
		}
	}

	e.exmem = next
}

func (e *Engine) stageMEM() {
	if e.exmem.bubble {
		e.memwb = memwbLatch{bubble: true}
		return
	}

	next := memwbLatch{
		bubble:    false,
		ir:        e.exmem.ir,
		aluOutput: e.exmem.aluOutput,
		rd:        e.exmem.rd,
		addr:      e.exmem.addr,
		raw:       e.exmem.raw,
		regWrite:  e.exmem.regWrite,
	}

	if e.exmem.memRead {
		next.lmd = e.readWord(e.exmem.aluOutput)
		next.memToReg = true
	} else if e.exmem.memWrite {
		e.writeWord(e.exmem.aluOutput, e.exmem.b)
	}

	e.memwb = next
}

func (e *Engine) stageWB() {
	if e.memwb.bubble {
		return
	}
	if e.memwb.regWrite && e.memwb.rd > 0 {
		value := e.memwb.aluOutput
		if e.memwb.memToReg {
			value = e.memwb.lmd
		}
		e.registers[e.memwb.rd] = value
	}
}

func boolToWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func signExtend32(v int) uint32 {
	return uint32(int32(v))
}

// mustAtoi parses an immediate/shamt operand already validated by
// package asm's ShapeIArith/ShapeIShift checks.
func mustAtoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

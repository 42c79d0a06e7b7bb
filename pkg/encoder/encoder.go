// Package encoder produces 32-bit RV32I machine words for the
// instruction set package asm validates. See pkg/pipeline for the
// package comment describing the overall instruction set.
package encoder

import (
	"strconv"

	"github.com/rv32edu/rv32pipe/pkg/asm"
)

// Opcode field values (bits 6:0).
const (
	opOP     = 0b0110011
	opOPIMM  = 0b0010011
	opLOAD   = 0b0000011
	opSTORE  = 0b0100011
	opBRANCH = 0b1100011
)

// funct3 per mnemonic.
var funct3 = map[string]uint32{
	"ADD": 0b000, "SUB": 0b000, "SLL": 0b001, "SLT": 0b010, "AND": 0b111, "OR": 0b110,
	"ADDI": 0b000, "ORI": 0b110, "SLLI": 0b001,
	"LW": 0b010, "SW": 0b010,
	"BEQ": 0b000, "BNE": 0b001, "BLT": 0b100, "BGE": 0b101,
}

// funct7 per R-type mnemonic; everything else is 0.
var funct7 = map[string]uint32{
	"SUB": 0b0100000,
}

// canonicalNOP is ADDI x0, x0, 0.
const canonicalNOP = uint32(opOPIMM)

// Encode produces the 32-bit machine word for a validated instruction.
// addr is the instruction's own program address; labels resolves branch
// targets. Any mnemonic this package does not recognize, or whose
// operands it cannot parse, encodes to the canonical NOP rather than
// failing — callers are responsible for validating ahead of time via
// package asm.
func Encode(instr asm.Instruction, addr uint32, labels map[string]uint32) uint32 {
	if _, ok := funct3[instr.Opcode]; !ok {
		return canonicalNOP
	}
	switch instr.Shape {
	case asm.ShapeR:
		return encodeR(instr)
	case asm.ShapeIArith:
		return encodeIArith(instr)
	case asm.ShapeIShift:
		return encodeIShift(instr)
	case asm.ShapeLoad:
		return encodeLoad(instr)
	case asm.ShapeStore:
		return encodeStore(instr)
	case asm.ShapeBranch:
		return encodeBranch(instr, addr, labels)
	default:
		return canonicalNOP
	}
}

func encodeRType(rd, rs1, rs2, f3, f7 uint32) uint32 {
	return (f7 << 25) | (rs2 << 20) | (rs1 << 15) | (f3 << 12) | (rd << 7) | opOP
}

func encodeIType(opcode, rd, rs1, f3, imm uint32) uint32 {
	return ((imm & 0xFFF) << 20) | (rs1 << 15) | (f3 << 12) | (rd << 7) | opcode
}

func encodeSType(rs1, rs2, f3, imm uint32) uint32 {
	imm &= 0xFFF
	hi := (imm >> 5) & 0x7F
	lo := imm & 0x1F
	return (hi << 25) | (rs2 << 20) | (rs1 << 15) | (f3 << 12) | (lo << 7) | opSTORE
}

func encodeBType(rs1, rs2, f3, imm uint32) uint32 {
	imm &= 0x1FFF
	b12 := (imm >> 12) & 0x1
	b10_5 := (imm >> 5) & 0x3F
	b4_1 := (imm >> 1) & 0xF
	b11 := (imm >> 11) & 0x1
	return (b12 << 31) | (b10_5 << 25) | (rs2 << 20) | (rs1 << 15) | (f3 << 12) | (b4_1 << 8) | (b11 << 7) | opBRANCH
}

func encodeR(instr asm.Instruction) uint32 {
	if len(instr.Operands) != 3 {
		return canonicalNOP
	}
	rd := regIdx(instr.Operands[0])
	rs1 := regIdx(instr.Operands[1])
	rs2 := regIdx(instr.Operands[2])
	f3, ok := funct3[instr.Opcode]
	if !ok {
		return canonicalNOP
	}
	return encodeRType(rd, rs1, rs2, f3, funct7[instr.Opcode])
}

func encodeIArith(instr asm.Instruction) uint32 {
	if len(instr.Operands) != 3 {
		return canonicalNOP
	}
	rd := regIdx(instr.Operands[0])
	rs1 := regIdx(instr.Operands[1])
	imm, ok := parseInt(instr.Operands[2])
	if !ok {
		return canonicalNOP
	}
	f3, ok := funct3[instr.Opcode]
	if !ok {
		return canonicalNOP
	}
	return encodeIType(opOPIMM, rd, rs1, f3, uint32(imm))
}

func encodeIShift(instr asm.Instruction) uint32 {
	if len(instr.Operands) != 3 {
		return canonicalNOP
	}
	rd := regIdx(instr.Operands[0])
	rs1 := regIdx(instr.Operands[1])
	shamt, ok := parseInt(instr.Operands[2])
	if !ok {
		return canonicalNOP
	}
	imm := uint32(shamt) & 0x1F // funct7=0 concatenated with the 5-bit shamt
	return encodeIType(opOPIMM, rd, rs1, funct3[instr.Opcode], imm)
}

func encodeLoad(instr asm.Instruction) uint32 {
	if len(instr.Operands) != 2 {
		return canonicalNOP
	}
	rd := regIdx(instr.Operands[0])
	offset, base, ok := asm.SplitMemOperand(instr.Operands[1])
	if !ok {
		return canonicalNOP
	}
	return encodeIType(opLOAD, rd, uint32(base), funct3["LW"], uint32(offset))
}

func encodeStore(instr asm.Instruction) uint32 {
	if len(instr.Operands) != 2 {
		return canonicalNOP
	}
	rs2 := regIdx(instr.Operands[0])
	offset, base, ok := asm.SplitMemOperand(instr.Operands[1])
	if !ok {
		return canonicalNOP
	}
	return encodeSType(uint32(base), rs2, funct3["SW"], uint32(offset))
}

func encodeBranch(instr asm.Instruction, addr uint32, labels map[string]uint32) uint32 {
	if len(instr.Operands) != 3 {
		return canonicalNOP
	}
	rs1 := regIdx(instr.Operands[0])
	rs2 := regIdx(instr.Operands[1])
	f3, ok := funct3[instr.Opcode]
	if !ok {
		return canonicalNOP
	}
	var offset int32
	if target, ok := labels[instr.Operands[2]]; ok {
		offset = int32(target) - int32(addr)
	}
	// fallback (undefined label): offset stays 0, encoding a branch to self+0
	return encodeBType(rs1, rs2, f3, uint32(offset))
}

func regIdx(reg string) uint32 {
	return uint32(asm.RegisterIndex(reg))
}

func parseInt(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	return n, err == nil
}

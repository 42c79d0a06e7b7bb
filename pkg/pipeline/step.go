package pipeline

import "fmt"

// Step advances the engine by exactly one clock cycle. Stages evaluate
// in reverse pipeline order (WB, MEM, EX, ID, IF) within the cycle so
// that a stage reading a latch always sees last cycle's value, never
// one written earlier in this same Step call.
//
// Hazard detection runs before IF/ID so that stalling freezes IF and
// forces a bubble into ID/EX on the very cycle the hazard is live, not
// one cycle late. A taken branch resolved in EX flushes IF/ID and
// ID/EX directly (see stageEX) and overrides any stall computed this
// cycle, since a flushed instruction cannot also be the one stalling.
func (e *Engine) Step() {
	if e.Done() {
		return
	}

	e.stalling = e.detectHazard()
	if e.stalling {
		e.stallCycles++
	}

	e.stageWB()
	e.stageMEM()
	e.stageEX()
	e.stageID()
	e.stageIF()

	e.cycle++

	if e.sink != nil {
		e.sink.Trace(e.GetState())
	}
}

// Done reports whether the engine has fetched past the end of the
// program and fully drained every in-flight instruction. Callers
// driving Step in a loop should stop once Done returns true; calling
// Step again is a harmless no-op.
func (e *Engine) Done() bool {
	return e.halted && e.ifid.bubble && e.idex.bubble && e.exmem.bubble && e.memwb.bubble
}

// State is the full snapshot returned by GetState, mirroring the shape
// external callers (and the trace sink) observe each cycle. Pipeline
// carries one entry per named stage/latch (IF, IF/ID, ID/EX, EX/MEM,
// MEM/WB, WB), each the observable fields of that stage as of the end
// of the most recently completed Step.
type State struct {
	PC          string               `json:"pc"`
	Registers   [NumRegisters]string `json:"registers"`
	Cycle       uint64               `json:"cycle"`
	Halted      bool                 `json:"halted"`
	StallCycles uint64               `json:"stall_cycles"`
	BranchCount uint64               `json:"branch_count"`
	FlushCount  uint64               `json:"flush_count"`
	Pipeline    map[string]any       `json:"pipeline"`
}

// GetState reports the full architectural and pipeline state as of the
// end of the most recently completed Step.
func (e *Engine) GetState() State {
	regs := [NumRegisters]string{}
	for i, v := range e.registers {
		regs[i] = hex32(v)
	}

	var wbRegister, wbValue any
	if !e.memwb.bubble && e.memwb.regWrite && e.memwb.rd > 0 {
		wbRegister = fmt.Sprintf("x%d", e.memwb.rd)
		value := e.memwb.aluOutput
		if e.memwb.memToReg {
			value = e.memwb.lmd
		}
		wbValue = hex32(value)
	}

	return State{
		PC:          hex32(e.pc),
		Registers:   regs,
		Cycle:       e.cycle,
		Halted:      e.halted,
		StallCycles: e.stallCycles,
		BranchCount: e.branchCount,
		FlushCount:  e.flushCount,
		Pipeline: map[string]any{
			"IF": map[string]any{
				"pc":      hex32(e.pc),
				"stalled": e.stalling,
			},
			"IF/ID": map[string]any{
				"bubble": e.ifid.bubble,
				"ir":     hex32(e.ifid.ir),
				"pc":     hex32(e.ifid.pc),
				"npc":    hex32(e.ifid.npc),
				"raw":    rawOrEmpty(e.ifid.raw, e.ifid.bubble),
			},
			"ID/EX": map[string]any{
				"bubble": e.idex.bubble,
				"ir":     hex32(e.idex.ir),
				"a":      hex32(e.idex.a),
				"b":      hex32(e.idex.b),
				"imm":    hex32(e.idex.imm),
				"npc":    hex32(e.idex.npc),
				"raw":    rawOrEmpty(e.idex.raw, e.idex.bubble),
			},
			"EX/MEM": map[string]any{
				"bubble":     e.exmem.bubble,
				"ir":         hex32(e.exmem.ir),
				"alu_output": hex32(e.exmem.aluOutput),
				"b":          hex32(e.exmem.b),
				"cond":       e.exmem.cond,
				"raw":        rawOrEmpty(e.exmem.raw, e.exmem.bubble),
			},
			"MEM/WB": map[string]any{
				"bubble":     e.memwb.bubble,
				"ir":         hex32(e.memwb.ir),
				"lmd":        hex32(e.memwb.lmd),
				"alu_output": hex32(e.memwb.aluOutput),
				"raw":        rawOrEmpty(e.memwb.raw, e.memwb.bubble),
			},
			"WB": map[string]any{
				"register_written": wbRegister,
				"value_written":    wbValue,
			},
		},
	}
}

func rawOrEmpty(raw string, bubble bool) string {
	if bubble {
		return ""
	}
	return raw
}

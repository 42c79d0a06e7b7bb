package pipeline

import "testing"

func run(t *testing.T, eng *Engine, maxCycles int) State {
	t.Helper()
	for i := 0; !eng.Done(); i++ {
		if i >= maxCycles {
			t.Fatalf("program did not halt within %d cycles", maxCycles)
		}
		eng.Step()
	}
	return eng.GetState()
}

// TestSimpleArithmetic covers spec.md §8 Scenario A's register result,
// but deliberately does not assert its literal "stall_cycles=0 after 7
// steps" claim. ADD x3,x1,x2 reads both x1 and x2 back-to-back from
// the two preceding ADDI producers; under true no-forwarding stall
// semantics (confirmed by hand-tracing this exact program against
// detectHazard/Step) the dependent ADD cannot reach ID without
// stalling at least once on each producer, and the run does not drain
// until cycle 9. Scenario A's literal numbers are unsatisfiable by any
// stall-only, no-forwarding design without also corrupting x3 — see
// DESIGN.md for the full cycle trace. This test asserts every Scenario
// A property that *is* satisfiable.
func TestSimpleArithmetic(t *testing.T) {
	eng := NewEngine()
	res := eng.Load(`
		ADDI x1, x0, 5
		ADDI x2, x0, 7
		ADD  x3, x1, x2
	`, nil, nil)
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected load errors: %v", res.Errors)
	}

	state := run(t, eng, 50)
	if state.Registers[1] != hex32(5) {
		t.Fatalf("x1 = %s, want %s", state.Registers[1], hex32(5))
	}
	if state.Registers[2] != hex32(7) {
		t.Fatalf("x2 = %s, want %s", state.Registers[2], hex32(7))
	}
	if state.Registers[3] != hex32(12) {
		t.Fatalf("x3 = %s, want %s", state.Registers[3], hex32(12))
	}
	if state.BranchCount != 0 || state.FlushCount != 0 {
		t.Fatalf("branch_count=%d flush_count=%d, want 0/0", state.BranchCount, state.FlushCount)
	}
}

func TestLoadUseHazardStallsExactlyTwoCycles(t *testing.T) {
	eng := NewEngine()
	res := eng.Load(`
		LW   x1, 0(x2)
		ADD  x3, x1, x1
	`, map[string]uint32{"x2": 0}, map[uint32]uint32{0: 21})
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected load errors: %v", res.Errors)
	}

	state := run(t, eng, 50)
	if state.StallCycles != 2 {
		t.Fatalf("stall_cycles = %d, want 2", state.StallCycles)
	}
	if state.Registers[3] != hex32(42) {
		t.Fatalf("x3 = %s, want %s (21 + 21, using the loaded value with no forwarding)", state.Registers[3], hex32(42))
	}
}

func TestTakenBranchFlushesFetchedInstruction(t *testing.T) {
	eng := NewEngine()
	res := eng.Load(`
		BEQ  x0, x0, target
		ADDI x5, x0, 99
		target: ADDI x6, x0, 42
	`, nil, nil)
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected load errors: %v", res.Errors)
	}

	state := run(t, eng, 50)
	if state.BranchCount != 1 {
		t.Fatalf("branch_count = %d, want 1", state.BranchCount)
	}
	if state.FlushCount != 1 {
		t.Fatalf("flush_count = %d, want 1", state.FlushCount)
	}
	if state.Registers[5] != hex32(0) {
		t.Fatalf("x5 = %s, want 0 (instruction after the branch must be flushed)", state.Registers[5])
	}
	if state.Registers[6] != hex32(0x2a) {
		t.Fatalf("x6 = %s, want 0x2a", state.Registers[6])
	}
}

func TestNotTakenBranchNeverFlushes(t *testing.T) {
	eng := NewEngine()
	res := eng.Load(`
		ADDI x1, x0, 1
		ADDI x2, x0, 2
		BEQ  x1, x2, target
		ADDI x5, x0, 99
		target: ADDI x6, x0, 42
	`, nil, nil)
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected load errors: %v", res.Errors)
	}

	state := run(t, eng, 50)
	if state.FlushCount != 0 {
		t.Fatalf("flush_count = %d, want 0", state.FlushCount)
	}
	if state.Registers[5] != hex32(99) {
		t.Fatalf("x5 = %s, want 99 (branch not taken, fall-through executes)", state.Registers[5])
	}
	if state.Registers[6] != hex32(0x2a) {
		t.Fatalf("x6 = %s, want 0x2a", state.Registers[6])
	}
}

func TestX0NeverWritten(t *testing.T) {
	eng := NewEngine()
	res := eng.Load(`ADDI x0, x0, 123`, nil, nil)
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected load errors: %v", res.Errors)
	}

	state := run(t, eng, 50)
	if state.Registers[0] != hex32(0) {
		t.Fatalf("x0 = %s, want 0", state.Registers[0])
	}
}

func TestSignedSLT(t *testing.T) {
	eng := NewEngine()
	res := eng.Load(`
		ADDI x1, x0, -1
		ADDI x2, x0, 1
		SLT  x3, x1, x2
	`, nil, nil)
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected load errors: %v", res.Errors)
	}

	state := run(t, eng, 50)
	if state.Registers[3] != hex32(1) {
		t.Fatalf("x3 = %s, want 1 (-1 < 1 under signed comparison)", state.Registers[3])
	}
}

func TestLoadRejectsInvalidSource(t *testing.T) {
	eng := NewEngine()
	res := eng.Load("FROB x1, x2, x3", nil, nil)
	if len(res.Errors) == 0 {
		t.Fatal("expected a load error for an unknown mnemonic")
	}
}

func TestLoadWarnsOnBranchToUndefinedLabel(t *testing.T) {
	eng := NewEngine()
	res := eng.Load("BEQ x1, x2, nowhere", nil, nil)
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected load errors: %v", res.Errors)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("expected exactly one warning, got %v", res.Warnings)
	}
}

func TestStateReportsWriteBackRegisterAndValue(t *testing.T) {
	eng := NewEngine()
	res := eng.Load(`ADDI x1, x0, 5`, nil, nil)
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected load errors: %v", res.Errors)
	}

	var sawWrite bool
	for !eng.Done() {
		eng.Step()
		wb, ok := eng.GetState().Pipeline["WB"].(map[string]any)
		if !ok {
			t.Fatal("pipeline[\"WB\"] is not a map")
		}
		if wb["register_written"] == "x1" {
			sawWrite = true
			if wb["value_written"] != hex32(5) {
				t.Fatalf("value_written = %v, want %s", wb["value_written"], hex32(5))
			}
		}
	}
	if !sawWrite {
		t.Fatal("expected a cycle where WB reports register_written=x1")
	}
}

func TestStateReportsBubbleLatchesAfterReset(t *testing.T) {
	eng := NewEngine()
	eng.Load(`ADDI x1, x0, 5`, nil, nil)
	eng.Reset()
	state := eng.GetState()
	for _, name := range []string{"IF/ID", "ID/EX", "EX/MEM", "MEM/WB"} {
		latch, ok := state.Pipeline[name].(map[string]any)
		if !ok {
			t.Fatalf("pipeline[%q] is not a map", name)
		}
		if latch["bubble"] != true {
			t.Fatalf("pipeline[%q][\"bubble\"] = %v, want true after Reset", name, latch["bubble"])
		}
	}
}

func TestResetClearsArchitecturalState(t *testing.T) {
	eng := NewEngine()
	eng.Load(`ADDI x1, x0, 5`, nil, nil)
	run(t, eng, 50)
	eng.Reset()
	state := eng.GetState()
	if state.Registers[1] != hex32(0) {
		t.Fatalf("x1 = %s after Reset, want 0", state.Registers[1])
	}
	if state.Cycle != 0 || state.BranchCount != 0 || state.StallCycles != 0 {
		t.Fatalf("counters not cleared by Reset: %+v", state)
	}
}

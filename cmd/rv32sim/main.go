// Command rv32sim loads a teaching RV32I program and runs it to
// completion on the 5-stage pipelined engine, optionally tracing every
// cycle to stdout or to an attached TCP client.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/rv32edu/rv32pipe/pkg/pipeline"
	"github.com/spf13/cobra"
)

func main() {
	log.SetFlags(0)

	var (
		verbose      bool
		debug        bool
		attachTTY    bool
		maxCycles    uint64
		finalJSON    bool
		programStart uint32
		memorySize   uint32
		initRegs     []string
		initMem      []string
	)

	rootCmd := &cobra.Command{
		Use:   "rv32sim <file>",
		Short: "Run a teaching RV32I program on the 5-stage pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			regs, err := parseInitialRegisters(initRegs)
			if err != nil {
				return err
			}
			mem, err := parseInitialMemory(initMem)
			if err != nil {
				return err
			}

			eng := pipeline.NewEngineWith(programStart, memorySize)
			result := eng.Load(string(source), regs, mem)
			if len(result.Errors) > 0 {
				for _, d := range result.Errors {
					fmt.Fprintf(os.Stderr, "line %d: %s\n", d.Line, d.Message)
				}
				return fmt.Errorf("assembly failed with %d error(s)", len(result.Errors))
			}
			for _, w := range result.Warnings {
				fmt.Fprintf(os.Stderr, "warning: %s\n", w)
			}

			if attachTTY {
				sink, err := pipeline.AcceptTraceSink()
				if err != nil {
					return err
				}
				defer sink.Close()
				eng.SetTraceSink(sink)
			}

			for i := uint64(0); !eng.Done(); i++ {
				if maxCycles > 0 && i >= maxCycles {
					return fmt.Errorf("did not halt within %d cycles", maxCycles)
				}
				eng.Step()
				state := eng.GetState()
				if verbose {
					log.Printf("sim: cycle %d pc=%s stalls=%d branches=%d flushes=%d",
						state.Cycle, state.PC, state.StallCycles, state.BranchCount, state.FlushCount)
				}
				if debug {
					log.Printf("sim: paused...")
					fmt.Scanln()
				}
			}

			final := eng.GetState()
			if finalJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(final)
			}
			log.Printf("sim: halted after %d cycles (stalls=%d branches=%d flushes=%d)",
				final.Cycle, final.StallCycles, final.BranchCount, final.FlushCount)
			for i, r := range final.Registers {
				if r != "0x00000000" {
					log.Printf("sim: x%d = %s", i, r)
				}
			}
			return nil
		},
	}
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "trace every cycle")
	rootCmd.Flags().BoolVarP(&debug, "debug", "d", false, "pause after every cycle")
	rootCmd.Flags().BoolVar(&attachTTY, "tty", false, "wait for a TCP trace client before running")
	rootCmd.Flags().Uint64Var(&maxCycles, "max-cycles", 100000, "abort if the program does not halt within this many cycles (0 disables)")
	rootCmd.Flags().BoolVar(&finalJSON, "json", false, "print the final state as JSON instead of a summary")
	rootCmd.Flags().Uint32Var(&programStart, "program-start", pipeline.ProgramStart, "first instruction address; [0, program-start) is data")
	rootCmd.Flags().Uint32Var(&memorySize, "memory-size", pipeline.MemorySize, "flat memory size in bytes")
	rootCmd.Flags().StringArrayVarP(&initRegs, "reg", "r", nil, "initial register override, e.g. -r x1=5 (repeatable)")
	rootCmd.Flags().StringArrayVarP(&initMem, "mem", "m", nil, "initial memory word override, e.g. -m 0=0x2a (repeatable)")

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

// parseInitialRegisters turns "x1=5" / "x1=0x5" style flags into the
// name->value map Engine.Load expects. "x0" and out-of-range names are
// accepted here and silently ignored by Load itself, per spec.
func parseInitialRegisters(specs []string) (map[string]uint32, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	out := make(map[string]uint32, len(specs))
	for _, spec := range specs {
		name, rest, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("invalid -r %q: expected name=value", spec)
		}
		val, err := strconv.ParseUint(strings.TrimSpace(rest), 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid -r %q: %w", spec, err)
		}
		out[strings.TrimSpace(name)] = uint32(val)
	}
	return out, nil
}

// parseInitialMemory turns "0=4" / "0x10=0x2a" style flags into the
// address->word map Engine.Load expects.
func parseInitialMemory(specs []string) (map[uint32]uint32, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	out := make(map[uint32]uint32, len(specs))
	for _, spec := range specs {
		addrStr, valStr, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("invalid -m %q: expected address=value", spec)
		}
		addr, err := strconv.ParseUint(strings.TrimSpace(addrStr), 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid -m %q: %w", spec, err)
		}
		val, err := strconv.ParseUint(strings.TrimSpace(valStr), 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid -m %q: %w", spec, err)
		}
		out[uint32(addr)] = uint32(val)
	}
	return out, nil
}

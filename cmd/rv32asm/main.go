// Command rv32asm assembles and encodes the teaching RV32I subset and
// prints one hex machine word per line.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/rv32edu/rv32pipe/pkg/pipeline"
	"github.com/spf13/cobra"
)

func main() {
	log.SetFlags(0)

	var asJSON bool

	rootCmd := &cobra.Command{
		Use:   "rv32asm <file>",
		Short: "Assemble and encode a teaching RV32I program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			eng := pipeline.NewEngine()
			result := eng.Load(string(source), nil, nil)

			if len(result.Errors) > 0 {
				for _, d := range result.Errors {
					fmt.Fprintf(os.Stderr, "line %d: %s\n", d.Line, d.Message)
				}
				return fmt.Errorf("assembly failed with %d error(s)", len(result.Errors))
			}
			for _, w := range result.Warnings {
				fmt.Fprintf(os.Stderr, "warning: %s\n", w)
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			for _, instr := range result.Instructions {
				fmt.Printf("%s  %s  %s\n", instr.Address, instr.Hex, instr.Raw)
			}
			return nil
		},
	}
	rootCmd.Flags().BoolVar(&asJSON, "json", false, "print the full load result as JSON")

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

package commands

import (
	"errors"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opd-ai/lockdance/backend/terminal"
	"github.com/opd-ai/lockdance/pattern"
)

var errNoMatch = errors.New("pattern does not match")

func patternCmd() *cobra.Command {
	var (
		isHex    bool
		sequence bool
		decoys   int
	)
	cmd := &cobra.Command{
		Use:   "pattern <data>",
		Short: "Render data as Dance patterns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data := []byte(args[0])
			if isHex {
				b, err := hex.DecodeString(args[0])
				if err != nil {
					return fmt.Errorf("decode hex: %w", err)
				}
				data = b
			}

			w := cmd.OutOrStdout()
			if sequence {
				for i, p := range pattern.EncodeSequence(data) {
					fmt.Fprintf(w, "%3d  %s\n", i, terminal.RenderPattern(p, opts.Color))
				}
				return nil
			}

			target := pattern.EncodeBytes(data)
			if decoys == 0 {
				fmt.Fprintln(w, terminal.RenderPattern(target, opts.Color))
				return nil
			}

			lineup, err := pattern.NewLineup(target, decoys)
			if err != nil {
				return err
			}
			for i, p := range lineup.Patterns {
				fmt.Fprintf(w, "%3d  %s\n", i, terminal.RenderPattern(p, opts.Color))
			}
			fmt.Fprint(w, "Which pattern does the other device show? ")
			var choice int
			if _, err := fmt.Fscan(cmd.InOrStdin(), &choice); err != nil {
				return fmt.Errorf("read choice: %w", err)
			}
			if !lineup.Check(choice) {
				return errNoMatch
			}
			fmt.Fprintln(w, "Match.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&isHex, "hex", false, "treat the argument as hex")
	cmd.Flags().BoolVar(&sequence, "sequence", false, "render one pattern per 8-byte chunk")
	cmd.Flags().IntVar(&decoys, "decoys", 0, "show the pattern hidden among this many decoys")
	return cmd
}

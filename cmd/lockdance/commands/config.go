package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opd-ai/lockdance"
)

func configCmd() *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective options, or save them with --save",
		RunE: func(cmd *cobra.Command, args []string) error {
			if save {
				path := configPath
				if path == "" {
					path = defaultConfigPath()
				}
				if err := lockdance.SaveOptions(path, opts); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", path)
				return nil
			}
			data, err := json.MarshalIndent(opts, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "write the options to --config")
	return cmd
}

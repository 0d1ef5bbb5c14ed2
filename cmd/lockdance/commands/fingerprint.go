package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opd-ai/lockdance/keystore"
)

func fingerprintCmd() *cobra.Command {
	var name, seed, salt string
	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the fingerprint of a root secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			if seed != "" || salt != "" {
				root, err := rootFromFlags(seed, salt)
				if err != nil {
					return err
				}
				defer root.Wipe()
				fmt.Fprintf(cmd.OutOrStdout(), "Fingerprint: %s\n", root.Fingerprint())
				return nil
			}

			store, closeStore, err := openStore()
			defer closeStore()
			if err != nil {
				return err
			}
			root, err := keystore.GetRoot(cmd.Context(), store, name)
			if err != nil {
				return err
			}
			defer root.Wipe()
			fmt.Fprintf(cmd.OutOrStdout(), "Fingerprint: %s\n", root.Fingerprint())
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "root", "keystore name of the root secret")
	cmd.Flags().StringVar(&seed, "seed", "", "compute from a seed phrase without the keystore")
	cmd.Flags().StringVar(&salt, "salt", "", "salt for --seed")
	return cmd
}

package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opd-ai/lockdance/crypto"
	"github.com/opd-ai/lockdance/keystore"
)

func generateCmd() *cobra.Command {
	var (
		name  string
		seed  string
		salt  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Create a root secret and store it",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := rootFromFlags(seed, salt)
			if err != nil {
				return err
			}
			defer root.Wipe()

			store, closeStore, err := openStore()
			defer closeStore()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if !force {
				_, err := store.Get(ctx, name)
				if err == nil {
					return fmt.Errorf("%s already exists; use --force to replace it", name)
				}
				if !errors.Is(err, keystore.ErrNotFound) {
					return err
				}
			}
			if err := keystore.PutRoot(ctx, store, name, root); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s\nFingerprint: %s\n", name, root.Fingerprint())
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "root", "keystore name of the root secret")
	cmd.Flags().StringVar(&seed, "seed", "", "derive from a seed phrase instead of random bytes")
	cmd.Flags().StringVar(&salt, "salt", "", "salt for --seed")
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing secret")
	return cmd
}

// rootFromFlags derives a root secret from seed and salt, or samples a new
// one when both are empty.
func rootFromFlags(seed, salt string) (*crypto.RootSecret, error) {
	switch {
	case seed == "" && salt == "":
		return crypto.GenerateRootSecret()
	case seed == "" || salt == "":
		return nil, errors.New("--seed and --salt must be given together")
	default:
		return crypto.RootSecretFromSeed(seed, salt)
	}
}

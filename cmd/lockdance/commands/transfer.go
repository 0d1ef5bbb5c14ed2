package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opd-ai/lockdance"
	"github.com/opd-ai/lockdance/keystore"
)

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <project> <file>",
		Short: "Store credentials exported by derive",
		Long: "Store credentials exported by derive. A keystore never holds both halves\n" +
			"of a project, so importing the key where its lock lives is refused.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, path := args[0], args[1]
			creds, err := lockdance.ReadCredentialsFile(path)
			if err != nil {
				return err
			}
			defer creds.Wipe()
			name := keystore.CredentialsName(project, creds.Role)
			if err := keystore.ValidateName(name); err != nil {
				return err
			}

			store, closeStore, err := openStore()
			defer closeStore()
			if err != nil {
				return err
			}
			if err := keystore.PutCredentials(cmd.Context(), store, project, creds); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s\n", name)
			return nil
		},
	}
}

func recoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover <project> <share>...",
		Short: "Rebuild Lock credentials from escrow shares",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			project := args[0]
			shares := make([][]byte, 0, len(args)-1)
			for i, s := range args[1:] {
				b, err := hex.DecodeString(s)
				if err != nil {
					return fmt.Errorf("share %d: %w", i+1, err)
				}
				shares = append(shares, b)
			}

			creds, err := lockdance.Recover(shares)
			if err != nil {
				return err
			}
			defer creds.Wipe()
			name := keystore.CredentialsName(project, creds.Role)
			if err := keystore.ValidateName(name); err != nil {
				return err
			}

			store, closeStore, err := openStore()
			defer closeStore()
			if err != nil {
				return err
			}
			if err := keystore.PutCredentials(cmd.Context(), store, project, creds); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recovered %s\n", name)
			return nil
		},
	}
}

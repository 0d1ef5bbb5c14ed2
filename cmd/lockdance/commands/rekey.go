package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opd-ai/lockdance"
)

const newPassphraseEnv = "LOCKDANCE_NEW_PASSPHRASE"

var errNoNewPassphrase = errors.New("new passphrase required: use --new-passphrase or " + newPassphraseEnv)

func rekeyCmd() *cobra.Command {
	var newPass string
	cmd := &cobra.Command{
		Use:   "rekey",
		Short: "Re-seal the file keystore under a new passphrase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if newPass == "" {
				newPass = os.Getenv(newPassphraseEnv)
			}
			if newPass == "" {
				return errNoNewPassphrase
			}
			var pass []byte
			if opts.Vault == nil {
				p, err := readPassphrase()
				if err != nil {
					return err
				}
				pass = p
			}
			if err := lockdance.Rekey(opts, pass, []byte(newPass)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Keystore %s re-sealed\n", opts.KeystoreDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&newPass, "new-passphrase", "", "new keystore passphrase (or "+newPassphraseEnv+")")
	return cmd
}

package commands

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/opd-ai/lockdance"
	"github.com/opd-ai/lockdance/dance"
	"github.com/opd-ai/lockdance/keystore"
)

func watchCmd() *cobra.Command {
	var (
		name   string
		keyOut string
		poll   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch <project>",
		Short: "Reissue a project's halves on every anchor rotation",
		Long: "Reissue a project's halves on every anchor rotation. Each pair replaces the\n" +
			"stored Lock and rewrites --key-out; runs until interrupted.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project := args[0]
			if err := keystore.ValidateName(keystore.CredentialsName(project, dance.LockHolder)); err != nil {
				return err
			}
			if keyOut == "" {
				return errKeyOut
			}
			ctx := cmd.Context()
			src, err := lockdance.NewAnchorSource(ctx, opts)
			if err != nil {
				return err
			}

			store, closeStore, err := openStore()
			defer closeStore()
			if err != nil {
				return err
			}
			root, err := keystore.GetRoot(ctx, store, name)
			if err != nil {
				return err
			}
			defer root.Wipe()

			ledger, err := lockdance.OpenLedger(opts)
			if err != nil {
				return err
			}
			defer ledger.Close()

			w := cmd.OutOrStdout()
			err = lockdance.Watch(ctx, opts, ledger, root, src, project, poll, func(issued *lockdance.Issued) error {
				if err := storeIssued(ctx, store, issued, keyOut, true); err != nil {
					return err
				}
				fmt.Fprintf(w, "Anchor %d %s: stored %s.lock, key written to %s\n",
					issued.Anchor.Height, hex.EncodeToString(issued.Anchor.Hash[:4]), project, keyOut)
				return nil
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&name, "name", "root", "keystore name of the root secret")
	cmd.Flags().StringVar(&keyOut, "key-out", "", "file to write each key holder's credentials to")
	cmd.Flags().DurationVar(&poll, "poll", 15*time.Second, "anchor polling interval")
	return cmd
}

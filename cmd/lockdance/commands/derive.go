package commands

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opd-ai/lockdance"
	"github.com/opd-ai/lockdance/backend/terminal"
	"github.com/opd-ai/lockdance/crypto"
	"github.com/opd-ai/lockdance/dance"
	"github.com/opd-ai/lockdance/keystore"
)

var errKeyOut = errors.New("--key-out is required: the key half must leave this keystore")

func deriveCmd() *cobra.Command {
	var (
		name     string
		rounds   int
		escrow   bool
		nonceHex string
		anchored bool
		keyOut   string
		force    bool
	)
	cmd := &cobra.Command{
		Use:   "derive <project>",
		Short: "Issue Lock and Key halves for a project",
		Long: "Issue Lock and Key halves for a project. The Lock is stored in this keystore;\n" +
			"the Key is written to --key-out for import on the key holder's device.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project := args[0]
			lockName := keystore.CredentialsName(project, dance.LockHolder)
			if err := keystore.ValidateName(lockName); err != nil {
				return err
			}
			if keyOut == "" {
				return errKeyOut
			}
			if rounds == 0 {
				rounds = opts.Rounds
			}

			store, closeStore, err := openStore()
			defer closeStore()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

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

			var issued *lockdance.Issued
			if anchored {
				src, err := lockdance.NewAnchorSource(ctx, opts)
				if err != nil {
					return err
				}
				at, err := src.Latest(ctx)
				if err != nil {
					return err
				}
				sk, err := crypto.DeriveSessionKey(root, at)
				if err != nil {
					return err
				}
				defer sk.Wipe()
				issued, err = lockdance.IssueAnchored(ledger, root, project, sk, rounds)
				if err != nil {
					return err
				}
			} else {
				nonce, err := parseNonce(nonceHex)
				if err != nil {
					return err
				}
				issued, err = lockdance.IssueUnique(ledger, root, project, nonce, rounds)
				if err != nil {
					return err
				}
			}
			defer issued.Wipe()

			if err := storeIssued(ctx, store, issued, keyOut, force); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Project:     %s\n", project)
			fmt.Fprintf(w, "Fingerprint: %s\n", issued.Fingerprint)
			fmt.Fprintf(w, "Nonce:       %s\n", hex.EncodeToString(issued.Nonce[:]))
			if anchored {
				fmt.Fprintf(w, "Anchor:      %d %s\n", issued.Anchor.Height, hex.EncodeToString(issued.Anchor.Hash[:]))
			}
			fmt.Fprintf(w, "Rounds:      %d\n", issued.Lock.Total)
			fmt.Fprintf(w, "Commitment:  %s\n", terminal.RenderPattern(issued.Lock.Commitment, opts.Color))
			fmt.Fprintf(w, "Stored %s, key written to %s\n", lockName, keyOut)

			if escrow {
				shares, err := lockdance.Escrow(opts, issued.Lock)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "Lock escrow (%d of %d):\n", opts.EscrowThreshold, opts.EscrowShares)
				for i, s := range shares {
					fmt.Fprintf(w, "  %d: %s\n", i+1, hex.EncodeToString(s))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "root", "keystore name of the root secret")
	cmd.Flags().IntVar(&rounds, "rounds", 0, "fragment rounds (default from options)")
	cmd.Flags().StringVar(&nonceHex, "nonce", "", "derivation nonce as hex (random when empty; never reused)")
	cmd.Flags().BoolVar(&anchored, "anchor", false, "derive the nonce from the current rotation anchor (needs eth_rpc)")
	cmd.Flags().StringVar(&keyOut, "key-out", "", "file to write the key holder's credentials to")
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing --key-out file")
	cmd.Flags().BoolVar(&escrow, "escrow", false, "print Shamir shares of the Lock credentials")
	cmd.MarkFlagsMutuallyExclusive("nonce", "anchor")
	return cmd
}

func parseNonce(nonceHex string) ([crypto.NonceSize]byte, error) {
	if nonceHex == "" {
		return crypto.NewNonce()
	}
	var nonce [crypto.NonceSize]byte
	b, err := hex.DecodeString(nonceHex)
	if err != nil || len(b) != crypto.NonceSize {
		return nonce, fmt.Errorf("--nonce must be %d hex bytes", crypto.NonceSize)
	}
	copy(nonce[:], b)
	return nonce, nil
}

// storeIssued exports the key first so a refused export leaves the store
// untouched, then keeps the lock. A lock the store refuses takes the
// exported key with it.
func storeIssued(ctx context.Context, store keystore.SecretStore, issued *lockdance.Issued, keyOut string, force bool) error {
	if err := lockdance.WriteCredentialsFile(keyOut, issued.Key, force); err != nil {
		return err
	}
	if err := keystore.PutCredentials(ctx, store, issued.Project, issued.Lock); err != nil {
		os.Remove(keyOut)
		return err
	}
	return nil
}

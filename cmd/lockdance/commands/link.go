package commands

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/lockdance"
	"github.com/opd-ai/lockdance/audit"
	"github.com/opd-ai/lockdance/backend/terminal"
	"github.com/opd-ai/lockdance/dance"
	"github.com/opd-ai/lockdance/keystore"
	"github.com/opd-ai/lockdance/noise"
)

const dialRetry = 200 * time.Millisecond

var errLinkMode = errors.New("exactly one of --listen and --connect is required")

func linkCmd() *cobra.Command {
	var (
		as      string
		listen  string
		connect string
		pskHex  string
	)
	cmd := &cobra.Command{
		Use:   "link <project>",
		Short: "Run one side of a Dance with a peer over TCP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project := args[0]
			if (listen == "") == (connect == "") {
				return errLinkMode
			}
			role, err := parseRole(as)
			if err != nil {
				return err
			}
			cfg := noise.Config{Prologue: []byte(project)}
			if pskHex != "" {
				psk, err := hex.DecodeString(pskHex)
				if err != nil {
					return fmt.Errorf("--psk: %w", err)
				}
				cfg.PSK = psk
			}

			if err := keystore.ValidateName(keystore.CredentialsName(project, role)); err != nil {
				return err
			}
			store, closeStore, err := openStore()
			defer closeStore()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			creds, err := keystore.GetCredentials(ctx, store, project, role)
			if err != nil {
				return err
			}
			defer creds.Wipe()

			oracle, err := lockdance.NewOracle(ctx, opts)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			conn, err := openLink(ctx, w, listen, connect, opts.TimingProfile().ReceiveTimeout())
			if err != nil {
				return err
			}
			defer conn.Close()

			fmt.Fprintf(w, "Connected to %s\n", conn.RemoteAddr())
			monitor := terminal.New(w, as, opts.Color)
			sess, err := lockdance.DanceLink(ctx, opts, creds, oracle,
				audit.Conditions{Project: project}, conn, cfg, monitor)
			report(w, as, sess, err)
			return err
		},
	}
	cmd.Flags().StringVar(&as, "as", "lock", "which half to use: lock or key")
	cmd.Flags().StringVar(&listen, "listen", "", "accept one peer on this address")
	cmd.Flags().StringVar(&connect, "connect", "", "dial a peer at this address")
	cmd.Flags().StringVar(&pskHex, "psk", "", "32-byte hex pre-shared key for the link")
	return cmd
}

func parseRole(as string) (dance.Role, error) {
	switch as {
	case "lock":
		return dance.LockHolder, nil
	case "key":
		return dance.KeyHolder, nil
	}
	return 0, fmt.Errorf("--as must be lock or key, got %q", as)
}

// openLink accepts or dials a single connection. Dialing retries until
// timeout so either side may start first.
func openLink(ctx context.Context, w io.Writer, listen, connect string, timeout time.Duration) (net.Conn, error) {
	if listen != "" {
		var lc net.ListenConfig
		l, err := lc.Listen(ctx, "tcp", listen)
		if err != nil {
			return nil, err
		}
		defer l.Close()
		fmt.Fprintf(w, "Listening on %s\n", l.Addr())

		stop := context.AfterFunc(ctx, func() { l.Close() })
		defer stop()
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		return conn, nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", connect)
		if err == nil {
			return conn, nil
		}
		logrus.WithFields(logrus.Fields{
			"function": "openLink",
			"address":  connect,
			"error":    err.Error(),
		}).Debug("Dial failed, retrying")

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial %s: %w", connect, err)
		case <-time.After(dialRetry):
		}
	}
}

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/lockdance"
	"github.com/opd-ai/lockdance/keystore"
)

const passphraseEnv = "LOCKDANCE_PASSPHRASE"

var errNoPassphrase = errors.New("passphrase required: use --passphrase or " + passphraseEnv)

var (
	configPath  string
	passphrase  string
	keystoreDir string
	logLevel    string
	noColor     bool

	opts *lockdance.Options
)

// Execute runs the CLI.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return newRootCmd(os.Stdout).ExecuteContext(ctx)
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "lockdance",
		Short:         "Split-knowledge authentication by light and sound",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			o, err := resolveOptions(cmd)
			if err != nil {
				return err
			}
			opts = o
			opts.ApplyLogLevel()
			return nil
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringVar(&configPath, "config", "", "options file (default ~/.lockdance/options.json)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "keystore passphrase (or "+passphraseEnv+")")
	root.PersistentFlags().StringVar(&keystoreDir, "keystore", "", "keystore directory")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (panic..trace)")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable ANSI colour")

	root.AddCommand(generateCmd(), fingerprintCmd(), deriveCmd(), patternCmd(), demoCmd(), linkCmd(), configCmd(),
		importCmd(), recoverCmd(), rekeyCmd(), watchCmd())
	return root
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".lockdance", "options.json")
	}
	return filepath.Join(home, ".lockdance", "options.json")
}

// resolveOptions loads the options file, if any, and applies flag overrides.
func resolveOptions(cmd *cobra.Command) (*lockdance.Options, error) {
	path := configPath
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
	}

	o := lockdance.NewOptions()
	if _, err := os.Stat(path); err == nil {
		loaded, err := lockdance.LoadOptions(path)
		if err != nil {
			return nil, err
		}
		o = loaded
	} else if explicit {
		return nil, fmt.Errorf("options file %s: %w", path, err)
	}

	if keystoreDir != "" {
		o.KeystoreDir = keystoreDir
		o.Vault = nil
	}
	if logLevel != "" {
		o.LogLevel = logLevel
	}
	if noColor {
		o.Color = false
	}

	logrus.WithFields(logrus.Fields{
		"function": "resolveOptions",
		"config":   path,
		"command":  cmd.Name(),
	}).Debug("Options resolved")

	return o, o.Validate()
}

func readPassphrase() ([]byte, error) {
	p := passphrase
	if p == "" {
		p = os.Getenv(passphraseEnv)
	}
	if p == "" {
		return nil, errNoPassphrase
	}
	return []byte(p), nil
}

// openStore opens the configured keystore. The returned close function is
// always safe to call.
func openStore() (keystore.SecretStore, func(), error) {
	var pass []byte
	if opts.Vault == nil {
		p, err := readPassphrase()
		if err != nil {
			return nil, func() {}, err
		}
		pass = p
	}
	store, err := lockdance.OpenStore(opts, pass)
	if err != nil {
		return nil, func() {}, err
	}
	closeFn := func() {}
	if c, ok := store.(io.Closer); ok {
		closeFn = func() { c.Close() }
	}
	return store, closeFn, nil
}

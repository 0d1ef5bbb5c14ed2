package lockdance

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lockdance/backend"
	"github.com/opd-ai/lockdance/dance"
	"github.com/opd-ai/lockdance/keystore"
)

// ErrInvalidOptions is wrapped by every Validate failure.
var ErrInvalidOptions = errors.New("invalid options")

// Options contains the configuration of a Dance participant.
type Options struct {
	// Rounds is the number of fragment exchanges per Dance.
	Rounds int `json:"rounds"`
	// Timing names a built-in profile: interactive, fast or slow.
	Timing string `json:"timing"`
	// CustomTiming replaces the named profile when set.
	CustomTiming *backend.Profile `json:"custom_timing,omitempty"`

	// RotationInterval is the number of anchor heights a session key lives.
	RotationInterval uint64 `json:"rotation_interval"`
	// Confirmations holds anchors this many blocks behind the chain head.
	Confirmations uint64 `json:"confirmations"`
	// EthRPC is the JSON-RPC endpoint used for anchors and the policy contract.
	EthRPC string `json:"eth_rpc,omitempty"`
	// PolicyContract is the hex address of the audit policy contract. Empty
	// accepts every Dance that completes its exchange.
	PolicyContract string `json:"policy_contract,omitempty"`

	// KeystoreDir is where the file keystore lives.
	KeystoreDir string `json:"keystore_dir"`
	// Vault selects the Vault keystore instead of KeystoreDir when set.
	Vault *keystore.VaultConfig `json:"vault,omitempty"`

	// EscrowShares and EscrowThreshold configure Shamir escrow of the Lock half.
	EscrowShares    int `json:"escrow_shares"`
	EscrowThreshold int `json:"escrow_threshold"`

	Color    bool   `json:"color"`
	LogLevel string `json:"log_level"`
}

// NewOptions creates default options.
func NewOptions() *Options {
	dir := ".lockdance"
	if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, ".lockdance")
	}
	return &Options{
		Rounds:           dance.DefaultRounds,
		Timing:           backend.InteractiveTiming.Name,
		RotationInterval: 7200, // about a day of Ethereum blocks
		Confirmations:    12,
		KeystoreDir:      dir,
		EscrowShares:     5,
		EscrowThreshold:  3,
		Color:            true,
		LogLevel:         logrus.InfoLevel.String(),
	}
}

// Validate checks the options for consistency.
func (o *Options) Validate() error {
	if o.Rounds < 1 || o.Rounds > dance.MaxRounds {
		return fmt.Errorf("%w: rounds %d outside 1..%d", ErrInvalidOptions, o.Rounds, dance.MaxRounds)
	}
	if o.CustomTiming == nil {
		if _, ok := backend.ProfileByName(o.Timing); !ok {
			return fmt.Errorf("%w: unknown timing profile %q", ErrInvalidOptions, o.Timing)
		}
	} else if o.CustomTiming.Timeout <= 0 || o.CustomTiming.Step < 0 {
		return fmt.Errorf("%w: custom timing needs a positive timeout", ErrInvalidOptions)
	}
	if o.PolicyContract != "" {
		if !common.IsHexAddress(o.PolicyContract) {
			return fmt.Errorf("%w: policy contract %q is not an address", ErrInvalidOptions, o.PolicyContract)
		}
		if o.EthRPC == "" {
			return fmt.Errorf("%w: policy contract requires eth_rpc", ErrInvalidOptions)
		}
	}
	if o.Vault == nil && o.KeystoreDir == "" {
		return fmt.Errorf("%w: keystore_dir or vault required", ErrInvalidOptions)
	}
	if o.EscrowThreshold < 2 || o.EscrowShares < o.EscrowThreshold || o.EscrowShares > 255 {
		return fmt.Errorf("%w: escrow %d-of-%d", ErrInvalidOptions, o.EscrowThreshold, o.EscrowShares)
	}
	if _, err := logrus.ParseLevel(o.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return nil
}

// TimingProfile resolves the configured timing.
func (o *Options) TimingProfile() backend.Profile {
	if o.CustomTiming != nil {
		return *o.CustomTiming
	}
	p, ok := backend.ProfileByName(o.Timing)
	if !ok {
		return backend.InteractiveTiming
	}
	return p
}

// ApplyLogLevel sets the global logrus level.
func (o *Options) ApplyLogLevel() {
	lvl, err := logrus.ParseLevel(o.LogLevel)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}

// LoadOptions reads options from a JSON file. Fields missing from the file
// keep their NewOptions defaults.
func LoadOptions(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read options: %w", err)
	}
	opts := NewOptions()
	if err := json.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("parse options %s: %w", path, err)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "LoadOptions",
		"path":     path,
		"timing":   opts.Timing,
		"rounds":   opts.Rounds,
	}).Debug("Options loaded")

	return opts, nil
}

// SaveOptions writes opts as indented JSON with owner-only permissions.
func SaveOptions(path string, opts *Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(opts, "", "  ")
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create options directory: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write options: %w", err)
	}
	return nil
}

// defaultTimeout bounds calls to external services made while setting up.
const defaultTimeout = 30 * time.Second

package lockdance

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lockdance/anchor"
	"github.com/opd-ai/lockdance/audit"
	"github.com/opd-ai/lockdance/backend"
	"github.com/opd-ai/lockdance/backend/link"
	"github.com/opd-ai/lockdance/crypto"
	"github.com/opd-ai/lockdance/dance"
	"github.com/opd-ai/lockdance/keystore"
	"github.com/opd-ai/lockdance/noise"
)

// ledgerFile is dot-prefixed so the file keystore never lists it.
const ledgerFile = ".nonces"

// Issued is the result of splitting a project secret for one Dance.
type Issued struct {
	Project     string
	Nonce       [crypto.NonceSize]byte
	Fingerprint crypto.Fingerprint
	// Anchor is the start of the session key the nonce came from. It is
	// zero unless the pair was issued with IssueAnchored.
	Anchor crypto.RotationAnchor
	Lock   *dance.Credentials
	Key    *dance.Credentials
}

// Wipe erases both halves.
func (i *Issued) Wipe() {
	i.Lock.Wipe()
	i.Key.Wipe()
}

// Issue derives the project key of root, splits a fresh full secret into
// Lock and Key halves and provisions credentials for both devices.
func Issue(root *crypto.RootSecret, project string, rounds int) (*Issued, error) {
	nonce, err := crypto.NewNonce()
	if err != nil {
		return nil, err
	}
	return IssueWithNonce(root, project, nonce, rounds)
}

// IssueWithNonce is Issue with a caller-chosen nonce. The halves are still
// random; the nonce only selects the full secret they reconstruct to.
func IssueWithNonce(root *crypto.RootSecret, project string, nonce [crypto.NonceSize]byte, rounds int) (*Issued, error) {
	var pk [crypto.KeySize]byte
	defer crypto.ZeroBytes(pk[:])
	if err := crypto.DeriveProjectKeyInto(root, project, &pk); err != nil {
		return nil, err
	}

	pair, err := crypto.DeriveLockKey(pk, nonce)
	if err != nil {
		return nil, err
	}
	defer pair.Wipe()

	lock, key, err := dance.Provision(pair, rounds)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Issue",
		"project":     project,
		"fingerprint": root.Fingerprint().String(),
		"rounds":      lock.Total,
	}).Info("Issued lock and key credentials")

	return &Issued{
		Project:     project,
		Nonce:       nonce,
		Fingerprint: root.Fingerprint(),
		Lock:        lock,
		Key:         key,
	}, nil
}

// IssueUnique is IssueWithNonce after recording nonce in ledger, so the
// same full secret is never issued twice.
func IssueUnique(ledger *crypto.NonceLedger, root *crypto.RootSecret, project string, nonce [crypto.NonceSize]byte, rounds int) (*Issued, error) {
	if err := ledger.Consume(nonce); err != nil {
		return nil, err
	}
	return IssueWithNonce(root, project, nonce, rounds)
}

// IssueAnchored issues a pair whose nonce is derived from sk, the session
// key of the current rotation window. Anyone holding the root secret and
// observing the same anchor reproduces the full secret; the ledger refuses
// a second pair in the same window.
func IssueAnchored(ledger *crypto.NonceLedger, root *crypto.RootSecret, project string, sk *crypto.SessionKey, rounds int) (*Issued, error) {
	nonce, err := sk.DeriveNonce(project)
	if err != nil {
		return nil, err
	}
	issued, err := IssueUnique(ledger, root, project, nonce, rounds)
	if err != nil {
		return nil, err
	}
	issued.Anchor = sk.Start
	return issued, nil
}

// Watch issues an anchored pair for project now and again each time src
// moves the session key into a new rotation window, until ctx ends or
// onIssue fails. Issued pairs are wiped once onIssue returns.
func Watch(ctx context.Context, opts *Options, ledger *crypto.NonceLedger, root *crypto.RootSecret,
	src anchor.Source, project string, every time.Duration, onIssue func(*Issued) error,
) error {
	start, err := src.Latest(ctx)
	if err != nil {
		return err
	}
	mgr, err := crypto.NewSessionKeyManager(root, start, opts.RotationInterval)
	if err != nil {
		return err
	}
	defer mgr.Cleanup()

	issue := func(sk *crypto.SessionKey) error {
		issued, err := IssueAnchored(ledger, root, project, sk, opts.Rounds)
		if err != nil {
			return err
		}
		defer issued.Wipe()
		return onIssue(issued)
	}
	if err := issue(mgr.Current()); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var issueErr error
	err = anchor.Follow(ctx, src, mgr, every, func(sk *crypto.SessionKey) {
		if issueErr = issue(sk); issueErr != nil {
			cancel()
		}
	})
	if issueErr != nil {
		return issueErr
	}
	return err
}

// OpenLedger opens the nonce ledger kept beside the file keystore. With a
// Vault keystore the ledger lives in memory only.
func OpenLedger(opts *Options) (*crypto.NonceLedger, error) {
	if opts.Vault != nil {
		return crypto.NewNonceLedger(0), nil
	}
	if err := os.MkdirAll(opts.KeystoreDir, 0o700); err != nil {
		return nil, fmt.Errorf("create keystore directory: %w", err)
	}
	return crypto.OpenNonceLedger(filepath.Join(opts.KeystoreDir, ledgerFile), 0)
}

// Conditions builds audit conditions for the issued pair.
func (i *Issued) Conditions(attrs map[string]string) audit.Conditions {
	return audit.Conditions{
		Fingerprint: i.Fingerprint.String(),
		Project:     i.Project,
		Attributes:  attrs,
	}
}

// Escrow splits the Lock credentials into Shamir shares per opts. Recover
// rebuilds them from any EscrowThreshold shares.
func Escrow(opts *Options, creds *dance.Credentials) ([][]byte, error) {
	if creds.Role != dance.LockHolder {
		return nil, fmt.Errorf("escrow: %s half cannot be escrowed", creds.Role)
	}
	b, err := creds.MarshalBinary()
	if err != nil {
		return nil, err
	}
	defer crypto.ZeroBytes(b)
	return crypto.SplitSecret(b, opts.EscrowShares, opts.EscrowThreshold)
}

// Recover rebuilds Lock credentials from escrow shares.
func Recover(shares [][]byte) (*dance.Credentials, error) {
	b, err := crypto.CombineSecret(shares)
	if err != nil {
		return nil, err
	}
	defer crypto.ZeroBytes(b)

	creds := &dance.Credentials{}
	if err := creds.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("recover: %w", err)
	}
	if creds.Role != dance.LockHolder {
		creds.Wipe()
		return nil, fmt.Errorf("recover: %w: shares hold %s", dance.ErrInvalidCredentials, creds.Role)
	}
	return creds, nil
}

// OpenStore opens the keystore selected by opts. passphrase is only used by
// the file keystore and is wiped.
func OpenStore(opts *Options, passphrase []byte) (keystore.SecretStore, error) {
	if opts.Vault != nil {
		crypto.ZeroBytes(passphrase)
		return keystore.NewVaultStore(*opts.Vault)
	}
	return keystore.OpenFileStore(opts.KeystoreDir, passphrase)
}

// Rekey re-seals the file keystore selected by opts under newPassphrase.
// Both passphrases are wiped.
func Rekey(opts *Options, passphrase, newPassphrase []byte) error {
	if opts.Vault != nil {
		crypto.ZeroBytes(passphrase)
		crypto.ZeroBytes(newPassphrase)
		return fmt.Errorf("%w: rekey needs the file keystore", ErrInvalidOptions)
	}
	fs, err := keystore.OpenFileStore(opts.KeystoreDir, passphrase)
	if err != nil {
		crypto.ZeroBytes(newPassphrase)
		return err
	}
	defer fs.Close()
	return fs.Rekey(newPassphrase)
}

// NewOracle returns the policy contract oracle when one is configured and
// audit.AllowAll otherwise.
func NewOracle(ctx context.Context, opts *Options) (audit.Oracle, error) {
	if opts.PolicyContract == "" {
		return audit.AllowAll, nil
	}
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	client, err := ethclient.DialContext(ctx, opts.EthRPC)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", opts.EthRPC, err)
	}
	return audit.NewEthOracle(client, common.HexToAddress(opts.PolicyContract))
}

// NewAnchorSource returns the Ethereum anchor source configured in opts.
func NewAnchorSource(ctx context.Context, opts *Options) (anchor.Source, error) {
	if opts.EthRPC == "" {
		return nil, fmt.Errorf("%w: eth_rpc not set", ErrInvalidOptions)
	}
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	return anchor.DialEth(ctx, opts.EthRPC, opts.Confirmations)
}

// Dance runs one side of a handshake to completion on the given devices.
// The returned session reports the final state.
func Dance(ctx context.Context, opts *Options, creds *dance.Credentials, oracle audit.Oracle,
	conditions audit.Conditions, out backend.Output, in backend.Input,
) (*dance.Session, error) {
	session, err := dance.NewSession(creds, oracle, conditions)
	if err != nil {
		return nil, err
	}
	runner := backend.NewRunner(session, out, in, opts.TimingProfile())
	err = runner.Run(ctx)
	stats := runner.Stats()

	logrus.WithFields(logrus.Fields{
		"function": "Dance",
		"session":  session.ID().String(),
		"role":     session.Role().String(),
		"phase":    session.State().Phase.String(),
		"emitted":  stats.Emitted,
		"received": stats.Received,
	}).Info("Dance finished")

	return session, err
}

// DanceLink runs one side of a handshake with a remote peer over rw. The
// key holder initiates the Noise handshake. monitor, if not nil, also
// renders every instruction this side emits. rw is left open.
func DanceLink(ctx context.Context, opts *Options, creds *dance.Credentials, oracle audit.Oracle,
	conditions audit.Conditions, rw io.ReadWriter, cfg noise.Config, monitor backend.Output,
) (*dance.Session, error) {
	role := noise.Responder
	if creds.Role.Initiates() {
		role = noise.Initiator
	}
	if cfg.Prologue == nil {
		cfg.Prologue = []byte(conditions.Project)
	}

	ep, err := link.Dial(rw, role, cfg)
	if err != nil {
		return nil, fmt.Errorf("link handshake: %w", err)
	}
	defer ep.Close()

	var out backend.Output = ep
	if monitor != nil {
		out = backend.NewTee(ep, monitor)
	}
	return Dance(ctx, opts, creds, oracle, conditions, out, ep)
}

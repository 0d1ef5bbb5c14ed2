// Package anchor supplies rotation anchors: publicly observable points in a
// monotonically increasing sequence from which session keys are derived.
//
// Two parties holding the same root secret and observing the same anchor
// derive the same session key without talking to each other. A blockchain is
// the natural source; EthSource reads block headers from any Ethereum
// JSON-RPC endpoint.
package anchor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lockdance/crypto"
)

var (
	// ErrNoHeader is returned when the chain reports no header.
	ErrNoHeader = errors.New("anchor: no header")
	// ErrTooShallow is returned when the chain is shorter than the
	// requested confirmation depth.
	ErrTooShallow = errors.New("anchor: chain shorter than confirmation depth")
)

// Source reports the latest usable anchor.
type Source interface {
	Latest(ctx context.Context) (crypto.RotationAnchor, error)
}

// Static always reports the same anchor.
type Static crypto.RotationAnchor

// Latest returns the fixed anchor.
func (s Static) Latest(context.Context) (crypto.RotationAnchor, error) {
	return crypto.RotationAnchor(s), nil
}

// HeaderReader is the subset of ethclient.Client used by EthSource.
type HeaderReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// EthSource derives anchors from Ethereum block headers. Confirmations
// holds the anchor that many blocks behind the head so both parties settle
// on the same block despite short reorganisations.
type EthSource struct {
	client        HeaderReader
	Confirmations uint64
}

// NewEthSource wraps a header reader.
func NewEthSource(client HeaderReader, confirmations uint64) *EthSource {
	return &EthSource{client: client, Confirmations: confirmations}
}

// DialEth connects to a JSON-RPC endpoint.
func DialEth(ctx context.Context, rawURL string, confirmations uint64) (*EthSource, error) {
	client, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("anchor: dial %s: %w", rawURL, err)
	}
	return NewEthSource(client, confirmations), nil
}

// Latest returns the block Confirmations behind the head.
func (s *EthSource) Latest(ctx context.Context) (crypto.RotationAnchor, error) {
	head, err := s.header(ctx, nil)
	if err != nil {
		return crypto.RotationAnchor{}, err
	}
	if s.Confirmations == 0 {
		return anchorOf(head), nil
	}

	height := head.Number.Uint64()
	if height < s.Confirmations {
		return crypto.RotationAnchor{}, fmt.Errorf("%w: head %d, depth %d", ErrTooShallow, height, s.Confirmations)
	}
	settled, err := s.header(ctx, new(big.Int).SetUint64(height-s.Confirmations))
	if err != nil {
		return crypto.RotationAnchor{}, err
	}
	return anchorOf(settled), nil
}

func (s *EthSource) header(ctx context.Context, number *big.Int) (*types.Header, error) {
	h, err := s.client.HeaderByNumber(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("anchor: header %v: %w", number, err)
	}
	if h == nil || h.Number == nil {
		return nil, ErrNoHeader
	}
	return h, nil
}

func anchorOf(h *types.Header) crypto.RotationAnchor {
	return crypto.RotationAnchor{Height: h.Number.Uint64(), Hash: h.Hash()}
}

// Poll feeds the latest anchor from src to mgr and reports whether the
// session key rotated.
func Poll(ctx context.Context, src Source, mgr *crypto.SessionKeyManager) (bool, error) {
	a, err := src.Latest(ctx)
	if err != nil {
		return false, err
	}
	return mgr.Tick(a)
}

// Follow polls src every interval until ctx is done. Poll failures are
// logged and retried on the next tick. onRotate, if set, is called after
// each rotation.
func Follow(ctx context.Context, src Source, mgr *crypto.SessionKeyManager, every time.Duration, onRotate func(*crypto.SessionKey)) error {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		rotated, err := Poll(ctx, src, mgr)
		switch {
		case err != nil:
			logrus.WithFields(logrus.Fields{
				"function": "anchor.Follow",
				"error":    err.Error(),
			}).Warn("Anchor poll failed")
		case rotated && onRotate != nil:
			onRotate(mgr.Current())
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

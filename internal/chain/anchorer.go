package chain

import (
	"context"
	"fmt"
	"regexp"

	"github.com/calebmorten/anchorline/pkg/errors"
	"github.com/calebmorten/anchorline/pkg/logger"
)

var digestRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Anchorer commits an evidence digest on-chain so the off-chain ledger line
// becomes tamper-evident.
type Anchorer interface {
	AnchorDigest(ctx context.Context, digest string) (string, error)
}

// DigestAnchorer anchors a SHA-256 digest by submitting a zero-value
// transaction whose calldata is the digest itself. The returned value is the
// transaction hash.
type DigestAnchorer struct {
	provider Provider
	from     string
	logg     *logger.Logger
}

// NewDigestAnchorer wires the anchorer to a provider. From is the funded
// account the anchor transactions are sent from.
func NewDigestAnchorer(provider Provider, from string, logg *logger.Logger) (*DigestAnchorer, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if from == "" {
		return nil, fmt.Errorf("anchor sender address is required")
	}
	return &DigestAnchorer{provider: provider, from: from, logg: logg}, nil
}

// AnchorDigest validates the digest and submits it. A malformed digest is a
// permanent error; nothing on-chain can fix a bad hash.
func (a *DigestAnchorer) AnchorDigest(ctx context.Context, digest string) (string, error) {
	if !digestRe.MatchString(digest) {
		return "", errors.Permanentf("anchor digest must be 64 lowercase hex chars, got %q", digest).
			WithCode("INVALID_DIGEST")
	}

	txHash, err := a.provider.SendTransaction(ctx, Transaction{
		From:  a.from,
		To:    a.from,
		Value: "0x0",
		Data:  "0x" + digest,
	})
	if err != nil {
		return "", err
	}
	if a.logg != nil {
		logCtx := a.logg.WithFields(ctx, map[string]any{
			"sha256":  digest,
			"tx_hash": txHash,
			"network": a.provider.Network(),
		})
		a.logg.Info(logCtx, "digest anchored")
	}
	return txHash, nil
}

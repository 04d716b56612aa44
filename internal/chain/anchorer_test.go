package chain

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebmorten/anchorline/pkg/errors"
)

type stubProvider struct {
	lastTx Transaction
	hash   string
	err    error
}

func (s *stubProvider) Name() string    { return "stub" }
func (s *stubProvider) Network() string { return "stub-net" }

func (s *stubProvider) SendTransaction(ctx context.Context, tx Transaction) (string, error) {
	s.lastTx = tx
	return s.hash, s.err
}

func (s *stubProvider) GetReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	return nil, nil
}

func (s *stubProvider) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	return nil, nil
}

const validDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func TestAnchorDigestSubmitsCalldata(t *testing.T) {
	provider := &stubProvider{hash: "0xfeed"}
	anchorer, err := NewDigestAnchorer(provider, "0x52908400098527886E0F7030069857D2E4169EE7", nil)
	require.NoError(t, err)

	txHash, err := anchorer.AnchorDigest(context.Background(), validDigest)
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", txHash)
	assert.Equal(t, "0x"+validDigest, provider.lastTx.Data)
	assert.Equal(t, "0x0", provider.lastTx.Value)
}

func TestAnchorDigestRejectsMalformedDigest(t *testing.T) {
	provider := &stubProvider{}
	anchorer, err := NewDigestAnchorer(provider, "0x52908400098527886E0F7030069857D2E4169EE7", nil)
	require.NoError(t, err)

	for _, digest := range []string{"", "abc", "ZZ" + validDigest[2:], validDigest + "00"} {
		_, err := anchorer.AnchorDigest(context.Background(), digest)
		require.Error(t, err, "digest %q", digest)
		assert.True(t, errors.IsPermanent(err))
	}
	assert.Empty(t, provider.lastTx.Data, "invalid digests must never reach the provider")
}

func TestAnchorDigestPropagatesProviderError(t *testing.T) {
	provider := &stubProvider{err: errors.Transient("node unreachable")}
	anchorer, err := NewDigestAnchorer(provider, "0x52908400098527886E0F7030069857D2E4169EE7", nil)
	require.NoError(t, err)

	_, err = anchorer.AnchorDigest(context.Background(), validDigest)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestNewDigestAnchorerValidation(t *testing.T) {
	_, err := NewDigestAnchorer(nil, "0x1", nil)
	require.Error(t, err)
	_, err = NewDigestAnchorer(&stubProvider{}, "", nil)
	require.Error(t, err)
}

package anchoring

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebmorten/anchorline/internal/chain"
	"github.com/calebmorten/anchorline/pkg/enums"
	"github.com/calebmorten/anchorline/pkg/errors"
	"github.com/calebmorten/anchorline/pkg/logger"
)

type stubProvider struct {
	hash    string
	sendErr error
	receipt *chain.Receipt
	recvErr error
}

func (s *stubProvider) Name() string    { return "stub" }
func (s *stubProvider) Network() string { return "stub-net" }

func (s *stubProvider) SendTransaction(ctx context.Context, tx chain.Transaction) (string, error) {
	if s.sendErr != nil {
		return "", s.sendErr
	}
	return s.hash, nil
}

func (s *stubProvider) GetReceipt(ctx context.Context, txHash string) (*chain.Receipt, error) {
	return s.receipt, s.recvErr
}

func (s *stubProvider) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	return nil, nil
}

type enqueueCall struct {
	id      string
	opType  enums.OpType
	payload json.RawMessage
}

type fakeOutbox struct {
	calls []enqueueCall
	err   error
}

func (f *fakeOutbox) Enqueue(ctx context.Context, id string, opType enums.OpType, payload json.RawMessage, delay time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, enqueueCall{id: id, opType: opType, payload: payload})
	return nil
}

type fakeLedger struct {
	digest string
	err    error
	types  []string
}

func (f *fakeLedger) Record(ctx context.Context, eventType string, payload any) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.types = append(f.types, eventType)
	return f.digest, nil
}

func newTestService(t *testing.T, provider *stubProvider, outbox *fakeOutbox, ledger *fakeLedger) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Provider: provider,
		Outbox:   outbox,
		Ledger:   ledger,
		Logger:   logger.New(logger.Options{ServiceName: "test"}),
	})
	require.NoError(t, err)
	return svc
}

func TestSubmitTransactionSuccessSkipsOutbox(t *testing.T) {
	outbox := &fakeOutbox{}
	svc := newTestService(t, &stubProvider{hash: "0xhash"}, outbox, &fakeLedger{})

	hash, err := svc.SubmitTransaction(context.Background(), chain.Transaction{Raw: "0x01"}, "")
	require.NoError(t, err)
	assert.Equal(t, "0xhash", hash)
	assert.Empty(t, outbox.calls)
}

func TestSubmitTransactionTransientFailureDefersToOutbox(t *testing.T) {
	outbox := &fakeOutbox{}
	provider := &stubProvider{sendErr: errors.Transient("node busy")}
	svc := newTestService(t, provider, outbox, &fakeLedger{})

	_, err := svc.SubmitTransaction(context.Background(), chain.Transaction{Raw: "0x01"}, "corr-1")
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))

	require.Len(t, outbox.calls, 1)
	call := outbox.calls[0]
	assert.Equal(t, enums.OpSubmitTx, call.opType)
	assert.Len(t, call.id, 64, "job id should be a sha256 hex digest")
	assert.JSONEq(t, `{"tx":{"raw":"0x01"}}`, string(call.payload))
}

func TestSubmitTransactionPermanentFailureIsNotDeferred(t *testing.T) {
	outbox := &fakeOutbox{}
	provider := &stubProvider{sendErr: errors.Permanent("nonce too low")}
	svc := newTestService(t, provider, outbox, &fakeLedger{})

	_, err := svc.SubmitTransaction(context.Background(), chain.Transaction{Raw: "0x01"}, "")
	require.Error(t, err)
	assert.True(t, errors.IsPermanent(err))
	assert.Empty(t, outbox.calls, "permanent failures must not be parked for retry")
}

func TestJobIDIsDeterministicAndOrderInsensitive(t *testing.T) {
	id1, err := JobID(enums.OpSubmitTx, json.RawMessage(`{"b":2,"a":1}`))
	require.NoError(t, err)
	id2, err := JobID(enums.OpSubmitTx, json.RawMessage(`{"a":1,"b":2}`))
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	id3, err := JobID(enums.OpAnchorDigest, json.RawMessage(`{"a":1,"b":2}`))
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3, "op type must be part of the identity")
}

func TestRecordEvidenceWithoutAnchor(t *testing.T) {
	outbox := &fakeOutbox{}
	ledger := &fakeLedger{digest: "d0c4c6ba9eae5f6bbdbf9fda6bb77c07e1b4de0c4d09bb6c67ae130b36d14d6f"}
	svc := newTestService(t, &stubProvider{}, outbox, ledger)

	digest, err := svc.RecordEvidence(context.Background(), "order_created", map[string]any{"id": 7}, false, "")
	require.NoError(t, err)
	assert.Equal(t, ledger.digest, digest)
	assert.Equal(t, []string{"order_created"}, ledger.types)
	assert.Empty(t, outbox.calls)
}

func TestRecordEvidenceWithAnchorEnqueues(t *testing.T) {
	outbox := &fakeOutbox{}
	ledger := &fakeLedger{digest: "d0c4c6ba9eae5f6bbdbf9fda6bb77c07e1b4de0c4d09bb6c67ae130b36d14d6f"}
	svc := newTestService(t, &stubProvider{}, outbox, ledger)

	digest, err := svc.RecordEvidence(context.Background(), "order_created", map[string]any{"id": 7}, true, "")
	require.NoError(t, err)

	require.Len(t, outbox.calls, 1)
	call := outbox.calls[0]
	assert.Equal(t, enums.OpAnchorDigest, call.opType)
	assert.JSONEq(t, `{"sha256":"`+digest+`","type":"order_created"}`, string(call.payload))
}

func TestRecordEvidenceLedgerFailureSurfaces(t *testing.T) {
	ledger := &fakeLedger{err: errors.Permanent("evidence type must be a non-empty string")}
	svc := newTestService(t, &stubProvider{}, &fakeOutbox{}, ledger)

	_, err := svc.RecordEvidence(context.Background(), " ", nil, true, "")
	require.Error(t, err)
}

func TestWaitForReceipt(t *testing.T) {
	provider := &stubProvider{receipt: &chain.Receipt{TxHash: "0x01", Status: "0x1"}}
	svc := newTestService(t, provider, &fakeOutbox{}, &fakeLedger{})

	receipt, err := svc.WaitForReceipt(context.Background(), "0x01", "")
	require.NoError(t, err)
	assert.True(t, receipt.Succeeded())

	provider.receipt = nil
	provider.recvErr = errors.Transient("receipt not available yet")
	_, err = svc.WaitForReceipt(context.Background(), "0x02", "")
	require.Error(t, err)
}

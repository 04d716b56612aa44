// Package anchoring is the high-level entry point for chain side effects:
// direct submission with a durable fallback, receipt waits, and evidence
// recording with optional on-chain anchoring.
package anchoring

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/calebmorten/anchorline/internal/chain"
	"github.com/calebmorten/anchorline/internal/dispatch"
	"github.com/calebmorten/anchorline/pkg/enums"
	"github.com/calebmorten/anchorline/pkg/errors"
	"github.com/calebmorten/anchorline/pkg/evidence"
	"github.com/calebmorten/anchorline/pkg/logger"
)

type enqueuer interface {
	Enqueue(ctx context.Context, id string, opType enums.OpType, payload json.RawMessage, delay time.Duration) error
}

type recorder interface {
	Record(ctx context.Context, eventType string, payload any) (string, error)
}

// ServiceParams wire the orchestration service.
type ServiceParams struct {
	Provider chain.Provider
	Outbox   enqueuer
	Ledger   recorder
	Logger   *logger.Logger
}

// Service exposes the stable operations callers use. Submission failures
// that are worth retrying land in the outbox instead of being lost.
type Service struct {
	provider chain.Provider
	outbox   enqueuer
	ledger   recorder
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox is required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Service{
		provider: params.Provider,
		outbox:   params.Outbox,
		ledger:   params.Ledger,
		logg:     params.Logger,
	}, nil
}

// JobID derives a deterministic outbox id from the operation and payload, so
// resubmitting the same work upserts instead of duplicating.
func JobID(opType enums.OpType, payload any) (string, error) {
	canonical, err := evidence.Canonicalize(map[string]any{
		"op":      string(opType),
		"payload": payload,
	})
	if err != nil {
		return "", fmt.Errorf("deriving job id: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// SubmitTransaction submits through the provider's retry policy. When the
// failure is transient the transaction is parked in the outbox for the
// worker to drive, and the error still surfaces so the caller knows the
// submission has not happened yet.
func (s *Service) SubmitTransaction(ctx context.Context, tx chain.Transaction, correlationID string) (string, error) {
	ctx = s.logg.WithCorrelationID(ctx, correlationID)
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"provider": s.provider.Name(),
		"network":  s.provider.Network(),
	})
	s.logg.Info(logCtx, "submitting transaction")

	txHash, err := s.provider.SendTransaction(ctx, tx)
	if err == nil {
		s.logg.Info(s.logg.WithField(ctx, "tx_hash", txHash), "transaction submitted")
		return txHash, nil
	}

	if errors.IsTransient(err) {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "transient submission failure, deferring to outbox")
		if enqErr := s.enqueueSubmit(ctx, tx); enqErr != nil {
			return "", fmt.Errorf("deferring transaction to outbox: %w", enqErr)
		}
		return "", err
	}

	s.logg.Error(ctx, "transaction submission failed", err)
	return "", err
}

// WaitForReceipt blocks until the transaction is mined or the provider's
// receipt retry budget runs out.
func (s *Service) WaitForReceipt(ctx context.Context, txHash string, correlationID string) (*chain.Receipt, error) {
	ctx = s.logg.WithCorrelationID(ctx, correlationID)
	s.logg.Info(s.logg.WithField(ctx, "tx_hash", txHash), "waiting for receipt")

	receipt, err := s.provider.GetReceipt(ctx, txHash)
	if err != nil {
		return nil, err
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"tx_hash": txHash,
		"status":  receipt.Status,
	})
	s.logg.Info(logCtx, "receipt received")
	return receipt, nil
}

// RecordEvidence appends an audit record and returns its digest. With
// enqueueAnchor the digest is additionally queued for on-chain anchoring.
func (s *Service) RecordEvidence(ctx context.Context, eventType string, payload any, enqueueAnchor bool, correlationID string) (string, error) {
	ctx = s.logg.WithCorrelationID(ctx, correlationID)

	digest, err := s.ledger.Record(ctx, eventType, payload)
	if err != nil {
		return "", err
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"type":   eventType,
		"sha256": digest,
	})
	s.logg.Info(logCtx, "evidence recorded")

	if enqueueAnchor {
		if err := s.enqueueAnchor(ctx, digest, eventType); err != nil {
			return "", fmt.Errorf("enqueueing digest anchor: %w", err)
		}
	}
	return digest, nil
}

func (s *Service) enqueueSubmit(ctx context.Context, tx chain.Transaction) error {
	raw, err := dispatch.EncodeSubmitTx(tx)
	if err != nil {
		return err
	}
	jobID, err := JobID(enums.OpSubmitTx, json.RawMessage(raw))
	if err != nil {
		return err
	}
	if err := s.outbox.Enqueue(ctx, jobID, enums.OpSubmitTx, raw, 0); err != nil {
		return err
	}
	s.logg.Info(s.logg.WithJobID(ctx, jobID), "transaction deferred to outbox")
	return nil
}

func (s *Service) enqueueAnchor(ctx context.Context, digest, eventType string) error {
	raw, err := dispatch.EncodeAnchorDigest(digest, eventType)
	if err != nil {
		return err
	}
	jobID, err := JobID(enums.OpAnchorDigest, json.RawMessage(raw))
	if err != nil {
		return err
	}
	if err := s.outbox.Enqueue(ctx, jobID, enums.OpAnchorDigest, raw, 0); err != nil {
		return err
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"job_id": jobID,
		"sha256": digest,
	})
	s.logg.Info(logCtx, "digest anchor enqueued")
	return nil
}

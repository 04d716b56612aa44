package dispatch

import (
	"context"
	"fmt"

	"github.com/calebmorten/anchorline/internal/chain"
	"github.com/calebmorten/anchorline/pkg/db/models"
	"github.com/calebmorten/anchorline/pkg/enums"
	"github.com/calebmorten/anchorline/pkg/errors"
	"github.com/calebmorten/anchorline/pkg/logger"
)

// HandlerParams wire the dispatcher to its collaborators.
type HandlerParams struct {
	Provider chain.Provider
	Anchorer chain.Anchorer
	Logger   *logger.Logger
}

// Handler executes one outbox item against the chain collaborators. It
// satisfies the processor's handler contract: errors it returns are already
// classified, and an unknown operation type is permanent because no retry
// will teach the dispatcher a new op.
type Handler struct {
	provider chain.Provider
	anchorer chain.Anchorer
	logg     *logger.Logger
}

func NewHandler(params HandlerParams) (*Handler, error) {
	if params.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if params.Anchorer == nil {
		return nil, fmt.Errorf("anchorer is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Handler{
		provider: params.Provider,
		anchorer: params.Anchorer,
		logg:     params.Logger,
	}, nil
}

// Handle dispatches the item by operation type.
func (h *Handler) Handle(ctx context.Context, item models.OutboxItem) error {
	ctx = h.logg.WithJobID(ctx, item.ID)

	switch item.OpType {
	case enums.OpSubmitTx:
		return h.submitTx(ctx, item)
	case enums.OpAnchorDigest:
		return h.anchorDigest(ctx, item)
	default:
		return errors.Permanentf("unknown op_type %q", item.OpType).WithCode("UNKNOWN_OP")
	}
}

func (h *Handler) submitTx(ctx context.Context, item models.OutboxItem) error {
	payload, err := DecodeSubmitTx(item.Payload)
	if err != nil {
		return err
	}

	txHash, err := h.provider.SendTransaction(ctx, *payload.Tx)
	if err != nil {
		return err
	}
	h.logg.Info(h.logg.WithField(ctx, "tx_hash", txHash), "outbox transaction submitted")
	return nil
}

func (h *Handler) anchorDigest(ctx context.Context, item models.OutboxItem) error {
	payload, err := DecodeAnchorDigest(item.Payload)
	if err != nil {
		return err
	}

	txHash, err := h.anchorer.AnchorDigest(ctx, payload.SHA256)
	if err != nil {
		return err
	}
	logCtx := h.logg.WithFields(ctx, map[string]any{
		"tx_hash": txHash,
		"sha256":  payload.SHA256,
	})
	h.logg.Info(logCtx, "outbox digest anchored")
	return nil
}

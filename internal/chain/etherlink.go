package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/calebmorten/anchorline/pkg/config"
	"github.com/calebmorten/anchorline/pkg/errors"
	"github.com/calebmorten/anchorline/pkg/logger"
	"github.com/calebmorten/anchorline/pkg/retry"
)

const providerName = "etherlink"

// Per-method retry policies. Receipt lookups get a longer budget because a
// transaction is usually mined within a few blocks of submission.
var (
	sendPolicy = retry.Policy{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
	recvPolicy = retry.Policy{MaxAttempts: 6, BaseDelay: time.Second, MaxDelay: 12 * time.Second}
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// EtherlinkProvider talks JSON-RPC to an Etherlink node. Failures are
// classified before they leave this package: rate limiting, gateway errors
// and network faults are transient, node-side rejections are permanent.
type EtherlinkProvider struct {
	endpoint string
	network  string
	client   *http.Client
	logg     *logger.Logger
	reqID    atomic.Uint64
}

// NewEtherlinkProvider builds a provider over the supplied HTTP client. A nil
// client falls back to a private pooled one.
func NewEtherlinkProvider(cfg config.ProviderConfig, client *http.Client, logg *logger.Logger) (*EtherlinkProvider, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("provider endpoint is required")
	}
	if client == nil {
		client = newPooledClient(cfg.RequestTimeout)
	}
	return &EtherlinkProvider{
		endpoint: cfg.Endpoint,
		network:  cfg.Network,
		client:   client,
		logg:     logg,
	}, nil
}

func (p *EtherlinkProvider) Name() string    { return providerName }
func (p *EtherlinkProvider) Network() string { return p.network }

// SendTransaction submits the transaction and returns its hash. A signed raw
// transaction goes through eth_sendRawTransaction, anything else through
// eth_sendTransaction.
func (p *EtherlinkProvider) SendTransaction(ctx context.Context, tx Transaction) (string, error) {
	var hash string
	err := retry.Do(ctx, p.logg, "chain.send_transaction", sendPolicy, func(ctx context.Context) error {
		var (
			result json.RawMessage
			err    error
		)
		if tx.Raw != "" {
			result, err = p.rpc(ctx, "eth_sendRawTransaction", tx.Raw)
		} else {
			result, err = p.rpc(ctx, "eth_sendTransaction", tx)
		}
		if err != nil {
			return err
		}
		if err := json.Unmarshal(result, &hash); err != nil {
			return errors.WrapPermanent("decoding transaction hash", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return hash, nil
}

// GetReceipt fetches the receipt for a mined transaction. A transaction the
// node does not know about yet reads as transient so the retry policy keeps
// polling until its attempt budget runs out.
func (p *EtherlinkProvider) GetReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	var receipt Receipt
	err := retry.Do(ctx, p.logg, "chain.get_receipt", recvPolicy, func(ctx context.Context) error {
		result, err := p.rpc(ctx, "eth_getTransactionReceipt", txHash)
		if err != nil {
			return err
		}
		if len(result) == 0 || string(result) == "null" {
			return errors.Transientf("receipt not available yet for %s", txHash).
				WithCode("RECEIPT_PENDING")
		}
		if err := json.Unmarshal(result, &receipt); err != nil {
			return errors.WrapPermanent("decoding receipt", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// Call performs a raw JSON-RPC request with the send retry policy.
func (p *EtherlinkProvider) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	var result json.RawMessage
	err := retry.Do(ctx, p.logg, "chain.call", sendPolicy, func(ctx context.Context) error {
		res, err := p.rpc(ctx, method, params...)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// rpc performs one JSON-RPC round trip and classifies any failure.
func (p *EtherlinkProvider) rpc(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      p.reqID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, errors.WrapPermanent("encoding rpc request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.WrapPermanent("building rpc request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, p.classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.classifyStatus(resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, p.classify(err)
	}

	var decoded rpcResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, errors.WrapPermanent("decoding rpc response", err)
	}
	if decoded.Error != nil {
		return nil, p.classifyRPCError(decoded.Error)
	}
	return decoded.Result, nil
}

func (p *EtherlinkProvider) classify(err error) error {
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return p.transient(err.Error())
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "502", "503", "504", "connection reset", "connection refused", "timed out", "timeout"} {
		if strings.Contains(msg, marker) {
			return p.transient(err.Error())
		}
	}
	return p.permanent(err.Error())
}

func (p *EtherlinkProvider) classifyStatus(status int) error {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return p.transient(fmt.Sprintf("rpc endpoint returned %d", status))
	default:
		return p.permanent(fmt.Sprintf("rpc endpoint returned %d", status))
	}
}

func (p *EtherlinkProvider) classifyRPCError(rpcErr *rpcError) error {
	msg := strings.ToLower(rpcErr.Message)
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "too many requests") {
		return p.transient(fmt.Sprintf("rpc error %d: %s", rpcErr.Code, rpcErr.Message))
	}
	return p.permanent(fmt.Sprintf("rpc error %d: %s", rpcErr.Code, rpcErr.Message))
}

func (p *EtherlinkProvider) transient(detail string) error {
	return errors.Transientf("transient rpc error: %s", detail).
		WithCode("TRANSIENT").
		WithContext(map[string]any{"provider": providerName, "endpoint": p.endpoint})
}

func (p *EtherlinkProvider) permanent(detail string) error {
	return errors.Permanentf("permanent rpc error: %s", detail).
		WithCode("PERMANENT").
		WithContext(map[string]any{"provider": providerName, "endpoint": p.endpoint})
}

package chain

import (
	"context"
	"encoding/json"
)

// Transaction is the wire form of a submission. When Raw is set it carries a
// signed raw transaction and the remaining fields are ignored.
type Transaction struct {
	Raw      string `json:"raw,omitempty"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
	Value    string `json:"value,omitempty"`
	Data     string `json:"data,omitempty"`
	Gas      string `json:"gas,omitempty"`
	GasPrice string `json:"gasPrice,omitempty"`
	Nonce    string `json:"nonce,omitempty"`
}

// Receipt is the mined-transaction receipt as returned by the node.
type Receipt struct {
	TxHash      string `json:"transactionHash"`
	BlockNumber string `json:"blockNumber"`
	BlockHash   string `json:"blockHash"`
	Status      string `json:"status"`
	GasUsed     string `json:"gasUsed"`
}

// Succeeded reports whether the transaction executed without reverting.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == "0x1"
}

// Provider exposes the node operations the rest of the system consumes. All
// failures are classified into the transient/permanent taxonomy by the
// implementation; callers steer retry behavior off that classification alone.
type Provider interface {
	Name() string
	Network() string
	SendTransaction(ctx context.Context, tx Transaction) (string, error)
	GetReceipt(ctx context.Context, txHash string) (*Receipt, error)
	Call(ctx context.Context, method string, params ...any) (json.RawMessage, error)
}

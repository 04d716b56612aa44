package enums

import "fmt"

// OpType is the closed set of operations an outbox item can carry. Handler
// dispatch resolves these through an explicit mapping, never raw string
// comparison at call sites.
type OpType string

const (
	// OpSubmitTx resubmits a prepared transaction to the chain provider.
	OpSubmitTx OpType = "submit_tx"
	// OpAnchorDigest anchors an evidence digest on-chain.
	OpAnchorDigest OpType = "anchor_digest"
)

var validOpTypes = []OpType{
	OpSubmitTx,
	OpAnchorDigest,
}

// IsValid reports whether the value matches a known operation type.
func (o OpType) IsValid() bool {
	for _, candidate := range validOpTypes {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseOpType converts raw input into OpType.
func ParseOpType(value string) (OpType, error) {
	for _, candidate := range validOpTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid op type %q", value)
}

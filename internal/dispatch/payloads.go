// Package dispatch routes due outbox items to the collaborator that can
// execute them, translating payloads and failures at the boundary.
package dispatch

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/calebmorten/anchorline/internal/chain"
	"github.com/calebmorten/anchorline/pkg/enums"
	"github.com/calebmorten/anchorline/pkg/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// SubmitTxPayload carries a transaction queued for submission.
type SubmitTxPayload struct {
	Tx *chain.Transaction `json:"tx" validate:"required"`
}

// AnchorDigestPayload carries an evidence digest queued for anchoring.
type AnchorDigestPayload struct {
	SHA256 string `json:"sha256" validate:"required,len=64,hexadecimal"`
	Type   string `json:"type" validate:"required"`
}

// decodePayload unmarshals strictly and validates. A payload that fails here
// can never succeed on redelivery, so every error is permanent.
func decodePayload(raw json.RawMessage, dest any) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return errors.WrapPermanent("invalid outbox payload", err).WithCode("BAD_PAYLOAD")
	}
	if err := validate.Struct(dest); err != nil {
		return errors.WrapPermanent("outbox payload failed validation", err).WithCode("BAD_PAYLOAD")
	}
	return nil
}

// DecodeSubmitTx parses and validates a submit_tx payload.
func DecodeSubmitTx(raw json.RawMessage) (*SubmitTxPayload, error) {
	var payload SubmitTxPayload
	if err := decodePayload(raw, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// DecodeAnchorDigest parses and validates an anchor_digest payload.
func DecodeAnchorDigest(raw json.RawMessage) (*AnchorDigestPayload, error) {
	var payload AnchorDigestPayload
	if err := decodePayload(raw, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// EncodeSubmitTx builds the persisted payload for a submit_tx item.
func EncodeSubmitTx(tx chain.Transaction) (json.RawMessage, error) {
	return json.Marshal(SubmitTxPayload{Tx: &tx})
}

// EncodeAnchorDigest builds the persisted payload for an anchor_digest item.
func EncodeAnchorDigest(digest, eventType string) (json.RawMessage, error) {
	return json.Marshal(AnchorDigestPayload{SHA256: digest, Type: eventType})
}

// SupportedOps lists the operation types this dispatcher understands.
func SupportedOps() []enums.OpType {
	return []enums.OpType{enums.OpSubmitTx, enums.OpAnchorDigest}
}

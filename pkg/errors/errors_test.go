package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestTransientClassification(t *testing.T) {
	err := Transient("rpc timeout").WithCode("TRANSIENT")
	if !IsTransient(err) {
		t.Fatal("expected transient classification")
	}
	if IsPermanent(err) {
		t.Fatal("transient error must not be permanent")
	}
	if err.Code() != "TRANSIENT" {
		t.Fatalf("unexpected code: %q", err.Code())
	}
}

func TestPermanentClassification(t *testing.T) {
	err := Permanentf("invalid address %q", "0x123")
	if !IsPermanent(err) {
		t.Fatal("expected permanent classification")
	}
	if IsTransient(err) {
		t.Fatal("permanent error must not be transient")
	}
}

func TestClassificationSurvivesWrapping(t *testing.T) {
	inner := Transient("connection reset")
	wrapped := fmt.Errorf("sending transaction: %w", inner)
	if !IsTransient(wrapped) {
		t.Fatal("classification should survive fmt.Errorf wrapping")
	}
	if !Classified(wrapped) {
		t.Fatal("wrapped error should still look classified")
	}
}

func TestUnclassifiedError(t *testing.T) {
	err := stdErrors.New("something unexpected")
	if IsTransient(err) || IsPermanent(err) {
		t.Fatal("plain errors carry no classification")
	}
	if Classified(err) {
		t.Fatal("plain errors are unclassified")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stdErrors.New("dial tcp: i/o timeout")
	err := WrapTransient("transient RPC error", cause)
	if !stdErrors.Is(err, cause) {
		t.Fatal("wrapped cause should be reachable via errors.Is")
	}
	if got := err.Error(); got != "transient RPC error: dial tcp: i/o timeout" {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestContextAttachment(t *testing.T) {
	err := Permanent("rejected").WithContext(map[string]any{"provider": "etherlink"})
	if err.Context()["provider"] != "etherlink" {
		t.Fatalf("context not preserved: %v", err.Context())
	}
}

package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func decodeLastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var entry map[string]any
	if err := json.Unmarshal(lines[len(lines)-1], &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	return entry
}

func TestContextFieldsAppearInOutput(t *testing.T) {
	var buf bytes.Buffer
	logg := New(Options{ServiceName: "test", Output: &buf})

	ctx := logg.WithFields(context.Background(), map[string]any{
		"job_id":  "abc",
		"attempt": 3,
	})
	logg.Info(ctx, "retry scheduled")

	entry := decodeLastLine(t, &buf)
	if entry["job_id"] != "abc" {
		t.Fatalf("missing job_id: %v", entry)
	}
	if entry["attempt"] != float64(3) {
		t.Fatalf("missing attempt: %v", entry)
	}
	if entry["service"] != "test" {
		t.Fatalf("missing service name: %v", entry)
	}
}

func TestWithCorrelationIDGeneratesWhenEmpty(t *testing.T) {
	var buf bytes.Buffer
	logg := New(Options{ServiceName: "test", Output: &buf})

	ctx := logg.WithCorrelationID(context.Background(), "")
	logg.Info(ctx, "started")

	entry := decodeLastLine(t, &buf)
	id, ok := entry["correlation_id"].(string)
	if !ok || id == "" {
		t.Fatalf("expected generated correlation id, got %v", entry)
	}
}

func TestErrorIncludesErrAndStack(t *testing.T) {
	var buf bytes.Buffer
	logg := New(Options{ServiceName: "test", Output: &buf})

	logg.Error(context.Background(), "boom", errors.New("dial timeout"))

	entry := decodeLastLine(t, &buf)
	if entry["error"] != "dial timeout" {
		t.Fatalf("missing error field: %v", entry)
	}
	if entry["stack"] == nil {
		t.Fatalf("missing stack field: %v", entry)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logg := New(Options{ServiceName: "test", Output: &buf, Level: zerolog.WarnLevel})

	logg.Info(context.Background(), "quiet")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level: %s", buf.String())
	}
	logg.Warn(context.Background(), "loud")
	if buf.Len() == 0 {
		t.Fatal("warn should pass at warn level")
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug") != zerolog.DebugLevel {
		t.Fatal("debug should parse")
	}
	if ParseLevel("") != zerolog.InfoLevel {
		t.Fatal("empty defaults to info")
	}
	if ParseLevel("nonsense") != zerolog.InfoLevel {
		t.Fatal("unknown defaults to info")
	}
}

package evidence

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebmorten/anchorline/pkg/clock"
	"github.com/calebmorten/anchorline/pkg/logger"
)

func newTestLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "evidence.jsonl")
	led, err := NewLedger(LedgerParams{
		Path:  path,
		Clock: clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	return led, path
}

func readLines(t *testing.T, path string) []Record {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())
	return records
}

func TestCanonicalDigestIgnoresKeyOrder(t *testing.T) {
	d1, err := Digest(json.RawMessage(`{"b":2,"a":1}`))
	require.NoError(t, err)
	d2, err := Digest(json.RawMessage(`{"a":1,"b":2}`))
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 64)
}

func TestCanonicalDigestDistinguishesValues(t *testing.T) {
	d1, err := Digest(map[string]any{"a": 1})
	require.NoError(t, err)
	d2, err := Digest(map[string]any{"a": 2})
	require.NoError(t, err)
	assert.NotEqual(t, d1, d2)
}

func TestCanonicalizeNestedAndWhitespace(t *testing.T) {
	c1, err := CanonicalizeRaw([]byte(`{ "outer": { "z": [1, 2], "a": "x" } }`))
	require.NoError(t, err)
	c2, err := CanonicalizeRaw([]byte(`{"outer":{"a":"x","z":[1,2]}}`))
	require.NoError(t, err)
	assert.Equal(t, string(c1), string(c2))
	assert.Equal(t, `{"outer":{"a":"x","z":[1,2]}}`, string(c1))
}

func TestCanonicalizePreservesNumberRepresentation(t *testing.T) {
	c, err := CanonicalizeRaw([]byte(`{"amount":10.50,"big":123456789012345678}`))
	require.NoError(t, err)
	assert.Equal(t, `{"amount":10.50,"big":123456789012345678}`, string(c))
}

func TestRecordAppendsOneLinePerCall(t *testing.T) {
	led, path := newTestLedger(t)
	ctx := context.Background()

	d1, err := led.Record(ctx, "tx_submitted", map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	d2, err := led.Record(ctx, "tx_submitted", map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	records := readLines(t, path)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, "tx_submitted", rec.Type)
		assert.Equal(t, d1, rec.SHA256)
		assert.Equal(t, "2025-06-01T12:00:00Z", rec.TS)
		assert.JSONEq(t, `{"a":1,"b":2}`, string(rec.Payload))
	}
}

func TestRecordRejectsBlankType(t *testing.T) {
	led, path := newTestLedger(t)

	_, err := led.Record(context.Background(), "   ", map[string]any{"a": 1})
	require.Error(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "rejected record must append nothing")
}

func TestRecordConcurrentWriters(t *testing.T) {
	led, path := newTestLedger(t)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := led.Record(ctx, "anchor_recorded", map[string]any{"writer": n})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	records := readLines(t, path)
	assert.Len(t, records, writers)
}

func TestRecordTrimsEventType(t *testing.T) {
	led, path := newTestLedger(t)

	_, err := led.Record(context.Background(), "  payment.settled  ", map[string]any{"a": 1})
	require.NoError(t, err)

	records := readLines(t, path)
	require.Len(t, records, 1)
	assert.Equal(t, "payment.settled", records[0].Type)
}

func newContendedLedger(t *testing.T, allowUnlocked bool) (*Ledger, string, *bytes.Buffer) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "evidence.jsonl")
	var buf bytes.Buffer
	led, err := NewLedger(LedgerParams{
		Path:          path,
		AllowUnlocked: allowUnlocked,
		Clock:         clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		Logger:        logger.New(logger.Options{ServiceName: "test", Output: &buf}),
	})
	require.NoError(t, err)
	return led, path, &buf
}

func TestAllowUnlockedWaitsOutBriefContention(t *testing.T) {
	led, path, buf := newContendedLedger(t, true)

	holder := flock.New(path + ".lock")
	locked, err := holder.TryLock()
	require.NoError(t, err)
	require.True(t, locked)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = holder.Unlock()
	}()

	_, err = led.Record(context.Background(), "tx_submitted", map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Len(t, readLines(t, path), 1)
	assert.NotContains(t, buf.String(), "appending unlocked",
		"a writer that just lost a race must not degrade to an unlocked append")
}

func TestAllowUnlockedDegradesWhenLockStaysHeld(t *testing.T) {
	led, path, buf := newContendedLedger(t, true)

	holder := flock.New(path + ".lock")
	locked, err := holder.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer holder.Unlock()

	_, err = led.Record(context.Background(), "tx_submitted", map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Len(t, readLines(t, path), 1)
	assert.Contains(t, buf.String(), "appending unlocked")
}

func TestLockedModeFailsWhenLockUnavailable(t *testing.T) {
	led, path, _ := newContendedLedger(t, false)

	holder := flock.New(path + ".lock")
	locked, err := holder.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer holder.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err = led.Record(ctx, "tx_submitted", map[string]any{"a": 1})
	require.ErrorContains(t, err, "acquiring ledger lock")

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestNewLedgerRequiresPath(t *testing.T) {
	_, err := NewLedger(LedgerParams{Path: "  "})
	require.Error(t, err)
}

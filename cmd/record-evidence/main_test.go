package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPayloadInline(t *testing.T) {
	payload, err := loadPayload(`{"order_id":"ord-1","total":"19.99"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"order_id":"ord-1","total":"19.99"}`, string(payload))
}

func TestLoadPayloadRejectsMalformedJSON(t *testing.T) {
	_, err := loadPayload(`{"order_id":`)
	require.ErrorContains(t, err, "not valid JSON")
}

func TestLoadPayloadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"kind":"refund"}`), 0o600))

	payload, err := loadPayload("@" + path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"refund"}`, string(payload))
}

func TestLoadPayloadMissingFile(t *testing.T) {
	_, err := loadPayload("@" + filepath.Join(t.TempDir(), "missing.json"))
	require.ErrorContains(t, err, "reading payload file")
}

func TestResolvePayloadPathConfined(t *testing.T) {
	base := t.TempDir()
	t.Setenv(payloadBaseEnv, base)

	nested := filepath.Join(base, "events")
	require.NoError(t, os.Mkdir(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "e.json"), []byte(`{}`), 0o600))

	got, err := resolvePayloadPath("events/e.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "events", "e.json"), got)

	_, err = resolvePayloadPath("../outside.json")
	require.ErrorContains(t, err, "escapes")

	_, err = resolvePayloadPath("events/../../etc/passwd")
	require.ErrorContains(t, err, "escapes")
}

func TestResolvePayloadPathUnconfined(t *testing.T) {
	t.Setenv(payloadBaseEnv, "")
	got, err := resolvePayloadPath("/tmp/anything.json")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/anything.json", got)
}

package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/calebmorten/anchorline/pkg/clock"
	"github.com/calebmorten/anchorline/pkg/logger"
)

const (
	lockRetryInterval = 50 * time.Millisecond
	allowUnlockedWait = 500 * time.Millisecond
)

// Record is one line of the ledger file. The key names are fixed for
// downstream tooling compatibility.
type Record struct {
	TS      string          `json:"ts"`
	Type    string          `json:"type"`
	SHA256  string          `json:"sha256"`
	Payload json.RawMessage `json:"payload"`
}

// Ledger appends hash-addressed audit records to a JSONL file. The file is
// only ever opened in append mode, one record per line, and writes are
// serialized across processes with an advisory lock on a sidecar .lock file.
type Ledger struct {
	path          string
	allowUnlocked bool
	clock         clock.Clock
	logg          *logger.Logger
}

type LedgerParams struct {
	Path string
	// AllowUnlocked lets an append proceed when the advisory lock cannot be
	// acquired. The resulting interleaving race is accepted and logged, not
	// hidden; leave this off unless the filesystem has no lock support.
	AllowUnlocked bool
	Clock         clock.Clock
	Logger        *logger.Logger
}

func NewLedger(params LedgerParams) (*Ledger, error) {
	if strings.TrimSpace(params.Path) == "" {
		return nil, errors.New("ledger path is required")
	}
	clk := params.Clock
	if clk == nil {
		clk = clock.System{}
	}
	return &Ledger{
		path:          params.Path,
		allowUnlocked: params.AllowUnlocked,
		clock:         clk,
		logg:          params.Logger,
	}, nil
}

// Record canonicalizes the payload, digests it and durably appends one line
// to the ledger. It returns the lowercase hex digest of the canonical bytes.
func (l *Ledger) Record(ctx context.Context, eventType string, payload any) (string, error) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return "", errors.New("evidence type must be a non-empty string")
	}

	canonical, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	digest := hex.EncodeToString(sum[:])

	record := Record{
		TS:      l.clock.Now().Format(time.RFC3339),
		Type:    eventType,
		SHA256:  digest,
		Payload: canonical,
	}
	line, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("marshaling evidence record: %w", err)
	}

	if err := l.append(ctx, append(line, '\n')); err != nil {
		return "", err
	}
	return digest, nil
}

func (l *Ledger) append(ctx context.Context, line []byte) error {
	lock := flock.New(l.path + ".lock")
	var (
		locked  bool
		lockErr error
	)
	if l.allowUnlocked {
		// Wait out momentary contention from a healthy writer before
		// degrading; the unlocked fallback is for lock acquisition that
		// stays unavailable, not for losing a race.
		waitCtx, cancel := context.WithTimeout(ctx, allowUnlockedWait)
		locked, lockErr = lock.TryLockContext(waitCtx, lockRetryInterval)
		cancel()
	} else {
		locked, lockErr = lock.TryLockContext(ctx, lockRetryInterval)
	}
	if lockErr != nil || !locked {
		if !l.allowUnlocked {
			return fmt.Errorf("acquiring ledger lock: %w", lockErr)
		}
		if l.logg != nil {
			l.logg.Warn(l.logg.WithField(ctx, "path", l.path), "ledger lock unavailable, appending unlocked")
		}
	} else {
		defer func() {
			_ = lock.Unlock()
		}()
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("appending evidence record: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing ledger: %w", err)
	}
	return nil
}

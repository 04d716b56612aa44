package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/calebmorten/anchorline/internal/anchoring"
	"github.com/calebmorten/anchorline/internal/chain"
	"github.com/calebmorten/anchorline/pkg/config"
	"github.com/calebmorten/anchorline/pkg/db"
	"github.com/calebmorten/anchorline/pkg/env"
	"github.com/calebmorten/anchorline/pkg/evidence"
	"github.com/calebmorten/anchorline/pkg/logger"
	"github.com/calebmorten/anchorline/pkg/migrate"
	"github.com/calebmorten/anchorline/pkg/outbox"
)

// payloadBaseEnv restricts @file payload reads to a directory subtree when
// set. The CLI can be driven by automation that passes untrusted paths.
const payloadBaseEnv = "ANCHORLINE_EVIDENCE_PAYLOAD_BASE"

func main() {
	logg := logger.New(logger.Options{ServiceName: "record-evidence"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	eventType := flag.String("type", "", "evidence event type, e.g. payment.settled")
	payloadArg := flag.String("payload", "", "JSON payload, inline or @path/to/file.json")
	anchor := flag.Bool("anchor", false, "also queue the digest for on-chain anchoring")
	correlationID := flag.String("correlation-id", "", "correlation id attached to log lines")
	flag.Parse()

	if *eventType == "" {
		fmt.Fprintln(os.Stderr, "missing -type")
		os.Exit(1)
	}
	if *payloadArg == "" {
		fmt.Fprintln(os.Stderr, "missing -payload")
		os.Exit(1)
	}

	payload, err := loadPayload(*payloadArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid payload: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "record-evidence",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := context.Background()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	provider, err := chain.NewFactory(cfg.Provider.RequestTimeout, logg).Provider(cfg.Provider)
	if err != nil {
		logg.Error(ctx, "failed to build chain provider", err)
		os.Exit(1)
	}

	repo, err := outbox.NewRepository(dbClient.DB(), nil)
	if err != nil {
		logg.Error(ctx, "failed to build outbox repository", err)
		os.Exit(1)
	}

	ledger, err := evidence.NewLedger(evidence.LedgerParams{
		Path:          cfg.Evidence.Path,
		AllowUnlocked: cfg.Evidence.AllowUnlocked,
		Logger:        logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to open evidence ledger", err)
		os.Exit(1)
	}

	service, err := anchoring.NewService(anchoring.ServiceParams{
		Provider: provider,
		Outbox:   repo,
		Ledger:   ledger,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to build anchoring service", err)
		os.Exit(1)
	}

	digest, err := service.RecordEvidence(ctx, *eventType, payload, *anchor, *correlationID)
	if err != nil {
		logg.Error(ctx, "failed to record evidence", err)
		os.Exit(1)
	}

	fmt.Println(digest)
}

// loadPayload parses the inline JSON argument, or reads it from a file when
// the argument starts with @.
func loadPayload(arg string) (json.RawMessage, error) {
	raw := []byte(arg)
	if strings.HasPrefix(arg, "@") {
		path, err := resolvePayloadPath(strings.TrimPrefix(arg, "@"))
		if err != nil {
			return nil, err
		}
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading payload file: %w", err)
		}
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

// resolvePayloadPath confines file payloads to the configured base directory
// when one is set.
func resolvePayloadPath(path string) (string, error) {
	base := env.Get(payloadBaseEnv, "")
	if base == "" {
		return path, nil
	}

	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("resolving payload base: %w", err)
	}
	abs, err := filepath.Abs(filepath.Join(absBase, path))
	if err != nil {
		return "", fmt.Errorf("resolving payload path: %w", err)
	}
	if abs != absBase && !strings.HasPrefix(abs, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("payload path %q escapes %s", path, payloadBaseEnv)
	}
	return abs, nil
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/MikeSquared-Agency/convoseg/internal/config"
	"github.com/MikeSquared-Agency/convoseg/internal/features"
	"github.com/MikeSquared-Agency/convoseg/internal/normalize"
)

const usage = `usage: convoseg <command> [flags]

commands:
  normalize   parse an export and write canonical records (JSON Lines)
  segment     group canonical records into conversation segments
  run         normalize and segment in one pass, write a run report
  summarize   write a short summary per segment (model-backed when ANTHROPIC_API_KEY is set)
  validate    check canonical records for schema compliance
  serve       start the HTTP API

Run "convoseg <command> -h" for command flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.Load()
	logger := cfg.SetupLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "normalize":
		err = runNormalize(ctx, cfg, logger, args)
	case "segment":
		err = runSegment(ctx, cfg, logger, args)
	case "run":
		err = runAll(ctx, cfg, logger, args)
	case "summarize":
		err = runSummarize(ctx, cfg, logger, args)
	case "validate":
		err = runValidate(cfg, args)
	case "serve":
		err = runServe(ctx, cfg, logger, args)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		logger.Error().Err(err).Str("command", cmd).Msg("command failed")
		stop()
		os.Exit(1)
	}
}

// stages builds the normalizer and feature extractor from configuration.
func stages(cfg config.Config, logger zerolog.Logger) (*normalize.Normalizer, *features.Extractor, error) {
	vocab, err := features.LoadVocabulary(cfg.VocabularyPath)
	if err != nil {
		return nil, nil, err
	}
	ext, err := features.New(vocab)
	if err != nil {
		return nil, nil, err
	}
	logger.Debug().Str("vocabulary_version", vocab.Version).Msg("vocabulary loaded")

	n := normalize.New(normalize.Options{
		SchemaVersion:  cfg.SchemaVersion,
		SourceDeviceID: cfg.SourceDeviceID,
	})
	return n, ext, nil
}

// openInput opens path for reading; "" and "-" mean stdin.
func openInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	return f, nil
}

// createOutput creates path and its parent directories; "-" means stdout.
func createOutput(path string) (io.WriteCloser, error) {
	if path == "-" {
		return nopWriteCloser{os.Stdout}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	return f, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

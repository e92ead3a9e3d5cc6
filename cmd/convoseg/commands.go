package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/MikeSquared-Agency/convoseg/internal/api"
	"github.com/MikeSquared-Agency/convoseg/internal/config"
	"github.com/MikeSquared-Agency/convoseg/internal/hermes"
	"github.com/MikeSquared-Agency/convoseg/internal/notify"
	"github.com/MikeSquared-Agency/convoseg/internal/pipeline"
	"github.com/MikeSquared-Agency/convoseg/internal/segment"
	"github.com/MikeSquared-Agency/convoseg/internal/store"
	"github.com/MikeSquared-Agency/convoseg/internal/summarize"
	"github.com/MikeSquared-Agency/convoseg/internal/validate"
)

func segmentFlags(fs *flag.FlagSet, cfg config.Config) func() (segment.Options, error) {
	gap := fs.Duration("gap", cfg.GapThreshold, "largest gap that keeps messages in one segment")
	sortInput := fs.Bool("sort", cfg.SortInput, "sort records by timestamp before segmenting")
	return func() (segment.Options, error) {
		if err := segment.ValidateGap(*gap); err != nil {
			return segment.Options{}, fmt.Errorf("-gap: %w", err)
		}
		return segment.Options{GapThreshold: *gap, SortInput: *sortInput}, nil
	}
}

func runNormalize(ctx context.Context, cfg config.Config, logger zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("normalize", flag.ExitOnError)
	in := fs.String("in", cfg.Input, "concatenated JSON export (- for stdin)")
	out := fs.String("out", cfg.Output, "canonical records output (- for stdout)")
	fs.StringVar(&cfg.SchemaVersion, "schema-version", cfg.SchemaVersion, "schema version stamped on records")
	fs.StringVar(&cfg.SourceDeviceID, "device", cfg.SourceDeviceID, "source device id stamped on records")
	_ = fs.Parse(args)

	n, ext, err := stages(cfg, logger)
	if err != nil {
		return err
	}
	r, err := openInput(*in)
	if err != nil {
		return err
	}
	defer r.Close()
	w, err := createOutput(*out)
	if err != nil {
		return err
	}

	runner := pipeline.NewRunner(n, ext, segment.DefaultOptions(), logger)
	res, err := runner.Normalize(ctx, r, w)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "normalize: %d records, %d written, %d skipped, %d duplicates, %d warnings, %d errors\n",
		res.Records, res.Written, res.Skipped, res.Duplicates, res.Issues.Warnings(), res.Issues.Errors())
	return nil
}

func runSegment(ctx context.Context, cfg config.Config, logger zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("segment", flag.ExitOnError)
	in := fs.String("in", cfg.Output, "canonical records (- for stdin)")
	out := fs.String("out", cfg.SegmentsOutput, "segments output (- for stdout)")
	segOpts := segmentFlags(fs, cfg)
	_ = fs.Parse(args)
	opts, err := segOpts()
	if err != nil {
		return err
	}

	n, ext, err := stages(cfg, logger)
	if err != nil {
		return err
	}
	r, err := openInput(*in)
	if err != nil {
		return err
	}
	defer r.Close()
	w, err := createOutput(*out)
	if err != nil {
		return err
	}

	runner := pipeline.NewRunner(n, ext, opts, logger)
	res, err := runner.Segment(ctx, r, w)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	printSegmentation(res.Messages, res.Summary)
	return nil
}

func runAll(ctx context.Context, cfg config.Config, logger zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	in := fs.String("in", cfg.Input, "concatenated JSON export (- for stdin)")
	out := fs.String("out", cfg.Output, "canonical records output")
	segOut := fs.String("segments", cfg.SegmentsOutput, "segments output")
	segOpts := segmentFlags(fs, cfg)
	useStore := fs.Bool("store", false, "also write records and segments to DATABASE_URL")
	publish := fs.Bool("publish", cfg.NatsURL != "", "publish the run report to NATS_URL")
	_ = fs.Parse(args)
	opts, err := segOpts()
	if err != nil {
		return err
	}

	n, ext, err := stages(cfg, logger)
	if err != nil {
		return err
	}
	runner := pipeline.NewRunner(n, ext, opts, logger)

	if *useStore {
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			return err
		}
		runner.SetSink(db)
		logger.Info().Msg("database connected")
	}

	r, err := openInput(*in)
	if err != nil {
		return err
	}
	defer r.Close()
	recW, err := createOutput(*out)
	if err != nil {
		return err
	}
	segW, err := createOutput(*segOut)
	if err != nil {
		recW.Close()
		return err
	}

	rep, runErr := runner.Run(ctx, r, recW, segW)
	closeErr := errors.Join(recW.Close(), segW.Close())
	rep.Input, rep.RecordsOutput, rep.SegmentsOutput = *in, *out, *segOut

	if *out != "-" {
		if err := rep.Save(pipeline.ReportPath(*out)); err != nil {
			logger.Warn().Err(err).Msg("failed to save run report")
		}
	}
	if err := errors.Join(runErr, closeErr); err != nil {
		return err
	}

	if *publish {
		if err := publishReport(cfg, logger, rep); err != nil {
			logger.Warn().Err(err).Msg("failed to publish run report")
		}
	}
	if cfg.SlackToken != "" && cfg.SlackChannel != "" {
		poster := notify.NewPoster(cfg.SlackToken, cfg.SlackChannel, logger)
		if _, err := poster.PostRunSummary(ctx, rep); err != nil {
			logger.Warn().Err(err).Msg("failed to post run summary to slack")
		}
	}

	fmt.Fprintf(os.Stderr, "\n=== Run %s ===\n", rep.RunID)
	fmt.Fprintf(os.Stderr, "Records: %d located, %d written, %d skipped, %d duplicates\n",
		rep.Records, rep.Written, rep.Skipped, rep.Duplicates)
	if *useStore {
		fmt.Fprintf(os.Stderr, "Stored: %d new records\n", rep.Stored)
	}
	fmt.Fprintf(os.Stderr, "Issues: %d warnings, %d errors\n", rep.Warnings, rep.Errors)
	printSegmentation(rep.Segmentation.Messages, rep.Segmentation)
	if *out != "-" {
		fmt.Fprintf(os.Stderr, "Report: %s\n", pipeline.ReportPath(*out))
	}
	return nil
}

func publishReport(cfg config.Config, logger zerolog.Logger, rep *pipeline.Report) error {
	if cfg.NatsURL == "" {
		return errors.New("NATS_URL not set")
	}
	client, err := hermes.NewClient(cfg.NatsURL, cfg.NatsToken, logger)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.PublishRunCompleted(rep)
}

func printSegmentation(messages int, sum segment.Summary) {
	fmt.Fprintf(os.Stderr, "Segments: %d from %d records (small %d, medium %d, large %d)\n",
		sum.Segments, messages, sum.Small, sum.Medium, sum.Large)
	fmt.Fprintf(os.Stderr, "Mean size: %.1f messages, mean duration: %.1f min, dates: %d, unparsed: %d\n",
		sum.MeanSize, sum.MeanDurationMinutes, len(sum.ByDate), sum.Unparsed)
}

func runSummarize(ctx context.Context, cfg config.Config, logger zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("summarize", flag.ExitOnError)
	in := fs.String("in", cfg.SegmentsOutput, "segments (- for stdin)")
	out := fs.String("out", "", "summaries output (default: derived from -in, e.g. segments_summaries.jsonl)")
	limit := fs.Int("max", cfg.SummaryLimit, "segments to summarize, 0 for all")
	model := fs.String("model", cfg.SummaryModel, "model used when ANTHROPIC_API_KEY is set")
	_ = fs.Parse(args)

	if *out == "" {
		if *in == "" || *in == "-" {
			*out = "-"
		} else {
			*out = summarize.OutputPath(*in)
		}
	}

	var llm summarize.Completer
	if cfg.AnthropicAPIKey != "" {
		llm = summarize.NewClient(cfg.AnthropicAPIKey, *model)
		logger.Info().Str("model", *model).Msg("anthropic client ready")
	} else {
		logger.Info().Msg("ANTHROPIC_API_KEY not set, writing placeholder summaries")
	}

	r, err := openInput(*in)
	if err != nil {
		return err
	}
	defer r.Close()
	w, err := createOutput(*out)
	if err != nil {
		return err
	}

	res, err := summarize.New(llm, logger).Run(ctx, r, w, *limit)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "summarize: %d segments, %d generated, %d placeholders, %d skipped\n",
		res.Segments, res.Generated, res.Placeholders, res.Skipped)
	if *out != "-" {
		fmt.Fprintf(os.Stderr, "Summaries: %s\n", *out)
	}
	return nil
}

func runValidate(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	in := fs.String("in", cfg.Output, "canonical records to check (- for stdin)")
	maxErrors := fs.Int("max-errors", 50, "problems to print before truncating")
	_ = fs.Parse(args)

	r, err := openInput(*in)
	if err != nil {
		return err
	}
	defer r.Close()

	sum, err := validate.File(r)
	if err != nil {
		return err
	}

	for i, e := range sum.Errors {
		if i == *maxErrors {
			fmt.Fprintf(os.Stderr, "... %d more\n", len(sum.Errors)-i)
			break
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", e)
	}
	fmt.Fprintf(os.Stderr, "Records: %d, invalid: %d\n", sum.Records, sum.Invalid)
	fmt.Fprintf(os.Stderr, "Schema versions: %v\nSender kinds: %v\n", sum.SchemaVersions, sum.SenderKinds)

	if !sum.OK() {
		return fmt.Errorf("%d of %d records failed validation", sum.Invalid, sum.Records)
	}
	return nil
}

func runServe(ctx context.Context, cfg config.Config, logger zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.Int("port", cfg.Port, "listen port")
	segOpts := segmentFlags(fs, cfg)
	_ = fs.Parse(args)
	opts, err := segOpts()
	if err != nil {
		return err
	}

	n, ext, err := stages(cfg, logger)
	if err != nil {
		return err
	}
	srv := api.NewServer(api.Config{
		Port:       *port,
		Version:    config.Version,
		ReportPath: pipeline.ReportPath(cfg.Output),
		Segment:    opts,
	}, n, ext, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

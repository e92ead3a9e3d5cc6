// Package pipeline threads records through parse, normalize, feature
// extraction and segmentation, collecting per-record issues as it goes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/MikeSquared-Agency/convoseg/internal/features"
	"github.com/MikeSquared-Agency/convoseg/internal/issue"
	"github.com/MikeSquared-Agency/convoseg/internal/jsonl"
	"github.com/MikeSquared-Agency/convoseg/internal/message"
	"github.com/MikeSquared-Agency/convoseg/internal/normalize"
	"github.com/MikeSquared-Agency/convoseg/internal/parser"
	"github.com/MikeSquared-Agency/convoseg/internal/segment"
)

// Sink receives finished records and segments, e.g. a database.
type Sink interface {
	WriteMessages(ctx context.Context, msgs []message.Message) (int, error)
	WriteSegments(ctx context.Context, runID string, segs []message.Segment) error
}

// StageResult is what the normalize stage returns instead of keeping
// counters in shared state.
type StageResult struct {
	Records    int // objects located in the input
	Written    int
	Skipped    int
	Duplicates int
	Issues     issue.Log
}

// SegmentResult is what the segment stage returns.
type SegmentResult struct {
	Messages int
	Summary  segment.Summary
	Issues   issue.Log
}

// Runner holds the configured stages. A Runner may be reused for several
// runs but not concurrently.
type Runner struct {
	normalizer *normalize.Normalizer
	extractor  *features.Extractor
	segOpts    segment.Options
	sink       Sink
	logger     zerolog.Logger
}

func NewRunner(n *normalize.Normalizer, ext *features.Extractor, opts segment.Options, logger zerolog.Logger) *Runner {
	return &Runner{
		normalizer: n,
		extractor:  ext,
		segOpts:    opts,
		logger:     logger.With().Str("component", "pipeline").Logger(),
	}
}

// SetSink attaches an optional sink used by Run.
func (r *Runner) SetSink(s Sink) { r.sink = s }

// Normalize parses concatenated JSON objects from in and writes canonical
// records with features to out as JSON Lines. Only I/O failures and context
// cancellation are returned as errors.
func (r *Runner) Normalize(ctx context.Context, in io.Reader, out io.Writer) (StageResult, error) {
	w := jsonl.NewWriter(out)
	res, err := r.normalize(ctx, in, w.Write)
	if ferr := w.Flush(); err == nil {
		err = ferr
	}
	return res, err
}

func (r *Runner) normalize(ctx context.Context, in io.Reader, emit func(any) error) (StageResult, error) {
	var res StageResult
	seen := make(map[string]string)
	sc := parser.New(in)

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		raw, err := sc.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *parser.ParseError
			if !errors.As(err, &pe) {
				return res, err
			}
			if pe.Index > 0 {
				res.Skipped++
			}
			r.report(&res.Issues, issue.Error(pe.Ref(), issue.KindParse, "%s", pe.Error()))
			continue
		}

		ref := sc.Ref()
		msg, issues, err := r.normalizer.Normalize(ref, raw)
		r.report(&res.Issues, issues...)
		if err != nil {
			res.Skipped++
			r.report(&res.Issues, issue.Error(ref, issue.KindNormalize, "%s", err.Error()))
			continue
		}

		if first, ok := seen[msg.Fingerprint]; ok {
			msg.DuplicateOf = first
			res.Duplicates++
			r.report(&res.Issues, issue.Warning(msg.ID, issue.KindDuplicate, "same fingerprint as %s", first))
		} else {
			seen[msg.Fingerprint] = msg.ID
		}

		r.extractor.Enrich(&msg)
		if err := emit(msg); err != nil {
			return res, fmt.Errorf("write record %s: %w", msg.ID, err)
		}
		res.Written++
	}

	res.Records = sc.Index()
	r.logger.Info().
		Int("records", res.Records).
		Int("written", res.Written).
		Int("skipped", res.Skipped).
		Int("duplicates", res.Duplicates).
		Msg("normalize complete")
	return res, nil
}

// Segment reads canonical records from in and writes segments to out.
// Malformed lines are reported and skipped. With sorting disabled records
// stream through the incremental segmenter and out-of-order input fails
// with *segment.InputError.
func (r *Runner) Segment(ctx context.Context, in io.Reader, out io.Writer) (SegmentResult, error) {
	var res SegmentResult
	rd := jsonl.NewReader(in)
	next := func() (message.Message, error) {
		for {
			var m message.Message
			err := rd.Next(&m)
			var le *jsonl.LineError
			if errors.As(err, &le) {
				r.report(&res.Issues, issue.Error(fmt.Sprintf("line %d", le.Line), issue.KindParse, "%v", le.Err))
				continue
			}
			return m, err
		}
	}

	w := jsonl.NewWriter(out)
	segs, err := r.segment(ctx, next, w.Write, &res)
	if ferr := w.Flush(); err == nil {
		err = ferr
	}
	if err != nil {
		return res, err
	}
	res.Summary = segment.Summarize(segs)
	return res, nil
}

// segment returns the emitted segments so callers can summarize or sink them.
func (r *Runner) segment(ctx context.Context, next func() (message.Message, error), emit func(any) error, res *SegmentResult) ([]message.Segment, error) {
	var out []message.Segment
	write := func(segs []message.Segment) error {
		for _, seg := range segs {
			if err := emit(seg); err != nil {
				return fmt.Errorf("write segment %d: %w", seg.ID, err)
			}
		}
		out = append(out, segs...)
		return nil
	}

	if !r.segOpts.SortInput {
		s := segment.NewSegmenter(r.segOpts)
		for {
			if err := ctx.Err(); err != nil {
				return out, err
			}
			m, err := next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return out, err
			}
			res.Messages++
			segs, err := s.Push(m)
			if err != nil {
				r.report(&res.Issues, issue.Error(m.ID, issue.KindSegmentationInput, "%s", err.Error()))
				return out, err
			}
			if err := write(segs); err != nil {
				return out, err
			}
		}
		return out, write(s.Flush())
	}

	var msgs []message.Message
	for {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		m, err := next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, err
		}
		msgs = append(msgs, m)
	}
	res.Messages = len(msgs)

	result, err := segment.Segment(msgs, r.segOpts)
	if err != nil {
		return out, err
	}
	if result.Reordered > 0 {
		r.report(&res.Issues, issue.Warning("input", issue.KindSegmentationInput,
			"%d records were out of timestamp order and have been sorted", result.Reordered))
	}
	return out, write(result.Segments)
}

// Run normalizes in, writes records and segments, and hands both to the
// sink when one is set. The returned report is filled in even on error.
func (r *Runner) Run(ctx context.Context, in io.Reader, records, segments io.Writer) (*Report, error) {
	rep := NewReport()
	rep.VocabularyVersion = r.extractor.VocabularyVersion()
	defer rep.finish()

	var msgs []message.Message
	rw := jsonl.NewWriter(records)
	norm, err := r.normalize(ctx, in, func(v any) error {
		msgs = append(msgs, v.(message.Message))
		return rw.Write(v)
	})
	if ferr := rw.Flush(); err == nil {
		err = ferr
	}
	rep.addNormalize(norm)
	if err != nil {
		return rep, fmt.Errorf("normalize: %w", err)
	}

	i := 0
	next := func() (message.Message, error) {
		if i >= len(msgs) {
			return message.Message{}, io.EOF
		}
		i++
		return msgs[i-1], nil
	}
	var segRes SegmentResult
	sw := jsonl.NewWriter(segments)
	segs, err := r.segment(ctx, next, sw.Write, &segRes)
	if ferr := sw.Flush(); err == nil {
		err = ferr
	}
	segRes.Summary = segment.Summarize(segs)
	rep.addSegment(segRes)
	if err != nil {
		return rep, fmt.Errorf("segment: %w", err)
	}

	if r.sink != nil {
		n, err := r.sink.WriteMessages(ctx, msgs)
		if err != nil {
			return rep, fmt.Errorf("sink messages: %w", err)
		}
		if err := r.sink.WriteSegments(ctx, rep.RunID, segs); err != nil {
			return rep, fmt.Errorf("sink segments: %w", err)
		}
		rep.Stored = n
	}

	r.logger.Info().
		Str("run_id", rep.RunID).
		Int("records", rep.Records).
		Int("segments", segRes.Summary.Segments).
		Int("warnings", rep.Warnings).
		Int("errors", rep.Errors).
		Msg("run complete")
	return rep, nil
}

func (r *Runner) report(log *issue.Log, issues ...issue.Issue) {
	for _, is := range issues {
		r.logger.Warn().
			Str("ref", is.Ref).
			Str("kind", string(is.Kind)).
			Str("severity", string(is.Severity)).
			Msg(is.Message)
	}
	log.Add(issues...)
}

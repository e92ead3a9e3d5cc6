// Package summarize writes a short summary for each conversation segment.
// Summaries come from a language model when one is configured; otherwise,
// or when the model call fails, a placeholder built from the segment's
// metadata is used.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/MikeSquared-Agency/convoseg/internal/jsonl"
	"github.com/MikeSquared-Agency/convoseg/internal/message"
	"github.com/MikeSquared-Agency/convoseg/internal/segment"
)

const (
	// DefaultMaxTokens bounds the length of a generated summary.
	DefaultMaxTokens = 1000
	// OutputSuffix replaces ".jsonl" on the segments path to name the
	// summaries file.
	OutputSuffix = "_summaries.jsonl"

	maxAttempts    = 3
	defaultBackoff = time.Second
	timeLayout     = "03:04 PM"
)

const systemPrompt = "You summarize conversation segments, focusing on the dynamic between 'Me' " +
	"and the other participant. If you can tell who the other person is, use their name. " +
	"Answer with the summary text only."

// Completer returns model text for a conversation. *Client implements it.
type Completer interface {
	Complete(ctx context.Context, system string, messages []Message, maxTokens int) (string, error)
}

// Summary is one output record.
type Summary struct {
	Date         string           `json:"date"`
	Timeframe    string           `json:"timeframe"`
	Summary      string           `json:"summary"`
	SegmentID    int              `json:"segment_id"`
	MessageCount int              `json:"message_count"`
	Participants []message.Sender `json:"participants"`
	GPTGenerated bool             `json:"gpt_generated"`
}

// Result counts what Run produced.
type Result struct {
	Segments     int
	Generated    int
	Placeholders int
	Skipped      int
}

type Summarizer struct {
	llm       Completer
	logger    zerolog.Logger
	maxTokens int
	backoff   time.Duration
}

// New returns a Summarizer. A nil llm writes placeholders only.
func New(llm Completer, logger zerolog.Logger) *Summarizer {
	return &Summarizer{
		llm:       llm,
		logger:    logger,
		maxTokens: DefaultMaxTokens,
		backoff:   defaultBackoff,
	}
}

// OutputPath names the summaries file for a segments file.
func OutputPath(segmentsPath string) string {
	return strings.TrimSuffix(segmentsPath, ".jsonl") + OutputSuffix
}

// Summarize never fails: model errors fall back to the placeholder.
func (s *Summarizer) Summarize(ctx context.Context, seg message.Segment) Summary {
	sum := Summary{
		Date:         seg.Date,
		Timeframe:    Timeframe(seg),
		SegmentID:    seg.ID,
		MessageCount: seg.MessageCount,
		Participants: seg.Participants,
	}
	if sum.Participants == nil {
		sum.Participants = []message.Sender{}
	}

	if s.llm != nil {
		text, err := s.complete(ctx, seg)
		if err == nil {
			sum.Summary = text
			sum.GPTGenerated = true
			return sum
		}
		s.logger.Warn().Err(err).Int("segment_id", seg.ID).Msg("summary generation failed, using placeholder")
	}
	sum.Summary = Placeholder(seg, sum.Timeframe)
	return sum
}

func (s *Summarizer) complete(ctx context.Context, seg message.Segment) (string, error) {
	msgs := []Message{{Role: "user", Content: Prompt(seg)}}
	wait := s.backoff
	for attempt := 1; ; attempt++ {
		text, err := s.llm.Complete(ctx, systemPrompt, msgs, s.maxTokens)
		if err == nil {
			text = strings.TrimSpace(text)
			if text == "" {
				return "", errors.New("empty summary")
			}
			return text, nil
		}

		var apiErr *APIError
		if attempt == maxAttempts || !errors.As(err, &apiErr) || !apiErr.Retryable() {
			return "", err
		}
		s.logger.Warn().Err(err).Int("segment_id", seg.ID).Int("attempt", attempt).
			Dur("wait", wait).Msg("summary request throttled, retrying")
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
}

// Run reads segments from in and writes one Summary per segment to out.
// It stops after limit segments when limit > 0. Malformed lines are skipped.
func (s *Summarizer) Run(ctx context.Context, in io.Reader, out io.Writer, limit int) (Result, error) {
	var res Result
	r := jsonl.NewReader(in)
	w := jsonl.NewWriter(out)

	for limit <= 0 || res.Segments < limit {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		var seg message.Segment
		err := r.Next(&seg)
		if errors.Is(err, io.EOF) {
			break
		}
		var lineErr *jsonl.LineError
		if errors.As(err, &lineErr) {
			res.Skipped++
			s.logger.Warn().Err(err).Int("line", lineErr.Line).Msg("skipping malformed segment")
			continue
		}
		if err != nil {
			return res, err
		}

		res.Segments++
		sum := s.Summarize(ctx, seg)
		if sum.GPTGenerated {
			res.Generated++
		} else {
			res.Placeholders++
		}
		if err := w.Write(sum); err != nil {
			return res, err
		}
	}
	if err := w.Flush(); err != nil {
		return res, err
	}

	s.logger.Info().
		Int("segments", res.Segments).
		Int("generated", res.Generated).
		Int("placeholders", res.Placeholders).
		Int("skipped", res.Skipped).
		Msg("summaries written")
	return res, nil
}

// Timeframe renders the segment's clock span, e.g. "09:00 AM - 09:05 AM".
func Timeframe(seg message.Segment) string {
	start, okStart := seg.StartTime.Time()
	end, okEnd := seg.EndTime.Time()
	switch {
	case okStart && okEnd:
		return start.Format(timeLayout) + " - " + end.Format(timeLayout)
	case seg.StartTime.String() != "" && seg.EndTime.String() != "":
		return seg.StartTime.String() + " to " + seg.EndTime.String()
	default:
		return "Unknown timeframe"
	}
}

// Placeholder describes a segment from its metadata alone.
func Placeholder(seg message.Segment, timeframe string) string {
	date := seg.Date
	if date == "" {
		date = "an unknown date"
	}
	size := "substantial"
	if seg.MessageCount <= segment.SmallMax {
		size = "brief"
	}
	return fmt.Sprintf("Conversation on %s from %s involving %d participants. "+
		"The exchange consisted of %d messages covering various topics. "+
		"This appears to be a %s conversation segment.",
		date, timeframe, len(seg.Participants), seg.MessageCount, size)
}

// Prompt lays out the segment for the model, one line per message.
func Prompt(seg message.Segment) string {
	var b strings.Builder
	b.WriteString("Please provide a short summary of this conversation segment.\n\n")
	fmt.Fprintf(&b, "Date: %s\n", seg.Date)
	fmt.Fprintf(&b, "Timeframe: %s\n", Timeframe(seg))

	names := make([]string, len(seg.Participants))
	for i, p := range seg.Participants {
		names[i] = p.Key()
	}
	fmt.Fprintf(&b, "Participants: %s\n", strings.Join(names, ", "))
	fmt.Fprintf(&b, "Message Count: %d\n\nConversation Content:\n", seg.MessageCount)

	for _, m := range seg.Messages {
		who := "Other person"
		if m.IsFromMe {
			who = "Me"
		}
		fmt.Fprintf(&b, "- %s: %s\n", who, m.Contents)
	}

	b.WriteString("\nCover:\n" +
		"1. The main topic or purpose of the conversation\n" +
		"2. The key points or developments discussed\n" +
		"3. The outcome or conclusion\n")
	return b.String()
}

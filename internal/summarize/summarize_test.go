package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/convoseg/internal/message"
	"github.com/MikeSquared-Agency/convoseg/internal/segment"
)

var day = time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)

func msg(id string, at time.Duration, sender message.Sender, text string) message.Message {
	return message.Message{
		ID:        id,
		Timestamp: message.At(day.Add(at)),
		Sender:    sender,
		IsFromMe:  sender.IsMe(),
		Contents:  text,
	}
}

// sampleSegments yields a two-message morning segment and a singleton in the
// afternoon.
func sampleSegments(t *testing.T) []message.Segment {
	t.Helper()
	other := message.Phone("+15551234567")
	res, err := segment.Segment([]message.Message{
		msg("m1", 9*time.Hour, message.Me(), "coffee at 10?"),
		msg("m2", 9*time.Hour+5*time.Minute, other, "sure"),
		msg("m3", 15*time.Hour+30*time.Minute, other, "running late"),
	}, segment.DefaultOptions())
	require.NoError(t, err)
	require.Len(t, res.Segments, 2)
	return res.Segments
}

type fakeLLM struct {
	replies []string
	errs    []error
	calls   int
	prompts []string
}

func (f *fakeLLM) Complete(_ context.Context, _ string, messages []Message, _ int) (string, error) {
	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, messages[0].Content)
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return "", err
	}
	if i < len(f.replies) {
		return f.replies[i], nil
	}
	return "summary", nil
}

func TestTimeframe(t *testing.T) {
	segs := sampleSegments(t)
	assert.Equal(t, "09:00 AM - 09:05 AM", Timeframe(segs[0]))
	assert.Equal(t, "03:30 PM - 03:30 PM", Timeframe(segs[1]))

	unparsed := message.Segment{StartTime: message.Unparsed("someday"), EndTime: message.Unparsed("someday")}
	assert.Equal(t, "someday to someday", Timeframe(unparsed))
	assert.Equal(t, "Unknown timeframe", Timeframe(message.Segment{}))
}

func TestPlaceholder(t *testing.T) {
	segs := sampleSegments(t)
	got := Placeholder(segs[0], Timeframe(segs[0]))
	assert.Equal(t, "Conversation on 2024-03-09 from 09:00 AM - 09:05 AM involving 2 participants. "+
		"The exchange consisted of 2 messages covering various topics. "+
		"This appears to be a brief conversation segment.", got)

	big := message.Segment{Date: "2024-03-09", MessageCount: segment.SmallMax + 1}
	assert.Contains(t, Placeholder(big, "x"), "substantial conversation segment")
	assert.Contains(t, Placeholder(message.Segment{}, "x"), "Conversation on an unknown date")
}

func TestPrompt(t *testing.T) {
	p := Prompt(sampleSegments(t)[0])
	assert.Contains(t, p, "Date: 2024-03-09\n")
	assert.Contains(t, p, "Participants: me, +15551234567\n")
	assert.Contains(t, p, "Message Count: 2\n")
	assert.Contains(t, p, "- Me: coffee at 10?\n- Other person: sure\n")
}

func TestSummarize_WithoutModel(t *testing.T) {
	seg := sampleSegments(t)[0]
	sum := New(nil, zerolog.Nop()).Summarize(context.Background(), seg)

	assert.False(t, sum.GPTGenerated)
	assert.Equal(t, Placeholder(seg, sum.Timeframe), sum.Summary)
	assert.Equal(t, seg.ID, sum.SegmentID)
	assert.Equal(t, 2, sum.MessageCount)
	assert.Equal(t, seg.Participants, sum.Participants)
}

func TestSummarize_WithModel(t *testing.T) {
	llm := &fakeLLM{replies: []string{"Planning coffee.\n"}}
	sum := New(llm, zerolog.Nop()).Summarize(context.Background(), sampleSegments(t)[0])

	assert.True(t, sum.GPTGenerated)
	assert.Equal(t, "Planning coffee.", sum.Summary)
	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "coffee at 10?")
}

func TestSummarize_RetriesThrottling(t *testing.T) {
	throttled := &APIError{Status: 429, Type: "rate_limit_error"}
	llm := &fakeLLM{errs: []error{throttled, throttled}, replies: []string{"", "", "third time"}}
	s := New(llm, zerolog.Nop())
	s.backoff = time.Millisecond

	sum := s.Summarize(context.Background(), sampleSegments(t)[0])
	assert.True(t, sum.GPTGenerated)
	assert.Equal(t, "third time", sum.Summary)
	assert.Equal(t, 3, llm.calls)
}

func TestSummarize_FallsBack(t *testing.T) {
	tests := []struct {
		name      string
		llm       *fakeLLM
		wantCalls int
	}{
		{"non-retryable error", &fakeLLM{errs: []error{&APIError{Status: 400}}}, 1},
		{"transport error", &fakeLLM{errs: []error{errors.New("dial tcp: refused")}}, 1},
		{"throttled every attempt", &fakeLLM{errs: []error{
			&APIError{Status: 429}, &APIError{Status: 429}, &APIError{Status: 429},
		}}, maxAttempts},
		{"blank reply", &fakeLLM{replies: []string{"   "}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.llm, zerolog.Nop())
			s.backoff = time.Millisecond
			seg := sampleSegments(t)[0]

			sum := s.Summarize(context.Background(), seg)
			assert.False(t, sum.GPTGenerated)
			assert.Equal(t, Placeholder(seg, sum.Timeframe), sum.Summary)
			assert.Equal(t, tt.wantCalls, tt.llm.calls)
		})
	}
}

func segmentLines(t *testing.T, segs []message.Segment, extra ...string) string {
	t.Helper()
	var b strings.Builder
	for _, seg := range segs {
		data, err := json.Marshal(seg)
		require.NoError(t, err)
		b.Write(data)
		b.WriteByte('\n')
	}
	for _, line := range extra {
		b.WriteString(line + "\n")
	}
	return b.String()
}

func TestRun(t *testing.T) {
	segs := sampleSegments(t)
	in := segmentLines(t, segs[:1], "{not json")
	in += segmentLines(t, segs[1:])

	var out bytes.Buffer
	res, err := New(nil, zerolog.Nop()).Run(context.Background(), strings.NewReader(in), &out, 0)
	require.NoError(t, err)
	assert.Equal(t, Result{Segments: 2, Placeholders: 2, Skipped: 1}, res)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "2024-03-09", first["date"])
	assert.Equal(t, "09:00 AM - 09:05 AM", first["timeframe"])
	assert.EqualValues(t, 1, first["segment_id"])
	assert.EqualValues(t, 2, first["message_count"])
	assert.Equal(t, false, first["gpt_generated"])
	assert.Equal(t, []any{
		map[string]any{"me": true},
		map[string]any{"phone": "+15551234567"},
	}, first["participants"])
	assert.NotEmpty(t, first["summary"])
}

func TestRun_Limit(t *testing.T) {
	llm := &fakeLLM{}
	var out bytes.Buffer
	res, err := New(llm, zerolog.Nop()).Run(context.Background(),
		strings.NewReader(segmentLines(t, sampleSegments(t))), &out, 1)
	require.NoError(t, err)
	assert.Equal(t, Result{Segments: 1, Generated: 1}, res)
	assert.Equal(t, 1, llm.calls)
	assert.Equal(t, 1, strings.Count(out.String(), "\n"))
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(nil, zerolog.Nop()).Run(ctx, strings.NewReader(segmentLines(t, sampleSegments(t))), &bytes.Buffer{}, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, "out/segments_summaries.jsonl", OutputPath("out/segments.jsonl"))
	assert.Equal(t, "segs_summaries.jsonl", OutputPath("segs"))
}

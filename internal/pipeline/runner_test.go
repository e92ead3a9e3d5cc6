package pipeline

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/convoseg/internal/features"
	"github.com/MikeSquared-Agency/convoseg/internal/issue"
	"github.com/MikeSquared-Agency/convoseg/internal/jsonl"
	"github.com/MikeSquared-Agency/convoseg/internal/message"
	"github.com/MikeSquared-Agency/convoseg/internal/normalize"
	"github.com/MikeSquared-Agency/convoseg/internal/segment"
)

const export = `{"guid":"g1","timestamp":"Mar 9, 2024  9:00:00 AM","sender":"Me","is_from_me":true,"contents":"Lunch at noon? 🍕"}` +
	`{"guid":"g2","timestamp":"Mar 9, 2024  9:05:00 AM","sender":"+15551234567","is_from_me":false,"contents":"sure!"}` +
	`{"guid":"g3","timestamp":"Mar 9, 2024  11:30:00 AM","sender":"+15551234567","is_from_me":false,"contents":"here"}` +
	"\n{broken json}\n" +
	`{"guid":"g4","timestamp":"Mar 9, 2024  11:31:00 AM","sender":"Me","is_from_me":true,"contents":"coming"}`

func newRunner(t *testing.T, opts segment.Options) *Runner {
	t.Helper()
	ext, err := features.New(nil)
	require.NoError(t, err)
	return NewRunner(normalize.New(normalize.Options{}), ext, opts, zerolog.Nop())
}

func readMessages(t *testing.T, data []byte) []message.Message {
	t.Helper()
	var out []message.Message
	rd := jsonl.NewReader(bytes.NewReader(data))
	for {
		var m message.Message
		if err := rd.Next(&m); err != nil {
			break
		}
		out = append(out, m)
	}
	return out
}

func readSegments(t *testing.T, data []byte) []message.Segment {
	t.Helper()
	var out []message.Segment
	rd := jsonl.NewReader(bytes.NewReader(data))
	for {
		var s message.Segment
		if err := rd.Next(&s); err != nil {
			break
		}
		out = append(out, s)
	}
	return out
}

func TestNormalize_SkipsMalformedAndEnriches(t *testing.T) {
	r := newRunner(t, segment.DefaultOptions())

	var out bytes.Buffer
	res, err := r.Normalize(context.Background(), strings.NewReader(export), &out)
	require.NoError(t, err)

	assert.Equal(t, 5, res.Records)
	assert.Equal(t, 4, res.Written)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Issues.Count(issue.KindParse))

	msgs := readMessages(t, out.Bytes())
	require.Len(t, msgs, 4)
	assert.Equal(t, "g1", msgs[0].ID)
	assert.True(t, msgs[0].Sender.IsMe())
	require.NotNil(t, msgs[0].Features)
	assert.True(t, msgs[0].Features.IsQuestion)
	assert.True(t, msgs[0].Features.ContainsDate)
	assert.Equal(t, []string{"🍕"}, msgs[0].Extracted.Emojis)
	assert.Equal(t, "2024-03-09T09:00:00Z", msgs[0].Timestamp.String())
}

func TestNormalize_TagsDuplicates(t *testing.T) {
	r := newRunner(t, segment.DefaultOptions())
	rec := `{"timestamp":"2024-03-09T10:00:00Z","sender":"Me","contents":"same"}`

	var out bytes.Buffer
	res, err := r.Normalize(context.Background(), strings.NewReader(rec+rec), &out)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Written)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 1, res.Issues.Count(issue.KindDuplicate))

	msgs := readMessages(t, out.Bytes())
	require.Len(t, msgs, 2)
	assert.Empty(t, msgs[0].DuplicateOf)
	assert.Equal(t, msgs[0].ID, msgs[1].DuplicateOf)
	assert.Equal(t, msgs[0].Fingerprint, msgs[1].Fingerprint)
}

func TestNormalize_IsDeterministic(t *testing.T) {
	r := newRunner(t, segment.DefaultOptions())

	var a, b bytes.Buffer
	_, err := r.Normalize(context.Background(), strings.NewReader(export), &a)
	require.NoError(t, err)
	_, err = r.Normalize(context.Background(), strings.NewReader(export), &b)
	require.NoError(t, err)

	assert.Equal(t, a.String(), b.String())
}

func TestNormalize_Cancelled(t *testing.T) {
	r := newRunner(t, segment.DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Normalize(ctx, strings.NewReader(export), &bytes.Buffer{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSegment_FromCanonicalRecords(t *testing.T) {
	r := newRunner(t, segment.DefaultOptions())

	var records bytes.Buffer
	_, err := r.Normalize(context.Background(), strings.NewReader(export), &records)
	require.NoError(t, err)

	var out bytes.Buffer
	res, err := r.Segment(context.Background(), &records, &out)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Messages)
	assert.Equal(t, 2, res.Summary.Segments)

	segs := readSegments(t, out.Bytes())
	require.Len(t, segs, 2)
	assert.Equal(t, 1, segs[0].ID)
	assert.Equal(t, 2, segs[0].MessageCount)
	assert.Equal(t, []float64{5}, segs[0].TimeGaps)
	assert.Equal(t, 2, segs[1].ID)
	assert.Equal(t, []float64{1}, segs[1].TimeGaps)
	assert.Len(t, segs[0].Participants, 2)
}

func TestSegment_ReportsSortedInput(t *testing.T) {
	r := newRunner(t, segment.DefaultOptions())
	in := `{"id":"b","timestamp":"2024-03-09T10:05:00Z","sender":{"me":true},"contents":"b"}
{"id":"a","timestamp":"2024-03-09T10:00:00Z","sender":{"me":true},"contents":"a"}
not json
`
	var out bytes.Buffer
	res, err := r.Segment(context.Background(), strings.NewReader(in), &out)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Messages)
	assert.Equal(t, 1, res.Issues.Count(issue.KindSegmentationInput))
	assert.Equal(t, 1, res.Issues.Count(issue.KindParse))

	segs := readSegments(t, out.Bytes())
	require.Len(t, segs, 1)
	assert.Equal(t, "a", segs[0].Messages[0].ID)
}

func TestSegment_StreamingRejectsUnsorted(t *testing.T) {
	r := newRunner(t, segment.Options{GapThreshold: time.Hour})
	in := `{"id":"b","timestamp":"2024-03-09T10:05:00Z","sender":{"me":true},"contents":"b"}
{"id":"a","timestamp":"2024-03-09T10:00:00Z","sender":{"me":true},"contents":"a"}
`
	res, err := r.Segment(context.Background(), strings.NewReader(in), &bytes.Buffer{})
	require.Error(t, err)

	var inErr *segment.InputError
	assert.True(t, errors.As(err, &inErr))
	assert.Equal(t, 1, res.Issues.Errors())
}

type fakeSink struct {
	msgs  []message.Message
	runID string
	segs  []message.Segment
}

func (f *fakeSink) WriteMessages(_ context.Context, msgs []message.Message) (int, error) {
	f.msgs = append(f.msgs, msgs...)
	return len(msgs), nil
}

func (f *fakeSink) WriteSegments(_ context.Context, runID string, segs []message.Segment) error {
	f.runID = runID
	f.segs = append(f.segs, segs...)
	return nil
}

func TestRun_ReportAndSink(t *testing.T) {
	r := newRunner(t, segment.DefaultOptions())
	sink := &fakeSink{}
	r.SetSink(sink)

	var records, segments bytes.Buffer
	rep, err := r.Run(context.Background(), strings.NewReader(export), &records, &segments)
	require.NoError(t, err)

	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, 5, rep.Records)
	assert.Equal(t, 4, rep.Written)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, 1, rep.Errors)
	assert.Equal(t, 1, rep.IssuesByKind[issue.KindParse])
	assert.Equal(t, 2, rep.Segmentation.Segments)
	assert.Equal(t, 4, rep.Segmentation.Messages)
	assert.Equal(t, 4, rep.Stored)
	assert.False(t, rep.FinishedAt.Before(rep.StartedAt))

	assert.Len(t, sink.msgs, 4)
	assert.Len(t, sink.segs, 2)
	assert.Equal(t, rep.RunID, sink.runID)
	assert.Len(t, readSegments(t, segments.Bytes()), 2)
}

func TestReport_SaveLoad(t *testing.T) {
	rep := NewReport()
	rep.Records = 3
	rep.IssuesByKind[issue.KindTimestamp] = 1

	path := ReportPath(filepath.Join(t.TempDir(), "out", "messages.jsonl"))
	assert.True(t, strings.HasSuffix(path, "messages.jsonl.report.json"))
	require.NoError(t, rep.Save(path))

	got, err := LoadReport(path)
	require.NoError(t, err)
	assert.Equal(t, rep.RunID, got.RunID)
	assert.Equal(t, 3, got.Records)
	assert.Equal(t, 1, got.IssuesByKind[issue.KindTimestamp])

	_, err = LoadReport(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/convoseg/internal/issue"
	"github.com/MikeSquared-Agency/convoseg/internal/pipeline"
	"github.com/MikeSquared-Agency/convoseg/internal/segment"
)

func sampleReport() *pipeline.Report {
	rep := pipeline.NewReport()
	rep.Input = "/data/exports/messages.json"
	rep.Records = 12
	rep.Written = 11
	rep.Skipped = 1
	rep.Duplicates = 2
	rep.Warnings = 3
	rep.Errors = 1
	rep.IssuesByKind = map[issue.Kind]int{issue.KindTimestamp: 1, issue.KindDuplicate: 2, issue.KindParse: 1}
	rep.Segmentation = segment.Summary{
		Segments: 4, Small: 3, Medium: 1, MeanSize: 2.5, MeanDurationMinutes: 14,
		ByDate: map[string]int{"2024-03-10": 1, "2024-03-09": 3},
	}
	return rep
}

func TestFormatRunSummary(t *testing.T) {
	msg := FormatRunSummary(sampleReport())

	for _, want := range []string{
		"messages.json",
		"11 written, 1 skipped, 2 duplicates (of 12)",
		"Segments: 4 (small 3, medium 1, large 0)",
		"mean size 2.5",
		"  - 2024-03-09: 3\n  - 2024-03-10: 1",
		"3 warnings, 1 errors",
		"  - duplicate: 2\n  - parse: 1\n  - timestamp: 1",
	} {
		assert.Contains(t, msg, want)
	}
	assert.NotContains(t, msg, "/data/exports")
}

func TestFormatRunSummary_CapsDates(t *testing.T) {
	rep := pipeline.NewReport()
	rep.Segmentation.ByDate = map[string]int{}
	for d := 1; d <= 15; d++ {
		rep.Segmentation.ByDate[fmt.Sprintf("2024-03-%02d", d)] = 1
	}

	msg := FormatRunSummary(rep)
	assert.Contains(t, msg, "stdin")
	assert.Contains(t, msg, "... 5 earlier dates")
	assert.NotContains(t, msg, "2024-03-05")
	assert.Contains(t, msg, "2024-03-06")
	assert.NotContains(t, msg, "*Issues:*")
}

func TestPostRunSummary_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer xoxb-test", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "C123", payload["channel"])
		assert.Contains(t, payload["text"], "Conversation import")

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"ts": "1234567890.123456",
		})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", zerolog.Nop())
	p.apiURL = server.URL

	ts, err := p.PostRunSummary(context.Background(), sampleReport())
	require.NoError(t, err)
	assert.Equal(t, "1234567890.123456", ts)
}

func TestPostRunSummary_SlackError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":    false,
			"error": "channel_not_found",
		})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", zerolog.Nop())
	p.apiURL = server.URL

	_, err := p.PostRunSummary(context.Background(), sampleReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}

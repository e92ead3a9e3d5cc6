// Package notify posts run summaries to Slack.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/MikeSquared-Agency/convoseg/internal/issue"
	"github.com/MikeSquared-Agency/convoseg/internal/pipeline"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

// maxDates caps the per-date lines in a summary.
const maxDates = 10

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  zerolog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger zerolog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// PostRunSummary posts the summary for rep and returns the message ts.
func (p *Poster) PostRunSummary(ctx context.Context, rep *pipeline.Report) (string, error) {
	text := FormatRunSummary(rep)

	body, err := json.Marshal(map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{
						"type": "mrkdwn",
						"text": "run " + rep.RunID,
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}

	p.logger.Info().Str("ts", slackResp.TS).Str("run_id", rep.RunID).Msg("posted run summary to slack")
	return slackResp.TS, nil
}

// FormatRunSummary renders a report as Slack mrkdwn.
func FormatRunSummary(rep *pipeline.Report) string {
	var sb strings.Builder

	name := rep.Input
	if name == "" {
		name = "stdin"
	} else {
		name = filepath.Base(name)
	}
	fmt.Fprintf(&sb, "*Conversation import:* %s\n", name)
	fmt.Fprintf(&sb, "Records: %d written, %d skipped, %d duplicates (of %d)\n",
		rep.Written, rep.Skipped, rep.Duplicates, rep.Records)

	seg := rep.Segmentation
	fmt.Fprintf(&sb, "Segments: %d (small %d, medium %d, large %d), mean size %.1f, mean duration %.1f min\n",
		seg.Segments, seg.Small, seg.Medium, seg.Large, seg.MeanSize, seg.MeanDurationMinutes)

	if len(seg.ByDate) > 0 {
		dates := make([]string, 0, len(seg.ByDate))
		for d := range seg.ByDate {
			dates = append(dates, d)
		}
		sort.Strings(dates)

		shown := dates
		if len(shown) > maxDates {
			shown = dates[len(dates)-maxDates:]
		}
		sb.WriteString("\n*Segments by date*\n")
		if len(dates) > len(shown) {
			fmt.Fprintf(&sb, "  ... %d earlier dates\n", len(dates)-len(shown))
		}
		for _, d := range shown {
			fmt.Fprintf(&sb, "  - %s: %d\n", d, seg.ByDate[d])
		}
	}

	if rep.Warnings > 0 || rep.Errors > 0 {
		kinds := make([]issue.Kind, 0, len(rep.IssuesByKind))
		for k := range rep.IssuesByKind {
			kinds = append(kinds, k)
		}
		sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

		fmt.Fprintf(&sb, "\n*Issues:* %d warnings, %d errors\n", rep.Warnings, rep.Errors)
		for _, k := range kinds {
			fmt.Fprintf(&sb, "  - %s: %d\n", k, rep.IssuesByKind[k])
		}
	}

	return sb.String()
}

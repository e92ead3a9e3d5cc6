// Package hermes publishes pipeline events on the NATS bus.
package hermes

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/MikeSquared-Agency/convoseg/internal/pipeline"
)

// SubjectRunCompleted carries a RunCompleted event after every run.
const SubjectRunCompleted = "convoseg.run.completed"

// RunCompleted is the compact form of a run report put on the bus. The full
// report, with per-record issues, stays on disk.
type RunCompleted struct {
	RunID             string         `json:"run_id"`
	StartedAt         time.Time      `json:"started_at"`
	FinishedAt        time.Time      `json:"finished_at"`
	Input             string         `json:"input,omitempty"`
	RecordsOutput     string         `json:"records_output,omitempty"`
	VocabularyVersion string         `json:"vocabulary_version"`
	Records           int            `json:"records"`
	Written           int            `json:"written"`
	Skipped           int            `json:"skipped"`
	Duplicates        int            `json:"duplicates"`
	Warnings          int            `json:"warnings"`
	Errors            int            `json:"errors"`
	Segments          int            `json:"segments"`
	SegmentsByDate    map[string]int `json:"segments_by_date"`
}

func NewRunCompleted(rep *pipeline.Report) RunCompleted {
	return RunCompleted{
		RunID:             rep.RunID,
		StartedAt:         rep.StartedAt,
		FinishedAt:        rep.FinishedAt,
		Input:             rep.Input,
		RecordsOutput:     rep.RecordsOutput,
		VocabularyVersion: rep.VocabularyVersion,
		Records:           rep.Records,
		Written:           rep.Written,
		Skipped:           rep.Skipped,
		Duplicates:        rep.Duplicates,
		Warnings:          rep.Warnings,
		Errors:            rep.Errors,
		Segments:          rep.Segmentation.Segments,
		SegmentsByDate:    rep.Segmentation.ByDate,
	}
}

type Client struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

func NewClient(url, token string, logger zerolog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("convoseg"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

// PublishRunCompleted publishes the run summary and waits for the server to
// acknowledge it, so a short-lived CLI process does not exit first.
func (c *Client) PublishRunCompleted(rep *pipeline.Report) error {
	if err := c.Publish(SubjectRunCompleted, NewRunCompleted(rep)); err != nil {
		return fmt.Errorf("publish %s: %w", SubjectRunCompleted, err)
	}
	if err := c.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	c.logger.Info().Str("run_id", rep.RunID).Str("subject", SubjectRunCompleted).Msg("run published")
	return nil
}

func (c *Client) Close() {
	c.conn.Close()
}

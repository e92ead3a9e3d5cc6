package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MikeSquared-Agency/convoseg/internal/message"
)

type messageRow struct {
	ID             string     `db:"id"`
	Fingerprint    string     `db:"fingerprint"`
	SentAt         *time.Time `db:"sent_at"`
	RawTimestamp   string     `db:"raw_timestamp"`
	SenderKind     string     `db:"sender_kind"`
	SenderValue    string     `db:"sender_value"`
	IsFromMe       bool       `db:"is_from_me"`
	Contents       string     `db:"contents"`
	Readtime       []byte     `db:"readtime"`
	Attachments    []byte     `db:"attachments"`
	SourceDeviceID string     `db:"source_device_id"`
	SchemaVersion  string     `db:"schema_version"`
	Features       []byte     `db:"features"`
	Extracted      []byte     `db:"extracted"`
}

const insertMessage = `
	INSERT INTO messages (id, fingerprint, sent_at, raw_timestamp, sender_kind, sender_value,
		is_from_me, contents, readtime, attachments, source_device_id, schema_version, features, extracted)
	VALUES (:id, :fingerprint, :sent_at, :raw_timestamp, :sender_kind, :sender_value,
		:is_from_me, :contents, :readtime, :attachments, :source_device_id, :schema_version, :features, :extracted)
	ON CONFLICT (fingerprint) DO NOTHING`

func toMessageRow(m message.Message) (messageRow, error) {
	row := messageRow{
		ID:             m.ID,
		Fingerprint:    m.Fingerprint,
		RawTimestamp:   m.Timestamp.Raw(),
		SenderKind:     m.Sender.Kind(),
		SenderValue:    m.Sender.Value(),
		IsFromMe:       m.IsFromMe,
		Contents:       m.Contents,
		Readtime:       m.Readtime,
		Attachments:    m.Attachments,
		SourceDeviceID: m.SourceDeviceID,
		SchemaVersion:  m.SchemaVersion,
	}
	if t, ok := m.Timestamp.Time(); ok {
		row.SentAt = &t
	}
	if row.Attachments == nil {
		row.Attachments = []byte("[]")
	}

	var err error
	if m.Features != nil {
		if row.Features, err = json.Marshal(m.Features); err != nil {
			return row, fmt.Errorf("marshal features: %w", err)
		}
	}
	if m.Extracted != nil {
		if row.Extracted, err = json.Marshal(m.Extracted); err != nil {
			return row, fmt.Errorf("marshal extracted: %w", err)
		}
	}
	return row, nil
}

// WriteMessages inserts records in one transaction. Records whose
// fingerprint is already stored are skipped, so re-running an import is
// idempotent. It returns how many rows were inserted.
func (s *Store) WriteMessages(ctx context.Context, msgs []message.Message) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, m := range msgs {
		row, err := toMessageRow(m)
		if err != nil {
			return 0, fmt.Errorf("message %s: %w", m.ID, err)
		}
		res, err := tx.NamedExecContext(ctx, insertMessage, row)
		if err != nil {
			return 0, fmt.Errorf("insert message %s: %w", m.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/convoseg/internal/message"
)

type segmentRow struct {
	ID                   uuid.UUID `db:"id"`
	RunID                uuid.UUID `db:"run_id"`
	SegmentID            int       `db:"segment_id"`
	Date                 string    `db:"segment_date"`
	StartTime            string    `db:"start_time"`
	EndTime              string    `db:"end_time"`
	MessageCount         int       `db:"message_count"`
	Participants         []byte    `db:"participants"`
	TimeGaps             []byte    `db:"time_gaps"`
	TotalDurationMinutes float64   `db:"total_duration_minutes"`
	AvgGapMinutes        float64   `db:"avg_gap_minutes"`
	MaxGapMinutes        float64   `db:"max_gap_minutes"`
	MinGapMinutes        float64   `db:"min_gap_minutes"`
}

const insertSegment = `
	INSERT INTO segments (id, run_id, segment_id, segment_date, start_time, end_time, message_count,
		participants, time_gaps, total_duration_minutes, avg_gap_minutes, max_gap_minutes, min_gap_minutes)
	VALUES (:id, :run_id, :segment_id, :segment_date, :start_time, :end_time, :message_count,
		:participants, :time_gaps, :total_duration_minutes, :avg_gap_minutes, :max_gap_minutes, :min_gap_minutes)`

const insertMembership = `
	INSERT INTO segment_messages (segment_uuid, position, message_id)
	VALUES ($1, $2, $3)`

// WriteSegments stores one run's segments and their membership in a single
// transaction. Segment ids are only unique within a run.
func (s *Store) WriteSegments(ctx context.Context, runID string, segs []message.Segment) error {
	if len(segs) == 0 {
		return nil
	}
	run, err := uuid.Parse(runID)
	if err != nil {
		return fmt.Errorf("run id: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, seg := range segs {
		row := segmentRow{
			ID:                   uuid.New(),
			RunID:                run,
			SegmentID:            seg.ID,
			Date:                 seg.Date,
			StartTime:            seg.StartTime.String(),
			EndTime:              seg.EndTime.String(),
			MessageCount:         seg.MessageCount,
			TotalDurationMinutes: seg.TotalDurationMinutes,
			AvgGapMinutes:        seg.AvgGapMinutes,
			MaxGapMinutes:        seg.MaxGapMinutes,
			MinGapMinutes:        seg.MinGapMinutes,
		}
		if row.Participants, err = json.Marshal(seg.Participants); err != nil {
			return fmt.Errorf("segment %d participants: %w", seg.ID, err)
		}
		if row.TimeGaps, err = json.Marshal(seg.TimeGaps); err != nil {
			return fmt.Errorf("segment %d gaps: %w", seg.ID, err)
		}

		if _, err := tx.NamedExecContext(ctx, insertSegment, row); err != nil {
			return fmt.Errorf("insert segment %d: %w", seg.ID, err)
		}
		for pos, m := range seg.Messages {
			if _, err := tx.ExecContext(ctx, insertMembership, row.ID, pos, m.ID); err != nil {
				return fmt.Errorf("insert segment %d member %s: %w", seg.ID, m.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

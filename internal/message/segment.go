package message

// Segment is a maximal run of same-date messages whose consecutive gaps are
// all within the gap threshold. It owns copies of its member records.
type Segment struct {
	ID                   int       `json:"segment_id"`
	Date                 string    `json:"date"`
	StartTime            Timestamp `json:"start_time"`
	EndTime              Timestamp `json:"end_time"`
	MessageCount         int       `json:"message_count"`
	Participants         []Sender  `json:"participants"`
	Messages             []Message `json:"messages"`
	TimeGaps             []float64 `json:"time_gaps"`
	TotalDurationMinutes float64   `json:"total_duration_minutes"`
	AvgGapMinutes        float64   `json:"avg_gap_minutes"`
	MaxGapMinutes        float64   `json:"max_gap_minutes"`
	MinGapMinutes        float64   `json:"min_gap_minutes"`
}

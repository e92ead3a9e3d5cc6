package segment

import (
	"time"

	"github.com/MikeSquared-Agency/convoseg/internal/message"
)

// Segmenter is the incremental form. Input must already be time-ordered; it
// buffers only the open segment and emits segments as soon as they close.
type Segmenter struct {
	threshold time.Duration
	open      []message.Message
	nextID    int
	pushed    int

	prev     time.Time
	havePrev bool
}

func NewSegmenter(opts Options) *Segmenter {
	return &Segmenter{threshold: opts.threshold(), nextID: 1}
}

// Push adds the next message and returns any segments it closed. A parsed
// timestamp earlier than the previous parsed one is an *InputError.
func (s *Segmenter) Push(m message.Message) ([]message.Segment, error) {
	idx := s.pushed
	s.pushed++

	at, ok := m.Timestamp.Time()
	if !ok {
		// Gap is not computable: close whatever is open and stand alone.
		closed := s.Flush()
		return append(closed, s.build([]message.Message{m})), nil
	}

	if s.havePrev && at.Before(s.prev) {
		return nil, &InputError{Index: idx, ID: m.ID, At: at, Previous: s.prev}
	}

	var closed []message.Segment
	if len(s.open) > 0 {
		last, _ := s.open[len(s.open)-1].Timestamp.Time()
		sameDate := last.Format(message.DateLayout) == at.Format(message.DateLayout)
		if !sameDate || at.Sub(last) > s.threshold {
			closed = s.Flush()
		}
	}

	s.open = append(s.open, m)
	s.prev, s.havePrev = at, true
	return closed, nil
}

// Flush closes the open segment, if any.
func (s *Segmenter) Flush() []message.Segment {
	if len(s.open) == 0 {
		return nil
	}
	seg := s.build(s.open)
	s.open = s.open[:0]
	return []message.Segment{seg}
}

func (s *Segmenter) build(msgs []message.Message) message.Segment {
	seg := message.Segment{
		ID:           s.nextID,
		Date:         msgs[0].Timestamp.Date(),
		StartTime:    msgs[0].Timestamp,
		EndTime:      msgs[len(msgs)-1].Timestamp,
		MessageCount: len(msgs),
		Messages:     make([]message.Message, len(msgs)),
		Participants: participants(msgs),
	}
	copy(seg.Messages, msgs)
	s.nextID++

	fillStats(&seg)
	return seg
}

func participants(msgs []message.Message) []message.Sender {
	seen := make(map[string]struct{}, 2)
	var out []message.Sender
	for _, m := range msgs {
		k := m.Sender.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, m.Sender)
	}
	return out
}

// fillStats computes the interval statistics. Singletons and unparsed
// messages get all-zero stats.
func fillStats(seg *message.Segment) {
	seg.TimeGaps = []float64{}
	if len(seg.Messages) < 2 {
		return
	}

	start, _ := seg.StartTime.Time()
	end, _ := seg.EndTime.Time()
	seg.TotalDurationMinutes = end.Sub(start).Minutes()

	var sum float64
	for i := 1; i < len(seg.Messages); i++ {
		a, _ := seg.Messages[i-1].Timestamp.Time()
		b, _ := seg.Messages[i].Timestamp.Time()
		gap := b.Sub(a).Minutes()
		seg.TimeGaps = append(seg.TimeGaps, gap)
		sum += gap
		if i == 1 || gap > seg.MaxGapMinutes {
			seg.MaxGapMinutes = gap
		}
		if i == 1 || gap < seg.MinGapMinutes {
			seg.MinGapMinutes = gap
		}
	}
	seg.AvgGapMinutes = sum / float64(len(seg.TimeGaps))
}

// Package segment groups a time-ordered message stream into conversation
// segments using a gap threshold. A segment never spans two UTC dates.
package segment

import (
	"fmt"
	"sort"
	"time"

	"github.com/MikeSquared-Agency/convoseg/internal/message"
)

// DefaultGapThreshold is the largest gap that keeps two messages together.
const DefaultGapThreshold = 2 * time.Hour

type Options struct {
	// GapThreshold joins consecutive messages whose gap is <= this value.
	// Zero or negative means DefaultGapThreshold.
	GapThreshold time.Duration
	// SortInput stable-sorts by timestamp before segmenting. When false the
	// caller guarantees order and a violation is an *InputError.
	SortInput bool
}

func DefaultOptions() Options {
	return Options{GapThreshold: DefaultGapThreshold, SortInput: true}
}

// ValidateGap rejects thresholds that cannot separate anything. Callers
// taking a threshold from user input check it here rather than relying on
// the zero-value default.
func ValidateGap(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("gap threshold must be positive, got %s", d)
	}
	return nil
}

func (o Options) threshold() time.Duration {
	if o.GapThreshold <= 0 {
		return DefaultGapThreshold
	}
	return o.GapThreshold
}

// InputError reports out-of-order input when sorting is disabled.
type InputError struct {
	Index    int
	ID       string
	At       time.Time
	Previous time.Time
}

func (e *InputError) Error() string {
	return fmt.Sprintf("segment: message %s at index %d (%s) precedes previous message (%s)",
		e.ID, e.Index, e.At.Format(time.RFC3339), e.Previous.Format(time.RFC3339))
}

// Result is the batch segmentation output.
type Result struct {
	Segments []message.Segment
	// Reordered counts messages that were moved by sorting.
	Reordered int
	// Unparsed counts messages emitted as singletons because their
	// timestamp could not be parsed.
	Unparsed int
}

// Segment runs the whole batch. With SortInput, parsed messages are sorted
// (stable, so equal timestamps keep input order) and unparsed ones follow in
// input order.
func Segment(msgs []message.Message, opts Options) (Result, error) {
	var res Result
	ordered := msgs
	if opts.SortInput {
		ordered, res.Reordered = sortByTime(msgs)
	}

	s := NewSegmenter(opts)
	for _, m := range ordered {
		if !m.Timestamp.Valid() {
			res.Unparsed++
		}
		segs, err := s.Push(m)
		if err != nil {
			return Result{}, err
		}
		res.Segments = append(res.Segments, segs...)
	}
	res.Segments = append(res.Segments, s.Flush()...)
	return res, nil
}

func sortByTime(msgs []message.Message) ([]message.Message, int) {
	parsed := make([]message.Message, 0, len(msgs))
	var unparsed []message.Message
	for _, m := range msgs {
		if m.Timestamp.Valid() {
			parsed = append(parsed, m)
		} else {
			unparsed = append(unparsed, m)
		}
	}

	idx := make([]int, len(parsed))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ta, _ := parsed[idx[a]].Timestamp.Time()
		tb, _ := parsed[idx[b]].Timestamp.Time()
		return ta.Before(tb)
	})

	out := make([]message.Message, 0, len(msgs))
	moved := 0
	for pos, i := range idx {
		if pos != i {
			moved++
		}
		out = append(out, parsed[i])
	}
	return append(out, unparsed...), moved
}

package segment

import "github.com/MikeSquared-Agency/convoseg/internal/message"

// Size buckets by message count.
const (
	SmallMax  = 5
	MediumMax = 20
)

// Summary aggregates a segmentation run.
type Summary struct {
	Segments            int            `json:"segments"`
	Messages            int            `json:"messages"`
	MeanSize            float64        `json:"mean_size"`
	MeanDurationMinutes float64        `json:"mean_duration_minutes"`
	ByDate              map[string]int `json:"by_date"`
	Unparsed            int            `json:"unparsed"`
	Small               int            `json:"small"`
	Medium              int            `json:"medium"`
	Large               int            `json:"large"`
}

func Summarize(segs []message.Segment) Summary {
	sum := Summary{Segments: len(segs), ByDate: make(map[string]int)}
	var duration float64
	for _, seg := range segs {
		sum.Messages += seg.MessageCount
		duration += seg.TotalDurationMinutes
		if seg.Date == "" {
			sum.Unparsed++
		} else {
			sum.ByDate[seg.Date]++
		}
		switch {
		case seg.MessageCount <= SmallMax:
			sum.Small++
		case seg.MessageCount <= MediumMax:
			sum.Medium++
		default:
			sum.Large++
		}
	}
	if len(segs) > 0 {
		sum.MeanSize = float64(sum.Messages) / float64(len(segs))
		sum.MeanDurationMinutes = duration / float64(len(segs))
	}
	return sum
}

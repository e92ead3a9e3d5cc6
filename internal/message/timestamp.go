package message

import (
	"encoding/json"
	"time"
)

// DateLayout is the calendar-date form used for segment dates.
const DateLayout = "2006-01-02"

// Timestamp is an instant normalized to UTC, or the original input string
// when it could not be parsed.
type Timestamp struct {
	t   time.Time
	raw string
	ok  bool
}

// At returns a parsed timestamp converted to UTC.
func At(t time.Time) Timestamp {
	return Timestamp{t: t.UTC(), ok: true}
}

// Unparsed keeps a timestamp string that matched no known layout.
func Unparsed(raw string) Timestamp {
	return Timestamp{raw: raw}
}

// Time returns the instant and whether the timestamp was parsed.
func (ts Timestamp) Time() (time.Time, bool) {
	return ts.t, ts.ok
}

func (ts Timestamp) Valid() bool { return ts.ok }

// Raw returns the unparsed input string; empty for parsed timestamps.
func (ts Timestamp) Raw() string { return ts.raw }

// Date is the UTC calendar date, or "" when unparsed.
func (ts Timestamp) Date() string {
	if !ts.ok {
		return ""
	}
	return ts.t.Format(DateLayout)
}

func (ts Timestamp) String() string {
	if !ts.ok {
		return ts.raw
	}
	return ts.t.Format(time.RFC3339Nano)
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.String())
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// null or a non-string value is kept as its JSON text.
		*ts = Unparsed(string(data))
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		*ts = Unparsed(s)
		return nil
	}
	*ts = At(t)
	return nil
}

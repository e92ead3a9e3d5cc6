// Package validate checks canonical record output for schema compliance.
package validate

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/tidwall/gjson"

	"github.com/MikeSquared-Agency/convoseg/internal/jsonl"
)

var requiredFields = []string{"id", "timestamp", "contents", "source_device_id", "schema_version", "fingerprint"}

const minIDLength = 10

// Record returns every problem found in one canonical record. An empty
// result means the record is valid.
func Record(data []byte) []string {
	if !gjson.ValidBytes(data) {
		return []string{"invalid JSON"}
	}
	rec := gjson.ParseBytes(data)
	if !rec.IsObject() {
		return []string{"record is not an object"}
	}

	var errs []string
	for _, f := range requiredFields {
		if !rec.Get(f).Exists() {
			errs = append(errs, fmt.Sprintf("missing required field %q", f))
		}
	}

	if ts := rec.Get("timestamp"); ts.Exists() && !rec.Get("timestamp_unparsed").Bool() {
		if ts.Type != gjson.String || len(ts.Str) == 0 || ts.Str[len(ts.Str)-1] != 'Z' {
			errs = append(errs, fmt.Sprintf("timestamp is not UTC ISO-8601: %s", ts.Raw))
		}
	}

	errs = append(errs, checkSender(rec.Get("sender"))...)

	if id := rec.Get("id"); id.Exists() && (id.Type != gjson.String || len(id.Str) < minIDLength) {
		errs = append(errs, fmt.Sprintf("invalid id: %s", id.Raw))
	}

	if fp := rec.Get("fingerprint"); fp.Exists() && !isSHA256Hex(fp) {
		errs = append(errs, fmt.Sprintf("invalid fingerprint: %s", fp.Raw))
	}

	if sv := rec.Get("schema_version"); sv.Exists() && (sv.Type != gjson.String || sv.Str == "") {
		errs = append(errs, "schema_version must be a non-empty string")
	}
	return errs
}

func checkSender(s gjson.Result) []string {
	if !s.Exists() {
		return []string{"missing sender"}
	}
	if !s.IsObject() {
		return []string{fmt.Sprintf("sender is not an object: %s", s.Raw)}
	}

	var variants []string
	s.ForEach(func(k, _ gjson.Result) bool {
		variants = append(variants, k.Str)
		return true
	})
	if len(variants) != 1 {
		return []string{fmt.Sprintf("sender must have exactly one variant, got %v", variants)}
	}

	v := s.Get(gjson.Escape(variants[0]))
	switch variants[0] {
	case "me":
		if v.Type != gjson.True {
			return []string{"sender.me must be true"}
		}
	case "phone", "other":
		if v.Type != gjson.String {
			return []string{fmt.Sprintf("sender.%s must be a string", variants[0])}
		}
	default:
		return []string{fmt.Sprintf("unknown sender variant %q", variants[0])}
	}
	return nil
}

func isSHA256Hex(r gjson.Result) bool {
	if r.Type != gjson.String || len(r.Str) != 64 {
		return false
	}
	_, err := hex.DecodeString(r.Str)
	return err == nil
}

// Summary aggregates a validated file.
type Summary struct {
	Records        int            `json:"records"`
	Invalid        int            `json:"invalid"`
	Errors         []string       `json:"errors,omitempty"`
	SchemaVersions map[string]int `json:"schema_versions"`
	SenderKinds    map[string]int `json:"sender_kinds"`
	Dates          map[string]int `json:"dates"`
}

// OK reports whether every record passed.
func (s Summary) OK() bool { return s.Invalid == 0 }

// File validates JSON Lines from r. Only read failures are returned as an
// error; malformed lines count as invalid records.
func File(r io.Reader) (Summary, error) {
	sum := Summary{
		SchemaVersions: make(map[string]int),
		SenderKinds:    make(map[string]int),
		Dates:          make(map[string]int),
	}

	rd := jsonl.NewReader(r)
	for {
		var line json.RawMessage
		err := rd.Next(&line)
		if errors.Is(err, io.EOF) {
			return sum, nil
		}
		sum.Records++

		var le *jsonl.LineError
		if errors.As(err, &le) {
			sum.Invalid++
			sum.Errors = append(sum.Errors, fmt.Sprintf("line %d: invalid JSON: %v", le.Line, le.Err))
			continue
		}
		if err != nil {
			return sum, err
		}

		if errs := Record(line); len(errs) > 0 {
			sum.Invalid++
			for _, e := range errs {
				sum.Errors = append(sum.Errors, fmt.Sprintf("line %d: %s", rd.Line(), e))
			}
		}
		sum.tally(line)
	}
}

func (s *Summary) tally(line []byte) {
	res := gjson.GetManyBytes(line, "schema_version", "sender", "timestamp")
	version := res[0].String()
	if version == "" {
		version = "unknown"
	}
	s.SchemaVersions[version]++

	res[1].ForEach(func(k, _ gjson.Result) bool {
		s.SenderKinds[k.Str]++
		return false
	})

	if ts := res[2].String(); len(ts) >= 10 {
		s.Dates[ts[:10]]++
	}
}

// Package normalize turns raw exported message objects into canonical
// records with stable identifiers and fingerprints.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/text/cases"

	"github.com/MikeSquared-Agency/convoseg/internal/issue"
	"github.com/MikeSquared-Agency/convoseg/internal/message"
)

const (
	DefaultSchemaVersion  = "1.0"
	DefaultSourceDeviceID = "unknown"

	meMarker = "me"
)

// Input field names of the export format.
const (
	fieldGUID        = "guid"
	fieldTimestamp   = "timestamp"
	fieldSender      = "sender"
	fieldIsFromMe    = "is_from_me"
	fieldReadtime    = "readtime"
	fieldContents    = "contents"
	fieldAttachments = "attachments"
)

// timestampLayouts are tried in order. The first is the exporter's own
// format; time.Parse treats a run of spaces in the layout as matching any
// run of spaces, so single-spaced variants parse too.
var timestampLayouts = []string{
	"Jan 2, 2006  3:04:05 PM",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// idNamespace scopes synthesized UUIDv5 identifiers.
var idNamespace = uuid.MustParse("6f1c2a7e-5b0d-4c1e-9a53-2d8f0e6b7c41")

// Options carries the static provenance stamped on every record.
type Options struct {
	SchemaVersion  string
	SourceDeviceID string
	// Location is applied to timestamps that carry no zone. Defaults to UTC.
	Location *time.Location
}

// Error is a hard per-record failure: no identifier can be derived.
type Error struct {
	Ref    string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("normalize %s: %s", e.Ref, e.Reason)
}

// Normalizer is stateless across records.
type Normalizer struct {
	opts Options
}

func New(opts Options) *Normalizer {
	if opts.SchemaVersion == "" {
		opts.SchemaVersion = DefaultSchemaVersion
	}
	if opts.SourceDeviceID == "" {
		opts.SourceDeviceID = DefaultSourceDeviceID
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Normalizer{opts: opts}
}

// Normalize builds the canonical record for raw. ref names the record in
// returned issues. Warnings never cause the record to be dropped; a non-nil
// error (always *Error) means it must be skipped.
func (n *Normalizer) Normalize(ref string, raw message.Raw) (message.Message, []issue.Issue, error) {
	var issues []issue.Issue

	guid := raw.String(fieldGUID)
	if strings.TrimSpace(guid) == "" {
		guid = ""
	}

	contents, hasContents, ok := n.contents(raw)
	if !ok {
		issues = append(issues, issue.Warning(ref, issue.KindEncoding, "contents contained invalid UTF-8; replaced with U+FFFD"))
	}
	if guid == "" && !hasContents {
		return message.Message{}, issues, &Error{Ref: ref, Reason: "record has neither guid nor contents"}
	}

	ts, tsIssue := n.timestamp(ref, raw)
	if tsIssue != nil {
		issues = append(issues, *tsIssue)
	}

	isFromMe, hasFromMe := fromMeFlag(raw)
	sender, senderIssue := normalizeSender(ref, raw.String(fieldSender), raw.Get(fieldSender).Exists(), isFromMe)
	if senderIssue != nil {
		issues = append(issues, *senderIssue)
	}
	if !hasFromMe {
		isFromMe = sender.IsMe()
	} else if sender.IsMe() && !isFromMe {
		issues = append(issues, issue.Warning(ref, issue.KindSender, "sender is me but is_from_me is false"))
	}

	msg := message.Message{
		ID:                guid,
		Timestamp:         ts,
		TimestampUnparsed: !ts.Valid(),
		Sender:            sender,
		IsFromMe:          isFromMe,
		Readtime:          rawValue(raw.Get(fieldReadtime)),
		Contents:          contents,
		Attachments:       rawValue(raw.Get(fieldAttachments)),
		SourceDeviceID:    n.opts.SourceDeviceID,
		SchemaVersion:     n.opts.SchemaVersion,
	}
	if msg.Attachments == nil {
		msg.Attachments = json.RawMessage("[]")
	}
	if msg.ID == "" {
		msg.ID = SynthesizeID(ts, sender, contents)
	}

	fp, err := Fingerprint(msg)
	if err != nil {
		return message.Message{}, issues, &Error{Ref: ref, Reason: err.Error()}
	}
	msg.Fingerprint = fp

	return msg, issues, nil
}

func (n *Normalizer) contents(raw message.Raw) (text string, present bool, validUTF8 bool) {
	v := raw.Get(fieldContents)
	switch v.Type {
	case gjson.String:
		text, validUTF8 = CleanText(v.Str)
		return text, true, validUTF8
	case gjson.Null:
		return "", false, true
	default:
		// Numbers and booleans are kept as their JSON text.
		text, validUTF8 = CleanText(v.Raw)
		return text, true, validUTF8
	}
}

func (n *Normalizer) timestamp(ref string, raw message.Raw) (message.Timestamp, *issue.Issue) {
	v := raw.Get(fieldTimestamp)
	if !v.Exists() {
		w := issue.Warning(ref, issue.KindTimestamp, "timestamp missing")
		return message.Unparsed(""), &w
	}
	if v.Type != gjson.String {
		w := issue.Warning(ref, issue.KindTimestamp, "timestamp is not a string: %s", v.Raw)
		return message.Unparsed(v.Raw), &w
	}

	ts, ok := ParseTimestamp(v.Str, n.opts.Location)
	if !ok {
		w := issue.Warning(ref, issue.KindTimestamp, "unrecognized timestamp %q", v.Str)
		return ts, &w
	}
	return ts, nil
}

// ParseTimestamp tries each known layout. Zoneless layouts are read in loc.
// On failure the original string is kept as an unparsed timestamp.
func ParseTimestamp(s string, loc *time.Location) (message.Timestamp, bool) {
	if loc == nil {
		loc = time.UTC
	}
	trimmed := strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, trimmed, loc); err == nil {
			return message.At(t), true
		}
	}
	return message.Unparsed(s), false
}

// normalizeSender maps the export's sender string to exactly one variant.
// The "me" marker is matched case-insensitively.
func normalizeSender(ref, value string, present, isFromMe bool) (message.Sender, *issue.Issue) {
	trimmed := strings.TrimSpace(value)
	switch {
	case trimmed == "" && isFromMe:
		return message.Me(), nil
	case trimmed == "":
		reason := "sender missing"
		if present {
			reason = "sender empty or not a string"
		}
		w := issue.Warning(ref, issue.KindSender, "%s", reason)
		return message.Other(value), &w
	case isMeMarker(trimmed):
		return message.Me(), nil
	case e164Pattern.MatchString(trimmed):
		return message.Phone(trimmed), nil
	default:
		return message.Other(value), nil
	}
}

func isMeMarker(s string) bool {
	fold := cases.Fold()
	return fold.String(s) == meMarker
}

func fromMeFlag(raw message.Raw) (value, present bool) {
	v := raw.Get(fieldIsFromMe)
	switch v.Type {
	case gjson.True:
		return true, true
	case gjson.False:
		return false, true
	default:
		return false, false
	}
}

// rawValue returns a field's JSON text verbatim, or nil when absent or null.
func rawValue(v gjson.Result) json.RawMessage {
	if !v.Exists() || v.Type == gjson.Null {
		return nil
	}
	return json.RawMessage(v.Raw)
}

// SynthesizeID derives a deterministic identifier from normalized content
// for records exported without a guid.
func SynthesizeID(ts message.Timestamp, sender message.Sender, contents string) string {
	key := ts.String() + "|" + sender.Key() + "|" + contents
	return uuid.NewSHA1(idNamespace, []byte(key)).String()
}

// Fingerprint hashes the canonical record. Run-local and derived fields
// (fingerprint, duplicate_of, extracted_data, features) are excluded.
func Fingerprint(m message.Message) (string, error) {
	m.Fingerprint = ""
	m.DuplicateOf = ""
	m.Extracted = nil
	m.Features = nil

	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode for fingerprint: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

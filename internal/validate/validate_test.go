package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fp = "a3f1c2d4e5b6a7980112233445566778899aabbccddeeff00112233445566778"

func record(overrides string) string {
	base := `"id":"3c1f6a2e-8d7b-5a4c-9e0f-1b2c3d4e5f60","timestamp":"2024-03-09T09:00:00Z",` +
		`"sender":{"me":true},"contents":"hi","source_device_id":"unknown","schema_version":"1.0",` +
		`"fingerprint":"` + fp + `"`
	if overrides != "" {
		return "{" + overrides + "," + base + "}"
	}
	return "{" + base + "}"
}

func TestRecord_Valid(t *testing.T) {
	assert.Empty(t, Record([]byte(record(""))))
}

func TestRecord_Problems(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"not json", `{"id":`, "invalid JSON"},
		{"not object", `[1,2]`, "not an object"},
		{"missing field", `{"id":"abcdefghijk"}`, `missing required field "timestamp"`},
		{"local timestamp", `{"timestamp":"2024-03-09 09:00:00","id":"abcdefghijk","sender":{"me":true}}`, "timestamp is not UTC"},
		{"two senders", `{"sender":{"me":true,"phone":"+15550001111"},"id":"abcdefghijk"}`, "exactly one variant"},
		{"me false", `{"sender":{"me":false},"id":"abcdefghijk"}`, "sender.me must be true"},
		{"short id", `{"id":"abc","sender":{"other":"x"}}`, "invalid id"},
		{"bad fingerprint", `{"fingerprint":"xyz","sender":{"other":"x"}}`, "invalid fingerprint"},
		{"flat sender", `{"sender":"Me"}`, "sender is not an object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Record([]byte(tt.in))
			require.NotEmpty(t, errs)
			assert.Contains(t, strings.Join(errs, "\n"), tt.want)
		})
	}
}

func TestRecord_UnparsedTimestampAllowed(t *testing.T) {
	rec := strings.Replace(record(`"timestamp_unparsed":true`), `"2024-03-09T09:00:00Z"`, `"sometime"`, 1)
	assert.Empty(t, Record([]byte(rec)))
}

func TestFile(t *testing.T) {
	in := strings.Join([]string{
		record(""),
		"",
		`{"broken"`,
		strings.Replace(record(""), `{"me":true}`, `{"phone":"+15550001111"}`, 1),
		`{"id":"short","sender":{"other":"x"}}`,
	}, "\n")

	sum, err := File(strings.NewReader(in))
	require.NoError(t, err)

	assert.Equal(t, 4, sum.Records)
	assert.Equal(t, 2, sum.Invalid)
	assert.False(t, sum.OK())
	assert.Equal(t, map[string]int{"1.0": 2, "unknown": 1}, sum.SchemaVersions)
	assert.Equal(t, map[string]int{"me": 1, "phone": 1, "other": 1}, sum.SenderKinds)
	assert.Equal(t, map[string]int{"2024-03-09": 2}, sum.Dates)
	assert.Contains(t, sum.Errors[0], "line 3")
}

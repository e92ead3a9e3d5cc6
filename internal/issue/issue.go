// Package issue is the structured side channel for per-record warnings and
// errors. Stages return issues alongside their records instead of logging
// into shared counters.
package issue

import "fmt"

// Kind classifies an issue.
type Kind string

const (
	KindParse             Kind = "parse"
	KindNormalize         Kind = "normalize"
	KindTimestamp         Kind = "timestamp"
	KindSender            Kind = "sender"
	KindEncoding          Kind = "encoding"
	KindDuplicate         Kind = "duplicate"
	KindSegmentationInput Kind = "segmentation_input"
	KindValidation        Kind = "validation"
)

type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Issue points at one record. Errors mean the record was skipped; warnings
// mean it was kept but flagged.
type Issue struct {
	Ref      string   `json:"ref"`
	Kind     Kind     `json:"kind"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s %s [%s]: %s", i.Severity, i.Kind, i.Ref, i.Message)
}

func Warning(ref string, kind Kind, format string, args ...any) Issue {
	return Issue{Ref: ref, Kind: kind, Severity: SeverityWarning, Message: fmt.Sprintf(format, args...)}
}

func Error(ref string, kind Kind, format string, args ...any) Issue {
	return Issue{Ref: ref, Kind: kind, Severity: SeverityError, Message: fmt.Sprintf(format, args...)}
}

// Log accumulates issues for one run.
type Log struct {
	Issues []Issue `json:"issues"`
}

func (l *Log) Add(issues ...Issue) {
	l.Issues = append(l.Issues, issues...)
}

// Count returns the number of issues of the given kind.
func (l *Log) Count(kind Kind) int {
	n := 0
	for _, i := range l.Issues {
		if i.Kind == kind {
			n++
		}
	}
	return n
}

// Errors returns the number of error-severity issues (skipped records).
func (l *Log) Errors() int {
	n := 0
	for _, i := range l.Issues {
		if i.Severity == SeverityError {
			n++
		}
	}
	return n
}

// Warnings returns the number of warning-severity issues (flagged records).
func (l *Log) Warnings() int {
	return len(l.Issues) - l.Errors()
}

// ByKind tallies issues per kind.
func (l *Log) ByKind() map[Kind]int {
	out := make(map[Kind]int)
	for _, i := range l.Issues {
		out[i.Kind]++
	}
	return out
}

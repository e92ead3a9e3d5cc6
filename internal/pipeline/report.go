package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/convoseg/internal/issue"
	"github.com/MikeSquared-Agency/convoseg/internal/segment"
)

// ReportSuffix is appended to the records output path to name the report.
const ReportSuffix = ".report.json"

// Report summarizes one run. It is written next to the output so later
// runs and the status endpoint can read it back.
type Report struct {
	RunID             string    `json:"run_id"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
	Input             string    `json:"input,omitempty"`
	RecordsOutput     string    `json:"records_output,omitempty"`
	SegmentsOutput    string    `json:"segments_output,omitempty"`
	VocabularyVersion string    `json:"vocabulary_version"`

	Records    int `json:"records"`
	Written    int `json:"written"`
	Skipped    int `json:"skipped"`
	Duplicates int `json:"duplicates"`
	Stored     int `json:"stored,omitempty"`
	Warnings   int `json:"warnings"`
	Errors     int `json:"errors"`

	IssuesByKind map[issue.Kind]int `json:"issues_by_kind"`
	Segmentation segment.Summary    `json:"segmentation"`
	Issues       []issue.Issue      `json:"issues,omitempty"`
}

func NewReport() *Report {
	return &Report{
		RunID:        uuid.New().String(),
		StartedAt:    time.Now().UTC(),
		IssuesByKind: make(map[issue.Kind]int),
	}
}

// ReportPath returns where the report for a records output is saved.
func ReportPath(recordsOutput string) string {
	return recordsOutput + ReportSuffix
}

func (r *Report) addNormalize(res StageResult) {
	r.Records = res.Records
	r.Written = res.Written
	r.Skipped = res.Skipped
	r.Duplicates = res.Duplicates
	r.addIssues(res.Issues)
}

func (r *Report) addSegment(res SegmentResult) {
	r.Segmentation = res.Summary
	r.addIssues(res.Issues)
}

func (r *Report) addIssues(log issue.Log) {
	r.Issues = append(r.Issues, log.Issues...)
	r.Warnings += log.Warnings()
	r.Errors += log.Errors()
	for k, n := range log.ByKind() {
		r.IssuesByKind[k] += n
	}
}

func (r *Report) finish() {
	r.FinishedAt = time.Now().UTC()
}

// Save writes the report as indented JSON, creating parent directories.
func (r *Report) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// LoadReport reads a saved report.
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}

	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse report: %w", err)
	}
	return &r, nil
}

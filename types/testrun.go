package types

import "time"

// TestType identifies which suite family a run executes.
type TestType string

const (
	TestTypeAPI TestType = "api"
	TestTypeUI  TestType = "ui"
)

// Valid reports whether the test type is one the runner knows about.
func (t TestType) Valid() bool {
	return t == TestTypeAPI || t == TestTypeUI
}

// TestRunRequest is the body of POST /v1/test-runs.
type TestRunRequest struct {
	Type  TestType `json:"type" binding:"required"`
	Suite string   `json:"suite,omitempty"`
}

// TestRunSummary is the parsed outcome of one runner invocation.
type TestRunSummary struct {
	Type       TestType  `json:"type"`
	Total      int       `json:"total"`
	Passed     int       `json:"passed"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Duration   float64   `json:"duration"`
	ReportURL  string    `json:"reportUrl,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// CombinedSummary aggregates the latest API and UI runs for the summary
// endpoint and the daily report.
type CombinedSummary struct {
	Timestamp   time.Time       `json:"timestamp"`
	APITests    *TestRunSummary `json:"apiTests,omitempty"`
	UITests     *TestRunSummary `json:"uiTests,omitempty"`
	TotalTests  int             `json:"totalTests"`
	TotalPassed int             `json:"totalPassed"`
	TotalFailed int             `json:"totalFailed"`
}

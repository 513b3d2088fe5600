package model

import (
	"context"
	"time"
)

// LanguageProfile is how one language is run: the image, the extension of
// the injected source file and the command that builds and runs it.
type LanguageProfile struct {
	ID    string
	Image string
	Ext   string
	Cmd   func(filename string) []string
}

// ExecutionRequest is one submission. A nil Input means no input was
// supplied, which is different from an empty input file.
type ExecutionRequest struct {
	Source   []byte
	Language string
	Filename string
	MimeType string
	Input    []byte
}

// ExecutionResult is what a finished run produced. ExitCode is nil when the
// exit status could not be observed. DurationMs and MemoryKB are -1 when
// the run failed.
type ExecutionResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   *int   `json:"exitCode"`
	DurationMs int64  `json:"executionTimeMs"`
	MemoryKB   int64  `json:"memoryUsageKb"`
	OOMKilled  bool   `json:"oomKilled"`
	Truncated  bool   `json:"truncated"`
}

type CodeMetrics struct {
	RelevantLines int `json:"linesOfRelevantCode"`
}

type Outcome string

const (
	OutcomeCompleted           Outcome = "completed"
	OutcomeTimedOut            Outcome = "timed_out"
	OutcomeUnsupportedLanguage Outcome = "unsupported_language"
	OutcomeImageUnavailable    Outcome = "image_unavailable"
	OutcomeCreationFailed      Outcome = "creation_failed"
	OutcomeStreamError         Outcome = "stream_error"
	OutcomeServerBusy          Outcome = "server_busy"
	OutcomeCancelled           Outcome = "cancelled"
)

// Report is the facade's answer for one request. It always carries the
// relevant line count, even when the run itself failed.
type Report struct {
	ExecutionResult
	CodeMetrics
	Language       string  `json:"language"`
	LanguageSource string  `json:"languageSource"`
	Fallback       bool    `json:"languageFallback"`
	Outcome        Outcome `json:"outcome"`
	Error          string  `json:"error,omitempty"`
}

func (r Report) Succeeded() bool {
	return r.Outcome == OutcomeCompleted && r.ExitCode != nil && *r.ExitCode == 0
}

type LeaderboardEntry struct {
	Rank                int       `json:"rank"`
	UserID              string    `json:"userId"`
	Username            string    `json:"username"`
	Year                int       `json:"year"`
	Day                 int       `json:"day"`
	Part1Completed      bool      `json:"part1Completed"`
	Part2Completed      bool      `json:"part2Completed"`
	Language            string    `json:"language"`
	ExecutionTimeMs     int64     `json:"executionTimeMs"`
	MemoryUsageKB       int64     `json:"memoryUsageKb"`
	LinesOfRelevantCode int       `json:"linesOfRelevantCode"`
	SubmittedAt         time.Time `json:"submittedAt"`
}

// CodeExecutor runs a request end to end and never fails outright.
type CodeExecutor interface {
	Run(ctx context.Context, req ExecutionRequest) Report
}

func IntPtr(v int) *int {
	return &v
}

package executer

import (
	"context"
	"time"

	"github.com/sudankdk/aoc-runner/internal/model"
)

// Submission is an uploaded solution together with the leaderboard entry
// it should fill in.
type Submission struct {
	Entry    model.LeaderboardEntry
	Filename string
	MimeType string
	Solution []byte
	Input    []byte
}

type CodeController struct {
	cc  model.CodeExecutor
	now func() time.Time
}

func NewCodeController(cc model.CodeExecutor) *CodeController {
	return &CodeController{cc: cc, now: time.Now}
}

// Execute runs the submission and merges the run's stats into its entry.
// A failed run still yields an entry, with -1 time and memory.
func (c *CodeController) Execute(ctx context.Context, sub Submission) (model.LeaderboardEntry, model.Report) {
	report := c.cc.Run(ctx, model.ExecutionRequest{
		Source:   sub.Solution,
		Filename: sub.Filename,
		MimeType: sub.MimeType,
		Input:    sub.Input,
	})

	entry := sub.Entry
	entry.Language = report.Language
	entry.ExecutionTimeMs = report.DurationMs
	entry.MemoryUsageKB = report.MemoryKB
	entry.LinesOfRelevantCode = report.RelevantLines
	if entry.SubmittedAt.IsZero() {
		entry.SubmittedAt = c.now().UTC()
	}
	return entry, report
}

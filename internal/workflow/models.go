package workflow

import (
	"errors"
	"fmt"

	"github.com/jordanhubbard/testpilot/internal/session"
)

// ErrInvalidDraft is returned when a draft is missing required fields. No
// upstream call is made for an invalid draft.
var ErrInvalidDraft = errors.New("invalid pull request draft")

// ErrPathConflict marks a test whose output path is already taken by tests
// of another source file in the same draft.
var ErrPathConflict = errors.New("output path conflict")

// Draft is a pull request ready to be submitted.
type Draft struct {
	Repository  string                  `json:"repository" validate:"required,contains=/"`
	BranchName  string                  `json:"branchName" validate:"required,branchname"`
	Title       string                  `json:"title" validate:"required"`
	Description string                  `json:"description"`
	Tests       []session.GeneratedTest `json:"tests" validate:"required,min=1,dive"`
}

// FileOutcome is the result of writing one generated test.
type FileOutcome struct {
	SummaryID string `json:"summaryId"`
	Path      string `json:"path"`
	OK        bool   `json:"ok"`
	CommitSHA string `json:"commitSha,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Result is the terminal artifact of a successful run.
type Result struct {
	RunID         string        `json:"runId"`
	Branch        string        `json:"branch"`
	BaseBranch    string        `json:"baseBranch"`
	BranchCreated bool          `json:"branchCreated"`
	Number        int           `json:"number"`
	URL           string        `json:"url"`
	Reused        bool          `json:"reused"`
	Files         []FileOutcome `json:"files"`
}

// WriteError reports a run in which at least one file write failed. Files
// that were written stay on the branch; no pull request is opened.
type WriteError struct {
	Branch   string
	Outcomes []FileOutcome
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%d of %d file writes failed on branch %s", e.Failed(), len(e.Outcomes), e.Branch)
}

// Failed counts the failed writes.
func (e *WriteError) Failed() int {
	n := 0
	for _, o := range e.Outcomes {
		if !o.OK {
			n++
		}
	}
	return n
}

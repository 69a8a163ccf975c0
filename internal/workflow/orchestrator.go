// Package workflow opens a pull request that adds generated tests to a
// repository: resolve the default branch, create a working branch, write
// every file into it and open (or reuse) the pull request.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jordanhubbard/testpilot/internal/analyzer"
	"github.com/jordanhubbard/testpilot/internal/github"
	"github.com/jordanhubbard/testpilot/internal/messagebus"
	"github.com/jordanhubbard/testpilot/internal/metrics"
	"github.com/jordanhubbard/testpilot/internal/render"
	"github.com/jordanhubbard/testpilot/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Upstream is the subset of the GitHub client the workflow drives.
type Upstream interface {
	GetRepository(ctx context.Context, repo string) (*github.Repository, error)
	GetBranchSHA(ctx context.Context, repo, branch string) (string, error)
	GetFile(ctx context.Context, repo, path string) (*github.FileContent, error)
	CreateBranch(ctx context.Context, repo, branch, sha string) (bool, error)
	PutFile(ctx context.Context, repo string, req github.PutFileRequest) (*github.FileCommit, error)
	CreatePullRequest(ctx context.Context, repo string, req github.CreatePRRequest) (*github.PullRequest, error)
	FindOpenPullRequest(ctx context.Context, repo, branch, base string) (*github.PullRequest, error)
}

var _ Upstream = (*github.Client)(nil)

const (
	defaultTestsDir  = "tests"
	defaultMaxWrites = 4
	fallbackBase     = "main"
)

// Options configures an Orchestrator. Zero values take the defaults.
type Options struct {
	TestsDir            string
	MaxConcurrentWrites int
	ReuseOpenPR         bool
	Publisher           messagebus.Publisher
	Metrics             *metrics.Metrics
	Instruments         *telemetry.Instruments
	Logger              *slog.Logger
}

// Orchestrator runs pull request workflows. It holds no per-run state and is
// safe for concurrent use.
type Orchestrator struct {
	testsDir    string
	maxWrites   int
	reuse       bool
	publisher   messagebus.Publisher
	metrics     *metrics.Metrics
	instruments *telemetry.Instruments
	logger      *slog.Logger
	validate    *validator.Validate
	now         func() time.Time
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		testsDir:    strings.Trim(opts.TestsDir, "/"),
		maxWrites:   opts.MaxConcurrentWrites,
		reuse:       opts.ReuseOpenPR,
		publisher:   opts.Publisher,
		metrics:     opts.Metrics,
		instruments: opts.Instruments,
		logger:      opts.Logger,
		validate:    newValidator(),
		now:         time.Now,
	}
	if o.testsDir == "" {
		o.testsDir = defaultTestsDir
	}
	if o.maxWrites <= 0 {
		o.maxWrites = defaultMaxWrites
	}
	if o.publisher == nil {
		o.publisher = messagebus.NopPublisher{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("branchname", func(fl validator.FieldLevel) bool {
		return validBranchName(fl.Field().String())
	})
	return v
}

// validBranchName applies the subset of git ref rules a user is likely to
// trip over.
func validBranchName(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") ||
		strings.HasSuffix(name, ".lock") || strings.HasPrefix(name, "-") {
		return false
	}
	if strings.Contains(name, "..") || strings.Contains(name, "//") || strings.Contains(name, "@{") {
		return false
	}
	return !strings.ContainsAny(name, " ~^:?*[\\\t\n")
}

// Validate checks d without touching the network.
func (o *Orchestrator) Validate(d Draft) error {
	if err := o.validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidDraft, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidDraft, err)
	}
	return nil
}

func normalize(d Draft) Draft {
	d.Repository = strings.TrimSpace(d.Repository)
	d.BranchName = strings.TrimSpace(d.BranchName)
	d.Title = strings.TrimSpace(d.Title)
	return d
}

// CreateTestPR runs the workflow for d against up. A failed file write
// returns a *WriteError and leaves the branch as it is; nothing is rolled
// back.
func (o *Orchestrator) CreateTestPR(ctx context.Context, up Upstream, d Draft) (result *Result, err error) {
	d = normalize(d)
	if err := o.Validate(d); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	start := o.now()
	ctx, span := telemetry.Tracer().Start(ctx, "workflow.create_test_pr", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("repository", d.Repository),
		attribute.String("branch", d.BranchName),
		attribute.Int("tests", len(d.Tests)),
	))
	o.instruments.WorkflowStarted(ctx)
	logger := o.logger.With("run_id", runID, "repository", d.Repository, "branch", d.BranchName)
	logger.Info("Pull request workflow started", "tests", len(d.Tests))

	defer func() {
		o.finish(ctx, span, logger, runID, start, d, result, err)
	}()

	repo, err := step(ctx, "get_repository", func(ctx context.Context) (*github.Repository, error) {
		return up.GetRepository(ctx, d.Repository)
	})
	if err != nil {
		return nil, fmt.Errorf("get repository %s: %w", d.Repository, err)
	}
	base := repo.DefaultBranch
	if base == "" {
		base = fallbackBase
	}
	if base == d.BranchName {
		return nil, fmt.Errorf("%w: branch %q is the default branch", ErrInvalidDraft, d.BranchName)
	}

	sha, err := step(ctx, "get_base_sha", func(ctx context.Context) (string, error) {
		return up.GetBranchSHA(ctx, d.Repository, base)
	})
	if err != nil {
		return nil, fmt.Errorf("resolve %s head: %w", base, err)
	}

	created, err := step(ctx, "create_branch", func(ctx context.Context) (bool, error) {
		return up.CreateBranch(ctx, d.Repository, d.BranchName, sha)
	})
	if err != nil {
		return nil, fmt.Errorf("create branch %s: %w", d.BranchName, err)
	}
	if !created {
		logger.Info("Branch already exists, continuing on it")
	}

	outcomes := o.writeFiles(ctx, up, d)
	res := &Result{
		RunID:         runID,
		Branch:        d.BranchName,
		BaseBranch:    base,
		BranchCreated: created,
		Files:         outcomes,
	}
	for _, out := range outcomes {
		if !out.OK {
			return nil, &WriteError{Branch: d.BranchName, Outcomes: outcomes}
		}
	}

	if o.reuse {
		existing, err := step(ctx, "find_pull_request", func(ctx context.Context) (*github.PullRequest, error) {
			return up.FindOpenPullRequest(ctx, d.Repository, d.BranchName, base)
		})
		switch {
		case err != nil:
			logger.Warn("Open pull request lookup failed, creating a new one", "error", err)
		case existing != nil:
			res.Number, res.URL, res.Reused = existing.Number, existing.URL, true
			return res, nil
		}
	}

	pr, err := step(ctx, "create_pull_request", func(ctx context.Context) (*github.PullRequest, error) {
		return up.CreatePullRequest(ctx, d.Repository, github.CreatePRRequest{
			Title: d.Title,
			Body:  d.Description,
			Head:  d.BranchName,
			Base:  base,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create pull request: %w", err)
	}
	res.Number, res.URL = pr.Number, pr.URL
	return res, nil
}

// writeFiles writes every test under the tests directory with one commit per
// path. Tests of the same source file that map to one path are rendered
// together into a single file; a test of a different source that collides
// on the path is reported as a conflict and not written. Every write runs to
// completion regardless of the others.
func (o *Orchestrator) writeFiles(ctx context.Context, up Upstream, d Draft) []FileOutcome {
	ctx, span := telemetry.Tracer().Start(ctx, "workflow.write_files")
	defer span.End()

	outcomes := make([]FileOutcome, len(d.Tests))
	groups := make(map[string][]int)
	var order []string
	for i, t := range d.Tests {
		p := path.Join(o.testsDir, path.Base(t.FileName))
		if _, ok := groups[p]; !ok {
			order = append(order, p)
		}
		groups[p] = append(groups[p], i)
	}

	var g errgroup.Group
	g.SetLimit(o.maxWrites)
	for _, p := range order {
		g.Go(func() error {
			o.writeGroup(ctx, up, d, p, groups[p], outcomes)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, out := range outcomes {
		if !out.OK {
			failed++
		}
	}
	span.SetAttributes(attribute.Int("files.total", len(outcomes)), attribute.Int("files.failed", failed))
	if failed > 0 {
		span.SetStatus(codes.Error, "file writes failed")
	}
	return outcomes
}

// writeGroup commits the tests at indexes to p and records their outcomes.
func (o *Orchestrator) writeGroup(ctx context.Context, up Upstream, d Draft, p string, indexes []int, outcomes []FileOutcome) {
	record := func(i int, sha string, err error) {
		out := FileOutcome{SummaryID: d.Tests[i].Summary.ID, Path: p, OK: err == nil, CommitSHA: sha}
		if err != nil {
			out.Error = err.Error()
			o.logger.Warn("File write failed", "path", p, "summary", out.SummaryID, "error", err)
		}
		outcomes[i] = out
		o.metrics.RecordFileWrite(out.OK)
		o.instruments.FileWritten(ctx, out.OK)
	}

	owner := d.Tests[indexes[0]].Summary.File
	var members []int
	for _, i := range indexes {
		if f := d.Tests[i].Summary.File; f != owner {
			record(i, "", fmt.Errorf("%w: %s already holds tests for %s", ErrPathConflict, p, owner))
			continue
		}
		members = append(members, i)
	}

	first := d.Tests[members[0]]
	req := github.PutFileRequest{
		Path:    p,
		Content: first.Code,
		Message: "Add " + first.Summary.Title,
		Branch:  d.BranchName,
	}
	if len(members) > 1 {
		content, err := o.combine(ctx, up, d, members)
		if err != nil {
			for _, i := range members {
				record(i, "", err)
			}
			return
		}
		req.Content = content
		req.Message = "Add tests for " + owner
	}

	commit, err := up.PutFile(ctx, d.Repository, req)
	sha := ""
	if err == nil {
		sha = commit.CommitSHA
	}
	for _, i := range members {
		record(i, sha, err)
	}
}

// combine renders one file for every summary in members. Only the script
// variant reads the source, so the fetch is skipped for the others.
func (o *Orchestrator) combine(ctx context.Context, up Upstream, d Draft, members []int) (string, error) {
	summaries := make([]analyzer.TestSummary, len(members))
	for n, i := range members {
		summaries[n] = d.Tests[i].Summary
	}
	var source string
	if render.KindOf(summaries[0].Framework) == render.KindScript {
		f, err := up.GetFile(ctx, d.Repository, summaries[0].File)
		if err != nil {
			return "", fmt.Errorf("fetch source %s: %w", summaries[0].File, err)
		}
		source = f.Content
	}
	out, err := render.Combine(summaries, source)
	if err != nil {
		return "", err
	}
	o.metrics.RecordRender(out.Kind)
	return out.Code, nil
}

// step runs fn inside a child span named after the workflow step.
func step[T any](ctx context.Context, name string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "workflow."+name)
	defer span.End()
	v, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, name+" failed")
	}
	return v, err
}

func (o *Orchestrator) finish(ctx context.Context, span trace.Span, logger *slog.Logger, runID string, start time.Time, d Draft, res *Result, err error) {
	defer span.End()

	outcome := messagebus.ResultFailed
	event := &messagebus.PullRequestEvent{
		ID:         uuid.NewString(),
		RunID:      runID,
		Repository: d.Repository,
		Branch:     d.BranchName,
		Timestamp:  o.now().UTC(),
	}

	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "workflow failed")
		event.Error = err.Error()
		var we *WriteError
		if errors.As(err, &we) {
			event.FilesFailed = we.Failed()
			event.FilesWritten = len(we.Outcomes) - event.FilesFailed
		}
		logger.Error("Pull request workflow failed", "error", err)
	default:
		outcome = messagebus.ResultCreated
		if res.Reused {
			outcome = messagebus.ResultReused
		}
		event.Number, event.URL, event.FilesWritten = res.Number, res.URL, len(res.Files)
		span.SetAttributes(attribute.Int("pull_request.number", res.Number), attribute.Bool("pull_request.reused", res.Reused))
		logger.Info("Pull request workflow finished", "result", outcome, "number", res.Number, "url", res.URL)
	}
	event.Result = outcome

	o.metrics.RecordWorkflow(outcome, o.now().Sub(start).Seconds())
	o.instruments.WorkflowCompleted(ctx, outcome)

	// The request context may already be cancelled; the event still goes out.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if perr := o.publisher.PublishPullRequest(pubCtx, event); perr != nil {
		logger.Warn("Failed to publish workflow event", "error", perr)
	}
}

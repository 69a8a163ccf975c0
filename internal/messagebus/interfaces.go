package messagebus

import (
	"context"
	"time"
)

// Event results.
const (
	ResultCreated = "created"
	ResultReused  = "reused"
	ResultFailed  = "failed"
)

// PullRequestEvent reports the outcome of one pull request workflow run.
type PullRequestEvent struct {
	ID           string    `json:"id"`
	RunID        string    `json:"run_id"`
	Result       string    `json:"result"`
	Repository   string    `json:"repository"`
	Branch       string    `json:"branch"`
	Number       int       `json:"number,omitempty"`
	URL          string    `json:"url,omitempty"`
	FilesWritten int       `json:"files_written"`
	FilesFailed  int       `json:"files_failed"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Publisher abstracts event publishing for testability.
type Publisher interface {
	PublishPullRequest(ctx context.Context, event *PullRequestEvent) error
}

// Subscriber abstracts event consumption for testability.
type Subscriber interface {
	SubscribePullRequests(handler func(*PullRequestEvent)) error
}

// NopPublisher discards events. It is used when messaging is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishPullRequest(context.Context, *PullRequestEvent) error { return nil }

// Verify implementations at compile time.
var (
	_ Publisher  = (*NatsMessageBus)(nil)
	_ Subscriber = (*NatsMessageBus)(nil)
	_ Publisher  = NopPublisher{}
)

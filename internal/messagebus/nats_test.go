package messagebus

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPullRequestSubject(t *testing.T) {
	tests := []struct {
		result, want string
	}{
		{ResultCreated, "testpilot.pulls.created"},
		{ResultReused, "testpilot.pulls.reused"},
		{ResultFailed, "testpilot.pulls.failed"},
		{"a.b", "testpilot.pulls.a_b"},
		{"", "testpilot.pulls.unknown"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, PullRequestSubject(tc.result))
	}
}

func TestNopPublisher(t *testing.T) {
	assert.NoError(t, NopPublisher{}.PublishPullRequest(context.Background(), &PullRequestEvent{}))
}

func TestNewNatsMessageBus_BadURL(t *testing.T) {
	_, err := NewNatsMessageBus(Config{
		URL:     "nats://nonexistent-host:99999",
		Timeout: 500 * time.Millisecond,
	})
	assert.Error(t, err)
}

func TestNatsMessageBus_PublishSubscribe(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = "nats://localhost:4222"
	}
	mb, err := NewNatsMessageBus(Config{
		URL:          url,
		StreamName:   "TESTPILOT_TEST",
		Timeout:      time.Second,
		ConsumerName: "test-" + uuid.NewString()[:8],
	})
	if err != nil {
		t.Skipf("NATS not available: %v", err)
	}
	defer mb.Close()
	require.NoError(t, mb.Health())

	received := make(chan *PullRequestEvent, 16)
	require.NoError(t, mb.SubscribePullRequests(func(e *PullRequestEvent) { received <- e }))

	runID := uuid.NewString()
	require.NoError(t, mb.PublishPullRequest(context.Background(), &PullRequestEvent{
		ID: uuid.NewString(), RunID: runID, Result: ResultCreated, Repository: "octo/app", Number: 3,
	}))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-received:
			if e.RunID == runID {
				assert.Equal(t, 3, e.Number)
				return
			}
		case <-deadline:
			t.Fatal("event not delivered")
		}
	}
}

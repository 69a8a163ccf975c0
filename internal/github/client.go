// Package github is a small REST client for the GitHub API, scoped to one
// user's bearer token. Every call is a single attempt: there is no retry and
// no client-side timeout beyond what the caller's context imposes.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/jordanhubbard/testpilot/internal/metrics"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public GitHub REST endpoint.
	DefaultBaseURL = "https://api.github.com"

	acceptHeader = "application/vnd.github.v3+json"

	repoListLimit = 50
)

// ClientConfig carries what every per-session client shares.
type ClientConfig struct {
	BaseURL   string
	Transport http.RoundTripper // nil uses an otelhttp-instrumented default transport
	Limiter   *rate.Limiter     // nil means unlimited
	Metrics   *metrics.Metrics
}

// NewLimiter returns a limiter for rps requests per second, or an unlimited
// one when rps <= 0.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if burst < 1 {
		burst = 1
	}
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, burst)
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Client issues authenticated requests on behalf of one credential.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	metrics *metrics.Metrics
}

// NewClient creates a client for token. An empty token is allowed; every
// call then fails with ErrNoCredential.
func NewClient(cfg ClientConfig, token string) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	transport := cfg.Transport
	if transport == nil {
		transport = otelhttp.NewTransport(http.DefaultTransport)
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = NewLimiter(0, 1)
	}
	return &Client{
		baseURL: base,
		token:   token,
		http:    &http.Client{Transport: transport},
		limiter: limiter,
		metrics: cfg.Metrics,
	}
}

// Do sends one request to endpoint (a path relative to the API root) and
// decodes a JSON response into out when out is non-nil.
func (c *Client) Do(ctx context.Context, method, endpoint string, body, out any) error {
	return c.call(ctx, "request", method, endpoint, body, out)
}

func (c *Client) call(ctx context.Context, op, method, endpoint string, body, out any) error {
	if c.token == "" {
		return ErrNoCredential
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", acceptHeader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordUpstreamRequest(op, 0)
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()
	c.metrics.RecordUpstreamRequest(op, resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Message string `json:"message"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = json.Unmarshal(raw, &apiErr)
		return &UpstreamError{Status: resp.StatusCode, Message: apiErr.Message, Endpoint: endpoint}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse %s response: %w", op, err)
	}
	return nil
}

// CurrentUser returns the identity the token belongs to.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var u User
	if err := c.call(ctx, "current_user", http.MethodGet, "/user", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// ListRepositories returns the user's repositories, most recently updated first.
func (c *Client) ListRepositories(ctx context.Context) ([]Repository, error) {
	endpoint := fmt.Sprintf("/user/repos?sort=updated&per_page=%d", repoListLimit)
	var repos []Repository
	if err := c.call(ctx, "list_repositories", http.MethodGet, endpoint, nil, &repos); err != nil {
		return nil, err
	}
	return repos, nil
}

// GetRepository returns metadata for owner/name.
func (c *Client) GetRepository(ctx context.Context, repo string) (*Repository, error) {
	rp, err := repoPath(repo)
	if err != nil {
		return nil, err
	}
	var r Repository
	if err := c.call(ctx, "get_repository", http.MethodGet, rp, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListContents lists the entries at path ("" for the root). A path that names
// a file yields a single entry.
func (c *Client) ListContents(ctx context.Context, repo, path string) ([]FileEntry, error) {
	endpoint, err := contentsPath(repo, path)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := c.call(ctx, "list_contents", http.MethodGet, endpoint, nil, &raw); err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var single FileEntry
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, fmt.Errorf("parse list_contents response: %w", err)
		}
		return []FileEntry{single}, nil
	}

	var entries []FileEntry
	if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil, fmt.Errorf("parse list_contents response: %w", err)
	}
	return entries, nil
}

// GetFile fetches one file and decodes its base64 content to text.
func (c *Client) GetFile(ctx context.Context, repo, path string) (*FileContent, error) {
	return c.getFile(ctx, repo, path, "", true)
}

// getFile reads the contents entry for path. With decode unset only the
// metadata is filled in.
func (c *Client) getFile(ctx context.Context, repo, path, ref string, decode bool) (*FileContent, error) {
	endpoint, err := contentsPath(repo, path)
	if err != nil {
		return nil, err
	}
	if ref != "" {
		endpoint += "?ref=" + url.QueryEscape(ref)
	}

	var raw json.RawMessage
	if err := c.call(ctx, "get_file", http.MethodGet, endpoint, nil, &raw); err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNotAFile
	}

	var f struct {
		Type     string `json:"type"`
		Name     string `json:"name"`
		Path     string `json:"path"`
		Size     int64  `json:"size"`
		SHA      string `json:"sha"`
		Encoding string `json:"encoding"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return nil, fmt.Errorf("parse get_file response: %w", err)
	}
	if f.Type != string(EntryFile) {
		return nil, ErrNotAFile
	}
	meta := &FileContent{Name: f.Name, Path: f.Path, Size: f.Size, SHA: f.SHA}
	if !decode {
		return meta, nil
	}
	// Files over 1 MB come back with encoding "none" and no content.
	if f.Encoding != "" && f.Encoding != "base64" {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrFileTooLarge, path, f.Size)
	}

	text, err := decodeContent(f.Content)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	meta.Content = text
	return meta, nil
}

// GetBranchSHA returns the head commit SHA of branch.
func (c *Client) GetBranchSHA(ctx context.Context, repo, branch string) (string, error) {
	rp, err := repoPath(repo)
	if err != nil {
		return "", err
	}
	var ref struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	endpoint := rp + "/git/ref/heads/" + escapePath(branch)
	if err := c.call(ctx, "get_branch", http.MethodGet, endpoint, nil, &ref); err != nil {
		return "", err
	}
	if ref.Object.SHA == "" {
		return "", fmt.Errorf("branch %s has no commit sha", branch)
	}
	return ref.Object.SHA, nil
}

// CreateBranch creates refs/heads/branch at sha. A branch that already exists
// is not an error: created is false and the caller may continue on it.
func (c *Client) CreateBranch(ctx context.Context, repo, branch, sha string) (created bool, err error) {
	rp, err := repoPath(repo)
	if err != nil {
		return false, err
	}
	body := map[string]string{
		"ref": "refs/heads/" + branch,
		"sha": sha,
	}
	err = c.call(ctx, "create_branch", http.MethodPost, rp+"/git/refs", body, nil)
	if err != nil {
		if isAlreadyExists(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// PutFile creates req.Path on req.Branch, or updates it in place when the file
// already exists there.
func (c *Client) PutFile(ctx context.Context, repo string, req PutFileRequest) (*FileCommit, error) {
	endpoint, err := contentsPath(repo, req.Path)
	if err != nil {
		return nil, err
	}

	payload := map[string]string{
		"message": req.Message,
		"content": base64.StdEncoding.EncodeToString([]byte(req.Content)),
		"branch":  req.Branch,
	}
	existing, err := c.getFile(ctx, repo, req.Path, req.Branch, false)
	switch {
	case err == nil:
		payload["sha"] = existing.SHA
	case IsNotFound(err):
	default:
		return nil, err
	}

	var resp struct {
		Content struct {
			Path    string `json:"path"`
			SHA     string `json:"sha"`
			HTMLURL string `json:"html_url"`
		} `json:"content"`
		Commit struct {
			SHA string `json:"sha"`
		} `json:"commit"`
	}
	if err := c.call(ctx, "put_file", http.MethodPut, endpoint, payload, &resp); err != nil {
		return nil, err
	}
	return &FileCommit{
		Path:      resp.Content.Path,
		SHA:       resp.Content.SHA,
		CommitSHA: resp.Commit.SHA,
		HTMLURL:   resp.Content.HTMLURL,
	}, nil
}

type ghPullRequest struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	State   string `json:"state"`
	HTMLURL string `json:"html_url"`
	Head    struct {
		Ref string `json:"ref"`
	} `json:"head"`
	Base struct {
		Ref string `json:"ref"`
	} `json:"base"`
}

func (p ghPullRequest) toPullRequest() *PullRequest {
	return &PullRequest{
		Number:  p.Number,
		Title:   p.Title,
		State:   p.State,
		URL:     p.HTMLURL,
		HeadRef: p.Head.Ref,
		BaseRef: p.Base.Ref,
	}
}

// CreatePullRequest opens a pull request from req.Head into req.Base.
func (c *Client) CreatePullRequest(ctx context.Context, repo string, req CreatePRRequest) (*PullRequest, error) {
	rp, err := repoPath(repo)
	if err != nil {
		return nil, err
	}
	body := map[string]string{
		"title": req.Title,
		"body":  req.Body,
		"head":  req.Head,
		"base":  req.Base,
	}
	var pr ghPullRequest
	if err := c.call(ctx, "create_pull_request", http.MethodPost, rp+"/pulls", body, &pr); err != nil {
		return nil, err
	}
	return pr.toPullRequest(), nil
}

// FindOpenPullRequest returns the open pull request whose head is branch in
// repo's own namespace, or nil when there is none.
func (c *Client) FindOpenPullRequest(ctx context.Context, repo, branch, base string) (*PullRequest, error) {
	rp, err := repoPath(repo)
	if err != nil {
		return nil, err
	}
	owner := strings.SplitN(repo, "/", 2)[0]

	q := url.Values{}
	q.Set("state", "open")
	q.Set("head", owner+":"+branch)
	if base != "" {
		q.Set("base", base)
	}

	var prs []ghPullRequest
	if err := c.call(ctx, "find_pull_request", http.MethodGet, rp+"/pulls?"+q.Encode(), nil, &prs); err != nil {
		return nil, err
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return prs[0].toPullRequest(), nil
}

// repoPath validates owner/name and returns the escaped /repos prefix.
func repoPath(repo string) (string, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("%w %q: want owner/name", ErrInvalidRepository, repo)
	}
	return "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(name), nil
}

func contentsPath(repo, path string) (string, error) {
	rp, err := repoPath(repo)
	if err != nil {
		return "", err
	}
	path = strings.Trim(path, "/")
	if path == "" {
		return rp + "/contents", nil
	}
	return rp + "/contents/" + escapePath(path), nil
}

// escapePath escapes each slash-separated segment.
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

// decodeContent decodes the API's line-wrapped base64.
func decodeContent(encoded string) (string, error) {
	clean := strings.NewReplacer("\n", "", "\r", "").Replace(encoded)
	data, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

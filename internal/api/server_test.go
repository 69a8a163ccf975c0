package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/testpilot/internal/analyzer"
	"github.com/jordanhubbard/testpilot/internal/auth"
	"github.com/jordanhubbard/testpilot/internal/github"
	"github.com/jordanhubbard/testpilot/internal/logging"
	"github.com/jordanhubbard/testpilot/internal/session"
	"github.com/jordanhubbard/testpilot/internal/workflow"
	"github.com/jordanhubbard/testpilot/pkg/config"
)

const utilsSource = "export async function fetchData() { await fetch('/api'); }\n"

// fakeGitHub serves the subset of the REST API the handlers use.
type fakeGitHub struct {
	calls     atomic.Int32
	failPut   atomic.Bool
	failFetch atomic.Bool

	mu      sync.Mutex
	written map[string]string
}

func (f *fakeGitHub) handler() http.Handler {
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("GET /user/repos", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, []map[string]any{{"name": "app", "full_name": "octo/app", "default_branch": "main"}})
	})
	mux.HandleFunc("GET /repos/octo/app", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, map[string]any{"name": "app", "full_name": "octo/app", "default_branch": "main"})
	})
	mux.HandleFunc("GET /repos/octo/app/git/ref/heads/main", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, map[string]any{"object": map[string]string{"sha": "base-sha"}})
	})
	mux.HandleFunc("POST /repos/octo/app/git/refs", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusCreated, map[string]any{"ref": "refs/heads/testpilot"})
	})
	mux.HandleFunc("GET /repos/octo/app/contents/{path...}", func(w http.ResponseWriter, r *http.Request) {
		switch p := r.PathValue("path"); {
		case p == "src":
			reply(w, http.StatusOK, []map[string]any{
				{"name": "utils.ts", "path": "src/utils.ts", "type": "file", "size": len(utilsSource)},
				{"name": "lib", "path": "src/lib", "type": "dir"},
			})
		case p == "src/utils.ts" && !f.failFetch.Load():
			reply(w, http.StatusOK, map[string]any{
				"type": "file", "name": "utils.ts", "path": p, "size": len(utilsSource), "sha": "file-sha",
				"encoding": "base64", "content": base64.StdEncoding.EncodeToString([]byte(utilsSource)),
			})
		case p == "src/utils.ts":
			reply(w, http.StatusBadGateway, map[string]string{"message": "upstream exploded"})
		default:
			reply(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		}
	})
	mux.HandleFunc("PUT /repos/octo/app/contents/{path...}", func(w http.ResponseWriter, r *http.Request) {
		if f.failPut.Load() {
			reply(w, http.StatusConflict, map[string]string{"message": "conflict"})
			return
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			reply(w, http.StatusUnprocessableEntity, map[string]string{"message": err.Error()})
			return
		}
		f.mu.Lock()
		f.written[r.PathValue("path")] = body["branch"]
		f.mu.Unlock()
		reply(w, http.StatusCreated, map[string]any{
			"content": map[string]string{"path": r.PathValue("path"), "sha": "new-sha"},
			"commit":  map[string]string{"sha": "commit-sha"},
		})
	})
	mux.HandleFunc("POST /repos/octo/app/pulls", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusCreated, map[string]any{"number": 7, "html_url": "https://github.com/octo/app/pull/7", "state": "open"})
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		mux.ServeHTTP(w, r)
	})
}

type fixture struct {
	upstream *fakeGitHub
	handler  http.Handler
	tokens   *auth.TokenStore
	store    session.Store
	logs     *logging.Manager
	cookie   *http.Cookie
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{upstream: &fakeGitHub{written: map[string]string{}}}
	gh := httptest.NewServer(f.upstream.handler())
	t.Cleanup(gh.Close)

	cfg := config.DefaultConfig()
	cfg.Security.AllowedOrigins = []string{"http://localhost:5173"}
	f.tokens = auth.NewTokenStore(auth.TokenStoreOptions{SealingKey: "test-key"})
	f.store = session.NewMemoryStore(cfg.Session.MaxAge)
	f.logs = logging.NewManager(io.Discard, "debug", "json")

	srv := NewServer(Options{
		Config:       cfg,
		Tokens:       f.tokens,
		Upstream:     github.ClientConfig{BaseURL: gh.URL},
		Store:        f.store,
		Orchestrator: workflow.New(workflow.Options{Logger: f.logs.Logger()}),
		Logs:         f.logs,
		Logger:       f.logs.Logger(),
		Checks: map[string]HealthCheck{
			"session": func(context.Context) error { return nil },
		},
		Version: "test",
	})
	f.handler = srv.SetupRoutes()

	rec := httptest.NewRecorder()
	require.NoError(t, f.tokens.Store(rec, "gho_token"))
	f.cookie = rec.Result().Cookies()[0]
	return f
}

func (f *fixture) do(t *testing.T, method, target string, body any, authenticated bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if authenticated {
		req.AddCookie(f.cookie)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestRoutes_RequireCredential(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		method, target string
		body           any
	}{
		{http.MethodGet, "/repos", nil},
		{http.MethodGet, "/repos/octo/app/files?path=src", nil},
		{http.MethodGet, "/repos/octo/app/file?path=src/utils.ts", nil},
		{http.MethodPost, "/tests/summaries", map[string]any{"repository": "octo/app"}},
		{http.MethodPost, "/tests/code", map[string]any{}},
		{http.MethodGet, "/tests/generated", nil},
		{http.MethodPost, "/pulls", map[string]any{}},
	}
	for _, tc := range tests {
		t.Run(tc.method+" "+tc.target, func(t *testing.T) {
			rec := f.do(t, tc.method, tc.target, tc.body, false)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
	assert.Zero(t, f.upstream.calls.Load())
}

func TestListRepositories(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/repos", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	repos := decode(t, rec)["repositories"].([]any)
	require.Len(t, repos, 1)
	assert.Equal(t, "octo/app", repos[0].(map[string]any)["full_name"])
}

func TestListFiles(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/repos/octo/app/files?path=src", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	files := decode(t, rec)["files"].([]any)
	require.Len(t, files, 2)
	assert.Equal(t, "dir", files[1].(map[string]any)["type"])
}

func TestGetFile(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/repos/octo/app/file?path=src/utils.ts", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "utils.ts", body["name"])
	assert.Equal(t, "src/utils.ts", body["path"])
	assert.Equal(t, utilsSource, body["content"])
	assert.EqualValues(t, len(utilsSource), body["size"])

	rec = f.do(t, http.MethodGet, "/repos/octo/app/file?path=src", nil, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/repos/octo/app/file", nil, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSummaries(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/tests/summaries", map[string]any{
		"repository": "octo/app",
		"files":      []map[string]string{{"path": "src/utils.ts", "name": "utils.ts"}},
	}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out struct {
		Summaries  []analyzer.TestSummary `json:"summaries"`
		TotalFiles int                    `json:"totalFiles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 1, out.TotalFiles)

	tags := map[string]bool{}
	for _, s := range out.Summaries {
		tags[analyzer.TagOf(s)] = true
	}
	assert.True(t, tags["functions"])
	assert.True(t, tags["async"])

	ws, err := f.store.Workspace(context.Background(), auth.NewSession("gho_token").ID)
	require.NoError(t, err)
	assert.Equal(t, out.Summaries, ws.Summaries)
}

func TestSummaries_Errors(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/tests/summaries", map[string]any{"repository": "octo/app", "files": []any{}}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.upstream.failFetch.Store(true)
	rec = f.do(t, http.MethodPost, "/tests/summaries", map[string]any{
		"repository": "octo/app",
		"files":      []map[string]string{{"path": "src/utils.ts"}},
	}, true)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "upstream exploded")
}

func asyncSummary() analyzer.TestSummary {
	return analyzer.TestSummary{
		ID:        "src/utils.ts-async",
		Title:     "Async behavior for utils.ts",
		Framework: "Jest",
		Type:      analyzer.KindUnit,
		File:      "src/utils.ts",
		Priority:  analyzer.PriorityHigh,
		Tag:       "async",
	}
}

func TestTestCode(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/tests/code", map[string]any{
		"repository": "octo/app",
		"summary":    asyncSummary(),
	}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, "utils.test.js", body["fileName"])
	assert.Contains(t, body["testCode"], "handles async operations")

	rec = f.do(t, http.MethodGet, "/tests/generated", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var ws session.Workspace
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ws))
	require.Len(t, ws.Generated, 1)
	assert.Equal(t, "utils.test.js", ws.Generated[0].FileName)

	rec = f.do(t, http.MethodPost, "/tests/code", map[string]any{"repository": "octo/app"}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func draftBody(tests ...session.GeneratedTest) map[string]any {
	return map[string]any{
		"repository":  "octo/app",
		"branchName":  "testpilot/generated",
		"title":       "Add generated tests",
		"description": "Generated by testpilot",
		"tests":       tests,
	}
}

func TestCreatePull(t *testing.T) {
	f := newFixture(t)
	older := session.GeneratedTest{Summary: asyncSummary(), Code: "old", FileName: "utils.test.js"}
	newer := session.GeneratedTest{Summary: asyncSummary(), Code: "new", FileName: "utils.test.js"}

	rec := f.do(t, http.MethodPost, "/pulls", draftBody(older, newer), true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out struct {
		PullRequest workflow.Result `json:"pullRequest"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 7, out.PullRequest.Number)
	assert.Equal(t, "https://github.com/octo/app/pull/7", out.PullRequest.URL)
	assert.Equal(t, "main", out.PullRequest.BaseBranch)
	require.Len(t, out.PullRequest.Files, 1)
	assert.Equal(t, "tests/utils.test.js", out.PullRequest.Files[0].Path)
	assert.Equal(t, map[string]string{"tests/utils.test.js": "testpilot/generated"}, f.upstream.written)
}

func TestCreatePull_Errors(t *testing.T) {
	t.Run("invalid draft", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/pulls", draftBody(), true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Zero(t, f.upstream.calls.Load())
	})

	t.Run("malformed body", func(t *testing.T) {
		f := newFixture(t)
		req := httptest.NewRequest(http.MethodPost, "/pulls", strings.NewReader("{"))
		req.AddCookie(f.cookie)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("write failure reports files", func(t *testing.T) {
		f := newFixture(t)
		f.upstream.failPut.Store(true)
		test := session.GeneratedTest{Summary: asyncSummary(), Code: "x", FileName: "utils.test.js"}

		rec := f.do(t, http.MethodPost, "/pulls", draftBody(test), true)
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "Failed to create pull request", body["error"])
		files := body["files"].([]any)
		require.Len(t, files, 1)
		assert.Equal(t, false, files[0].(map[string]any)["ok"])
	})
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{github.ErrNoCredential, http.StatusUnauthorized},
		{fmt.Errorf("wrapped: %w", github.ErrNoCredential), http.StatusUnauthorized},
		{session.ErrNoSession, http.StatusUnauthorized},
		{workflow.ErrInvalidDraft, http.StatusBadRequest},
		{github.ErrNotAFile, http.StatusBadRequest},
		{github.ErrInvalidRepository, http.StatusBadRequest},
		{fmt.Errorf("fetch dist/bundle.js: %w", github.ErrFileTooLarge), http.StatusBadRequest},
		{&github.UpstreamError{Status: 404}, http.StatusInternalServerError},
		{&workflow.WriteError{}, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["version"])

	rec = f.do(t, http.MethodGet, "/health/live", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/health/ready", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthReady_Unhealthy(t *testing.T) {
	srv := NewServer(Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Checks: map[string]HealthCheck{
			"redis": func(context.Context) error { return errors.New("connection refused") },
		},
	})
	rec := httptest.NewRecorder()
	srv.SetupRoutes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestLogsRecent(t *testing.T) {
	f := newFixture(t)
	f.logs.Logger().Warn("something odd")
	f.do(t, http.MethodGet, "/repos", nil, true)

	rec := f.do(t, http.MethodGet, "/logs/recent?limit=1&level=warn", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 1, body["count"])
}

func TestCORS(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/pulls", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

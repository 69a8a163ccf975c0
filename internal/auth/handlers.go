package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/jordanhubbard/testpilot/internal/github"
)

// Callback error flags appended to the home redirect.
const (
	ErrorNoCode         = "no_code"
	ErrorTokenFailed    = "token_failed"
	ErrorCallbackFailed = "callback_failed"
)

// OAuthConfig describes the OAuth application.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	AuthorizeURL string
	TokenURL     string
	RedirectURL  string // <public url>/auth/callback
	Scopes       []string
	HomeURL      string // where the callback lands; defaults to "/"
}

// Handlers provides HTTP handlers for the OAuth sign-in flow
type Handlers struct {
	cfg      OAuthConfig
	tokens   *TokenStore
	state    *StateSigner
	http     *http.Client
	upstream github.ClientConfig
	onLogout func(ctx context.Context, sessionID string) error
	logger   *slog.Logger
}

// HandlersOptions wires the collaborators of Handlers.
type HandlersOptions struct {
	Tokens     *TokenStore
	State      *StateSigner
	HTTPClient *http.Client        // used for the token exchange; nil uses http.DefaultClient
	Upstream   github.ClientConfig // used by the status check
	// OnLogout runs after the cookie is cleared, e.g. to drop the workspace.
	OnLogout func(ctx context.Context, sessionID string) error
	Logger   *slog.Logger
}

// NewHandlers creates auth HTTP handlers
func NewHandlers(cfg OAuthConfig, opts HandlersOptions) *Handlers {
	if cfg.HomeURL == "" {
		cfg.HomeURL = "/"
	}
	h := &Handlers{
		cfg:      cfg,
		tokens:   opts.Tokens,
		state:    opts.State,
		http:     opts.HTTPClient,
		upstream: opts.Upstream,
		onLogout: opts.OnLogout,
		logger:   opts.Logger,
	}
	if h.tokens == nil {
		h.tokens = NewTokenStore(TokenStoreOptions{})
	}
	if h.state == nil {
		h.state = NewStateSigner("")
	}
	if h.http == nil {
		h.http = http.DefaultClient
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// Register mounts the handlers on mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /auth/start", h.HandleStart)
	mux.HandleFunc("GET /auth/callback", h.HandleCallback)
	mux.HandleFunc("POST /auth/logout", h.HandleLogout)
	mux.HandleFunc("GET /auth/status", h.HandleStatus)
}

// HandleStart handles GET /auth/start
func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	state, err := h.state.Issue()
	if err != nil {
		h.logger.Error("Failed to issue OAuth state", "error", err)
		http.Error(w, "Failed to start sign-in", http.StatusInternalServerError)
		return
	}

	q := url.Values{}
	q.Set("client_id", h.cfg.ClientID)
	q.Set("redirect_uri", h.cfg.RedirectURL)
	q.Set("scope", strings.Join(h.cfg.Scopes, " "))
	q.Set("state", state)
	http.Redirect(w, r, h.cfg.AuthorizeURL+"?"+q.Encode(), http.StatusFound)
}

// HandleCallback handles GET /auth/callback
func (h *Handlers) HandleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		h.redirectHome(w, r, ErrorNoCode)
		return
	}
	if err := h.state.Verify(r.URL.Query().Get("state")); err != nil {
		h.logger.Warn("OAuth callback rejected", "error", err)
		h.redirectHome(w, r, ErrorCallbackFailed)
		return
	}

	token, err := h.exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("OAuth callback error", "error", err)
		h.redirectHome(w, r, ErrorCallbackFailed)
		return
	}
	if token == "" {
		h.redirectHome(w, r, ErrorTokenFailed)
		return
	}

	if err := h.tokens.Store(w, token); err != nil {
		h.logger.Error("Failed to store credential", "error", err)
		h.redirectHome(w, r, ErrorCallbackFailed)
		return
	}
	h.redirectHome(w, r, "")
}

// HandleLogout handles POST /auth/logout
func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	token, _ := h.tokens.Read(r)
	h.tokens.Clear(w)

	if sess := NewSession(token); sess.Authenticated() && h.onLogout != nil {
		if err := h.onLogout(r.Context(), sess.ID); err != nil {
			h.logger.Warn("Failed to clear session workspace", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleStatus handles GET /auth/status. Without a credential it answers
// immediately and makes no upstream call.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	token, ok := h.tokens.Read(r)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]bool{"authenticated": false})
		return
	}

	user, err := github.NewClient(h.upstream, token).CurrentUser(r.Context())
	if err != nil {
		h.logger.Info("Stored credential rejected by upstream", "error", err)
		writeJSON(w, http.StatusOK, map[string]bool{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "user": user})
}

// exchange trades an authorization code for an access token. An empty token
// with a nil error means the provider answered but refused the code.
func (h *Handlers) exchange(ctx context.Context, code string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"client_id":     h.cfg.ClientID,
		"client_secret": h.cfg.ClientSecret,
		"code":          code,
		"redirect_uri":  h.cfg.RedirectURL,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.TokenURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		AccessToken      string `json:"access_token"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if body.AccessToken == "" {
		h.logger.Warn("Token exchange refused", "status", resp.StatusCode, "error", body.Error, "description", body.ErrorDescription)
	}
	return body.AccessToken, nil
}

func (h *Handlers) redirectHome(w http.ResponseWriter, r *http.Request, flag string) {
	target := h.cfg.HomeURL
	if flag != "" {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + "error=" + url.QueryEscape(flag)
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	DefaultCookieName = "github_token"
	DefaultMaxAge     = 30 * 24 * time.Hour
)

// TokenStore keeps the bearer credential in a single HTTP-only cookie. There
// is no refresh: when the cookie expires the user signs in again.
type TokenStore struct {
	name   string
	maxAge time.Duration
	secure bool
	key    *[32]byte // nil stores the token as is
}

// TokenStoreOptions configures a TokenStore. Zero values take the defaults.
type TokenStoreOptions struct {
	CookieName string
	MaxAge     time.Duration
	Secure     bool
	// SealingKey, when non-empty, encrypts the cookie value with secretbox.
	SealingKey string
}

// NewTokenStore creates a TokenStore.
func NewTokenStore(opts TokenStoreOptions) *TokenStore {
	ts := &TokenStore{
		name:   opts.CookieName,
		maxAge: opts.MaxAge,
		secure: opts.Secure,
	}
	if ts.name == "" {
		ts.name = DefaultCookieName
	}
	if ts.maxAge <= 0 {
		ts.maxAge = DefaultMaxAge
	}
	if opts.SealingKey != "" {
		key := sha256.Sum256([]byte(opts.SealingKey))
		ts.key = &key
	}
	return ts
}

// CookieName returns the name of the credential cookie.
func (ts *TokenStore) CookieName() string { return ts.name }

// Store sets the credential cookie.
func (ts *TokenStore) Store(w http.ResponseWriter, token string) error {
	value, err := ts.seal(token)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     ts.name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ts.maxAge / time.Second),
		Expires:  time.Now().Add(ts.maxAge),
		HttpOnly: true,
		Secure:   ts.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Read returns the credential carried by r. A missing, empty or unreadable
// cookie reads as absent.
func (ts *TokenStore) Read(r *http.Request) (string, bool) {
	c, err := r.Cookie(ts.name)
	if err != nil || c.Value == "" {
		return "", false
	}
	token, err := ts.open(c.Value)
	if err != nil || token == "" {
		return "", false
	}
	return token, true
}

// Clear removes the credential cookie unconditionally.
func (ts *TokenStore) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     ts.name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   ts.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

var errUnsealed = errors.New("cookie cannot be opened")

func (ts *TokenStore) seal(token string) (string, error) {
	if ts.key == nil {
		return token, nil
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}
	box := secretbox.Seal(nonce[:], []byte(token), &nonce, ts.key)
	return base64.RawURLEncoding.EncodeToString(box), nil
}

func (ts *TokenStore) open(value string) (string, error) {
	if ts.key == nil {
		return value, nil
	}
	box, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil || len(box) < 24 {
		return "", errUnsealed
	}
	var nonce [24]byte
	copy(nonce[:], box[:24])
	plain, ok := secretbox.Open(nil, box[24:], &nonce, ts.key)
	if !ok {
		return "", errUnsealed
	}
	return string(plain), nil
}

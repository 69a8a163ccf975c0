package auth

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const stateTTL = 10 * time.Minute

// StateClaims is the payload of an OAuth state parameter.
type StateClaims struct {
	Nonce string `json:"nonce"`
	jwt.RegisteredClaims
}

// StateSigner issues and verifies the signed state parameter that ties an
// OAuth callback to the redirect that started it.
type StateSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStateSigner creates a signer. An empty secret is replaced by a random
// per-process one, so pending sign-ins do not survive a restart.
func NewStateSigner(secret string) *StateSigner {
	if secret == "" {
		secret = generateRandomSecret(32)
		slog.Info("Generated random OAuth state secret (not persistent)")
	}
	return &StateSigner{secret: []byte(secret), ttl: stateTTL, now: time.Now}
}

// Issue returns a new signed state value.
func (s *StateSigner) Issue() (string, error) {
	now := s.now()
	claims := &StateClaims{
		Nonce: generateRandomSecret(16),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "testpilot",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify checks the signature and expiry of state.
func (s *StateSigner) Verify(state string) error {
	if state == "" {
		return fmt.Errorf("missing state")
	}
	claims := &StateClaims{}
	token, err := jwt.ParseWithClaims(state, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithIssuer("testpilot"))
	if err != nil || !token.Valid {
		return fmt.Errorf("invalid state: %w", err)
	}
	return nil
}

// generateRandomSecret returns length random bytes, hex encoded.
func generateRandomSecret(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		panic(err)
	}
	return fmt.Sprintf("%x", bytes)
}

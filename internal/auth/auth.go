package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnauthorized is wrapped by every authentication failure. Callers should
// not distinguish further; the reason is for logs and metrics only.
var ErrUnauthorized = errors.New("unauthorized")

// ErrTokenNotFound is returned by a TokenLookup when no token matches the hash.
var ErrTokenNotFound = errors.New("access token not found")

// Failure reasons reported by Error.Reason.
const (
	ReasonMissing   = "missing"
	ReasonMalformed = "malformed"
	ReasonUnknown   = "unknown"
	ReasonExpired   = "expired"
	ReasonLookup    = "lookup"
)

// TokenPrefix marks plaintext access tokens issued by this service.
const TokenPrefix = "igt_"

// AccessToken is a validated bearer credential for the gateway.
type AccessToken struct {
	UserID    string
	ExpiresAt time.Time
}

// Error describes why authentication failed.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unauthorized (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("unauthorized (%s)", e.Reason)
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrUnauthorized, e.Err}
	}
	return []error{ErrUnauthorized}
}

// FailureReason returns the reason carried by err, or "" when err did not come
// from Authenticate.
func FailureReason(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Reason
	}
	return ""
}

// TokenLookup resolves a token hash to its stored record.
type TokenLookup interface {
	LookupAccessToken(ctx context.Context, hash string) (*AccessToken, error)
}

// Authenticator validates Authorization headers against a TokenLookup.
type Authenticator struct {
	tokens TokenLookup
	now    func() time.Time
}

// NewAuthenticator creates an Authenticator backed by the given lookup.
func NewAuthenticator(tokens TokenLookup) *Authenticator {
	return &Authenticator{tokens: tokens, now: time.Now}
}

// SetClock overrides the time source used for expiry checks.
func (a *Authenticator) SetClock(now func() time.Time) {
	a.now = now
}

// Authenticate validates an Authorization header value. The token expires at
// ExpiresAt: a token whose expiry equals the current instant is rejected.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (*AccessToken, error) {
	if strings.TrimSpace(header) == "" {
		return nil, &Error{Reason: ReasonMissing}
	}
	token, ok := parseBearer(header)
	if !ok {
		return nil, &Error{Reason: ReasonMalformed}
	}

	tok, err := a.tokens.LookupAccessToken(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil, &Error{Reason: ReasonUnknown}
		}
		return nil, &Error{Reason: ReasonLookup, Err: err}
	}
	if tok == nil {
		return nil, &Error{Reason: ReasonUnknown}
	}

	if !tok.ExpiresAt.After(a.now()) {
		return nil, &Error{Reason: ReasonExpired}
	}
	return tok, nil
}

func parseBearer(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

// GenerateToken creates a new access token with the "igt_" prefix followed by
// 32 URL-safe random characters. It returns the plaintext and its hash.
func GenerateToken() (plaintext, hash string, err error) {
	b := make([]byte, 24) // 24 bytes -> 32 base64url chars
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generating random bytes: %w", err)
	}
	plaintext = TokenPrefix + base64.RawURLEncoding.EncodeToString(b)
	return plaintext, HashToken(plaintext), nil
}

// HashToken returns the hex-encoded SHA-256 hash of the given plaintext token.
func HashToken(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}

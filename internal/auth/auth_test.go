package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdkauth "github.com/modelcontextprotocol/go-sdk/auth"
)

// --- mock store ---

type mockTokenLookup struct {
	tokens map[string]*AccessToken
	err    error
}

func (m *mockTokenLookup) LookupAccessToken(ctx context.Context, hash string) (*AccessToken, error) {
	if m.err != nil {
		return nil, m.err
	}
	tok, ok := m.tokens[hash]
	if !ok {
		return nil, ErrTokenNotFound
	}
	return tok, nil
}

type mockFailures struct {
	reasons []string
}

func (m *mockFailures) IncAuthFailure(reason string) {
	m.reasons = append(m.reasons, reason)
}

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestAuthenticator(store *mockTokenLookup) *Authenticator {
	a := NewAuthenticator(store)
	a.SetClock(func() time.Time { return fixedNow })
	return a
}

// --- GenerateToken / HashToken tests ---

func TestGenerateToken_PrefixAndLength(t *testing.T) {
	plaintext, hash, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken() error: %v", err)
	}
	if !strings.HasPrefix(plaintext, TokenPrefix) {
		t.Errorf("token should start with %q, got %q", TokenPrefix, plaintext)
	}
	// "igt_" (4) + 32 random chars = 36
	if len(plaintext) != 36 {
		t.Errorf("expected plaintext length 36, got %d", len(plaintext))
	}
	if hash != HashToken(plaintext) {
		t.Error("returned hash does not match HashToken(plaintext)")
	}
}

func TestGenerateToken_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		plaintext, _, err := GenerateToken()
		if err != nil {
			t.Fatalf("GenerateToken() error: %v", err)
		}
		if seen[plaintext] {
			t.Fatalf("duplicate token generated: %s", plaintext)
		}
		seen[plaintext] = true
	}
}

func TestHashToken(t *testing.T) {
	if HashToken("abc") != HashToken("abc") {
		t.Error("HashToken should be deterministic")
	}
	if HashToken("abc") == HashToken("abd") {
		t.Error("different inputs should hash differently")
	}
	if len(HashToken("abc")) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(HashToken("abc")))
	}
}

// --- Authenticate tests ---

func TestAuthenticate(t *testing.T) {
	store := &mockTokenLookup{tokens: map[string]*AccessToken{
		HashToken("good"):    {UserID: "u1", ExpiresAt: fixedNow.Add(time.Hour)},
		HashToken("expired"): {UserID: "u2", ExpiresAt: fixedNow.Add(-time.Second)},
		HashToken("edge"):    {UserID: "u3", ExpiresAt: fixedNow},
	}}
	a := newTestAuthenticator(store)

	tests := []struct {
		name       string
		header     string
		wantUser   string
		wantReason string
	}{
		{"valid token", "Bearer good", "u1", ""},
		{"lowercase scheme", "bearer good", "u1", ""},
		{"missing header", "", "", ReasonMissing},
		{"scheme only", "Bearer", "", ReasonMalformed},
		{"scheme with blank token", "Bearer   ", "", ReasonMalformed},
		{"wrong scheme", "Basic good", "", ReasonMalformed},
		{"unknown token", "Bearer nope", "", ReasonUnknown},
		{"expired token", "Bearer expired", "", ReasonExpired},
		{"expires exactly now", "Bearer edge", "", ReasonExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := a.Authenticate(context.Background(), tt.header)
			if tt.wantReason == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if tok.UserID != tt.wantUser {
					t.Errorf("expected user %q, got %q", tt.wantUser, tok.UserID)
				}
				return
			}
			if !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("expected ErrUnauthorized, got %v", err)
			}
			if got := FailureReason(err); got != tt.wantReason {
				t.Errorf("expected reason %q, got %q", tt.wantReason, got)
			}
		})
	}
}

func TestAuthenticate_LookupError(t *testing.T) {
	dbErr := errors.New("connection reset")
	a := newTestAuthenticator(&mockTokenLookup{err: dbErr})

	_, err := a.Authenticate(context.Background(), "Bearer anything")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if !errors.Is(err, dbErr) {
		t.Error("expected underlying lookup error to be wrapped")
	}
	if FailureReason(err) != ReasonLookup {
		t.Errorf("expected reason lookup, got %q", FailureReason(err))
	}
}

func TestAccessTokenContext_RoundTrip(t *testing.T) {
	tok := &AccessToken{UserID: "u1"}
	ctx := ContextWithAccessToken(context.Background(), tok)
	if got := AccessTokenFromContext(ctx); got != tok {
		t.Errorf("expected %v, got %v", tok, got)
	}
	if AccessTokenFromContext(context.Background()) != nil {
		t.Error("expected nil for empty context")
	}
}

// --- middleware tests ---

func TestRequireAccessToken(t *testing.T) {
	store := &mockTokenLookup{tokens: map[string]*AccessToken{
		HashToken("good"):    {UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)},
		HashToken("expired"): {UserID: "u2", ExpiresAt: time.Now().Add(-time.Hour)},
	}}
	a := NewAuthenticator(store)

	tests := []struct {
		name       string
		method     string
		header     string
		wantStatus int
		wantReason string
	}{
		{"valid GET", http.MethodGet, "Bearer good", http.StatusOK, ""},
		{"valid POST", http.MethodPost, "Bearer good", http.StatusOK, ""},
		{"missing GET", http.MethodGet, "", http.StatusUnauthorized, ReasonMissing},
		{"missing POST", http.MethodPost, "", http.StatusUnauthorized, ReasonMissing},
		{"unknown POST", http.MethodPost, "Bearer nope", http.StatusUnauthorized, ReasonUnknown},
		{"expired GET", http.MethodGet, "Bearer expired", http.StatusUnauthorized, ReasonExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failures := &mockFailures{}
			var gotUser, gotSDKUser string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tok := AccessTokenFromContext(r.Context()); tok != nil {
					gotUser = tok.UserID
				}
				if info := sdkauth.TokenInfoFromContext(r.Context()); info != nil {
					gotSDKUser = info.UserID
				}
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(tt.method, "/mcp/mcp", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			RequireAccessToken(a, failures)(next).ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rr.Code)
			}
			if tt.wantStatus == http.StatusOK {
				if gotUser != "u1" || gotSDKUser != "u1" {
					t.Errorf("expected user u1 in both contexts, got %q and %q", gotUser, gotSDKUser)
				}
				return
			}

			assertUnauthorizedBody(t, rr)
			if len(failures.reasons) != 1 || failures.reasons[0] != tt.wantReason {
				t.Errorf("expected failure reason %q, got %v", tt.wantReason, failures.reasons)
			}
		})
	}
}

func TestRequireAccessToken_NilMetrics(t *testing.T) {
	a := NewAuthenticator(&mockTokenLookup{})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("next handler should not be called")
	})

	rr := httptest.NewRecorder()
	RequireAccessToken(a, nil)(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func assertUnauthorizedBody(t *testing.T, rr *httptest.ResponseRecorder) {
	t.Helper()
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %q", ct)
	}
	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("expected Access-Control-Allow-Origin *, got %q", origin)
	}
	var body map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(body) != 1 || body["error"] != "Unauthorized" {
		t.Errorf("unexpected body %v", body)
	}
}

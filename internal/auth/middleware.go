package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	sdkauth "github.com/modelcontextprotocol/go-sdk/auth"
)

type contextKey int

const accessTokenContextKey contextKey = iota

// ContextWithAccessToken returns a new context carrying the given token.
func ContextWithAccessToken(ctx context.Context, tok *AccessToken) context.Context {
	return context.WithValue(ctx, accessTokenContextKey, tok)
}

// AccessTokenFromContext extracts the token from the context, or nil if not present.
func AccessTokenFromContext(ctx context.Context) *AccessToken {
	tok, _ := ctx.Value(accessTokenContextKey).(*AccessToken)
	return tok
}

// FailureRecorder counts authentication failures by reason.
type FailureRecorder interface {
	IncAuthFailure(reason string)
}

// RequireAccessToken returns middleware that authenticates the Authorization
// header. Every failure is answered with the same 401 body. On success the
// token is stored in the request context, and the MCP SDK's token info is
// populated as well so streamable sessions stay bound to the user that
// created them. metrics may be nil.
func RequireAccessToken(authn *Authenticator, metrics FailureRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		bound := sdkauth.RequireBearerToken(verifyFromContext, nil)(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, err := authn.Authenticate(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				reason := FailureReason(err)
				if reason == ReasonLookup {
					slog.Error("access token lookup failed", "error", err, "path", r.URL.Path)
				} else {
					slog.Debug("request not authenticated", "reason", reason, "path", r.URL.Path)
				}
				if metrics != nil {
					metrics.IncAuthFailure(reason)
				}
				WriteUnauthorized(w)
				return
			}

			bound.ServeHTTP(w, r.WithContext(ContextWithAccessToken(r.Context(), tok)))
		})
	}
}

// verifyFromContext reports the token RequireAccessToken already validated.
func verifyFromContext(ctx context.Context, _ string, _ *http.Request) (*sdkauth.TokenInfo, error) {
	tok := AccessTokenFromContext(ctx)
	if tok == nil {
		return nil, sdkauth.ErrInvalidToken
	}
	return &sdkauth.TokenInfo{UserID: tok.UserID, Expiration: tok.ExpiresAt}, nil
}

// WriteUnauthorized writes the gateway's uniform 401 response.
func WriteUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
}

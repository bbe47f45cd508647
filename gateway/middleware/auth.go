package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// AuthConfig gates operator access to write routes with HS256 bearer tokens.
// Envelope signatures still authorise individual operations; the bearer token
// only admits the submitting client.
type AuthConfig struct {
	Enabled    bool
	HMACSecret string
	Issuer     string
	Audience   string
	ClockSkew  time.Duration
}

type scopeKey struct{}

type bearerClaims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator validates bearer tokens issued for the bondd API.
type Authenticator struct {
	cfg    AuthConfig
	secret []byte
	logger *slog.Logger
	parser *jwt.Parser
}

// NewAuthenticator fails when auth is enabled without a secret.
func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) (*Authenticator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	secret := []byte(strings.TrimSpace(cfg.HMACSecret))
	if cfg.Enabled && len(secret) == 0 {
		return nil, errors.New("auth: hmac secret required")
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(cfg.ClockSkew),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Authenticator{cfg: cfg, secret: secret, logger: logger, parser: jwt.NewParser(opts...)}, nil
}

// Middleware rejects requests without a valid token carrying every required
// scope. A nil or disabled Authenticator admits everything.
func (a *Authenticator) Middleware(required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if a == nil || !a.cfg.Enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r.Header.Get("Authorization"))
			if raw == "" {
				writeAuthError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			var claims bearerClaims
			if _, err := a.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
				return a.secret, nil
			}); err != nil {
				a.logger.Warn("auth: token rejected", "error", err, "request_id", RequestIDFrom(r.Context()))
				writeAuthError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			scopes := strings.Fields(claims.Scope)
			if !hasScopes(scopes, required) {
				writeAuthError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			ctx := context.WithValue(r.Context(), scopeKey{}, scopes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ScopesFrom returns the scopes granted to the authenticated request.
func ScopesFrom(ctx context.Context) []string {
	scopes, _ := ctx.Value(scopeKey{}).([]string)
	return scopes
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func extractBearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func hasScopes(scopes, required []string) bool {
	set := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		set[scope] = struct{}{}
	}
	for _, want := range required {
		if _, ok := set[want]; !ok {
			return false
		}
	}
	return true
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ichi0g0y/lucky-draw/internal/shared/logger"
	"go.uber.org/zap"
)

// CookieName is the cookie carrying the admin token.
const CookieName = "auth_token"

var (
	ErrMissingToken = errors.New("missing auth token")
	ErrInvalidToken = errors.New("invalid auth token")
)

// Claims はadminトークンのクレーム
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username,omitempty"`
}

// Actor returns the name recorded in audit logs.
func (c *Claims) Actor() string {
	if c.Username != "" {
		return c.Username
	}
	if c.Subject != "" {
		return c.Subject
	}
	return "admin"
}

// Verifier checks HS256 tokens signed with the admin secret.
// Issuing tokens is handled elsewhere.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

func NewVerifier(secret string, now func() time.Time) *Verifier {
	if now == nil {
		now = time.Now
	}
	return &Verifier{secret: []byte(secret), now: now}
}

// Enabled は秘密鍵が設定されているかどうか
func (v *Verifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

func (v *Verifier) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &claims, nil
}

// TokenFromRequest reads the token from the auth cookie or a Bearer header.
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

type actorKey struct{}

func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext は監査ログに記録する操作者名を返す
func ActorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return "anonymous"
}

// Gate rejects mutating requests under the protected prefixes unless they
// carry a valid token. GET, HEAD and OPTIONS pass through. With no secret
// configured every request passes.
type Gate struct {
	verifier  *Verifier
	protected []string
}

func NewGate(verifier *Verifier, protectedPrefixes ...string) *Gate {
	if !verifier.Enabled() {
		logger.Warn("ADMIN_JWT_SECRET is not set; admin endpoints are unprotected")
	}
	return &Gate{verifier: verifier, protected: protectedPrefixes}
}

func (g *Gate) isProtected(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	for _, prefix := range g.protected {
		if r.URL.Path == prefix || strings.HasPrefix(r.URL.Path, prefix+"/") {
			return true
		}
	}
	return false
}

func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := TokenFromRequest(r)

		if !g.verifier.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		if token != "" {
			if claims, err := g.verifier.Verify(token); err == nil {
				next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), claims.Actor())))
				return
			} else if g.isProtected(r) {
				logger.Warn("Rejected admin request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Error(err))
				writeUnauthorized(w)
				return
			}
		}

		if g.isProtected(r) {
			logger.Warn("Rejected admin request without token",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path))
			writeUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireToken guards a read-only admin endpoint: every method needs a valid
// token while a secret is configured.
func (g *Gate) RequireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !g.verifier.Enabled() || r.Method == http.MethodOptions {
			next(w, r)
			return
		}
		claims, err := g.verifier.Verify(TokenFromRequest(r))
		if err != nil {
			logger.Warn("Rejected admin read",
				zap.String("path", r.URL.Path),
				zap.Error(err))
			writeUnauthorized(w)
			return
		}
		next(w, r.WithContext(WithActor(r.Context(), claims.Actor())))
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized"}`))
}

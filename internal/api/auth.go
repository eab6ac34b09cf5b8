package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// AnonymousActor is recorded when authentication is disabled.
const AnonymousActor = "api"

type actorKey struct{}

// Authenticator verifies HS256 bearer tokens. The token subject becomes the
// actor recorded on stage changes and assessments.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates an Authenticator. An empty secret disables
// authentication and every request acts as AnonymousActor.
func NewAuthenticator(secret string) *Authenticator {
	if secret == "" {
		zap.L().Warn("api: jwt secret not set, mutations are unauthenticated")
	}
	return &Authenticator{secret: []byte(secret)}
}

// Middleware rejects requests without a valid bearer token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.secret) == 0 {
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), AnonymousActor)))
			return
		}

		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if header == "" || !ok || raw == "" {
			writeErrorMessage(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		subject, err := a.Subject(raw)
		if err != nil {
			zap.L().Debug("api: rejected token", zap.Error(err))
			writeErrorMessage(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), subject)))
	})
}

// Subject validates token and returns its subject claim.
func (a *Authenticator) Subject(token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", jwt.ErrTokenInvalidSubject
	}
	return claims.Subject, nil
}

// Sign issues a token for subject. Used by the CLI and tests.
func (a *Authenticator) Sign(subject string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = subject
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// WithActor stores the acting user on ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the acting user stored on ctx.
func ActorFrom(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey{}).(string); ok {
		return a
	}
	return AnonymousActor
}

package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	apiContext "pulse/internal/api/context"
)

// ActorClaims is the identity attached to events for audit attribution.
type ActorClaims struct {
	Subject string `json:"sub"`
	Name    string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// ActorMiddleware parses an optional bearer token and stashes the subject in
// the request context. Attribution only: requests without a token, or with a
// token that fails to parse, proceed anonymously.
type ActorMiddleware struct {
	secret []byte
}

func NewActorMiddleware(secret string) *ActorMiddleware {
	return &ActorMiddleware{secret: []byte(secret)}
}

func (m *ActorMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if len(m.secret) > 0 && strings.HasPrefix(auth, "Bearer ") {
			token := strings.TrimPrefix(auth, "Bearer ")
			claims := &ActorClaims{}
			parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
				return m.secret, nil
			})
			if err == nil && parsed.Valid && claims.Subject != "" {
				ctx := context.WithValue(r.Context(), apiContext.Actor, claims.Subject)
				r = r.WithContext(ctx)
			}
		}
		next(w, r)
	}
}

// ActorFrom returns the attributed actor for a request, or "".
func ActorFrom(r *http.Request) string {
	if actor, ok := r.Context().Value(apiContext.Actor).(string); ok {
		return actor
	}
	return ""
}

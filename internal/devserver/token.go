package devserver

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const visitorIDKey contextKey = "visitor_id"

// visitorClaims are the JWT claims carried by a visitor token. The client
// treats the token as opaque.
type visitorClaims struct {
	jwt.RegisteredClaims
	VisitorID string `json:"visitor_id"`
}

func issueVisitorToken(secret, visitorID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := visitorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   visitorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		VisitorID: visitorID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parseVisitorToken(secret, tokenString string) (string, error) {
	claims := &visitorClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", jwt.ErrTokenUnverifiable
	}
	return claims.VisitorID, nil
}

// auth validates the bearer visitor token and puts the visitor id on the
// request context.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			writeError(w, http.StatusUnauthorized, "invalid authorization header format")
			return
		}

		visitorID, err := parseVisitorToken(s.cfg.VisitorTokenSecret, parts[1])
		if err != nil || !s.store.VisitorExists(visitorID) {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), visitorIDKey, visitorID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func visitorFromContext(ctx context.Context) string {
	if v := ctx.Value(visitorIDKey); v != nil {
		return v.(string)
	}
	return ""
}

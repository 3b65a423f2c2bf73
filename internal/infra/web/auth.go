package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"ollama-webchat/internal/domain/model"
	"ollama-webchat/internal/infra/logging"
)

type ctxKey string

const identityKey ctxKey = "identity"

// authMiddleware resolves the caller's identity from a Bearer JWT
// minted by the external auth service. The chat core only trusts the
// subject claim as an opaque user id.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			http.Error(w, "Unauthorized: Malformed token", http.StatusUnauthorized)
			return
		}

		user, err := s.parseToken(parts[1])
		if err != nil {
			s.log.Debug().Err(err).Msg("token rejected")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, user)
		ctx = logging.WithUserID(ctx, user.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) parseToken(raw string) (*model.User, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, err
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("missing sub claim")
	}
	name, _ := claims["name"].(string)
	admin, _ := claims["admin"].(bool)
	return &model.User{ID: sub, Username: name, IsAdmin: admin}, nil
}

// IdentityFrom returns the authenticated user stored by authMiddleware.
func IdentityFrom(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(identityKey).(*model.User)
	return u, ok
}

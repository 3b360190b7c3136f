package auth

import (
	"crypto/rsa"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/schoolcore/fees-management/internal"
)

// Claims are issued by the external auth service; this service only verifies
// them and resolves an Actor out of them, once per request.
type Claims struct {
	Role      string `json:"role"`
	StudentID int64  `json:"student_id,omitempty"`
	jwt.RegisteredClaims
}

// Verifier turns a bearer token into an Actor.
type Verifier struct {
	publicKey *rsa.PublicKey
	logger    *slog.Logger
}

func NewVerifier(publicKey *rsa.PublicKey, logger *slog.Logger) *Verifier {
	return &Verifier{publicKey: publicKey, logger: logger}
}

func (v *Verifier) Resolve(tokenString string) (*internal.Actor, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, internal.ErrInvalidToken
		}
		return v.publicKey, nil
	})
	if err != nil || !token.Valid {
		return nil, internal.ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, internal.ErrInvalidToken
	}

	switch claims.Role {
	case internal.RoleStudent, internal.RoleTeacher, internal.RoleAdmin:
	default:
		return nil, internal.ErrInvalidToken
	}

	return &internal.Actor{
		UserID:    claims.Subject,
		Role:      claims.Role,
		StudentID: claims.StudentID,
	}, nil
}

// Middleware resolves the request's Actor once and places it in the context.
// Downstream handlers and services read the Actor; they never look at the
// token again.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := extractBearer(r)
		if tokenString == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		actor, err := v.Resolve(tokenString)
		if err != nil {
			v.logger.Warn("auth: token rejected", "error", err, "path", r.URL.Path)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := internal.ContextWithActor(r.Context(), actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole gates a route on the resolved Actor's role.
func RequireRole(logger *slog.Logger, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := internal.ActorFromContext(r.Context())
			if !ok || actor == nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			allowed := false
			for _, role := range roles {
				if actor.Role == role {
					allowed = true
					break
				}
			}

			if !allowed {
				logger.Warn("auth: access denied, role not allowed",
					"user_id", actor.UserID,
					"role", actor.Role,
					"required_roles", strings.Join(roles, ","))
				http.Error(w, "Forbidden: insufficient role", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func extractBearer(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) < 7 || !strings.EqualFold(authHeader[:7], "Bearer ") {
		return ""
	}
	return authHeader[7:]
}

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"rtb-inventory-api/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	claimsKey contextKey = "claims"
	actorKey  contextKey = "actor"
)

// maxTokenBytes caps the bearer token accepted from a request
const maxTokenBytes = 8 << 10

// expiryWarning is how close to expiry a token gets the X-Token-Expires headers
const expiryWarning = time.Hour

// ErrorResponse is the JSON error body shared by every endpoint
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// authError is a rejected request: message, machine code and status
type authError struct {
	message string
	code    string
	status  int
}

func unauthorized(message, code string) *authError {
	return &authError{message: message, code: code, status: http.StatusUnauthorized}
}

func (e *authError) write(w http.ResponseWriter) {
	WriteError(w, e.status, e.code, e.message)
}

// WriteError encodes an ErrorResponse with the given status
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: message, Code: code}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// ClaimsFromContext returns the verified claims of the request, or nil
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey).(*Claims)
	return claims
}

// ActorFromContext returns the authenticated actor of the request
func ActorFromContext(ctx context.Context) (models.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(models.Actor)
	return actor, ok
}

// WithActor returns a copy of ctx carrying actor
func WithActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// UserIDFromContext returns the authenticated user id, or ""
func UserIDFromContext(ctx context.Context) string {
	actor, _ := ActorFromContext(ctx)
	return actor.UserID
}

// bearerToken pulls a structurally valid JWT out of the Authorization header
func bearerToken(r *http.Request) (string, *authError) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", unauthorized("Authorization header required", "MISSING_AUTH_HEADER")
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", unauthorized("Invalid authorization header format. Expected: Bearer <token>", "INVALID_AUTH_FORMAT")
	}
	token = strings.TrimSpace(token)
	switch {
	case token == "":
		return "", unauthorized("Token is required", "MISSING_TOKEN")
	case len(token) > maxTokenBytes:
		return "", unauthorized("Invalid token format: token size exceeds maximum allowed", "INVALID_TOKEN_FORMAT")
	case strings.Count(token, ".") != 2:
		return "", unauthorized("Invalid token format: invalid JWT token format", "INVALID_TOKEN_FORMAT")
	}
	return token, nil
}

// tokenError maps a jwt verification failure to a client facing error
func tokenError(err error) *authError {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return unauthorized("Token has expired", "TOKEN_EXPIRED")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), strings.Contains(err.Error(), "signing method"):
		return unauthorized("Invalid token signature", "INVALID_SIGNATURE")
	case errors.Is(err, jwt.ErrTokenMalformed):
		return unauthorized("Token is malformed", "MALFORMED_TOKEN")
	}
	return unauthorized("Invalid or expired token", "INVALID_TOKEN")
}

func warnExpiry(w http.ResponseWriter, claims *Claims) {
	if claims.ExpiresAt == nil || !claims.IsExpiringSoon(expiryWarning) {
		return
	}
	if remaining := time.Until(claims.ExpiresAt.Time); remaining > 0 {
		w.Header().Set("X-Token-Expires-At", claims.ExpiresAt.Time.Format(time.RFC3339))
		w.Header().Set("X-Token-Expires-In", remaining.Round(time.Second).String())
	}
}

// authenticate resolves the caller of r from its bearer token
func authenticate(jwtManager *JWTManager, r *http.Request) (*Claims, models.Actor, *authError) {
	token, aerr := bearerToken(r)
	if aerr != nil {
		return nil, models.Actor{}, aerr
	}
	claims, err := jwtManager.ValidateToken(token)
	if err != nil {
		return nil, models.Actor{}, tokenError(err)
	}
	actor, err := claims.Actor()
	if err != nil {
		return nil, models.Actor{}, unauthorized("Invalid identity in token: "+err.Error(), "INVALID_IDENTITY")
	}
	return claims, actor, nil
}

// AuthMiddleware rejects requests without a valid bearer token and puts the
// caller's claims and actor in the request context.
func AuthMiddleware(jwtManager *JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, actor, aerr := authenticate(jwtManager, r)
			if aerr != nil {
				aerr.write(w)
				return
			}
			warnExpiry(w, claims)

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(WithActor(ctx, actor)))
		})
	}
}

// MustRole lets through only callers holding one of roles. It must run
// after AuthMiddleware.
func MustRole(roles ...models.Role) func(http.Handler) http.Handler {
	if len(roles) == 0 {
		panic("auth: MustRole needs at least one role")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				WriteError(w, http.StatusUnauthorized, "AUTHENTICATION_REQUIRED", "Authentication required")
				return
			}
			if !claims.HasRole(roles...) {
				WriteError(w, http.StatusForbidden, "INSUFFICIENT_PERMISSIONS", "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MustStaff requires an admin or rtb-staff caller
func MustStaff() func(http.Handler) http.Handler {
	return MustRole(models.RoleAdmin, models.RoleRTBStaff)
}

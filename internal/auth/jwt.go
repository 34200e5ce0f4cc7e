package auth

import (
	"errors"
	"fmt"
	"time"

	"rtb-inventory-api/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the shortest HMAC secret accepted
const MinSecretLength = 32

// leeway absorbs clock skew between the token issuer and this service
const leeway = 30 * time.Second

// Claims is the token payload. Role is kept as the raw string so a token
// with an unknown role still parses and is rejected by Actor.
type Claims struct {
	UserID   string `json:"uid"`
	Role     string `json:"role"`
	SchoolID string `json:"school_id,omitempty"`
	jwt.RegisteredClaims
}

// JWTManager signs and verifies HS256 identity tokens
type JWTManager struct {
	key      []byte
	issuer   string
	audience string
	expiry   time.Duration
	now      func() time.Time
}

func NewJWTManager(secret, issuer, audience string, expiry time.Duration) *JWTManager {
	return &JWTManager{
		key:      []byte(secret),
		issuer:   issuer,
		audience: audience,
		expiry:   expiry,
		now:      time.Now,
	}
}

// ValidateConfig checks the manager settings before it signs anything
func (j *JWTManager) ValidateConfig() error {
	var errs []error
	if len(j.key) < MinSecretLength {
		errs = append(errs, fmt.Errorf("JWT secret must be at least %d characters", MinSecretLength))
	}
	if j.issuer == "" {
		errs = append(errs, errors.New("JWT issuer is required"))
	}
	if j.audience == "" {
		errs = append(errs, errors.New("JWT audience is required"))
	}
	if j.expiry <= 0 {
		errs = append(errs, errors.New("JWT expiry must be positive"))
	}
	return errors.Join(errs...)
}

// GenerateToken signs a token for userID acting in role. School side roles
// must carry the school they act for.
func (j *JWTManager) GenerateToken(userID string, role models.Role, schoolID string) (string, error) {
	actor := models.Actor{UserID: userID, Role: role, SchoolID: schoolID}
	if err := checkActor(actor); err != nil {
		return "", err
	}

	now := j.now()
	claims := &Claims{
		UserID:   userID,
		Role:     role.String(),
		SchoolID: schoolID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    j.issuer,
			Audience:  jwt.ClaimStrings{j.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.expiry)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.key)
}

// ValidateToken verifies signature, issuer, audience and lifetime
func (j *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, j.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(j.issuer),
		jwt.WithAudience(j.audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (j *JWTManager) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return j.key, nil
}

// Actor converts the claims into the caller identity used by the workflow
func (c *Claims) Actor() (models.Actor, error) {
	role, err := models.ParseRole(c.Role)
	if err != nil {
		return models.Actor{}, err
	}
	actor := models.Actor{UserID: c.UserID, Role: role, SchoolID: c.SchoolID}
	if err := checkActor(actor); err != nil {
		return models.Actor{}, err
	}
	return actor, nil
}

func checkActor(a models.Actor) error {
	switch {
	case a.UserID == "":
		return errors.New("user ID is required")
	case a.Role == models.RoleUnknown:
		return errors.New("a known role is required")
	case a.Role.IsSchool() && a.SchoolID == "":
		return fmt.Errorf("role %s requires a school ID", a.Role)
	}
	return nil
}

// HasRole reports whether the token's role is one of roles
func (c *Claims) HasRole(roles ...models.Role) bool {
	for _, r := range roles {
		if c.Role == r.String() {
			return true
		}
	}
	return false
}

// IsExpiringSoon reports whether the token expires within d
func (c *Claims) IsExpiringSoon(d time.Duration) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return time.Until(c.ExpiresAt.Time) <= d
}

package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

// TokenVerifier validates HS256 access tokens issued by the auth service and
// turns them into a session Context.
type TokenVerifier struct {
	secret []byte
	issuer string
}

func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), issuer: issuer}
}

type claims struct {
	jwt.RegisteredClaims
	Role           string `json:"role,omitempty"`
	PractitionerID string `json:"practitioner_id,omitempty"`
}

// Issue signs a token for s. The platform's auth service owns issuance in
// production; this exists for tooling and tests.
func (v *TokenVerifier) Issue(s Context, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID.String(),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: string(s.Role),
	}
	if s.HasPractitioner() {
		c.PractitionerID = s.PractitionerID.String()
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (v *TokenVerifier) Verify(token string) (Context, error) {
	if token == "" {
		return Context{}, fmt.Errorf("%w: empty", ErrInvalidToken)
	}

	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithIssuer(v.issuer))
	if err != nil {
		return Context{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return Context{}, ErrInvalidToken
	}

	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return Context{}, fmt.Errorf("%w: subject: %v", ErrInvalidToken, err)
	}

	s := Context{UserID: userID, Role: Role(c.Role)}
	if c.PractitionerID != "" {
		s.PractitionerID, err = uuid.Parse(c.PractitionerID)
		if err != nil {
			return Context{}, fmt.Errorf("%w: practitioner_id: %v", ErrInvalidToken, err)
		}
	}
	return s, nil
}

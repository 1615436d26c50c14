package oauthstate

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const DefaultTTL = 10 * time.Minute

var (
	ErrMissingState  = errors.New("oauth state missing")
	ErrInvalidState  = errors.New("oauth state binding invalid")
	ErrStateMismatch = errors.New("oauth state mismatch")
)

// NewState returns an opaque random state token.
func NewState() string {
	return uuid.NewString()
}

// Signer binds a state token to the user that started the flow using a short
// lived HS256 token.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (s *Signer) TTL() time.Duration {
	return s.ttl
}

// Issue returns the signed binding for state and userID.
func (s *Signer) Issue(state, userID string) (string, error) {
	if state == "" || userID == "" {
		return "", ErrMissingState
	}
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ID:        state,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	})
	return token.SignedString(s.secret)
}

// Verify checks binding against the state returned by the provider and returns
// the bound user id.
func (s *Signer) Verify(binding, state string) (string, error) {
	if binding == "" || state == "" {
		return "", ErrMissingState
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(binding, claims, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if claims.ID != state {
		return "", ErrStateMismatch
	}
	if claims.Subject == "" {
		return "", ErrInvalidState
	}
	return claims.Subject, nil
}

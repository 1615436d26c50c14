package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoCredentials = errors.New("no bearer credentials")

// BearerResolver resolves the user id from an HS256 bearer token issued by the
// identity provider. The subject claim is the user id.
type BearerResolver struct {
	secret []byte
}

func NewBearerResolver(secret string) *BearerResolver {
	return &BearerResolver{secret: []byte(secret)}
}

func (r *BearerResolver) ResolveUserID(req *http.Request) (string, error) {
	raw, ok := bearerToken(req)
	if !ok {
		return "", ErrNoCredentials
	}
	if len(r.secret) == 0 {
		return "", errors.New("bearer secret not configured")
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
		}
		return r.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", errors.New("invalid token claims")
	}
	return claims.Subject, nil
}

func bearerToken(req *http.Request) (string, bool) {
	header := req.Header.Get("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}

package gateway

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var ErrUnauthorized = errors.New("token does not match the claimed identity")

// Authenticator checks register events against an HS256 token whose subject
// must equal the id being registered. The HTTP API uses the same tokens as
// bearer credentials. A zero Authenticator accepts anything.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) Enabled() bool { return a != nil && len(a.secret) > 0 }

func (a *Authenticator) Verify(token, id string) error {
	if !a.Enabled() {
		return nil
	}
	sub, err := a.Subject(token)
	if err != nil {
		return err
	}
	if sub != id {
		return ErrUnauthorized
	}
	return nil
}

// Subject validates token and returns the user id it was issued to.
func (a *Authenticator) Subject(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: missing token", ErrUnauthorized)
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}
	return claims.Subject, nil
}

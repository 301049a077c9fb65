package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTAuthenticator verifies HS256 tokens signed with a shared secret.
type JWTAuthenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

var _ Authenticator = (*JWTAuthenticator)(nil)

// NewJWTAuthenticator creates a JWT authenticator. An empty issuer disables
// the issuer check.
func NewJWTAuthenticator(secret, issuer string) (*JWTAuthenticator, error) {
	if secret == "" {
		return nil, errors.New("jwt secret cannot be empty")
	}
	return &JWTAuthenticator{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}, nil
}

// claims is the token payload.
type claims struct {
	Name   string   `json:"name,omitempty"`
	Roles  []string `json:"roles,omitempty"`
	Access []string `json:"access,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs a token for identity valid for ttl.
func (a *JWTAuthenticator) IssueToken(identity Identity, ttl time.Duration) (string, error) {
	now := a.now()
	c := claims{
		Name:   identity.Name,
		Roles:  identity.Roles,
		Access: identity.Access,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token string.
func (a *JWTAuthenticator) Verify(tokenString string) (*Identity, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: token is invalid", ErrUnauthenticated)
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}

	return &Identity{
		UserID: c.Subject,
		Name:   c.Name,
		Roles:  c.Roles,
		Access: c.Access,
	}, nil
}

// CheckRequest implements Authenticator.
func (a *JWTAuthenticator) CheckRequest(r *http.Request) (*Identity, error) {
	return a.Verify(TokenFromRequest(r))
}

// AuthenticateConnection implements Authenticator.
func (a *JWTAuthenticator) AuthenticateConnection(params map[string]any) (*Identity, error) {
	return a.Verify(TokenFromParams(params))
}

package auth

import (
	"errors"
	"net/http"
	"strings"
)

// ErrUnauthenticated is returned (wrapped) when credentials are missing or invalid.
var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the authenticated principal.
type Identity struct {
	UserID string   `json:"userId"`
	Name   string   `json:"name,omitempty"`
	Roles  []string `json:"roles,omitempty"`
	Access []string `json:"access,omitempty"`
}

// Authenticator verifies credentials for HTTP requests and subscription connections.
type Authenticator interface {
	// CheckRequest authenticates an HTTP request.
	CheckRequest(r *http.Request) (*Identity, error)
	// AuthenticateConnection authenticates the connection params of a
	// subscription connection or operation.
	AuthenticateConnection(params map[string]any) (*Identity, error)
}

// connectionParamKeys are the connection param names searched for a token, in order.
var connectionParamKeys = []string{"authToken", "Authorization", "authorization", "token"}

// TokenFromRequest extracts the token from the Authorization header.
func TokenFromRequest(r *http.Request) string {
	return stripBearer(r.Header.Get("Authorization"))
}

// TokenFromParams extracts the token from subscription connection params.
func TokenFromParams(params map[string]any) string {
	for _, k := range connectionParamKeys {
		if v, ok := params[k].(string); ok && v != "" {
			return stripBearer(v)
		}
	}
	// Some clients nest headers under "headers".
	if headers, ok := params["headers"].(map[string]any); ok {
		for _, k := range connectionParamKeys {
			if v, ok := headers[k].(string); ok && v != "" {
				return stripBearer(v)
			}
		}
	}
	return ""
}

func stripBearer(v string) string {
	v = strings.TrimSpace(v)
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return v
}

// AllowAll accepts every request as the anonymous identity.
type AllowAll struct{}

var _ Authenticator = AllowAll{}

// Anonymous is the identity returned by AllowAll.
var Anonymous = Identity{UserID: "anonymous"}

// CheckRequest implements Authenticator.
func (AllowAll) CheckRequest(*http.Request) (*Identity, error) {
	id := Anonymous
	return &id, nil
}

// AuthenticateConnection implements Authenticator.
func (AllowAll) AuthenticateConnection(map[string]any) (*Identity, error) {
	id := Anonymous
	return &id, nil
}

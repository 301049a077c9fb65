// Package auth defines the authentication surface consumed by the gateway
// and the subscription transports.
//
// The core only depends on the Authenticator interface. Two implementations
// are provided:
//
//   - JWTAuthenticator: verifies HS256 tokens carrying sub, name, roles and
//     access claims (github.com/golang-jwt/jwt/v5)
//   - AllowAll: accepts every request as an anonymous identity, for local use
//
// HTTP requests carry the token in the Authorization header, either raw or
// with a "Bearer " prefix. Subscription connections carry it in the
// connection params sent with connection_init (authToken or Authorization).
package auth

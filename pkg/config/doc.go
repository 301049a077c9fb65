// Package config loads the gateway configuration.
//
// Configuration comes from three layers, later layers overriding earlier ones:
//   - Defaults from Default
//   - A YAML file, with ${VAR} and ${VAR:-default} substitution
//   - GQLGW_* environment variables, after loading an optional .env file
//
// Example file:
//
//	server:
//	  addr: ":4000"
//	  subscriptionPath: /subs
//	auth:
//	  mode: jwt
//	  secret: ${GQLGW_JWT_SECRET}
//	cache:
//	  store: redis
//	  redisURL: redis://localhost:6379/0
//	  ttl: 30s
//	  contextFields: [user, roles]
//	broker:
//	  mode: mqtt
//	  url: tcp://localhost:1883
//
// Load validates the result; an invalid configuration is reported as
// ValidationErrors.
package config

// Package cache implements cache-aside response caching for the gateway.
//
// The loader computes a fingerprint of the incoming request and serves a
// stored response when one exists. After execution the setter stores the
// response, but only when a resolver explicitly marked it cachable and the
// response carries no errors. Store failures degrade to a cache miss.
package cache

// Package middleware holds the API's per-route guards: bearer
// authentication through the credential cache and the rate-limit guard.
package middleware

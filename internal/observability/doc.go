// Package observability groups the logging, metrics and tracing helpers
// shared by the api and worker binaries.
package observability

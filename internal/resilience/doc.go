// Package resilience holds the fault tolerance helpers wrapped around the
// state layer's remote calls: circuitbreaker for Redis, the queue database
// and the push gateway, and retry for short transient failures.
package resilience

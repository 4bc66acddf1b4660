// Package redis offers Redis-backed helpers for the assistant runtime:
// a per-user response cache whose keys never embed raw query text, and a
// distributed token-bucket rate limiter shared across API replicas.
package redis

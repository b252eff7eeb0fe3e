package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Default per-entity rates.
const (
	PeerRequestsPerSecond  = 100
	APIRequestsPerSecond   = 50
	TxSubmissionsPerSecond = 10
	defaultBurst           = 1 // one token refilled per tick, no burst credit
)

// NetworkError is returned when a rate-limited or firewalled operation is
// refused.
type NetworkError struct {
	Message string
}

func (e *NetworkError) Error() string { return e.Message }

func errRateLimitExceeded() error {
	return &NetworkError{Message: "rate limit exceeded"}
}

// Limiter is a keyed set of token buckets, one per entity (peer id, API
// client address, submitting sender), each refilling at a fixed rate with
// no burst credit beyond one token. Grounded in the teranode example's use
// of golang.org/x/time/rate (cmd/txblaster/worker/worker.go) for exactly
// this kind of per-connection throttle, generalized here to be keyed by an
// arbitrary string.
type Limiter struct {
	mu      sync.Mutex
	perSec  rate.Limit
	burst   int
	buckets map[string]*rate.Limiter
}

// NewLimiter creates a Limiter allowing ratePerSecond tokens/second per
// distinct key, refilled continuously.
func NewLimiter(ratePerSecond float64) *Limiter {
	return &Limiter{
		perSec:  rate.Limit(ratePerSecond),
		burst:   defaultBurst,
		buckets: make(map[string]*rate.Limiter),
	}
}

// NewPeerLimiter builds the peer-request throttle (100/s).
func NewPeerLimiter() *Limiter { return NewLimiter(PeerRequestsPerSecond) }

// NewAPILimiter builds the API-request throttle (50/s).
func NewAPILimiter() *Limiter { return NewLimiter(APIRequestsPerSecond) }

// NewTxSubmissionLimiter builds the transaction-submission throttle (10/s).
func NewTxSubmissionLimiter() *Limiter { return NewLimiter(TxSubmissionsPerSecond) }

func (l *Limiter) bucketFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.perSec, l.burst)
		l.buckets[key] = b
	}
	return b
}

// Allow reports whether key has a token available, consuming it if so.
func (l *Limiter) Allow(key string) bool {
	return l.bucketFor(key).Allow()
}

// Check is Allow expressed as a NetworkError on exhaustion, convenient for
// callers that want a plain error return.
func (l *Limiter) Check(key string) error {
	if !l.Allow(key) {
		return errRateLimitExceeded()
	}
	return nil
}

// Reset drops the bucket for key, e.g. when a peer disconnects, so its
// state doesn't linger forever in the map.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// Len reports how many distinct keys currently have a live bucket, mainly
// for tests and metrics.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

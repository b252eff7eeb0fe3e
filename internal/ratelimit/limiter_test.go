package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func TestLimiter_AllowsThenExhausts(t *testing.T) {
	l := NewLimiter(1) // 1/s, burst 1
	if !l.Allow("peer-a") {
		t.Fatal("expected first call to have a token available")
	}
	if l.Allow("peer-a") {
		t.Fatal("expected immediate second call to be throttled")
	}
}

func TestLimiter_RefillsOverTime(t *testing.T) {
	l := NewLimiter(1000) // fast refill so the test stays quick
	l.Allow("peer-a")
	time.Sleep(5 * time.Millisecond)
	if !l.Allow("peer-a") {
		t.Fatal("expected a token to have refilled after waiting")
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := NewLimiter(1)
	if !l.Allow("peer-a") {
		t.Fatal("expected peer-a's first call to succeed")
	}
	if !l.Allow("peer-b") {
		t.Fatal("expected peer-b to have its own independent bucket")
	}
}

func TestLimiter_CheckReturnsNetworkError(t *testing.T) {
	l := NewLimiter(1)
	l.Allow("peer-a")
	err := l.Check("peer-a")
	if err == nil {
		t.Fatal("expected an error once the bucket is exhausted")
	}
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected a *NetworkError, got %T", err)
	}
	if netErr.Error() != "rate limit exceeded" {
		t.Fatalf("message = %q, want %q", netErr.Error(), "rate limit exceeded")
	}
}

func TestLimiter_ResetDropsBucket(t *testing.T) {
	l := NewLimiter(1)
	l.Allow("peer-a")
	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", l.Len())
	}
	l.Reset("peer-a")
	if l.Len() != 0 {
		t.Fatalf("Len() after Reset = %d, want 0", l.Len())
	}
	if !l.Allow("peer-a") {
		t.Fatal("expected a fresh bucket to allow the next call")
	}
}

func TestNewPeerAPITxLimiters_DistinctRates(t *testing.T) {
	peer := NewPeerLimiter()
	api := NewAPILimiter()
	tx := NewTxSubmissionLimiter()

	if peer.perSec != PeerRequestsPerSecond {
		t.Fatalf("peer limiter rate = %v, want %v", peer.perSec, PeerRequestsPerSecond)
	}
	if api.perSec != APIRequestsPerSecond {
		t.Fatalf("API limiter rate = %v, want %v", api.perSec, APIRequestsPerSecond)
	}
	if tx.perSec != TxSubmissionsPerSecond {
		t.Fatalf("tx limiter rate = %v, want %v", tx.perSec, TxSubmissionsPerSecond)
	}
}

package gateway

import "testing"

func TestAddressLimiter_Cap(t *testing.T) {
	limiter := NewAddressLimiter(2)

	if !limiter.TryAcquire("10.0.0.1") {
		t.Fatal("Expected first acquire to succeed")
	}
	if !limiter.TryAcquire("10.0.0.1") {
		t.Fatal("Expected second acquire to succeed")
	}
	if limiter.TryAcquire("10.0.0.1") {
		t.Error("Expected third acquire to be rejected at cap 2")
	}
	if limiter.Count("10.0.0.1") != 2 {
		t.Errorf("Expected count to stay at 2 after rejection, got %d", limiter.Count("10.0.0.1"))
	}

	// Other addresses are unaffected
	if !limiter.TryAcquire("10.0.0.2") {
		t.Error("Expected acquire for a different address to succeed")
	}
}

func TestAddressLimiter_ReleaseFreesSlot(t *testing.T) {
	limiter := NewAddressLimiter(1)

	limiter.TryAcquire("10.0.0.1")
	if limiter.TryAcquire("10.0.0.1") {
		t.Fatal("Expected second acquire to be rejected")
	}

	limiter.Release("10.0.0.1")
	if !limiter.TryAcquire("10.0.0.1") {
		t.Error("Expected acquire to succeed after release")
	}
}

func TestAddressLimiter_PrunesZeroEntries(t *testing.T) {
	limiter := NewAddressLimiter(5)

	limiter.TryAcquire("10.0.0.1")
	limiter.TryAcquire("10.0.0.2")
	limiter.Release("10.0.0.1")

	if limiter.Addresses() != 1 {
		t.Errorf("Expected zeroed counter to be pruned, tracking %d addresses", limiter.Addresses())
	}

	// Releasing an untracked address must not create an entry
	limiter.Release("10.0.0.3")
	if limiter.Addresses() != 1 {
		t.Errorf("Expected release of unknown address to be a no-op, tracking %d addresses", limiter.Addresses())
	}
}

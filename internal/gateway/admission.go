package gateway

import "sync"

// AddressLimiter caps the number of simultaneous connections per source
// address. Counters are pruned as they reach zero so the map never grows
// with stale entries.
type AddressLimiter struct {
	mu     sync.Mutex
	max    int
	counts map[string]int
}

// NewAddressLimiter creates a limiter allowing max connections per address
func NewAddressLimiter(max int) *AddressLimiter {
	return &AddressLimiter{
		max:    max,
		counts: make(map[string]int),
	}
}

// TryAcquire reserves a connection slot for the address. It returns false
// when the address is already at its cap, in which case nothing is reserved.
func (l *AddressLimiter) TryAcquire(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts[addr] >= l.max {
		return false
	}
	l.counts[addr]++
	return true
}

// Release returns a previously acquired slot for the address
func (l *AddressLimiter) Release(addr string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	count, ok := l.counts[addr]
	if !ok {
		return
	}
	if count <= 1 {
		delete(l.counts, addr)
		return
	}
	l.counts[addr] = count - 1
}

// Count returns the current connection count for an address
func (l *AddressLimiter) Count(addr string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[addr]
}

// Addresses returns the number of addresses currently tracked
func (l *AddressLimiter) Addresses() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counts)
}

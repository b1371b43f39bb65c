package supervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mohamedkhairy/chatrelay/internal/gateway"
)

// statsFD is the file descriptor workers inherit for stats reporting
// (first ExtraFiles entry after stdin/stdout/stderr)
const statsFD = 3

// aggregate collects the latest snapshot from each worker slot
type aggregate struct {
	mu        sync.Mutex
	perWorker map[int]gateway.StatsSnapshot
}

// consume reads JSON-line snapshots from one worker's pipe until it closes
func (a *aggregate) consume(slot int, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		var snap gateway.StatsSnapshot
		if err := json.Unmarshal(scanner.Bytes(), &snap); err != nil {
			continue
		}
		a.mu.Lock()
		if a.perWorker == nil {
			a.perWorker = make(map[int]gateway.StatsSnapshot)
		}
		a.perWorker[slot] = snap
		a.mu.Unlock()
	}
}

// totals sums the latest snapshots across workers
func (a *aggregate) totals() gateway.StatsSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out gateway.StatsSnapshot
	for _, snap := range a.perWorker {
		out.ConnectionsActive += snap.ConnectionsActive
		out.ConnectionsTotal += snap.ConnectionsTotal
		out.EventsIn += snap.EventsIn
		out.EventsOut += snap.EventsOut
		out.EventsDropped += snap.EventsDropped
		out.Errors += snap.Errors
		out.AdmissionRejected += snap.AdmissionRejected
		out.SessionsEvicted += snap.SessionsEvicted
	}
	return out
}

// StatsPipe returns the inherited reporting pipe in a spawned worker, or nil
// when running standalone
func StatsPipe() *os.File {
	if os.Getenv("CHATD_WORKER") == "" {
		return nil
	}
	return os.NewFile(statsFD, "stats-pipe")
}

// ReportLoop writes periodic stats snapshots to the supervisor pipe as JSON
// lines until the context is cancelled. Write errors end the loop quietly:
// a vanished supervisor is already restarting us.
func ReportLoop(ctx context.Context, pipe *os.File, interval time.Duration, snapshot func() gateway.StatsSnapshot) {
	defer pipe.Close()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	enc := json.NewEncoder(pipe)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := enc.Encode(snapshot()); err != nil {
				return
			}
		}
	}
}

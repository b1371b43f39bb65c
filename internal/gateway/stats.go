package gateway

import "sync/atomic"

// Stats holds the hub's coarse counters. The same numbers feed the /stats
// endpoint and the periodic reports workers send to the supervisor.
type Stats struct {
	connectionsActive atomic.Int64
	connectionsTotal  atomic.Int64
	eventsIn          atomic.Int64
	eventsOut         atomic.Int64
	eventsDropped     atomic.Int64
	errors            atomic.Int64
	admissionRejected atomic.Int64
	sessionsEvicted   atomic.Int64
}

// StatsSnapshot is a point-in-time copy of the hub counters
type StatsSnapshot struct {
	ConnectionsActive int64 `json:"connectionsActive"`
	ConnectionsTotal  int64 `json:"connectionsTotal"`
	EventsIn          int64 `json:"eventsIn"`
	EventsOut         int64 `json:"eventsOut"`
	EventsDropped     int64 `json:"eventsDropped"`
	Errors            int64 `json:"errors"`
	AdmissionRejected int64 `json:"admissionRejected"`
	SessionsEvicted   int64 `json:"sessionsEvicted"`
}

// Snapshot returns a copy of the current counter values
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		ConnectionsActive: s.connectionsActive.Load(),
		ConnectionsTotal:  s.connectionsTotal.Load(),
		EventsIn:          s.eventsIn.Load(),
		EventsOut:         s.eventsOut.Load(),
		EventsDropped:     s.eventsDropped.Load(),
		Errors:            s.errors.Load(),
		AdmissionRejected: s.admissionRejected.Load(),
		SessionsEvicted:   s.sessionsEvicted.Load(),
	}
}

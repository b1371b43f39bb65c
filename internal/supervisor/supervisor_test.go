package supervisor

import (
	"strings"
	"testing"
	"time"

	"github.com/mohamedkhairy/chatrelay/internal/gateway"
)

func TestBackoff(t *testing.T) {
	cases := []struct {
		rapidExits int
		want       time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := backoff(tc.rapidExits); got != tc.want {
			t.Errorf("backoff(%d) = %s, want %s", tc.rapidExits, got, tc.want)
		}
	}
}

func TestAggregate_ConsumeAndTotals(t *testing.T) {
	var agg aggregate

	agg.consume(0, strings.NewReader(
		`{"connectionsActive":3,"connectionsTotal":10,"eventsIn":100,"eventsOut":90,"errors":1}`+"\n"+
			`{"connectionsActive":5,"connectionsTotal":12,"eventsIn":120,"eventsOut":110,"errors":2}`+"\n",
	))
	agg.consume(1, strings.NewReader(
		`{"connectionsActive":7,"connectionsTotal":20,"eventsIn":200,"eventsOut":180,"errors":0}`+"\n",
	))

	totals := agg.totals()
	// The latest snapshot per worker wins; slots sum
	if totals.ConnectionsActive != 12 {
		t.Errorf("Expected 12 active connections, got %d", totals.ConnectionsActive)
	}
	if totals.ConnectionsTotal != 32 {
		t.Errorf("Expected 32 total connections, got %d", totals.ConnectionsTotal)
	}
	if totals.EventsIn != 320 {
		t.Errorf("Expected 320 events in, got %d", totals.EventsIn)
	}
	if totals.Errors != 2 {
		t.Errorf("Expected 2 errors, got %d", totals.Errors)
	}
}

func TestAggregate_SkipsGarbageLines(t *testing.T) {
	var agg aggregate

	agg.consume(0, strings.NewReader(
		"not json at all\n"+
			`{"connectionsActive":4}`+"\n",
	))

	totals := agg.totals()
	if totals.ConnectionsActive != 4 {
		t.Errorf("Expected garbage line to be skipped, got %d active", totals.ConnectionsActive)
	}
}

func TestAggregate_EmptyTotals(t *testing.T) {
	var agg aggregate
	if totals := agg.totals(); totals != (gateway.StatsSnapshot{}) {
		t.Errorf("Expected zero totals before any report, got %+v", totals)
	}
}

func TestStatsPipe_NilWhenStandalone(t *testing.T) {
	t.Setenv("CHATD_WORKER", "")
	if pipe := StatsPipe(); pipe != nil {
		t.Error("Expected nil stats pipe outside a supervised worker")
	}
}

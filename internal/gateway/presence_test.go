package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mohamedkhairy/chatrelay/internal/protocol"
)

func receiveFrame(t *testing.T, sess *Session, timeout time.Duration) *protocol.Envelope {
	t.Helper()
	select {
	case frame := <-sess.send:
		env, err := protocol.Decode(frame)
		if err != nil {
			t.Fatalf("Failed to decode frame: %v", err)
		}
		return env
	case <-time.After(timeout):
		t.Fatal("Timed out waiting for frame")
		return nil
	}
}

func TestPresenceBroadcaster_BroadcastNow(t *testing.T) {
	registry := NewRegistry()
	identified := newTestSession("conn-1")
	anonymous := newTestSession("conn-2")
	registry.Register(identified)
	registry.Register(anonymous)
	registry.Login("conn-1", protocol.Identity{UserID: "u1", DisplayName: "Alice"})

	broadcaster := NewPresenceBroadcaster(registry, 0)
	broadcaster.BroadcastNow()

	// Every open connection gets the snapshot, identified or not
	for _, sess := range []*Session{identified, anonymous} {
		env := receiveFrame(t, sess, time.Second)
		if env.Type != protocol.TypePresence {
			t.Fatalf("Expected %s frame, got %s", protocol.TypePresence, env.Type)
		}
		var records []protocol.PresenceRecord
		if err := json.Unmarshal(env.Data, &records); err != nil {
			t.Fatalf("Failed to unmarshal presence data: %v", err)
		}
		if len(records) != 1 || records[0].UserID != "u1" {
			t.Errorf("Expected snapshot with u1 only, got %+v", records)
		}
	}
}

func TestPresenceBroadcaster_KickNeverBlocks(t *testing.T) {
	broadcaster := NewPresenceBroadcaster(NewRegistry(), 0)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			broadcaster.Kick()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Kick blocked without a running broadcaster")
	}
}

func TestPresenceBroadcaster_DebounceCoalesces(t *testing.T) {
	registry := NewRegistry()
	sess := newTestSession("conn-1")
	registry.Register(sess)
	registry.Login("conn-1", protocol.Identity{UserID: "u1", DisplayName: "Alice"})

	broadcaster := NewPresenceBroadcaster(registry, 30*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go broadcaster.Run(ctx)

	// A burst of changes inside the debounce window yields one snapshot
	for i := 0; i < 10; i++ {
		broadcaster.Kick()
	}

	env := receiveFrame(t, sess, time.Second)
	if env.Type != protocol.TypePresence {
		t.Fatalf("Expected %s frame, got %s", protocol.TypePresence, env.Type)
	}

	select {
	case frame := <-sess.send:
		t.Fatalf("Expected burst to coalesce into one broadcast, got extra frame %s", frame)
	case <-time.After(100 * time.Millisecond):
	}
}

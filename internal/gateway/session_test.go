package gateway

import "testing"

func TestSession_EnqueueAfterClose(t *testing.T) {
	sess := newTestSession("conn-1")

	if !sess.Enqueue([]byte(`{"type":"x"}`)) {
		t.Fatal("Expected enqueue on an open session to succeed")
	}

	sess.Close()
	if sess.Enqueue([]byte(`{"type":"y"}`)) {
		t.Error("Expected enqueue on a closed session to fail")
	}
	if !sess.Closed() {
		t.Error("Expected session to report closed")
	}

	// Close is idempotent
	sess.Close()
}

func TestSession_EnqueueDropsWhenQueueFull(t *testing.T) {
	sess := NewSession("conn-1", "127.0.0.1", nil, 2)

	if !sess.Enqueue([]byte(`1`)) || !sess.Enqueue([]byte(`2`)) {
		t.Fatal("Expected enqueues up to the queue size to succeed")
	}
	if sess.Enqueue([]byte(`3`)) {
		t.Error("Expected enqueue on a full queue to be dropped")
	}
	if sess.Closed() {
		t.Error("Expected a full queue to leave the session open")
	}
}

func TestSession_CloseSoonKeepsQueuedFramesReadable(t *testing.T) {
	sess := newTestSession("conn-1")
	sess.Enqueue([]byte(`first`))
	sess.Enqueue([]byte(`second`))

	sess.CloseSoon()

	if sess.Enqueue([]byte(`third`)) {
		t.Error("Expected enqueue after CloseSoon to fail")
	}
	if !sess.Closed() {
		t.Error("Expected session to report closed after CloseSoon")
	}

	// The write pump's view: queued frames drain in order, then the
	// channel reports closed
	if frame, ok := <-sess.send; !ok || string(frame) != "first" {
		t.Errorf("Expected first queued frame, got %q (ok=%v)", frame, ok)
	}
	if frame, ok := <-sess.send; !ok || string(frame) != "second" {
		t.Errorf("Expected second queued frame, got %q (ok=%v)", frame, ok)
	}
	if _, ok := <-sess.send; ok {
		t.Error("Expected queue to be closed after draining")
	}

	// Close after CloseSoon is still safe
	sess.Close()
}

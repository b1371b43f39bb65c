package gateway

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mohamedkhairy/chatrelay/internal/config"
	"github.com/mohamedkhairy/chatrelay/internal/protocol"
	"github.com/mohamedkhairy/chatrelay/pkg/logger"
)

// Hub owns one worker's in-memory routing stack: the session registry, group
// index, admission counters, presence broadcaster, and router. Each worker
// process runs exactly one Hub; there is no state shared across workers.
type Hub struct {
	cfg config.GatewayConfig

	registry  *Registry
	groups    *GroupIndex
	admission *AddressLimiter
	presence  *PresenceBroadcaster
	router    *Router
	stats     Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// NewHub creates a hub with all components wired but not yet running
func NewHub(cfg config.GatewayConfig) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		cfg:       cfg,
		registry:  NewRegistry(),
		groups:    NewGroupIndex(),
		admission: NewAddressLimiter(cfg.MaxConnsPerIP),
		ctx:       ctx,
		cancel:    cancel,
	}
	h.presence = NewPresenceBroadcaster(h.registry, cfg.PresenceDebounce)
	h.router = NewRouter(h.registry, h.groups, h.presence, cfg.AdminID, &h.stats)
	h.router.onLogin = h.subscribeGroups
	h.router.onEvict = h.evict
	return h
}

// Start launches the presence broadcaster and the liveness sweep
func (h *Hub) Start() error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = true
	h.mu.Unlock()

	logger.Info("Starting hub",
		logger.String("admin_id", h.cfg.AdminID),
		logger.Int("max_conns_per_ip", h.cfg.MaxConnsPerIP),
		logger.Duration("ping_interval", h.cfg.PingInterval),
		logger.Duration("pong_timeout", h.cfg.PongTimeout),
	)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		h.presence.Run(h.ctx)
	}()
	go func() {
		defer h.wg.Done()
		h.sweepStale()
	}()
	return nil
}

// Shutdown closes every connection and waits for all pumps to drain, up to
// the timeout
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = false
	h.mu.Unlock()

	logger.Info("Shutting down hub", logger.Int("connections", h.registry.Count()))
	h.cancel()
	for _, sess := range h.registry.Snapshot() {
		h.teardown(sess)
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Hub shutdown complete")
		return nil
	case <-time.After(timeout):
		logger.Warn("Hub shutdown timed out", logger.Duration("timeout", timeout))
		return context.DeadlineExceeded
	}
}

// Stats returns a snapshot of the hub counters
func (h *Hub) Stats() StatsSnapshot {
	snap := h.stats.Snapshot()
	snap.ConnectionsActive = int64(h.registry.Count())
	return snap
}

// HandleConnection admits an upgraded WebSocket connection and starts its
// pumps. Connections over the per-address cap receive an error frame and are
// closed before any session is registered.
func (h *Hub) HandleConnection(conn *websocket.Conn, remoteAddr string) {
	addr := hostOnly(remoteAddr)

	if !h.admission.TryAcquire(addr) {
		h.stats.admissionRejected.Add(1)
		metricAdmissionRejected.Inc()
		logger.Warn("Rejecting connection over per-address cap",
			logger.String("addr", addr),
			logger.Int("cap", h.cfg.MaxConnsPerIP),
		)
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		conn.WriteMessage(websocket.TextMessage, protocol.EncodeError(protocol.ErrConnectionLimit, ""))
		conn.Close()
		return
	}

	conn.SetReadLimit(h.cfg.MaxPayloadBytes)
	sess := NewSession(uuid.New().String(), addr, conn, h.cfg.SendQueueSize)
	h.registry.Register(sess)
	h.stats.connectionsTotal.Add(1)
	h.stats.connectionsActive.Add(1)
	metricConnectionsTotal.Inc()
	metricConnectionsActive.Inc()

	logger.Info("Connection registered",
		logger.String("session_id", sess.ID),
		logger.String("addr", addr),
		logger.Int("total_connections", h.registry.Count()),
	)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		h.writePump(sess)
	}()
	go func() {
		defer h.wg.Done()
		h.readPump(sess)
	}()
}

// subscribeGroups joins the session to its initial group list at login
func (h *Hub) subscribeGroups(sess *Session, groupIDs []string) {
	for _, groupID := range groupIDs {
		if groupID == "" {
			continue
		}
		h.groups.Join(groupID, sess)
		sess.AddGroup(groupID)
	}
	metricGroupsActive.Set(float64(h.groups.Count()))
}

// livenessWindow is how long the peer may stay silent before it is presumed
// dead: one ping interval plus the pong grace.
func (h *Hub) livenessWindow() time.Duration {
	return h.cfg.PingInterval + h.cfg.PongTimeout
}

// readPump reads frames off the socket and hands them to the router. It owns
// the read deadline: any pong (or any frame) from the peer extends it.
func (h *Hub) readPump(sess *Session) {
	defer h.teardown(sess)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered panic in read pump",
				logger.String("session_id", sess.ID),
				logger.Any("panic", r),
			)
		}
	}()

	sess.conn.SetReadDeadline(time.Now().Add(h.livenessWindow()))
	sess.conn.SetPongHandler(func(string) error {
		sess.TouchPong()
		sess.conn.SetReadDeadline(time.Now().Add(h.livenessWindow()))
		return nil
	})

	for {
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("Read error",
					logger.ErrorField(err),
					logger.String("session_id", sess.ID),
				)
			}
			return
		}
		// Inbound traffic counts as liveness too.
		sess.TouchPong()
		sess.conn.SetReadDeadline(time.Now().Add(h.livenessWindow()))

		h.router.HandleFrame(sess, raw)
	}
}

// writePump drains the session's outbound queue onto the socket and pings on
// the liveness interval. Frames queued behind the current one are coalesced
// into a single write.
func (h *Hub) writePump(sess *Session) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		h.teardown(sess)
		// An evicted session's cleanup ran without closing the socket;
		// the pump owns the close once its queue is drained.
		sess.Close()
	}()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered panic in write pump",
				logger.String("session_id", sess.ID),
				logger.Any("panic", r),
			)
		}
	}()

	for {
		select {
		case <-h.ctx.Done():
			sess.conn.SetWriteDeadline(time.Now().Add(time.Second))
			sess.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return

		case frame, ok := <-sess.send:
			sess.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				sess.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := sess.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(frame)

			n := len(sess.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-sess.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			sess.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sweepStale force-closes sessions whose last pong is older than the
// liveness window. The read deadline usually fires first; the sweep covers
// half-open TCP connections where reads never error.
func (h *Hub) sweepStale() {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			window := h.livenessWindow()
			now := time.Now()
			for _, sess := range h.registry.Snapshot() {
				idle := now.Sub(sess.LastPong())
				if idle > window {
					logger.Info("Terminating unresponsive connection",
						logger.String("session_id", sess.ID),
						logger.String("user_id", sess.UserID()),
						logger.Duration("idle", idle),
					)
					h.teardown(sess)
				}
			}
		}
	}
}

// teardown runs the single cleanup path shared by explicit disconnects,
// liveness terminations, and shutdown. All bookkeeping happens exactly once
// per session.
func (h *Hub) teardown(sess *Session) {
	sess.cleanup.Do(func() {
		h.release(sess)
		sess.Close()
	})
}

// evict tears down a session displaced by a newer login for the same user.
// Unlike teardown it only closes the queue: the write pump flushes the
// queued session_replaced notice to the peer, then closes the socket.
func (h *Hub) evict(sess *Session) {
	sess.cleanup.Do(func() {
		h.release(sess)
		sess.CloseSoon()
	})
}

// release unregisters the session from the registry, group index, and
// admission counters. Callers hold sess.cleanup.
func (h *Hub) release(sess *Session) {
	_, removed := h.registry.Remove(sess.ID)

	for _, groupID := range sess.Groups() {
		h.groups.Leave(groupID, sess.ID)
		h.router.pushGroupOnlineUsers(groupID)
	}
	metricGroupsActive.Set(float64(h.groups.Count()))

	h.admission.Release(sess.Addr)

	if removed {
		h.stats.connectionsActive.Add(-1)
		metricConnectionsActive.Dec()
		logger.Info("Connection removed",
			logger.String("session_id", sess.ID),
			logger.String("user_id", sess.UserID()),
			logger.Int("total_connections", h.registry.Count()),
		)
	}

	h.presence.Kick()
}

// hostOnly strips the port from a remote address, falling back to the raw
// string for non host:port forms
func hostOnly(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

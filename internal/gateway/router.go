package gateway

import (
	"encoding/json"
	"time"

	"github.com/mohamedkhairy/chatrelay/internal/protocol"
	"github.com/mohamedkhairy/chatrelay/pkg/logger"
)

// Router dispatches inbound frames by event type and resolves the
// connections each outbound event must reach. It consults the registry and
// group index through their contracts only; it owns no state of its own.
type Router struct {
	registry *Registry
	groups   *GroupIndex
	presence *PresenceBroadcaster
	adminID  string
	stats    *Stats

	// onLogin and onEvict are wired by the hub: onLogin finishes group
	// subscription bookkeeping, onEvict tears down a displaced session.
	onLogin func(sess *Session, groupIDs []string)
	onEvict func(sess *Session)
}

// NewRouter creates a router over the given shared components
func NewRouter(registry *Registry, groups *GroupIndex, presence *PresenceBroadcaster, adminID string, stats *Stats) *Router {
	return &Router{
		registry: registry,
		groups:   groups,
		presence: presence,
		adminID:  adminID,
		stats:    stats,
	}
}

// HandleFrame parses and dispatches one inbound frame. Malformed frames earn
// the sender an error event and are otherwise discarded; they never close
// the connection.
func (rt *Router) HandleFrame(sess *Session, raw []byte) {
	rt.stats.eventsIn.Add(1)

	env, err := protocol.Decode(raw)
	if err != nil {
		rt.sendError(sess, protocol.ErrBadPayload, err.Error())
		return
	}
	metricEventsIn.WithLabelValues(string(env.Type)).Inc()

	switch env.Type {
	case protocol.TypeLogin:
		rt.handleLogin(sess, env.Data)
	case protocol.TypeMessage:
		rt.handleMessage(sess, env.Data)
	case protocol.TypeUserMessage:
		rt.handleUserMessage(sess, env.Data)
	case protocol.TypeAdminMessage:
		rt.handleAdminMessage(sess, env.Data)
	case protocol.TypeMessageSeen:
		rt.handleReceipt(sess, env.Data, protocol.TypeMessageSeen)
	case protocol.TypeMessageDelivered:
		rt.handleReceipt(sess, env.Data, protocol.TypeMessageDelivered)
	case protocol.TypeTyping:
		rt.handleTyping(sess, env.Data)
	case protocol.TypeJoinGroup:
		rt.handleJoinGroup(sess, env.Data)
	case protocol.TypeLeaveGroup:
		rt.handleLeaveGroup(sess, env.Data)
	case protocol.TypeReaction:
		rt.handleReaction(sess, env.Data)
	case protocol.TypeDeleteMessage:
		rt.handleDeleteMessage(sess, env.Data)
	case protocol.TypeEditMessage:
		rt.handleEditMessage(sess, env.Data)
	case protocol.TypeOnlineStatus:
		rt.handleOnlineStatus(sess, env.Data)
	default:
		rt.sendError(sess, protocol.ErrUnknownType, "unknown event type: "+string(env.Type))
	}
}

func (rt *Router) handleLogin(sess *Session, data json.RawMessage) {
	var p protocol.LoginPayload
	if !rt.decode(sess, data, &p) {
		return
	}

	identity := protocol.Identity{
		UserID:      p.UserID,
		DisplayName: p.Username,
		AvatarURL:   p.Avatar,
	}

	evicted, ok := rt.registry.Login(sess.ID, identity)
	if !ok {
		// Connection closed between read and dispatch; nothing to do.
		return
	}
	if evicted != nil {
		rt.stats.sessionsEvicted.Add(1)
		metricSessionsEvicted.Inc()
		evicted.SendError(protocol.ErrSessionReplaced, "logged in from another connection")
		logger.Info("Evicting duplicate session",
			logger.String("user_id", p.UserID),
			logger.String("old_session", evicted.ID),
			logger.String("new_session", sess.ID),
		)
		if rt.onEvict != nil {
			rt.onEvict(evicted)
		}
	}

	if rt.onLogin != nil {
		rt.onLogin(sess, p.Groups)
	}

	rt.deliver(sess, protocol.TypeLoginSuccess, identity)
	rt.presence.Kick()
}

func (rt *Router) handleMessage(sess *Session, data json.RawMessage) {
	var p protocol.MessagePayload
	if !rt.decode(sess, data, &p) {
		return
	}
	sender, ok := rt.requireLogin(sess)
	if !ok {
		return
	}

	if p.IsGroupMessage() {
		rt.routeGroupMessage(sess, sender, &p)
		return
	}

	// Direct message. An offline recipient is a soft pending status, never
	// an error; durable delivery belongs to the persistence layer.
	now := time.Now()
	target, online := rt.registry.ByUser(p.Receiver)
	if !online {
		rt.deliver(sess, protocol.TypeMessageStatus, protocol.MessageStatus{
			UserID:    p.Receiver,
			Status:    protocol.StatusPending,
			Reason:    protocol.ReasonReceiverOffline,
			Timestamp: now,
		})
		return
	}

	rt.deliver(target, protocol.TypeMessage, protocol.ChatMessage{
		Sender:      sender,
		Receiver:    p.Receiver,
		Content:     p.Content,
		MessageType: p.MessageType,
		MediaURL:    p.MediaURL,
		Status: []protocol.StatusEntry{
			{UserID: p.Receiver, Status: protocol.StatusDelivered, Timestamp: now},
		},
	})
	rt.deliver(sess, protocol.TypeMessageStatus, protocol.MessageStatus{
		UserID:    p.Receiver,
		Status:    protocol.StatusDelivered,
		Timestamp: now,
	})
}

func (rt *Router) routeGroupMessage(sess *Session, sender protocol.Identity, p *protocol.MessagePayload) {
	if !rt.requireMembership(sess, p.GroupID) {
		return
	}

	frame, err := protocol.Encode(protocol.TypeGroupMessage, protocol.GroupChatMessage{
		GroupID:     p.GroupID,
		Sender:      sender,
		Content:     p.Content,
		MessageType: p.MessageType,
		MediaURL:    p.MediaURL,
		Timestamp:   time.Now(),
	})
	if err != nil {
		rt.sendError(sess, protocol.ErrBadPayload, "failed to serialize message")
		return
	}
	rt.broadcast(rt.groups.MembersOf(p.GroupID), frame, protocol.TypeGroupMessage)
}

func (rt *Router) handleUserMessage(sess *Session, data json.RawMessage) {
	var p protocol.UserMessagePayload
	if !rt.decode(sess, data, &p) {
		return
	}
	sender, ok := rt.requireLogin(sess)
	if !ok {
		return
	}

	now := time.Now()
	admin, online := rt.registry.ByUser(rt.adminID)
	if !online {
		// Admin offline is not a failure; the persistence layer delivers
		// the backlog when support signs in.
		rt.deliver(sess, protocol.TypeMessageStatus, protocol.MessageStatus{
			MessageID: p.MessageID,
			UserID:    rt.adminID,
			Status:    protocol.StatusPending,
			Reason:    protocol.ReasonAdminOffline,
			Timestamp: now,
		})
		return
	}

	rt.deliver(admin, protocol.TypeUserMessageOut, protocol.ChatMessage{
		MessageID:   p.MessageID,
		Sender:      sender,
		Receiver:    rt.adminID,
		Content:     p.Content,
		MessageType: p.MessageType,
		MediaURL:    p.MediaURL,
		Status: []protocol.StatusEntry{
			{UserID: rt.adminID, Status: protocol.StatusDelivered, Timestamp: now},
		},
	})
	rt.deliver(sess, protocol.TypeMessageStatus, protocol.MessageStatus{
		MessageID: p.MessageID,
		UserID:    rt.adminID,
		Status:    protocol.StatusDelivered,
		Timestamp: now,
	})
}

func (rt *Router) handleAdminMessage(sess *Session, data json.RawMessage) {
	var p protocol.AdminMessagePayload
	if !rt.decode(sess, data, &p) {
		return
	}
	sender, ok := rt.requireLogin(sess)
	if !ok {
		return
	}
	if sender.UserID != rt.adminID {
		rt.sendError(sess, protocol.ErrNotAuthorized, "adminMessage requires the admin identity")
		return
	}

	now := time.Now()
	target, online := rt.registry.ByUser(p.Receiver)
	if !online {
		rt.deliver(sess, protocol.TypeMessageStatus, protocol.MessageStatus{
			MessageID: p.MessageID,
			UserID:    p.Receiver,
			Status:    protocol.StatusPending,
			Reason:    protocol.ReasonReceiverOffline,
			Timestamp: now,
		})
		return
	}

	rt.deliver(target, protocol.TypeAdminMessageOut, protocol.ChatMessage{
		MessageID:   p.MessageID,
		Sender:      sender,
		Receiver:    p.Receiver,
		Content:     p.Content,
		MessageType: p.MessageType,
		MediaURL:    p.MediaURL,
		Status: []protocol.StatusEntry{
			{UserID: p.Receiver, Status: protocol.StatusDelivered, Timestamp: now},
		},
	})
	rt.deliver(sess, protocol.TypeMessageStatus, protocol.MessageStatus{
		MessageID: p.MessageID,
		UserID:    p.Receiver,
		Status:    protocol.StatusDelivered,
		Timestamp: now,
	})
}

// handleReceipt forwards a seen/delivered hint point-to-point. Offline
// targets are dropped silently: receipts are idempotent latency-sensitive
// hints with no durability requirement.
func (rt *Router) handleReceipt(sess *Session, data json.RawMessage, t protocol.Type) {
	var p protocol.ReceiptPayload
	if !rt.decode(sess, data, &p) {
		return
	}
	sender, ok := rt.requireLogin(sess)
	if !ok {
		return
	}

	target, online := rt.registry.ByUser(p.Target())
	if !online {
		return
	}
	rt.deliver(target, t, protocol.Receipt{
		MessageID: p.MessageID,
		By:        sender.UserID,
	})
}

func (rt *Router) handleTyping(sess *Session, data json.RawMessage) {
	var p protocol.TypingPayload
	if !rt.decode(sess, data, &p) {
		return
	}
	sender, ok := rt.requireLogin(sess)
	if !ok {
		return
	}

	target, online := rt.registry.ByUser(p.Receiver)
	if !online {
		return
	}
	rt.deliver(target, protocol.TypeTyping, protocol.TypingNotice{
		From:     sender,
		IsTyping: p.IsTyping,
	})
}

func (rt *Router) handleJoinGroup(sess *Session, data json.RawMessage) {
	var p protocol.GroupPayload
	if !rt.decode(sess, data, &p) {
		return
	}
	if _, ok := rt.requireLogin(sess); !ok {
		return
	}

	rt.groups.Join(p.GroupID, sess)
	sess.AddGroup(p.GroupID)
	metricGroupsActive.Set(float64(rt.groups.Count()))
	rt.pushGroupOnlineUsers(p.GroupID)
}

func (rt *Router) handleLeaveGroup(sess *Session, data json.RawMessage) {
	var p protocol.GroupPayload
	if !rt.decode(sess, data, &p) {
		return
	}
	if _, ok := rt.requireLogin(sess); !ok {
		return
	}

	rt.groups.Leave(p.GroupID, sess.ID)
	sess.RemoveGroup(p.GroupID)
	metricGroupsActive.Set(float64(rt.groups.Count()))
	rt.pushGroupOnlineUsers(p.GroupID)
}

func (rt *Router) handleReaction(sess *Session, data json.RawMessage) {
	var p protocol.ReactionPayload
	if !rt.decode(sess, data, &p) {
		return
	}
	actor, ok := rt.requireLogin(sess)
	if !ok {
		return
	}
	rt.routeMessageAction(sess, protocol.TypeReaction, protocol.MessageAction{
		MessageID: p.MessageID,
		GroupID:   p.GroupID,
		Actor:     actor,
		Emoji:     p.Emoji,
	})
}

func (rt *Router) handleDeleteMessage(sess *Session, data json.RawMessage) {
	var p protocol.DeleteMessagePayload
	if !rt.decode(sess, data, &p) {
		return
	}
	actor, ok := rt.requireLogin(sess)
	if !ok {
		return
	}
	rt.routeMessageAction(sess, protocol.TypeDeleteMessage, protocol.MessageAction{
		MessageID: p.MessageID,
		GroupID:   p.GroupID,
		Actor:     actor,
	})
}

func (rt *Router) handleEditMessage(sess *Session, data json.RawMessage) {
	var p protocol.EditMessagePayload
	if !rt.decode(sess, data, &p) {
		return
	}
	actor, ok := rt.requireLogin(sess)
	if !ok {
		return
	}
	rt.routeMessageAction(sess, protocol.TypeEditMessage, protocol.MessageAction{
		MessageID:  p.MessageID,
		GroupID:    p.GroupID,
		Actor:      actor,
		NewContent: p.NewContent,
	})
}

// routeMessageAction fans a reaction/edit/delete out to the named group's
// members, or to every connection when no group is named. There is no
// ownership check on the referenced message id; group-scoped variants only
// require membership.
func (rt *Router) routeMessageAction(sess *Session, t protocol.Type, action protocol.MessageAction) {
	frame, err := protocol.Encode(t, action)
	if err != nil {
		rt.sendError(sess, protocol.ErrBadPayload, "failed to serialize event")
		return
	}

	if action.GroupID != "" {
		if !rt.requireMembership(sess, action.GroupID) {
			return
		}
		rt.broadcast(rt.groups.MembersOf(action.GroupID), frame, t)
		return
	}
	rt.broadcast(rt.registry.Snapshot(), frame, t)
}

func (rt *Router) handleOnlineStatus(sess *Session, data json.RawMessage) {
	var p protocol.OnlineStatusPayload
	if !rt.decode(sess, data, &p) {
		return
	}
	if _, ok := rt.requireLogin(sess); !ok {
		return
	}

	rt.registry.SetOnline(sess.ID, *p.IsOnline)
	rt.presence.Kick()
}

// pushGroupOnlineUsers sends the group's connected-member roster to every
// member of the group
func (rt *Router) pushGroupOnlineUsers(groupID string) {
	members := rt.groups.MembersOf(groupID)
	if len(members) == 0 {
		return
	}

	users := make([]protocol.PresenceRecord, 0, len(members))
	for _, member := range members {
		id, ok := member.Identity()
		if !ok {
			continue
		}
		users = append(users, protocol.PresenceRecord{
			UserID:      id.UserID,
			DisplayName: id.DisplayName,
			AvatarURL:   id.AvatarURL,
			IsOnline:    member.Online(),
		})
	}

	frame, err := protocol.Encode(protocol.TypeGroupOnlineUsers, protocol.GroupOnlineUsers{
		GroupID:     groupID,
		OnlineUsers: users,
	})
	if err != nil {
		return
	}
	rt.broadcast(members, frame, protocol.TypeGroupOnlineUsers)
}

// broadcast enqueues a serialized frame to each destination. A failed or
// departed recipient is skipped; one bad socket never blocks the rest of the
// fan-out.
func (rt *Router) broadcast(destinations []*Session, frame []byte, t protocol.Type) {
	for _, dest := range destinations {
		if dest.Enqueue(frame) {
			rt.stats.eventsOut.Add(1)
			metricEventsOut.WithLabelValues(string(t)).Inc()
		} else {
			rt.stats.eventsDropped.Add(1)
			metricEventsDropped.Inc()
		}
	}
}

// deliver serializes and enqueues a single outbound event
func (rt *Router) deliver(dest *Session, t protocol.Type, data interface{}) {
	if dest.SendEvent(t, data) {
		rt.stats.eventsOut.Add(1)
		metricEventsOut.WithLabelValues(string(t)).Inc()
	} else {
		rt.stats.eventsDropped.Add(1)
		metricEventsDropped.Inc()
	}
}

// decode unmarshals and validates a typed payload, reporting bad_payload to
// the sender on failure
func (rt *Router) decode(sess *Session, data json.RawMessage, payload interface{ Validate() error }) bool {
	if len(data) == 0 {
		rt.sendError(sess, protocol.ErrBadPayload, "missing data")
		return false
	}
	if err := json.Unmarshal(data, payload); err != nil {
		rt.sendError(sess, protocol.ErrBadPayload, err.Error())
		return false
	}
	if err := payload.Validate(); err != nil {
		rt.sendError(sess, protocol.ErrBadPayload, err.Error())
		return false
	}
	return true
}

// requireLogin returns the sender's identity or reports not_authenticated
func (rt *Router) requireLogin(sess *Session) (protocol.Identity, bool) {
	identity, ok := sess.Identity()
	if !ok {
		rt.sendError(sess, protocol.ErrNotAuthenticated, "login required")
		return protocol.Identity{}, false
	}
	return identity, true
}

// requireMembership reports not_a_member unless the sender's session both
// lists the group and appears in the group index
func (rt *Router) requireMembership(sess *Session, groupID string) bool {
	if !sess.InGroup(groupID) || !rt.groups.IsMember(groupID, sess.ID) {
		rt.sendError(sess, protocol.ErrNotAMember, "not a member of group "+groupID)
		return false
	}
	return true
}

func (rt *Router) sendError(sess *Session, code string, details string) {
	rt.stats.errors.Add(1)
	metricErrors.WithLabelValues(code).Inc()
	if !sess.SendError(code, details) {
		rt.stats.eventsDropped.Add(1)
		metricEventsDropped.Inc()
	}
}

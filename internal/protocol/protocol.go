// Package protocol defines the wire format spoken between the chat relay and
// its clients: a JSON envelope tagged with an event type, plus the typed
// payloads for each event in the enumeration.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies an event on the wire
type Type string

// Inbound event types
const (
	TypeLogin            Type = "login"
	TypeMessage          Type = "message"
	TypeUserMessage      Type = "userMessage"
	TypeAdminMessage     Type = "adminMessage"
	TypeMessageSeen      Type = "messageSeen"
	TypeMessageDelivered Type = "messageDelivered"
	TypeTyping           Type = "typing"
	TypeJoinGroup        Type = "joinGroup"
	TypeLeaveGroup       Type = "leaveGroup"
	TypeReaction         Type = "reaction"
	TypeDeleteMessage    Type = "deleteMessage"
	TypeEditMessage      Type = "editMessage"
	TypeOnlineStatus     Type = "online_status"
)

// Outbound event types
const (
	TypeLoginSuccess     Type = "loginSuccess"
	TypeGroupMessage     Type = "group_message"
	TypeUserMessageOut   Type = "user_message"
	TypeAdminMessageOut  Type = "admin_message"
	TypeMessageStatus    Type = "messageStatus"
	TypePresence         Type = "onlineStatus"
	TypeGroupOnlineUsers Type = "groupOnlineUsers"
	TypeError            Type = "error"
)

// Delivery states carried in status entries
const (
	StatusDelivered = "delivered"
	StatusPending   = "pending"
)

// Error reason codes
const (
	ErrBadPayload         = "bad_payload"
	ErrUnknownType        = "unknown_type"
	ErrNotAuthenticated   = "not_authenticated"
	ErrNotAMember         = "not_a_member"
	ErrNotAuthorized      = "not_authorized"
	ErrConnectionLimit    = "connection_limit_exceeded"
	ErrSessionReplaced    = "session_replaced"
	ReasonAdminOffline    = "admin_offline"
	ReasonReceiverOffline = "receiver_offline"
)

// Envelope is the frame exchanged in both directions. Error events carry the
// reason code at the top level; every other event carries only type and data.
type Envelope struct {
	Type    Type            `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Details string          `json:"details,omitempty"`
}

// Decode parses a raw frame into an envelope
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to parse frame: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("frame is missing a type")
	}
	return &env, nil
}

// Encode builds a serialized frame for the given event type and payload
func Encode(t Type, data interface{}) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return json.Marshal(Envelope{Type: t, Data: payload})
}

// EncodeError builds a serialized error frame
func EncodeError(code string, details string) []byte {
	frame, err := json.Marshal(Envelope{Type: TypeError, Error: code, Details: details})
	if err != nil {
		// Envelope of plain strings cannot fail to marshal; keep the
		// compiler honest anyway.
		return []byte(`{"type":"error","error":"` + code + `"}`)
	}
	return frame
}

// Identity is the public identity of a connected user as stamped by the
// server on outbound traffic. Clients never supply these fields on behalf of
// someone else.
type Identity struct {
	UserID      string `json:"_id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatar,omitempty"`
}

// StatusEntry records the delivery state of a message for one recipient
type StatusEntry struct {
	UserID    string    `json:"userId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// PresenceRecord is one entry of the global presence snapshot
type PresenceRecord struct {
	UserID      string `json:"_id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatar,omitempty"`
	IsOnline    bool   `json:"isOnline"`
}

// Inbound payloads

// LoginPayload attaches an identity to a connection
type LoginPayload struct {
	UserID   string   `json:"_id"`
	Username string   `json:"username"`
	Avatar   string   `json:"avatar,omitempty"`
	Groups   []string `json:"groups,omitempty"`
}

// Validate reports whether the payload carries its required fields
func (p *LoginPayload) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("login requires _id")
	}
	if p.Username == "" {
		return fmt.Errorf("login requires username")
	}
	return nil
}

// MessagePayload is a direct or group chat message
type MessagePayload struct {
	Receiver    string `json:"receiver,omitempty"`
	GroupID     string `json:"groupId,omitempty"`
	Content     string `json:"content"`
	MessageType string `json:"messageType"`
	MediaURL    string `json:"mediaUrl,omitempty"`
	IsGroup     bool   `json:"isGroup,omitempty"`
}

func (p *MessagePayload) Validate() error {
	if p.Content == "" && p.MediaURL == "" {
		return fmt.Errorf("message requires content or mediaUrl")
	}
	if p.MessageType == "" {
		return fmt.Errorf("message requires messageType")
	}
	if p.GroupID == "" && !p.IsGroup && p.Receiver == "" {
		return fmt.Errorf("message requires receiver or groupId")
	}
	if (p.IsGroup || p.GroupID != "") && p.GroupID == "" {
		return fmt.Errorf("group message requires groupId")
	}
	return nil
}

// IsGroupMessage reports whether the message targets a group
func (p *MessagePayload) IsGroupMessage() bool {
	return p.IsGroup || p.GroupID != ""
}

// UserMessagePayload is a user-to-support message, always routed to the admin
type UserMessagePayload struct {
	MessageID   string `json:"messageId,omitempty"`
	Content     string `json:"content"`
	MessageType string `json:"messageType"`
	MediaURL    string `json:"mediaUrl,omitempty"`
}

func (p *UserMessagePayload) Validate() error {
	if p.Content == "" && p.MediaURL == "" {
		return fmt.Errorf("userMessage requires content or mediaUrl")
	}
	if p.MessageType == "" {
		return fmt.Errorf("userMessage requires messageType")
	}
	return nil
}

// AdminMessagePayload is a support-to-user message; only the admin identity
// may send it
type AdminMessagePayload struct {
	MessageID   string `json:"messageId,omitempty"`
	Content     string `json:"content"`
	MessageType string `json:"messageType"`
	MediaURL    string `json:"mediaUrl,omitempty"`
	Receiver    string `json:"receiver"`
}

func (p *AdminMessagePayload) Validate() error {
	if p.Receiver == "" {
		return fmt.Errorf("adminMessage requires receiver")
	}
	if p.Content == "" && p.MediaURL == "" {
		return fmt.Errorf("adminMessage requires content or mediaUrl")
	}
	if p.MessageType == "" {
		return fmt.Errorf("adminMessage requires messageType")
	}
	return nil
}

// ReceiptPayload is a seen/delivered acknowledgement hint. The target is the
// original sender of the acknowledged message; receiverId is accepted as a
// legacy alias.
type ReceiptPayload struct {
	MessageID  string `json:"messageId"`
	Sender     string `json:"sender,omitempty"`
	ReceiverID string `json:"receiverId,omitempty"`
}

func (p *ReceiptPayload) Validate() error {
	if p.MessageID == "" {
		return fmt.Errorf("receipt requires messageId")
	}
	if p.Sender == "" && p.ReceiverID == "" {
		return fmt.Errorf("receipt requires sender or receiverId")
	}
	return nil
}

// Target returns the user id the receipt should be forwarded to
func (p *ReceiptPayload) Target() string {
	if p.Sender != "" {
		return p.Sender
	}
	return p.ReceiverID
}

// TypingPayload is a point-to-point typing hint
type TypingPayload struct {
	Receiver string `json:"receiver"`
	IsTyping bool   `json:"isTyping,omitempty"`
}

func (p *TypingPayload) Validate() error {
	if p.Receiver == "" {
		return fmt.Errorf("typing requires receiver")
	}
	return nil
}

// GroupPayload names a group for join/leave
type GroupPayload struct {
	GroupID string `json:"groupId"`
}

func (p *GroupPayload) Validate() error {
	if p.GroupID == "" {
		return fmt.Errorf("groupId is required")
	}
	return nil
}

// ReactionPayload attaches an emoji reaction to a message
type ReactionPayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	GroupID   string `json:"groupId,omitempty"`
}

func (p *ReactionPayload) Validate() error {
	if p.MessageID == "" {
		return fmt.Errorf("reaction requires messageId")
	}
	if p.Emoji == "" {
		return fmt.Errorf("reaction requires emoji")
	}
	return nil
}

// DeleteMessagePayload retracts a message
type DeleteMessagePayload struct {
	MessageID string `json:"messageId"`
	GroupID   string `json:"groupId,omitempty"`
}

func (p *DeleteMessagePayload) Validate() error {
	if p.MessageID == "" {
		return fmt.Errorf("deleteMessage requires messageId")
	}
	return nil
}

// EditMessagePayload replaces the content of a message
type EditMessagePayload struct {
	MessageID  string `json:"messageId"`
	NewContent string `json:"newContent"`
	GroupID    string `json:"groupId,omitempty"`
}

func (p *EditMessagePayload) Validate() error {
	if p.MessageID == "" {
		return fmt.Errorf("editMessage requires messageId")
	}
	if p.NewContent == "" {
		return fmt.Errorf("editMessage requires newContent")
	}
	return nil
}

// OnlineStatusPayload toggles the client-controlled visibility flag
type OnlineStatusPayload struct {
	IsOnline *bool `json:"isOnline"`
}

func (p *OnlineStatusPayload) Validate() error {
	if p.IsOnline == nil {
		return fmt.Errorf("online_status requires isOnline")
	}
	return nil
}

// Outbound payloads

// ChatMessage is the delivered form of a direct, admin, or user message
type ChatMessage struct {
	MessageID   string        `json:"messageId,omitempty"`
	Sender      Identity      `json:"sender"`
	Receiver    string        `json:"receiver,omitempty"`
	Content     string        `json:"content,omitempty"`
	MessageType string        `json:"messageType"`
	MediaURL    string        `json:"mediaUrl,omitempty"`
	Status      []StatusEntry `json:"status"`
}

// GroupChatMessage is the delivered form of a group broadcast
type GroupChatMessage struct {
	GroupID     string    `json:"groupId"`
	Sender      Identity  `json:"sender"`
	Content     string    `json:"content,omitempty"`
	MessageType string    `json:"messageType"`
	MediaURL    string    `json:"mediaUrl,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// MessageStatus echoes delivery state back to a sender
type MessageStatus struct {
	MessageID string    `json:"messageId,omitempty"`
	UserID    string    `json:"userId"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Receipt is the forwarded form of a seen/delivered hint
type Receipt struct {
	MessageID string `json:"messageId"`
	By        string `json:"by"`
}

// TypingNotice is the forwarded form of a typing hint
type TypingNotice struct {
	From     Identity `json:"from"`
	IsTyping bool     `json:"isTyping"`
}

// MessageAction is the broadcast form of a reaction, edit, or deletion
type MessageAction struct {
	MessageID  string   `json:"messageId"`
	GroupID    string   `json:"groupId,omitempty"`
	Actor      Identity `json:"actor"`
	Emoji      string   `json:"emoji,omitempty"`
	NewContent string   `json:"newContent,omitempty"`
}

// GroupOnlineUsers lists the currently connected members of one group
type GroupOnlineUsers struct {
	GroupID     string           `json:"groupId"`
	OnlineUsers []PresenceRecord `json:"onlineUsers"`
}

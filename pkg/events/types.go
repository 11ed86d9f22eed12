// Package events is the real-time fan-out layer: one WebSocket connection per
// authenticated user, room membership for matches and spectators, and a redis
// pub/sub bridge so events reach clients connected to any process.
package events

import "encoding/json"

// Server→client event types.
const (
	EventConnectionEstablished = "connection.established"
	EventMatchFound            = "matchFound"
	EventMatchStart            = "matchStart"
	EventOpponentCodeUpdate    = "opponentCodeUpdate"
	EventMatchResult           = "matchResult"
	EventTimerSync             = "timerSync"
	EventChatMessage           = "chatMessage"
	EventPong                  = "pong"
	EventError                 = "error"
)

// Client→server event types.
const (
	ActionReady      = "ready"
	ActionCodeUpdate = "codeUpdate"
	ActionSubmitCode = "submitCode"
	ActionSpectate   = "spectate"
	ActionChat       = "chat"
	ActionPing       = "ping"
)

// ClientMessage is the envelope for inbound client events. Data carries the
// action-specific payload and is decoded by the message handler.
type ClientMessage struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// ServerEvent is the envelope for outbound events.
type ServerEvent struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// MatchRoom is the room players of a match join.
func MatchRoom(matchID string) string {
	return "match:" + matchID
}

// SpectatorRoom is the room spectators of a match join.
func SpectatorRoom(matchID string) string {
	return MatchRoom(matchID) + ":spectators"
}

// UserTarget addresses a single user across processes. Usable anywhere a
// room name is accepted.
func UserTarget(userID string) string {
	return "user:" + userID
}

// Package game routes inbound WebSocket events to matchmaking and the match
// lifecycle, and pushes lifecycle events back out through the fan-out layer.
package game

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/codeclash-io/codeclash/pkg/events"
	"github.com/codeclash-io/codeclash/pkg/match"
	"github.com/codeclash-io/codeclash/pkg/matchmaking"
	"github.com/codeclash-io/codeclash/pkg/models"
	"github.com/codeclash-io/codeclash/pkg/ratelimit"
)

// Chat rate: one message per user per two seconds.
const (
	chatLimit  = 1
	chatWindow = 2 * time.Second
)

// ChatRecorder persists chat messages for match history.
type ChatRecorder interface {
	RecordChat(ctx context.Context, matchID, userID, content string) error
}

// Coordinator implements events.MessageHandler, match.Emitter, and
// matchmaking.Notifier: the glue between the socket layer and the game core.
type Coordinator struct {
	manager    *events.ConnectionManager
	machine    *match.Machine
	challenges match.ChallengeLoader
	limiter    *ratelimit.Limiter
	moderator  *Moderator
	throttle   *events.Throttle
	timers     *timerSet
	chat       ChatRecorder
}

// NewCoordinator wires the coordinator. Call machine.SetEmitter and
// manager.SetHandler with the result to close the loop.
func NewCoordinator(manager *events.ConnectionManager, machine *match.Machine, challenges match.ChallengeLoader,
	limiter *ratelimit.Limiter, throttle *events.Throttle, chat ChatRecorder,
) *Coordinator {
	return &Coordinator{
		manager:    manager,
		machine:    machine,
		challenges: challenges,
		limiter:    limiter,
		moderator:  NewModerator(),
		throttle:   throttle,
		timers:     newTimerSet(manager),
		chat:       chat,
	}
}

type matchPayload struct {
	MatchID string `json:"match_id"`
}

type codeUpdatePayload struct {
	MatchID string                `json:"match_id"`
	Code    string                `json:"code"`
	Cursor  models.CursorPosition `json:"cursor"`
}

type chatPayload struct {
	MatchID string `json:"match_id"`
	Text    string `json:"text,omitempty"`
	Emoji   string `json:"emoji,omitempty"`
}

// HandleMessage dispatches one inbound client event.
func (c *Coordinator) HandleMessage(ctx context.Context, sess *events.Session, msg *events.ClientMessage) {
	switch msg.Action {
	case events.ActionReady:
		c.handleReady(ctx, sess, msg.Data)
	case events.ActionCodeUpdate:
		c.handleCodeUpdate(ctx, sess, msg.Data)
	case events.ActionSubmitCode:
		c.handleSubmit(ctx, sess, msg.Data)
	case events.ActionSpectate:
		c.handleSpectate(ctx, sess, msg.Data)
	case events.ActionChat:
		c.handleChat(ctx, sess, msg.Data)
	default:
		c.manager.SendError(sess, "unknown action: "+msg.Action)
	}
}

func (c *Coordinator) handleReady(ctx context.Context, sess *events.Session, data json.RawMessage) {
	var p matchPayload
	if !c.decode(sess, data, &p) {
		return
	}

	_, _, err := c.machine.SetReady(ctx, p.MatchID, sess.UserID)
	if err != nil {
		c.sendMatchError(sess, err)
		return
	}
	c.manager.JoinRoom(sess, events.MatchRoom(p.MatchID))
}

func (c *Coordinator) handleCodeUpdate(ctx context.Context, sess *events.Session, data json.RawMessage) {
	var p codeUpdatePayload
	if !c.decode(sess, data, &p) {
		return
	}

	state, err := c.machine.UpdateCode(ctx, p.MatchID, sess.UserID, p.Code, p.Cursor)
	if err != nil {
		c.sendMatchError(sess, err)
		return
	}

	event := events.ServerEvent{Type: events.EventOpponentCodeUpdate, Data: map[string]any{
		"match_id": p.MatchID,
		"user_id":  sess.UserID,
		"code":     p.Code,
		"cursor":   p.Cursor,
	}}
	// Coalesced: bursts collapse, the final state always goes out.
	c.throttle.Publish(ctx, events.UserTarget(state.OpponentID(sess.UserID)), event)
	c.throttle.Publish(ctx, events.SpectatorRoom(p.MatchID), event)
}

func (c *Coordinator) handleSubmit(ctx context.Context, sess *events.Session, data json.RawMessage) {
	var p matchPayload
	if !c.decode(sess, data, &p) {
		return
	}

	_, both, err := c.machine.Submit(ctx, p.MatchID, sess.UserID)
	if err != nil {
		c.sendMatchError(sess, err)
		return
	}

	if both {
		// Judging runs detached from the submitter's read loop; the result
		// reaches both players through the emitter.
		go func() {
			_, err := c.machine.Complete(context.Background(), p.MatchID, "both_submitted")
			if err != nil && !errors.Is(err, match.ErrCompletionInProgress) {
				slog.Error("Completing match failed", "match_id", p.MatchID, "error", err)
			}
		}()
	}
}

func (c *Coordinator) handleSpectate(ctx context.Context, sess *events.Session, data json.RawMessage) {
	var p matchPayload
	if !c.decode(sess, data, &p) {
		return
	}

	state, err := c.machine.Get(ctx, p.MatchID)
	if err != nil {
		c.sendMatchError(sess, err)
		return
	}

	c.manager.JoinRoom(sess, events.SpectatorRoom(p.MatchID))
	c.manager.SendToUser(ctx, sess.UserID, events.ServerEvent{Type: "matchState", Data: state})
}

func (c *Coordinator) handleChat(ctx context.Context, sess *events.Session, data json.RawMessage) {
	var p chatPayload
	if !c.decode(sess, data, &p) {
		return
	}

	decision := c.limiter.Check(ctx, sess.UserID, "chat", chatLimit, chatWindow)
	if !decision.Allowed {
		c.manager.SendError(sess, "chat rate limit exceeded")
		return
	}

	var content string
	switch {
	case p.Emoji != "":
		if !AllowedEmoji(p.Emoji) {
			c.manager.SendError(sess, "emoji not allowed")
			return
		}
		content = p.Emoji
	case p.Text != "":
		if len(p.Text) > maxChatLength {
			c.manager.SendError(sess, "message too long")
			return
		}
		content = c.moderator.FilterText(p.Text)
	default:
		c.manager.SendError(sess, "empty chat message")
		return
	}

	if c.chat != nil {
		if err := c.chat.RecordChat(ctx, p.MatchID, sess.UserID, content); err != nil {
			slog.Warn("Recording chat message failed", "match_id", p.MatchID, "error", err)
		}
	}

	event := events.ServerEvent{Type: events.EventChatMessage, Data: map[string]any{
		"match_id": p.MatchID,
		"user_id":  sess.UserID,
		"content":  content,
		"sent_at":  time.Now().UnixMilli(),
	}}
	c.manager.BroadcastRoom(ctx, events.MatchRoom(p.MatchID), event)
	c.manager.BroadcastRoom(ctx, events.SpectatorRoom(p.MatchID), event)
}

// NotifyMatchFound implements matchmaking.Notifier.
func (c *Coordinator) NotifyMatchFound(ctx context.Context, userID string, found matchmaking.MatchFound) {
	c.manager.SendToUser(ctx, userID, events.ServerEvent{Type: events.EventMatchFound, Data: found})
}

// MatchStarted implements match.Emitter: announces the start and begins the
// server-authoritative countdown.
func (c *Coordinator) MatchStarted(ctx context.Context, state *models.MatchState) {
	event := events.ServerEvent{Type: events.EventMatchStart, Data: map[string]any{
		"match_id":   state.ID,
		"started_at": state.StartedAt,
	}}
	c.manager.BroadcastRoom(ctx, events.MatchRoom(state.ID), event)
	c.manager.BroadcastRoom(ctx, events.SpectatorRoom(state.ID), event)

	challenge, err := c.challenges.ChallengeByID(ctx, state.ChallengeID)
	if err != nil {
		slog.Error("Loading challenge for timer failed", "match_id", state.ID, "error", err)
		return
	}
	c.timers.start(context.Background(), state.ID,
		time.UnixMilli(state.StartedAt), time.Duration(challenge.TimeLimitSeconds)*time.Second)
}

// MatchCompleted implements match.Emitter: fans the result out and tears down
// per-match senders. Leaderboard updates happen before this is invoked.
func (c *Coordinator) MatchCompleted(ctx context.Context, result *match.Result) {
	event := events.ServerEvent{Type: events.EventMatchResult, Data: result}
	c.manager.BroadcastRoom(ctx, events.MatchRoom(result.MatchID), event)
	c.manager.BroadcastRoom(ctx, events.SpectatorRoom(result.MatchID), event)

	c.timers.stop(result.MatchID)
	c.throttle.Forget(events.SpectatorRoom(result.MatchID))
	c.throttle.Forget(events.UserTarget(result.Player1ID))
	c.throttle.Forget(events.UserTarget(result.Player2ID))
}

func (c *Coordinator) decode(sess *events.Session, data json.RawMessage, v any) bool {
	if len(data) == 0 {
		c.manager.SendError(sess, "missing payload")
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		c.manager.SendError(sess, "invalid payload")
		return false
	}
	return true
}

func (c *Coordinator) sendMatchError(sess *events.Session, err error) {
	switch {
	case errors.Is(err, match.ErrMatchNotFound):
		c.manager.SendError(sess, "match not found")
	case errors.Is(err, match.ErrNotParticipant):
		c.manager.SendError(sess, "not a participant in this match")
	case errors.Is(err, match.ErrMatchOver):
		c.manager.SendError(sess, "match is already over")
	case errors.Is(err, match.ErrMatchNotActive):
		c.manager.SendError(sess, "match is not active")
	default:
		slog.Error("Match operation failed", "error", err)
		c.manager.SendError(sess, "internal error")
	}
}

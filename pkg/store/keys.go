package store

import "fmt"

// Key helpers. Every ephemeral key used by the backend is constructed here so
// the keyspace stays greppable.

// MatchKey is the hash holding ephemeral match state.
func MatchKey(matchID string) string {
	return "match:" + matchID
}

// MatchStartLockKey guards the one-shot lobby→active transition.
func MatchStartLockKey(matchID string) string {
	return "match:" + matchID + ":startlock"
}

// MatchCompleteLockKey guards completion exclusivity.
func MatchCompleteLockKey(matchID string) string {
	return "match:" + matchID + ":completelock"
}

// QueueKey is the sorted set for one matchmaking partition, scored by
// enqueue time in unix millis.
func QueueKey(difficulty, language string) string {
	return fmt.Sprintf("queue:%s:%s", difficulty, language)
}

// LeaderboardKey is the sorted set for one leaderboard period.
func LeaderboardKey(period string) string {
	return "leaderboard:" + period
}

// RateLimitKey is the fixed-window counter for (identifier, endpoint).
func RateLimitKey(identifier, endpoint string) string {
	return fmt.Sprintf("ratelimit:%s:%s", endpoint, identifier)
}

// ChatThrottleKey throttles spectator chat per user.
func ChatThrottleKey(userID string) string {
	return "chat:throttle:" + userID
}

// EventChannel is the pub/sub channel for a realtime room.
func EventChannel(room string) string {
	return "events:" + room
}

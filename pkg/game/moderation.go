package game

import (
	"strings"
)

// Chat limits.
const (
	maxChatLength = 500
)

// defaultBlocklist seeds the chat filter. Matching is case-insensitive;
// offending words are replaced by asterisks of equal length.
var defaultBlocklist = []string{
	"idiot", "moron", "loser", "trash", "noob", "stupid", "dumbass",
}

// emojiAllowlist is the fixed set accepted for reactions.
var emojiAllowlist = map[string]bool{
	"👍": true, "👎": true, "🔥": true, "🎉": true, "😂": true,
	"😮": true, "💪": true, "🤝": true, "🧠": true, "⚡": true,
}

// Moderator filters chat content.
type Moderator struct {
	blocklist []string
}

// NewModerator creates a moderator with the default blocklist.
func NewModerator() *Moderator {
	return &Moderator{blocklist: defaultBlocklist}
}

// FilterText substitutes every blocklisted word with asterisks of equal
// length, preserving message length and surrounding text.
func (m *Moderator) FilterText(text string) string {
	lower := strings.ToLower(text)
	out := []byte(text)
	for _, word := range m.blocklist {
		for start := 0; ; {
			idx := strings.Index(lower[start:], word)
			if idx < 0 {
				break
			}
			pos := start + idx
			for i := pos; i < pos+len(word); i++ {
				out[i] = '*'
			}
			start = pos + len(word)
		}
	}
	return string(out)
}

// AllowedEmoji reports whether the reaction is on the allowlist.
func AllowedEmoji(emoji string) bool {
	return emojiAllowlist[emoji]
}

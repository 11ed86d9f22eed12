package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterText(t *testing.T) {
	m := NewModerator()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"clean text untouched", "nice solve!", "nice solve!"},
		{"single word masked", "you idiot", "you *****"},
		{"length preserved", "trash", "*****"},
		{"case insensitive", "NOOB moves", "**** moves"},
		{"multiple occurrences", "noob noob noob", "**** **** ****"},
		{"embedded word masked", "what a stupidplay", "what a ******play"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.FilterText(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Len(t, got, len(tt.in), "filtering must preserve length")
		})
	}
}

func TestAllowedEmoji(t *testing.T) {
	assert.True(t, AllowedEmoji("🔥"))
	assert.True(t, AllowedEmoji("👍"))
	assert.False(t, AllowedEmoji("🍆"))
	assert.False(t, AllowedEmoji("not an emoji"))
	assert.False(t, AllowedEmoji(""))
}

package matchmaking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindPair(t *testing.T) {
	entry := func(id string, rating int, at int64) QueueEntry {
		return QueueEntry{UserID: id, Rating: rating, EnqueuedAt: at}
	}

	tests := []struct {
		name        string
		entries     []QueueEntry
		ratingRange int
		wantA       string
		wantB       string
		wantOK      bool
	}{
		{
			name:   "empty queue",
			wantOK: false,
		},
		{
			name:    "single player waits",
			entries: []QueueEntry{entry("u1", 1000, 1)},
			wantOK:  false,
		},
		{
			name:        "compatible pair in order",
			entries:     []QueueEntry{entry("u1", 1000, 1), entry("u2", 1050, 2)},
			ratingRange: 100,
			wantA:       "u1", wantB: "u2", wantOK: true,
		},
		{
			name:        "exact boundary difference pairs",
			entries:     []QueueEntry{entry("u1", 1000, 1), entry("u2", 1100, 2)},
			ratingRange: 100,
			wantA:       "u1", wantB: "u2", wantOK: true,
		},
		{
			name:        "one past boundary does not pair",
			entries:     []QueueEntry{entry("u1", 1000, 1), entry("u2", 1101, 2)},
			ratingRange: 100,
			wantOK:      false,
		},
		{
			name: "earliest compatible partner wins over closer rating",
			entries: []QueueEntry{
				entry("u1", 1000, 1),
				entry("u2", 1090, 2),
				entry("u3", 1001, 3),
			},
			ratingRange: 100,
			wantA:       "u1", wantB: "u2", wantOK: true,
		},
		{
			name: "head skipped when incompatible, later pair found",
			entries: []QueueEntry{
				entry("u1", 2000, 1),
				entry("u2", 1000, 2),
				entry("u3", 1010, 3),
			},
			ratingRange: 100,
			wantA:       "u2", wantB: "u3", wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b, ok := findPair(tt.entries, tt.ratingRange)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantA, a.UserID)
				assert.Equal(t, tt.wantB, b.UserID)
			}
		})
	}
}

func TestAllPartitions(t *testing.T) {
	parts := AllPartitions()
	assert.Len(t, parts, 20) // 5 difficulties x 4 languages

	seen := make(map[string]bool)
	for _, p := range parts {
		key := p.Key()
		assert.False(t, seen[key], "duplicate partition %s", key)
		seen[key] = true
	}
	assert.True(t, seen["queue:easy:python"])
	assert.True(t, seen["queue:any:any"])
}

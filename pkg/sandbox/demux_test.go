package sandbox

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// frame encodes one multiplexed payload the way docker stdcopy does.
func frame(streamID byte, payload string) []byte {
	header := make([]byte, frameHeaderLen)
	header[0] = streamID
	binary.BigEndian.PutUint32(header[4:8], uint32(len(payload)))
	return append(header, payload...)
}

func TestDemuxStreams(t *testing.T) {
	tests := []struct {
		name       string
		input      []byte
		wantStdout string
		wantStderr string
	}{
		{
			name: "empty stream",
		},
		{
			name:       "single stdout frame",
			input:      frame(streamStdout, "hello\n"),
			wantStdout: "hello\n",
		},
		{
			name:       "interleaved stdout and stderr",
			input:      bytes.Join([][]byte{frame(streamStdout, "out1"), frame(streamStderr, "err1"), frame(streamStdout, "out2")}, nil),
			wantStdout: "out1out2",
			wantStderr: "err1",
		},
		{
			name:       "unknown stream id skipped",
			input:      bytes.Join([][]byte{frame(7, "ignored"), frame(streamStdout, "kept")}, nil),
			wantStdout: "kept",
		},
		{
			name:       "zero-length frame",
			input:      bytes.Join([][]byte{frame(streamStdout, ""), frame(streamStderr, "e")}, nil),
			wantStderr: "e",
		},
		{
			name:       "truncated trailing header tolerated",
			input:      append(frame(streamStdout, "partial"), 1, 0, 0),
			wantStdout: "partial",
		},
		{
			name:       "truncated payload tolerated",
			input:      append(frame(streamStdout, "full"), frame(streamStderr, "cut")[:10]...),
			wantStdout: "full",
			wantStderr: "cu",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, stderr, err := demuxStreams(bytes.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStdout, string(stdout))
			assert.Equal(t, tt.wantStderr, string(stderr))
		})
	}
}

func TestDemuxStreamsCapsEachStream(t *testing.T) {
	chunk := strings.Repeat("x", 4096)
	var input []byte
	// 32 chunks of 4KiB per stream = 128KiB offered, double the cap.
	for i := 0; i < 32; i++ {
		input = append(input, frame(streamStdout, chunk)...)
		input = append(input, frame(streamStderr, chunk)...)
	}

	stdout, stderr, err := demuxStreams(bytes.NewReader(input))
	require.NoError(t, err)
	assert.Len(t, stdout, maxStreamBytes)
	assert.Len(t, stderr, maxStreamBytes)
}

func TestAppendCapped(t *testing.T) {
	full := bytes.Repeat([]byte("a"), maxStreamBytes)

	assert.Len(t, appendCapped(nil, full), maxStreamBytes)
	assert.Len(t, appendCapped(full, []byte("overflow")), maxStreamBytes)

	// A payload straddling the cap is cut, not dropped.
	almost := bytes.Repeat([]byte("a"), maxStreamBytes-3)
	got := appendCapped(almost, []byte("12345"))
	assert.Len(t, got, maxStreamBytes)
	assert.Equal(t, "123", string(got[maxStreamBytes-3:]))
}

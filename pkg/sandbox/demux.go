package sandbox

import (
	"encoding/binary"
	"errors"
	"io"
)

// Docker multiplexes stdout and stderr over one stream when the container has
// no TTY. Each frame is an 8-byte header followed by the payload:
//
//	byte 0    stream id (0=stdin, 1=stdout, 2=stderr)
//	bytes 1-3 reserved
//	bytes 4-7 payload length, big-endian
const (
	streamStdout = 1
	streamStderr = 2

	frameHeaderLen = 8

	// maxStreamBytes caps captured output per stream; anything beyond is
	// discarded (trimmed) rather than buffered.
	maxStreamBytes = 64 * 1024
)

// demuxStreams reads the multiplexed stream until EOF and returns the
// captured stdout and stderr, each trimmed to maxStreamBytes.
func demuxStreams(r io.Reader) (stdout, stderr []byte, err error) {
	header := make([]byte, frameHeaderLen)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return stdout, stderr, nil
			}
			return stdout, stderr, err
		}

		size := binary.BigEndian.Uint32(header[4:8])
		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return stdout, stderr, nil
			}
			return stdout, stderr, err
		}

		switch header[0] {
		case streamStdout:
			stdout = appendCapped(stdout, payload)
		case streamStderr:
			stderr = appendCapped(stderr, payload)
		default:
			// Unknown stream id: skip the payload.
		}
	}
}

func appendCapped(dst, payload []byte) []byte {
	if len(dst) >= maxStreamBytes {
		return dst
	}
	room := maxStreamBytes - len(dst)
	if len(payload) > room {
		payload = payload[:room]
	}
	return append(dst, payload...)
}

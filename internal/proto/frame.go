package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame payload. Command messages are tiny;
// anything near this limit is a corrupt or hostile peer.
const MaxFrameSize = 1 << 20

// ErrIncompleteMessage reports that the peer closed the channel after a
// partial frame had been read. A clean close before any byte of a frame is
// reported as io.EOF instead and means "no message".
var ErrIncompleteMessage = errors.New("channel closed mid-message")

// WriteFrame writes one length-prefixed frame: a 4-byte little-endian
// payload length followed by the payload itself.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("frame payload %d exceeds limit %d", len(payload), MaxFrameSize)
	}
	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame, looping until exactly the
// declared number of payload bytes has arrived. A single read may return
// fewer bytes than requested, so both the prefix and the payload are read
// with io.ReadFull.
func ReadFrame(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if err == io.EOF {
			// Clean close before any bytes: no message.
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrIncompleteMessage
		}
		return nil, fmt.Errorf("read frame length: %w", err)
	}

	length := binary.LittleEndian.Uint32(prefix[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("declared frame length %d exceeds limit %d", length, MaxFrameSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrIncompleteMessage
		}
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return payload, nil
}

package proto

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"command":"FlushDns"}`)
	require.NoError(t, WriteFrame(&buf, payload))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestFrameEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, nil))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestFramePrefixIsLittleEndian(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("abc")))

	wire := buf.Bytes()
	require.Equal(t, []byte{3, 0, 0, 0}, wire[:4])
	require.Equal(t, []byte("abc"), wire[4:])
}

func TestReadFrameCleanCloseIsEOF(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil))
	require.ErrorIs(t, err, io.EOF)
}

func TestReadFrameTruncatedPrefix(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{9, 0}))
	require.ErrorIs(t, err, ErrIncompleteMessage)
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("hello")))
	wire := buf.Bytes()

	// Drop the payload's last byte and close.
	_, err := ReadFrame(bytes.NewReader(wire[:len(wire)-1]))
	require.ErrorIs(t, err, ErrIncompleteMessage)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], MaxFrameSize+1)

	_, err := ReadFrame(bytes.NewReader(prefix[:]))
	require.Error(t, err)
	require.NotErrorIs(t, err, io.EOF)
	require.NotErrorIs(t, err, ErrIncompleteMessage)
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	err := WriteFrame(io.Discard, make([]byte, MaxFrameSize+1))
	require.Error(t, err)
}

// chunkReader returns one byte per Read call to exercise the short-read
// path of ReadFrame.
type chunkReader struct {
	data []byte
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	p[0] = c.data[0]
	c.data = c.data[1:]
	return 1, nil
}

func TestReadFrameAcrossShortReads(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"success":true}`)
	require.NoError(t, WriteFrame(&buf, payload))

	got, err := ReadFrame(&chunkReader{data: buf.Bytes()})
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Frame layout: [4 bytes payload length, big-endian uint32][payload].
const HeaderSize = 4

// MaxPayloadSize bounds a single payload. Game messages are a few hundred
// bytes; a status reply for a crowded pool stays well below this.
const MaxPayloadSize = 1 << 20

var ErrMalformedFrame = errors.New("malformed frame")
var ErrTransport = errors.New("transport fault")

// Encode marshals msg and prefixes it with its length.
func Encode(msg Message) ([]byte, error) {
	payload, err := Marshal(msg)
	if err != nil {
		return nil, err
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("encode %s: payload length %d exceeds maximum %d", msg.Action(), len(payload), MaxPayloadSize)
	}
	frame := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame[:HeaderSize], uint32(len(payload)))
	copy(frame[HeaderSize:], payload)
	return frame, nil
}

// WriteMessage encodes msg and writes the whole frame to w.
func WriteMessage(w io.Writer, msg Message) error {
	frame, err := Encode(msg)
	if err != nil {
		return err
	}
	return WriteFrame(w, frame)
}

// WriteFrame writes an already encoded frame.
func WriteFrame(w io.Writer, frame []byte) error {
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("%w: write frame: %w", ErrTransport, err)
	}
	return nil
}

// Decode reads exactly one frame from r and parses its payload. Short reads
// are retried until the declared length is satisfied. It returns io.EOF
// only when the stream ends cleanly between frames; a stream that ends
// inside a frame yields ErrMalformedFrame.
func Decode(r io.Reader) (Message, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, readError("length prefix", err)
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload length %d exceeds maximum %d", ErrMalformedFrame, size, MaxPayloadSize)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, readError("payload", err)
	}
	return Unmarshal(payload)
}

func readError(part string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: stream closed inside %s", ErrMalformedFrame, part)
	}
	return fmt.Errorf("%w: read %s: %w", ErrTransport, part, err)
}

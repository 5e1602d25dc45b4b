package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// HeaderSize is the length prefix in bytes (big-endian uint32).
	HeaderSize = 4

	// MaxPayloadSize bounds a single frame to keep a hostile peer from
	// forcing unbounded allocation.
	MaxPayloadSize = 64 * 1024
)

// WriteMessage frames and writes one message to w.
func WriteMessage(w io.Writer, m Message) error {
	payload, err := m.Marshal()
	if err != nil {
		return err
	}
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("payload %d exceeds max frame size %d", len(payload), MaxPayloadSize)
	}

	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[:HeaderSize], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r and returns the raw
// payload. A stream that ends mid-frame fails with io.ErrUnexpectedEOF;
// a stream closed between frames returns io.EOF.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("reading frame header: %w", err)
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > MaxPayloadSize {
		return nil, fmt.Errorf("frame payload %d exceeds max frame size %d", size, MaxPayloadSize)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("reading frame payload: %w", err)
	}
	return payload, nil
}

// ReadMessage reads and decodes one framed message from r.
func ReadMessage(r io.Reader) (Message, error) {
	payload, err := ReadFrame(r)
	if err != nil {
		return Message{}, err
	}
	return Unmarshal(payload)
}

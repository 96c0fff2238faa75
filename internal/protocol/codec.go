package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	// Delimiter terminates every frame. The framing relies on the JSON
	// encoder never emitting a raw newline inside an encoded message.
	Delimiter = '\n'

	// ReadChunkSize is the number of bytes requested from the socket per read.
	ReadChunkSize = 4096
)

// MalformedFrameError reports a single frame that could not be decoded. The
// stream itself is still healthy; callers should log, drop the frame and
// keep reading.
type MalformedFrameError struct {
	Frame []byte
	Err   error
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("malformed frame %q: %v", e.Frame, e.Err)
}

func (e *MalformedFrameError) Unwrap() error { return e.Err }

// Encode serializes a message and appends the frame delimiter. Encoding
// failures (an unserializable payload, or an encoding that would itself
// contain the delimiter) return an error without producing any bytes.
func Encode(m Message) ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("error encoding %s message: %w", m.Type, err)
	}
	if bytes.IndexByte(raw, Delimiter) != -1 {
		return nil, fmt.Errorf("encoded %s message contains the frame delimiter", m.Type)
	}
	return append(raw, Delimiter), nil
}

// Decoder reads delimiter-framed messages from a stream, retaining any
// trailing partial frame across reads.
type Decoder struct {
	r     io.Reader
	buf   []byte
	chunk []byte
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r, chunk: make([]byte, ReadChunkSize)}
}

// Next blocks until one complete frame is available and returns the decoded
// message. A frame that fails validation yields a *MalformedFrameError and
// leaves the decoder usable for the next frame. A zero-byte read (the peer
// closed the stream) yields io.EOF.
func (d *Decoder) Next() (Message, error) {
	for {
		if i := bytes.IndexByte(d.buf, Delimiter); i != -1 {
			frame := d.buf[:i]
			// Keep the remainder in an independent allocation so decoded
			// frames can't alias each other.
			d.buf = append([]byte(nil), d.buf[i+1:]...)
			return decodeFrame(frame)
		}

		n, err := d.r.Read(d.chunk)
		if n > 0 {
			d.buf = append(d.buf, d.chunk[:n]...)
			continue
		}
		if err == nil || errors.Is(err, io.EOF) {
			return Message{}, io.EOF
		}
		return Message{}, err
	}
}

// decodeFrame validates that the frame is a JSON object carrying at least
// the type and data keys and that the type is known.
func decodeFrame(frame []byte) (Message, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(frame, &probe); err != nil {
		return Message{}, &MalformedFrameError{Frame: frame, Err: err}
	}
	if _, ok := probe["type"]; !ok {
		return Message{}, &MalformedFrameError{Frame: frame, Err: errors.New("missing type")}
	}
	if _, ok := probe["data"]; !ok {
		return Message{}, &MalformedFrameError{Frame: frame, Err: errors.New("missing data")}
	}

	var m Message
	if err := json.Unmarshal(frame, &m); err != nil {
		return Message{}, &MalformedFrameError{Frame: frame, Err: err}
	}
	if !m.Type.Valid() {
		return Message{}, &MalformedFrameError{
			Frame: frame,
			Err:   fmt.Errorf("unknown message type %q", m.Type),
		}
	}
	if m.Data == nil {
		m.Data = map[string]any{}
	}
	return m, nil
}

package protocol

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// chunkedReader feeds its contents to the decoder in fixed-size slices so
// that tests can control exactly how frames are split across reads.
type chunkedReader struct {
	data      []byte
	chunkSize int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.chunkSize
	if n > len(r.data) {
		n = len(r.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func testMessages(t *testing.T) []Message {
	t.Helper()
	return []Message{
		NewMessage(TypeChat, map[string]any{"message": "hello"}, "p1"),
		NewMessage(TypePlayerAction, map[string]any{"unit": "glaive", "x": 3.0, "y": 7.0}, "p1"),
		NewMessage(TypeTurnComplete, map[string]any{"turn": 12.0}, "p2"),
		NewMessage(TypeGameState, map[string]any{"snapshot": "b64...", "checksum": "abc123"}, "p1"),
	}
}

func encodeAll(t *testing.T, msgs []Message) []byte {
	t.Helper()
	var stream bytes.Buffer
	for _, m := range msgs {
		frame, err := Encode(m)
		if err != nil {
			t.Fatalf("Encode() returned an unexpected error: %v", err)
		}
		stream.Write(frame)
	}
	return stream.Bytes()
}

// Any ordered sequence of messages, however arbitrarily split across reads,
// must be reconstructed exactly: no duplication, loss or merging.
func TestDecoder_RoundTrip(t *testing.T) {
	msgs := testMessages(t)
	stream := encodeAll(t, msgs)

	for _, chunkSize := range []int{1, 2, 3, 7, 16, 64, len(stream)} {
		decoder := NewDecoder(&chunkedReader{data: append([]byte(nil), stream...), chunkSize: chunkSize})

		var got []Message
		for {
			m, err := decoder.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				t.Fatalf("Next() with chunk size %d returned an unexpected error: %v", chunkSize, err)
			}
			got = append(got, m)
		}

		if diff := cmp.Diff(msgs, got); diff != "" {
			t.Errorf("round trip with chunk size %d did not match; diff:\n%s", chunkSize, diff)
		}
	}
}

// A message split across two reads must not be parsed until its delimiter
// arrives.
func TestDecoder_PartialRead(t *testing.T) {
	frame, err := Encode(NewMessage(TypePing, nil, "p1"))
	if err != nil {
		t.Fatalf("Encode() returned an unexpected error: %v", err)
	}

	r, w := io.Pipe()
	decoder := NewDecoder(r)

	results := make(chan Message, 1)
	go func() {
		m, err := decoder.Next()
		if err != nil {
			t.Errorf("Next() returned an unexpected error: %v", err)
		}
		results <- m
	}()

	half := len(frame) / 2
	if _, err := w.Write(frame[:half]); err != nil {
		t.Fatalf("error writing first half: %v", err)
	}

	select {
	case m := <-results:
		t.Fatalf("decoder produced %v before the delimiter arrived", m)
	default:
	}

	if _, err := w.Write(frame[half:]); err != nil {
		t.Fatalf("error writing second half: %v", err)
	}

	m := <-results
	if m.Type != TypePing {
		t.Errorf("expected a ping message, got %s", m.Type)
	}
}

func TestDecoder_MalformedFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{name: "invalid json", frame: `{"type": "chat"`},
		{name: "not an object", frame: `"chat"`},
		{name: "missing type", frame: `{"data": {}}`},
		{name: "missing data", frame: `{"type": "chat"}`},
		{name: "unknown type", frame: `{"type": "teleport", "data": {}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			good, err := Encode(NewMessage(TypeChat, map[string]any{"message": "still here"}, "p1"))
			if err != nil {
				t.Fatalf("Encode() returned an unexpected error: %v", err)
			}

			stream := append([]byte(tt.frame+"\n"), good...)
			decoder := NewDecoder(bytes.NewReader(stream))

			_, err = decoder.Next()
			var malformed *MalformedFrameError
			if !errors.As(err, &malformed) {
				t.Fatalf("expected a MalformedFrameError, got %v", err)
			}

			// The session continues: the next frame decodes normally.
			m, err := decoder.Next()
			if err != nil {
				t.Fatalf("Next() after a malformed frame returned an error: %v", err)
			}
			if m.Type != TypeChat {
				t.Errorf("expected the chat message to survive, got %s", m.Type)
			}
		})
	}
}

func TestDecoder_PeerClose(t *testing.T) {
	decoder := NewDecoder(bytes.NewReader(nil))
	if _, err := decoder.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF on a closed stream, got %v", err)
	}
}

func TestEncode_UnserializablePayload(t *testing.T) {
	_, err := Encode(NewMessage(TypeChat, map[string]any{"bad": make(chan int)}, "p1"))
	if err == nil {
		t.Fatal("expected Encode() to reject an unserializable payload")
	}
}

func TestEncode_RejectsEmbeddedDelimiter(t *testing.T) {
	// Standard encoders escape newlines inside strings, so an embedded
	// delimiter should be impossible to produce through the public API.
	frame, err := Encode(NewMessage(TypeChat, map[string]any{"message": "line one\nline two"}, "p1"))
	if err != nil {
		t.Fatalf("Encode() returned an unexpected error: %v", err)
	}
	if bytes.Count(frame, []byte{Delimiter}) != 1 {
		t.Errorf("expected exactly one delimiter in the frame, got %d", bytes.Count(frame, []byte{Delimiter}))
	}
}

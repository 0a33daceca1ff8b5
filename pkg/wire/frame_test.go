package wire

import (
	"bytes"
	"io"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	sizes := []int{0, 125, 126, 65535, 65536}

	for _, size := range sizes {
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i % 251)
		}

		t.Run("unmasked", func(t *testing.T) {
			encoded := Encode(OpText, payload)

			frame, err := ReadFrame(bytes.NewReader(encoded))
			if err != nil {
				t.Fatalf("ReadFrame(size=%d) error = %v", size, err)
			}
			if frame.Op != OpText {
				t.Errorf("opcode = %#x, want %#x", frame.Op, OpText)
			}
			if !frame.Fin {
				t.Error("Fin = false, want true")
			}
			if !bytes.Equal(frame.Payload, payload) {
				t.Errorf("payload mismatch at size %d", size)
			}
		})

		t.Run("masked", func(t *testing.T) {
			key := [4]byte{0xA7, 0x13, 0x5E, 0xC2}
			encoded := EncodeMasked(OpText, payload, key)

			frame, err := ReadFrame(bytes.NewReader(encoded))
			if err != nil {
				t.Fatalf("ReadFrame(masked, size=%d) error = %v", size, err)
			}
			if !bytes.Equal(frame.Payload, payload) {
				t.Errorf("masked payload mismatch at size %d", size)
			}
		})
	}
}

func TestFrameLengthEncoding(t *testing.T) {
	tests := []struct {
		size       int
		headerLen  int
		lengthByte byte
	}{
		{0, 2, 0},
		{125, 2, 125},
		{126, 4, 126},
		{65535, 4, 126},
		{65536, 10, 127},
	}

	for _, tc := range tests {
		encoded := Encode(OpText, make([]byte, tc.size))
		if got := len(encoded) - tc.size; got != tc.headerLen {
			t.Errorf("size %d: header length = %d, want %d", tc.size, got, tc.headerLen)
		}
		if got := encoded[1] & 0x7F; got != tc.lengthByte {
			t.Errorf("size %d: length byte = %d, want %d", tc.size, got, tc.lengthByte)
		}
		if encoded[1]&0x80 != 0 {
			t.Errorf("size %d: server frame has mask bit set", tc.size)
		}
	}
}

func TestFrameMaskingVector(t *testing.T) {
	// XOR with the key itself: zero payload unmasks to the key bytes.
	raw := []byte{
		0x80 | OpText, // FIN + text
		0x80 | 4,      // masked, length 4
		0x01, 0x02, 0x03, 0x04, // mask key
		0x00, 0x00, 0x00, 0x00, // masked payload
	}

	frame, err := ReadFrame(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	want := []byte{0x01, 0x02, 0x03, 0x04}
	if !bytes.Equal(frame.Payload, want) {
		t.Errorf("payload = %v, want %v", frame.Payload, want)
	}
}

func TestFrameCloseOpcode(t *testing.T) {
	frame, err := ReadFrame(bytes.NewReader(Encode(OpClose, nil)))
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if frame.Op != OpClose {
		t.Errorf("opcode = %#x, want %#x", frame.Op, OpClose)
	}
}

func TestFrameTruncated(t *testing.T) {
	encoded := Encode(OpText, []byte("hello world"))

	for _, cut := range []int{1, 3, len(encoded) - 1} {
		if _, err := ReadFrame(bytes.NewReader(encoded[:cut])); err == nil {
			t.Errorf("ReadFrame(truncated at %d) expected error", cut)
		}
	}
}

func TestFrameTooLarge(t *testing.T) {
	header := []byte{
		0x80 | OpText,
		127,
		0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	}
	if _, err := ReadFrame(bytes.NewReader(header)); err != ErrFrameTooLarge {
		t.Errorf("ReadFrame() error = %v, want ErrFrameTooLarge", err)
	}
}

func TestFramePartialReads(t *testing.T) {
	payload := make([]byte, 300)
	for i := range payload {
		payload[i] = byte(i)
	}
	encoded := Encode(OpText, payload)

	// Deliver one byte at a time; ReadFrame must loop until satisfied.
	frame, err := ReadFrame(iotest{r: bytes.NewReader(encoded)})
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if !bytes.Equal(frame.Payload, payload) {
		t.Error("payload mismatch over byte-at-a-time reader")
	}
}

// iotest yields at most one byte per Read call.
type iotest struct{ r io.Reader }

func (o iotest) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return o.r.Read(p)
}

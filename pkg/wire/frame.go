package wire

import (
	"encoding/binary"
	"errors"
	"io"
)

// WebSocket opcodes per RFC 6455 §5.2.
const (
	OpContinuation byte = 0x0
	OpText         byte = 0x1
	OpBinary       byte = 0x2
	OpClose        byte = 0x8
	OpPing         byte = 0x9
	OpPong         byte = 0xA
)

const (
	finBit  = 0x80
	maskBit = 0x80

	// MaxFramePayload is the largest payload a peer may send in a single
	// frame before the connection is torn down. 16 MiB is far beyond any
	// legitimate scene message and keeps a hostile peer from forcing a
	// giant allocation.
	MaxFramePayload = 16 << 20
)

// Frame errors.
var (
	ErrFrameTooLarge = errors.New("wire: frame payload too large")
	ErrMaskedServer  = errors.New("wire: received masked frame from server")
)

// Frame is a single decoded WebSocket frame.
type Frame struct {
	Op      byte
	Payload []byte
	Fin     bool
}

// Encode encodes a server-to-client frame: FIN set, unmasked.
//
// Wire format (RFC 6455 §5.2):
//
//	byte 0: FIN(1) RSV(3) opcode(4)
//	byte 1: MASK(1) length(7)
//	        length 126 -> next 2 bytes big-endian extended length
//	        length 127 -> next 8 bytes big-endian extended length
func Encode(op byte, payload []byte) []byte {
	n := len(payload)

	var header []byte
	switch {
	case n <= 125:
		header = []byte{finBit | op, byte(n)}
	case n <= 0xFFFF:
		header = make([]byte, 4)
		header[0] = finBit | op
		header[1] = 126
		binary.BigEndian.PutUint16(header[2:], uint16(n))
	default:
		header = make([]byte, 10)
		header[0] = finBit | op
		header[1] = 127
		binary.BigEndian.PutUint64(header[2:], uint64(n))
	}

	buf := make([]byte, 0, len(header)+n)
	buf = append(buf, header...)
	buf = append(buf, payload...)
	return buf
}

// EncodeMasked encodes a client-to-server frame masked with key.
// Servers never send masked frames; this is the client half of the codec,
// used by embedded clients and by interop tests.
func EncodeMasked(op byte, payload []byte, key [4]byte) []byte {
	n := len(payload)

	var header []byte
	switch {
	case n <= 125:
		header = []byte{finBit | op, maskBit | byte(n)}
	case n <= 0xFFFF:
		header = make([]byte, 4)
		header[0] = finBit | op
		header[1] = maskBit | 126
		binary.BigEndian.PutUint16(header[2:], uint16(n))
	default:
		header = make([]byte, 10)
		header[0] = finBit | op
		header[1] = maskBit | 127
		binary.BigEndian.PutUint64(header[2:], uint64(n))
	}

	buf := make([]byte, 0, len(header)+4+n)
	buf = append(buf, header...)
	buf = append(buf, key[:]...)
	for i, b := range payload {
		buf = append(buf, b^key[i%4])
	}
	return buf
}

// ReadFrame reads one complete frame from r, unmasking the payload if the
// mask bit is set. Short reads are retried via io.ReadFull until the declared
// payload length is satisfied or the stream fails.
func ReadFrame(r io.Reader) (Frame, error) {
	var head [2]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return Frame{}, err
	}

	fin := head[0]&finBit != 0
	op := head[0] & 0x0F
	masked := head[1]&maskBit != 0
	length := uint64(head[1] & 0x7F)

	switch length {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return Frame{}, err
		}
		length = uint64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return Frame{}, err
		}
		length = binary.BigEndian.Uint64(ext[:])
	}

	if length > MaxFramePayload {
		return Frame{}, ErrFrameTooLarge
	}

	var key [4]byte
	if masked {
		if _, err := io.ReadFull(r, key[:]); err != nil {
			return Frame{}, err
		}
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}

	if masked {
		for i := range payload {
			payload[i] ^= key[i%4]
		}
	}

	return Frame{Op: op, Payload: payload, Fin: fin}, nil
}

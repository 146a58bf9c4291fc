// Package protocol holds the wire codecs that share the radio byte stream:
// the length-prefixed API frame, the fixed 16-byte station packet and the
// tagged text schema.
package protocol

import (
	"encoding/binary"
	"errors"
)

// Frame layout: Start(1) | Length(2, big endian) | Type(1) | Payload | Checksum(1).
// Length counts the type byte plus the payload.
const (
	FrameStart              byte = 0x7E
	FrameTypeReceive        byte = 0x90
	FrameTypeTransmitStatus byte = 0x8B

	FrameHeaderSize = 3
	MaxFrameLength  = 1024

	// 64-bit source, 16-bit source, options.
	ReceiveAddressingSize = 11
)

var (
	ErrNotFrame    = errors.New("missing frame start delimiter")
	ErrShortFrame  = errors.New("frame truncated")
	ErrFrameLength = errors.New("invalid frame length")
	ErrChecksum    = errors.New("checksum mismatch")
)

// Frame is a decoded API frame.
type Frame struct {
	Type    byte
	Payload []byte
}

// DecodeFrame parses the frame that starts at data[0] and reports how many
// bytes it spans. ErrShortFrame means the frame may still complete once more
// bytes arrive; every other error means data[0] does not start a valid frame.
func DecodeFrame(data []byte) (Frame, int, error) {
	if len(data) == 0 || data[0] != FrameStart {
		return Frame{}, 0, ErrNotFrame
	}
	if len(data) < FrameHeaderSize {
		return Frame{}, 0, ErrShortFrame
	}

	length := int(binary.BigEndian.Uint16(data[1:FrameHeaderSize]))
	if length == 0 || length > MaxFrameLength {
		return Frame{}, 0, ErrFrameLength
	}

	total := FrameHeaderSize + length + 1
	if len(data) < total {
		return Frame{}, 0, ErrShortFrame
	}

	body := data[FrameHeaderSize : FrameHeaderSize+length]
	if frameChecksum(body) != data[total-1] {
		return Frame{}, 0, ErrChecksum
	}

	f := Frame{Type: body[0], Payload: make([]byte, length-1)}
	copy(f.Payload, body[1:])
	return f, total, nil
}

// EncodeFrame is the inverse of DecodeFrame.
func EncodeFrame(f Frame) []byte {
	length := len(f.Payload) + 1
	out := make([]byte, FrameHeaderSize+length+1)
	out[0] = FrameStart
	binary.BigEndian.PutUint16(out[1:FrameHeaderSize], uint16(length))
	out[FrameHeaderSize] = f.Type
	copy(out[FrameHeaderSize+1:], f.Payload)
	out[len(out)-1] = frameChecksum(out[FrameHeaderSize : FrameHeaderSize+length])
	return out
}

// NewReceiveFrame wraps RF data in a receive-indicator frame.
func NewReceiveFrame(source64 uint64, source16 uint16, data []byte) Frame {
	payload := make([]byte, ReceiveAddressingSize+len(data))
	binary.BigEndian.PutUint64(payload[0:8], source64)
	binary.BigEndian.PutUint16(payload[8:10], source16)
	payload[10] = 0x01
	copy(payload[ReceiveAddressingSize:], data)
	return Frame{Type: FrameTypeReceive, Payload: payload}
}

// ReceivedData returns the RF data carried by a receive-indicator frame.
func (f Frame) ReceivedData() ([]byte, bool) {
	if f.Type != FrameTypeReceive || len(f.Payload) <= ReceiveAddressingSize {
		return nil, false
	}
	return f.Payload[ReceiveAddressingSize:], true
}

func frameChecksum(body []byte) byte {
	var sum byte
	for _, b := range body {
		sum += b
	}
	return 0xFF - sum
}

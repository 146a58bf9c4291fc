package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	StationPacketSize = 16
	stationSumSpan    = 14

	// A real packet rarely has more printable bytes than this in its first
	// eight bytes (id plus a small little-endian counter).
	maxPrintableInHeader = 4
	headerProbeSize      = 8
)

// StationPacket is the fixed binary report of a remote temperature station.
type StationPacket struct {
	StationID   uint8
	Sequence    uint32
	Temperature float32
	Battery     uint8
	Timestamp   uint32
}

// stationWire mirrors the little-endian layout on the wire.
type stationWire struct {
	StationID   uint8
	PacketNum   uint32
	Temperature float32
	Battery     uint8
	Timestamp   uint32
	Checksum    uint16
}

// IsStationID reports whether b is a known station identifier.
func IsStationID(b byte) bool {
	return b == 1 || b == 2
}

// StationChecksum is the additive 16-bit sum of the first 14 bytes.
func StationChecksum(data []byte) uint16 {
	var sum uint16
	for _, b := range data[:stationSumSpan] {
		sum += uint16(b)
	}
	return sum
}

// StationChecksumOK reports whether a 16-byte candidate carries a valid sum.
func StationChecksumOK(data []byte) bool {
	if len(data) < StationPacketSize {
		return false
	}
	return StationChecksum(data) == binary.LittleEndian.Uint16(data[stationSumSpan:StationPacketSize])
}

// LooksBinary applies the printable-density test to a station candidate.
func LooksBinary(data []byte) bool {
	n := headerProbeSize
	if len(data) < n {
		n = len(data)
	}
	return PrintableCount(data[:n]) <= maxPrintableInHeader
}

// PrintableCount counts printable ASCII bytes.
func PrintableCount(data []byte) int {
	count := 0
	for _, b := range data {
		if b >= 0x20 && b <= 0x7E {
			count++
		}
	}
	return count
}

// DecodeStation validates and decodes a 16-byte station packet.
func DecodeStation(data []byte) (StationPacket, error) {
	if len(data) != StationPacketSize {
		return StationPacket{}, fmt.Errorf("station packet size %d: %w", len(data), ErrShortFrame)
	}
	if !StationChecksumOK(data) {
		return StationPacket{}, ErrChecksum
	}

	var w stationWire
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &w); err != nil {
		return StationPacket{}, fmt.Errorf("decode station packet: %w", err)
	}
	if !IsStationID(w.StationID) {
		return StationPacket{}, fmt.Errorf("unknown station id %d", w.StationID)
	}

	return StationPacket{
		StationID:   w.StationID,
		Sequence:    w.PacketNum,
		Temperature: w.Temperature,
		Battery:     w.Battery,
		Timestamp:   w.Timestamp,
	}, nil
}

// EncodeStation produces the wire form of p, checksum included.
func EncodeStation(p StationPacket) []byte {
	var buf bytes.Buffer
	w := stationWire{
		StationID:   p.StationID,
		PacketNum:   p.Sequence,
		Temperature: p.Temperature,
		Battery:     p.Battery,
		Timestamp:   p.Timestamp,
	}
	_ = binary.Write(&buf, binary.LittleEndian, w)
	out := buf.Bytes()
	binary.LittleEndian.PutUint16(out[stationSumSpan:], StationChecksum(out))
	return out
}

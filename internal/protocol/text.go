package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	CarrierPressureTag = "SAHA:BASINC2:"
	StationTag         = "IOT:"
	CommandMarker      = '!'
)

var ErrUnknownSchema = errors.New("unrecognized text schema")

// TextKind identifies which tagged schema a text line carries.
type TextKind int

const (
	TextUnknown TextKind = iota
	TextCarrierPressure
	TextStationTemperature
)

func (k TextKind) String() string {
	switch k {
	case TextCarrierPressure:
		return "carrier_pressure"
	case TextStationTemperature:
		return "station_temperature"
	default:
		return "unknown"
	}
}

// TextReading is a parsed tagged text line.
type TextReading struct {
	Kind      TextKind
	StationID int
	Value     float64
}

// Clean drops non-printable bytes and surrounding whitespace.
func Clean(line []byte) string {
	var b strings.Builder
	b.Grow(len(line))
	for _, c := range line {
		if c >= 0x20 && c <= 0x7E {
			b.WriteByte(c)
		}
	}
	return strings.TrimSpace(b.String())
}

// CommandToken returns the trailing !...! token of line, markers included.
func CommandToken(line string) (string, bool) {
	if len(line) < 2 || line[len(line)-1] != CommandMarker {
		return "", false
	}
	start := strings.LastIndexByte(line[:len(line)-1], CommandMarker)
	if start < 0 {
		return "", false
	}
	return line[start:], true
}

// HasTag reports whether line carries one of the known tagged schemas.
func HasTag(line string) bool {
	return strings.Contains(line, CarrierPressureTag) || strings.Contains(line, StationTag)
}

// ParseText decodes a tagged text line. Leading noise before the tag is
// ignored so a line that follows a partially consumed burst still parses.
func ParseText(line string) (TextReading, error) {
	if i := strings.Index(line, CarrierPressureTag); i >= 0 {
		v, err := parseValue(line[i+len(CarrierPressureTag):])
		if err != nil {
			return TextReading{}, fmt.Errorf("carrier pressure: %w", err)
		}
		return TextReading{Kind: TextCarrierPressure, Value: v}, nil
	}

	if i := strings.Index(line, StationTag); i >= 0 {
		rest := line[i+len(StationTag):]
		idPart, valPart, ok := strings.Cut(rest, ":")
		if !ok {
			return TextReading{}, fmt.Errorf("station reading %q: missing value", rest)
		}
		id, err := strconv.Atoi(strings.TrimSpace(idPart))
		if err != nil || id < 0 || id > 255 || !IsStationID(byte(id)) {
			return TextReading{}, fmt.Errorf("station reading %q: bad station id", rest)
		}
		v, err := parseValue(valPart)
		if err != nil {
			return TextReading{}, fmt.Errorf("station %d temperature: %w", id, err)
		}
		return TextReading{Kind: TextStationTemperature, StationID: id, Value: v}, nil
	}

	return TextReading{}, ErrUnknownSchema
}

func parseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ", \t"); i >= 0 {
		s = s[:i]
	}
	return strconv.ParseFloat(s, 64)
}

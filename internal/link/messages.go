package link

import "fmt"

// Message is one classified unit read from the radio stream. The concrete
// types below are the complete set.
type Message interface {
	Kind() string
}

// TextLine is a complete line carrying a recognized tag.
type TextLine struct {
	Text string
}

// CommandToken is a !...! token, markers included.
type CommandToken struct {
	Token string
}

// BinaryFrame is a checksum-validated API frame.
type BinaryFrame struct {
	FrameType byte
	Payload   []byte
}

// StationReading is a checksum-validated station packet.
type StationReading struct {
	StationID   uint8
	Temperature float32
	Sequence    uint32
	Battery     uint8
	Timestamp   uint32
}

// Unrecognized is a complete line that matched no schema.
type Unrecognized struct {
	Raw string
}

func (TextLine) Kind() string       { return "text" }
func (CommandToken) Kind() string   { return "command" }
func (BinaryFrame) Kind() string    { return "frame" }
func (StationReading) Kind() string { return "station" }
func (Unrecognized) Kind() string   { return "unrecognized" }

func (f BinaryFrame) String() string {
	return fmt.Sprintf("frame type=0x%02X len=%d", f.FrameType, len(f.Payload))
}

package link

import (
	"bytes"
	"errors"
	"log/slog"

	"flightlink/internal/protocol"
)

const (
	DefaultTextBufferCap   = 4 * 1024
	DefaultBinaryBufferCap = 8 * 1024
)

// ReceiverStats counts what the receiver has seen since it was created.
type ReceiverStats struct {
	Frames         int
	Stations       int
	Lines          int
	ChecksumErrors int
	Ambiguous      int
	Overflows      int
}

// Receiver demultiplexes the radio byte stream into messages.
//
// Every byte is appended to two windows over the same stream: a text window
// split on newlines and a binary window scanned for frames and station
// packets. Both windows track the absolute stream offset of their first byte
// so that bytes claimed by a binary message can be blanked out of the text
// window before it is split. A Receiver is not safe for concurrent use; the
// receive loop owns it.
type Receiver struct {
	log *slog.Logger

	text     []byte
	textBase int64
	textCap  int

	bin     []byte
	binBase int64
	binCap  int

	// Absolute offset of an incomplete binary candidate, or -1. Text past
	// this point is held back until the candidate resolves or stops looking
	// like binary.
	pending int64

	stats ReceiverStats
}

type ReceiverOption func(*Receiver)

func WithBufferCaps(text, binary int) ReceiverOption {
	return func(r *Receiver) {
		if text > 0 {
			r.textCap = text
		}
		if binary > 0 {
			r.binCap = binary
		}
	}
}

func NewReceiver(log *slog.Logger, opts ...ReceiverOption) *Receiver {
	if log == nil {
		log = slog.Default()
	}
	r := &Receiver{
		log:     log,
		textCap: DefaultTextBufferCap,
		binCap:  DefaultBinaryBufferCap,
		pending: -1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Stats returns a copy of the receiver counters.
func (r *Receiver) Stats() ReceiverStats { return r.stats }

// Buffered reports the current size of the text and binary windows.
func (r *Receiver) Buffered() (text, binary int) { return len(r.text), len(r.bin) }

// Feed appends newly read bytes and returns every message they complete.
func (r *Receiver) Feed(data []byte) []Message {
	if len(data) == 0 {
		return nil
	}

	r.text = append(r.text, data...)
	r.bin = append(r.bin, data...)
	r.text, r.textBase = r.truncate("text", r.text, r.textBase, r.textCap)
	r.bin, r.binBase = r.truncate("binary", r.bin, r.binBase, r.binCap)

	msgs := r.scanBinary(nil)
	return r.scanText(msgs)
}

func (r *Receiver) truncate(name string, buf []byte, base int64, limit int) ([]byte, int64) {
	if len(buf) <= limit {
		return buf, base
	}
	drop := len(buf) - limit/2
	r.stats.Overflows++
	r.log.Warn("receive buffer overflow, keeping most recent half",
		"buffer", name, "dropped", drop, "cap", limit)
	kept := make([]byte, len(buf)-drop, limit)
	copy(kept, buf[drop:])
	return kept, base + int64(drop)
}

func (r *Receiver) scanBinary(msgs []Message) []Message {
	r.pending = -1
	i := 0
scan:
	for i < len(r.bin) {
		switch b := r.bin[i]; {
		case b == protocol.FrameStart:
			frame, n, err := protocol.DecodeFrame(r.bin[i:])
			switch {
			case err == nil:
				r.stats.Frames++
				r.claim(r.binBase+int64(i), n)
				msgs = append(msgs, BinaryFrame{FrameType: frame.Type, Payload: frame.Payload})
				i += n
			case errors.Is(err, protocol.ErrShortFrame):
				if textFollows(r.bin[i:], protocol.FrameHeaderSize) {
					r.log.Debug("discarding frame candidate followed by text")
					i++
					continue
				}
				r.pending = r.binBase + int64(i)
				break scan
			default:
				if errors.Is(err, protocol.ErrChecksum) {
					r.stats.ChecksumErrors++
					r.log.Debug("discarding frame candidate", "err", err)
				}
				i++
			}

		case protocol.IsStationID(b):
			if len(r.bin)-i < protocol.StationPacketSize {
				partial := r.bin[i:]
				if !protocol.LooksBinary(partial) || textFollows(partial, 1) {
					i++
					continue
				}
				r.pending = r.binBase + int64(i)
				break scan
			}
			cand := r.bin[i : i+protocol.StationPacketSize]
			if !protocol.StationChecksumOK(cand) {
				i++
				continue
			}
			if !protocol.LooksBinary(cand) {
				r.stats.Ambiguous++
				r.log.Info("discarding ambiguous station candidate", "bytes", cand)
				i++
				continue
			}
			pkt, err := protocol.DecodeStation(cand)
			if err != nil {
				r.log.Debug("discarding station candidate", "err", err)
				i++
				continue
			}
			r.stats.Stations++
			r.claim(r.binBase+int64(i), protocol.StationPacketSize)
			msgs = append(msgs, StationReading{
				StationID:   pkt.StationID,
				Temperature: pkt.Temperature,
				Sequence:    pkt.Sequence,
				Battery:     pkt.Battery,
				Timestamp:   pkt.Timestamp,
			})
			i += protocol.StationPacketSize

		default:
			i++
		}
	}

	if i > 0 {
		r.bin = append(r.bin[:0], r.bin[i:]...)
		r.binBase += int64(i)
	}
	return msgs
}

// claim blanks the absolute span [start, start+n) out of the text window.
func (r *Receiver) claim(start int64, n int) {
	from := start - r.textBase
	to := from + int64(n)
	if from < 0 {
		from = 0
	}
	if to > int64(len(r.text)) {
		to = int64(len(r.text))
	}
	for j := from; j < to; j++ {
		r.text[j] = 0
	}
}

func (r *Receiver) scanText(msgs []Message) []Message {
	for {
		idx := bytes.IndexByte(r.text[:r.textLimit()], '\n')
		if idx < 0 {
			break
		}
		line := protocol.Clean(r.text[:idx])
		r.text = r.text[idx+1:]
		r.textBase += int64(idx + 1)
		if line == "" {
			continue
		}
		r.stats.Lines++
		msgs = append(msgs, classifyLine(line))
	}

	// Leading blanked bytes can never become text again.
	lead := 0
	for lead < len(r.text) && r.text[lead] == 0 {
		lead++
	}
	if lead > 0 {
		r.text = r.text[lead:]
		r.textBase += int64(lead)
	}
	if len(r.text) == 0 {
		r.text = nil
	}
	return msgs
}

// textLimit is how much of the text window may be split into lines.
func (r *Receiver) textLimit() int {
	if r.pending < 0 {
		return len(r.text)
	}
	limit := r.pending - r.textBase
	if limit < 0 {
		return 0
	}
	if limit > int64(len(r.text)) {
		return len(r.text)
	}
	return int(limit)
}

// textFollows reports whether the bytes after a candidate's header already
// read as a text line: a printable run of at least two bytes ending in a
// newline. Real frames start their body with a non-printable type byte and
// real station packets with a small counter, so neither matches.
func textFollows(cand []byte, header int) bool {
	if len(cand) <= header {
		return false
	}
	rest := cand[header:]
	j := bytes.IndexByte(rest, '\n')
	if j > 0 && rest[j-1] == '\r' {
		j--
	}
	return j >= 2 && protocol.PrintableCount(rest[:j]) == j
}

func classifyLine(line string) Message {
	if tok, ok := protocol.CommandToken(line); ok {
		return CommandToken{Token: tok}
	}
	if protocol.HasTag(line) {
		return TextLine{Text: line}
	}
	return Unrecognized{Raw: line}
}

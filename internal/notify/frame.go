package notify

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// maxFrameLine bounds a single line on the wire.
const maxFrameLine = 1024 * 1024

// Heartbeat is a comment frame. Readers skip it.
var Heartbeat = []byte(": ping\n\n")

// ErrUnknownKind is returned by DecodeEvent for event names outside the
// known set.
var ErrUnknownKind = errors.New("unknown event kind")

// Frame is one unit of the stream: an optional event name and a data
// body, terminated on the wire by a blank line.
type Frame struct {
	Event string
	Data  string
}

// Bytes renders the frame in its wire form. A data body containing
// newlines is split across several data lines.
func (f Frame) Bytes() []byte {
	var b bytes.Buffer
	if f.Event != "" {
		b.WriteString("event: ")
		b.WriteString(f.Event)
		b.WriteByte('\n')
	}
	for _, line := range strings.Split(f.Data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.Bytes()
}

// EncodeEvent turns an event into its frame.
func EncodeEvent(ev Event) (Frame, error) {
	name, err := ev.Kind().MarshalText()
	if err != nil {
		return Frame{}, err
	}
	data, err := json.Marshal(ev.Payload())
	if err != nil {
		return Frame{}, fmt.Errorf("encoding payload: %w", err)
	}
	return Frame{Event: string(name), Data: string(data)}, nil
}

// DecodeEvent is the inverse of EncodeEvent.
func DecodeEvent(f Frame) (Event, error) {
	kind, ok := ParseKind(f.Event)
	if !ok {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownKind, f.Event)
	}
	var p Payload
	if err := json.Unmarshal([]byte(f.Data), &p); err != nil {
		return Event{}, fmt.Errorf("decoding %s payload: %w", f.Event, err)
	}
	return EventFromPayload(kind, p), nil
}

type handshake struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
}

// HandshakeFrame is the first frame a stream endpoint writes. It has no
// event name, so clients see it as a plain message.
func HandshakeFrame(connectionID string) Frame {
	data, _ := json.Marshal(handshake{Type: "connected", ConnectionID: connectionID})
	return Frame{Data: string(data)}
}

// ParseHandshake reports the connection ID if f is a handshake frame.
func ParseHandshake(f Frame) (string, bool) {
	if f.Event != "" && f.Event != "message" {
		return "", false
	}
	var h handshake
	if err := json.Unmarshal([]byte(f.Data), &h); err != nil || h.Type != "connected" {
		return "", false
	}
	return h.ConnectionID, true
}

// MalformedFrameError reports a frame that could not be parsed. The
// reader has already consumed it, so callers may keep reading.
type MalformedFrameError struct {
	Reason string
	Line   string
}

func (e *MalformedFrameError) Error() string {
	if e.Line == "" {
		return "malformed frame: " + e.Reason
	}
	return fmt.Sprintf("malformed frame: %s: %q", e.Reason, e.Line)
}

// FrameReader parses frames from a line-oriented stream.
type FrameReader struct {
	sc *bufio.Scanner
}

func NewFrameReader(r io.Reader) *FrameReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrameLine)
	return &FrameReader{sc: sc}
}

// ReadFrame returns the next complete frame. Comment-only blocks are
// skipped. A *MalformedFrameError is recoverable; any other error means
// the stream is finished (io.EOF on a clean end).
func (fr *FrameReader) ReadFrame() (Frame, error) {
	var (
		f       Frame
		data    []string
		started bool
		hasData bool
		bad     *MalformedFrameError
	)

	for fr.sc.Scan() {
		line := strings.TrimSuffix(fr.sc.Text(), "\r")

		if line == "" {
			if !started {
				continue
			}
			if bad != nil {
				return Frame{}, bad
			}
			if !hasData {
				if f.Event == "" {
					// id/retry only
					started = false
					continue
				}
				return Frame{}, &MalformedFrameError{Reason: "event without data", Line: "event: " + f.Event}
			}
			f.Data = strings.Join(data, "\n")
			return f, nil
		}

		if strings.HasPrefix(line, ":") {
			continue
		}
		started = true

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			f.Event = value
		case "data":
			data = append(data, value)
			hasData = true
		case "id", "retry":
		default:
			if bad == nil {
				bad = &MalformedFrameError{Reason: "unknown field", Line: line}
			}
		}
	}

	if err := fr.sc.Err(); err != nil {
		return Frame{}, fmt.Errorf("reading stream: %w", err)
	}
	if started {
		return Frame{}, io.ErrUnexpectedEOF
	}
	return Frame{}, io.EOF
}

package protocol

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Message is a single decoded device reply.
type Message interface{ message() }

// ConfigMessage carries a parsed "#C2-F:" configuration line.
type ConfigMessage struct{ Config Config }

// ModelMessage carries a parsed "#C2-M:" model identification line.
type ModelMessage struct{ Info DeviceInfo }

// SweepMessage carries one decoded sweep, amplitudes in dBm ordered from the
// window start frequency upwards.
type SweepMessage struct{ DBm []float64 }

// TextMessage carries a reply line the scanner does not understand. Callers
// normally log and skip these.
type TextMessage struct{ Line string }

func (ConfigMessage) message() {}
func (ModelMessage) message()  {}
func (SweepMessage) message()  {}
func (TextMessage) message()   {}

const (
	prefixConfig = "#C2-F:"
	prefixModel  = "#C2-M:"
)

// Scanner decodes the device reply stream. Text replies are CRLF-terminated,
// but sweep payloads are length-delimited binary whose amplitude bytes may
// themselves contain CR or LF, so the stream cannot be split on line
// boundaries alone.
type Scanner struct {
	r *bufio.Reader
}

// NewScanner wraps the device read side.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReaderSize(r, 4096)}
}

// Next blocks until the next decodable message or a read error. Malformed
// text lines are returned as TextMessage rather than errors so a session can
// ride out line noise.
func (s *Scanner) Next() (Message, error) {
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			return nil, err
		}

		switch b {
		case '$':
			msg, err := s.readSweep()
			if err != nil {
				return nil, err
			}
			if msg != nil {
				return msg, nil
			}
			// Unknown '$' marker: resynchronize on the next byte.
		case '\r', '\n':
			// Stray line terminator between messages.
		default:
			line, err := s.readLine(b)
			if err != nil {
				return nil, err
			}
			return parseTextLine(line), nil
		}
	}
}

// readSweep decodes a "$S"/"$s" payload. Returns (nil, nil) when the byte
// after '$' is not a sweep marker.
func (s *Scanner) readSweep() (Message, error) {
	marker, err := s.r.ReadByte()
	if err != nil {
		return nil, err
	}

	var points int
	switch marker {
	case 'S':
		count, err := s.r.ReadByte()
		if err != nil {
			return nil, err
		}
		points = int(count)
	case 's':
		// Extended sweeps encode the point count in units of 16.
		count, err := s.r.ReadByte()
		if err != nil {
			return nil, err
		}
		points = (int(count) + 1) * 16
	default:
		return nil, nil
	}

	raw := make([]byte, points)
	if _, err := io.ReadFull(s.r, raw); err != nil {
		return nil, fmt.Errorf("protocol: truncated sweep payload: %w", err)
	}

	dbm := make([]float64, points)
	for i, b := range raw {
		dbm[i] = -float64(b) / 2
	}
	return SweepMessage{DBm: dbm}, nil
}

// readLine consumes a text reply up to its line terminator. first is the
// byte already read by Next.
func (s *Scanner) readLine(first byte) (string, error) {
	var sb strings.Builder
	sb.WriteByte(first)
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			if err == io.EOF && sb.Len() > 0 {
				return sb.String(), nil
			}
			return "", err
		}
		if b == '\n' {
			return strings.TrimSuffix(sb.String(), "\r"), nil
		}
		sb.WriteByte(b)
	}
}

func parseTextLine(line string) Message {
	switch {
	case strings.HasPrefix(line, prefixConfig):
		cfg, err := parseConfig(line[len(prefixConfig):])
		if err != nil {
			return TextMessage{Line: line}
		}
		return ConfigMessage{Config: cfg}
	case strings.HasPrefix(line, prefixModel):
		info, err := parseModel(line[len(prefixModel):])
		if err != nil {
			return TextMessage{Line: line}
		}
		return ModelMessage{Info: info}
	default:
		return TextMessage{Line: line}
	}
}

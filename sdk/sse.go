package friday

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// sseReader frames a response body into (event, data) pairs per the SSE
// grammar: fields accumulate until a blank line, comment lines are dropped,
// and multiple data fields join with newlines.
type sseReader struct {
	lines *bufio.Reader
	body  io.Closer

	event string
	data  bytes.Buffer
}

func newSSEReader(body io.ReadCloser) *sseReader {
	return &sseReader{lines: bufio.NewReader(body), body: body}
}

// Next returns the next complete frame. A truncated frame at EOF is still
// delivered; after that (or on an empty tail) it returns io.EOF.
func (s *sseReader) Next() (string, []byte, error) {
	for {
		line, err := s.lines.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", nil, err
		}
		atEOF := err == io.EOF

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if name, payload, complete := s.takeFrame(); complete {
				return name, payload, nil
			}
			if atEOF {
				return "", nil, io.EOF
			}
			continue
		}

		s.absorb(line)
		if atEOF {
			if name, payload, complete := s.takeFrame(); complete {
				return name, payload, nil
			}
			return "", nil, io.EOF
		}
	}
}

// absorb folds one field line into the pending frame. Comments and fields
// outside the event/data vocabulary are ignored.
func (s *sseReader) absorb(line string) {
	if strings.HasPrefix(line, ":") {
		return
	}
	field, rest, _ := strings.Cut(line, ":")
	value := strings.TrimSpace(rest)
	switch field {
	case "event":
		s.event = value
	case "data":
		if s.data.Len() > 0 {
			s.data.WriteByte('\n')
		}
		s.data.WriteString(value)
	}
}

// takeFrame hands out the pending frame and resets the accumulator. A frame
// with no data field (a keepalive gap) is not complete.
func (s *sseReader) takeFrame() (string, []byte, bool) {
	if s.data.Len() == 0 {
		s.event = ""
		return "", nil, false
	}
	name := s.event
	payload := append([]byte(nil), s.data.Bytes()...)
	s.event = ""
	s.data.Reset()
	return name, payload, true
}

func (s *sseReader) Close() error {
	if s.body != nil {
		return s.body.Close()
	}
	return nil
}

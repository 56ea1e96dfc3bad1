// ABOUTME: Server-Sent Events framing: a streaming decoder for clients and an encoder for servers.
// ABOUTME: Follows the W3C EventSource line format with CR, LF and CRLF line endings.
package sse

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// DefaultEventName is the name given to events without an "event:" field.
const DefaultEventName = "message"

// maxLineSize bounds a single SSE line. Generation snapshots are full
// exchange documents, so this is far larger than bufio's default.
const maxLineSize = 4 << 20

// Event is a single dispatched Server-Sent Event.
type Event struct {
	Name  string
	Data  string
	ID    string
	Retry int // -1 when the stream did not set one
}

// Decoder reads events from a live stream.
type Decoder struct {
	scanner *bufio.Scanner
	done    bool

	name    string
	data    []string
	hasData bool
	id      string
	retry   int
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	s.Split(scanLines)
	return &Decoder{scanner: s, retry: -1}
}

// Next blocks until the next event is dispatched. It returns io.EOF once the
// stream ends; a trailing event without its blank line is still delivered.
func (d *Decoder) Next() (Event, error) {
	if d.done {
		return Event{}, io.EOF
	}
	for d.scanner.Scan() {
		line := d.scanner.Text()
		switch {
		case line == "":
			if d.hasData {
				return d.dispatch(), nil
			}
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		default:
			d.field(splitField(line))
		}
	}
	if err := d.scanner.Err(); err != nil {
		return Event{}, err
	}
	d.done = true
	if d.hasData {
		return d.dispatch(), nil
	}
	return Event{}, io.EOF
}

func (d *Decoder) field(name, value string) {
	switch name {
	case "event":
		d.name = value
	case "data":
		d.data = append(d.data, value)
		d.hasData = true
	case "id":
		d.id = value
	case "retry":
		if n, err := strconv.Atoi(value); err == nil {
			d.retry = n
		}
	}
}

func (d *Decoder) dispatch() Event {
	name := d.name
	if name == "" {
		name = DefaultEventName
	}
	ev := Event{Name: name, Data: strings.Join(d.data, "\n"), ID: d.id, Retry: d.retry}
	d.name, d.data, d.hasData, d.id, d.retry = "", nil, false, "", -1
	return ev
}

// splitField splits "field: value", dropping one leading space from the value.
func splitField(line string) (string, string) {
	name, value, found := strings.Cut(line, ":")
	if !found {
		return line, ""
	}
	return name, strings.TrimPrefix(value, " ")
}

// scanLines is a bufio.SplitFunc treating CR, LF and CRLF as terminators.
func scanLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if atEOF {
			return i + 1, data[:i], nil
		}
		// A lone CR at the buffer edge may be the first half of CRLF.
		return 0, nil, nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// Encode writes ev to w in wire format, splitting multi-line data.
func Encode(w io.Writer, ev Event) error {
	var b strings.Builder
	if ev.Name != "" && ev.Name != DefaultEventName {
		fmt.Fprintf(&b, "event: %s\n", ev.Name)
	}
	if ev.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", ev.ID)
	}
	if ev.Retry >= 0 {
		fmt.Fprintf(&b, "retry: %d\n", ev.Retry)
	}
	for _, line := range strings.Split(ev.Data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// Comment writes a comment line, typically used as a keep-alive.
func Comment(w io.Writer, text string) error {
	_, err := fmt.Fprintf(w, ": %s\n\n", text)
	return err
}

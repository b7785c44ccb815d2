package streamclient

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/AnshulParate2004/ChunkSmith/internal/events"
)

// Decoder reads event envelopes off a server-sent events body. Only
// data lines are meaningful on this protocol; comments and other
// fields are skipped.
type Decoder struct {
	scanner *bufio.Scanner
}

func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Decoder{scanner: scanner}
}

// Next returns the next event. io.EOF signals a cleanly closed stream.
func (d *Decoder) Next() (events.Event, error) {
	for d.scanner.Scan() {
		line := strings.TrimSpace(d.scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}

		var ev events.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return events.Event{}, fmt.Errorf("malformed event: %w", err)
		}
		return ev, nil
	}
	if err := d.scanner.Err(); err != nil {
		return events.Event{}, err
	}
	return events.Event{}, io.EOF
}

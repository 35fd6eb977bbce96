package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
)

var dataPrefix = []byte("data:")

// Decoder incrementally turns raw stream bytes into Events. Network reads
// may split or fuse lines arbitrarily; the decoder buffers a trailing
// partial line (and any trailing partial UTF-8 sequence with it) until the
// rest arrives. Lines without the data prefix are comments or heartbeats
// and are skipped; payloads that fail to parse are dropped so a single
// malformed event never aborts the stream.
type Decoder struct {
	buf []byte
}

// NewDecoder creates an empty decoder
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed consumes a chunk of bytes and returns all events completed by it
func (d *Decoder) Feed(p []byte) []Event {
	d.buf = append(d.buf, p...)
	var events []Event
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := d.buf[:i]
		d.buf = d.buf[i+1:]
		if ev, ok := parseLine(line); ok {
			events = append(events, ev)
		}
	}
	return events
}

// Close flushes the decoder at end of stream: a remaining unterminated
// line gets one final parse attempt before being discarded.
func (d *Decoder) Close() []Event {
	if len(d.buf) == 0 {
		return nil
	}
	line := d.buf
	d.buf = nil
	if ev, ok := parseLine(line); ok {
		return []Event{ev}
	}
	return nil
}

func parseLine(line []byte) (Event, bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	line = bytes.TrimSpace(line)
	if !bytes.HasPrefix(line, dataPrefix) {
		return Event{}, false
	}
	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if len(payload) == 0 || bytes.Equal(payload, []byte("[DONE]")) {
		return Event{}, false
	}
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, false
	}
	return ev, true
}

// Decode reads r to completion, sending decoded events on the returned
// channel. The channel closes on EOF, read error or context cancellation;
// consumption is forward-only and cannot be restarted.
func Decode(ctx context.Context, r io.Reader) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		d := NewDecoder()
		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				for _, ev := range d.Feed(buf[:n]) {
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
			if err != nil {
				if err == io.EOF {
					for _, ev := range d.Close() {
						select {
						case out <- ev:
						case <-ctx.Done():
						}
					}
				}
				return
			}
		}
	}()
	return out
}

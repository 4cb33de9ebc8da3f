package nextdns

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// maxLineSize bounds a single event-stream line. Longer lines are read to
// the end and dropped along with the event they belong to.
const maxLineSize = 4 << 20

// errEventTooLarge is returned by Next for an event holding an oversized
// line. The reader stays usable and the event's id has been recorded.
var errEventTooLarge = errors.New("event exceeds line size limit")

// event is one dispatched server-sent event.
type event struct {
	ID   string
	Name string
	Data string
}

// eventReader decodes a text/event-stream body. The last seen id persists
// across events, as the event-stream format requires.
type eventReader struct {
	r      *bufio.Reader
	lastID string
}

func newEventReader(r io.Reader) *eventReader {
	return &eventReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next blocks until a full event has been read. It returns io.EOF when the
// stream ends, including when it ends in the middle of an event.
func (r *eventReader) Next() (event, error) {
	var (
		data      []string
		name      string
		hasData   bool
		oversized bool
	)

	for {
		line, tooLong, err := r.readLine()
		if err != nil {
			return event{}, err
		}
		if tooLong {
			oversized = true
			continue
		}

		if line == "" {
			if oversized {
				return event{ID: r.lastID}, errEventTooLarge
			}
			if !hasData {
				name = ""
				continue
			}
			return event{ID: r.lastID, Name: name, Data: strings.Join(data, "\n")}, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "data":
			data = append(data, value)
			hasData = true
		case "id":
			if !strings.ContainsRune(value, 0) {
				r.lastID = value
			}
		case "event":
			name = value
		}
	}
}

// readLine returns the next line without its terminator. A line longer than
// maxLineSize is consumed and reported with tooLong set instead of returned.
func (r *eventReader) readLine() (string, bool, error) {
	var (
		buf     []byte
		tooLong bool
	)
	for {
		chunk, err := r.r.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(chunk) > maxLineSize {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) && (len(buf) > 0 || tooLong) {
			break
		}
		if err != nil {
			return "", false, err
		}
		break
	}
	if tooLong {
		return "", true, nil
	}
	line := strings.TrimSuffix(string(buf), "\n")
	return strings.TrimSuffix(line, "\r"), false, nil
}

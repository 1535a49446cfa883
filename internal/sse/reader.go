package sse

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/pkg/errors"
)

const maxFrameSize = 8 << 20

// Reader turns an event-stream body into typed events. It is lazy, finite and can not
// be restarted: Next returns io.EOF once the body ends.
type Reader struct {
	sc  *bufio.Scanner
	err error
}

func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	return &Reader{sc: sc}
}

// Next returns the next data event. Keep-alive comments and unknown event names are
// skipped. A frame cut off by the end of the body is dropped.
func (r *Reader) Next() (Event, error) {
	if r.err != nil {
		return nil, r.err
	}

	var name string
	var data []string
	for r.sc.Scan() {
		line := r.sc.Text()
		switch {
		case line == "":
			if len(data) == 0 {
				name = ""
				continue
			}
			ev, ok, err := decode(name, strings.Join(data, "\n"))
			name, data = "", nil
			if err != nil {
				return nil, err
			}
			if ok {
				return ev, nil
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if err := r.sc.Err(); err != nil {
		r.err = errors.Wrap(err, "read event stream")
		return nil, r.err
	}
	r.err = io.EOF
	return nil, io.EOF
}

func decode(name, data string) (Event, bool, error) {
	var ev Event
	switch name {
	case EventProgress:
		var p Progress
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, false, errors.Wrapf(err, "decode %s event", name)
		}
		ev = p
	case EventResume:
		var c Checkpoint
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			return nil, false, errors.Wrapf(err, "decode %s event", name)
		}
		ev = c
	case EventComplete:
		var c Complete
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			return nil, false, errors.Wrapf(err, "decode %s event", name)
		}
		ev = c
	case EventError:
		var f Failure
		if err := json.Unmarshal([]byte(data), &f); err != nil {
			return nil, false, errors.Wrapf(err, "decode %s event", name)
		}
		ev = f
	default:
		return nil, false, nil
	}
	return ev, true, nil
}

package backend

import (
	"bufio"
	"bytes"
	"io"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/zjregee/convo/internal/models"
)

const (
	maxLineSize    = 1024 * 1024
	readBufferSize = 64 * 1024
)

// EventStream frames an NDJSON body into StreamEvents. Lines split across
// reads are reassembled; a line longer than maxLineSize is dropped and
// reported as unparseable.
type EventStream struct {
	body      io.ReadCloser
	reader    *bufio.Reader
	event     models.StreamEvent
	eof       bool
	err       error
	closeOnce sync.Once
}

func NewEventStream(body io.ReadCloser) *EventStream {
	return &EventStream{
		body:   body,
		reader: bufio.NewReaderSize(body, readBufferSize),
	}
}

// Next advances to the next non-blank line. It returns false at end of
// stream or on a read error.
func (s *EventStream) Next() bool {
	for !s.eof {
		line, oversize, err := s.readLine()
		if err != nil {
			s.eof = true
			if err != io.EOF {
				// The line in progress is incomplete.
				s.err = err
				break
			}
		}
		if oversize {
			s.event = models.StreamUnparseable{}
			return true
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		s.event = DecodeEvent(line)
		return true
	}
	s.event = nil
	return false
}

func (s *EventStream) readLine() ([]byte, bool, error) {
	var (
		line     []byte
		oversize bool
	)
	for {
		frag, err := s.reader.ReadSlice('\n')
		if !oversize {
			if len(line)+len(frag) > maxLineSize {
				oversize = true
				line = nil
			} else {
				line = append(line, frag...)
			}
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		return line, oversize, err
	}
}

func (s *EventStream) Event() models.StreamEvent {
	return s.event
}

func (s *EventStream) Err() error {
	return s.err
}

func (s *EventStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.body.Close()
	})
	return err
}

// DecodeEvent never fails. Field presence follows JavaScript truthiness and
// error takes precedence over chunk, chunk over done.
func DecodeEvent(line []byte) models.StreamEvent {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || !gjson.ValidBytes(line) {
		return models.StreamUnparseable{Line: string(line)}
	}

	res := gjson.ParseBytes(line)
	if !res.IsObject() {
		return models.StreamUnparseable{Line: string(line)}
	}

	if e := res.Get("error"); truthy(e) {
		return models.StreamError{Message: e.String()}
	}
	if c := res.Get("chunk"); truthy(c) {
		return models.StreamChunk{Text: c.String()}
	}
	if d := res.Get("done"); truthy(d) {
		return models.StreamDone{}
	}

	return models.StreamUnparseable{Line: string(line)}
}

func truthy(res gjson.Result) bool {
	switch res.Type {
	case gjson.True, gjson.JSON:
		return true
	case gjson.String:
		return res.Str != ""
	case gjson.Number:
		return res.Num != 0
	default:
		return false
	}
}

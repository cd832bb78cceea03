package models

type StreamEventType string

const (
	StreamEventTypeChunk       StreamEventType = "chunk"
	StreamEventTypeError       StreamEventType = "error"
	StreamEventTypeDone        StreamEventType = "done"
	StreamEventTypeUnparseable StreamEventType = "unparseable"
)

// StreamEvent is one decoded line of the backend's NDJSON chat stream.
type StreamEvent interface {
	GetType() StreamEventType
}

type StreamChunk struct {
	Text string `json:"chunk"`
}

func (e StreamChunk) GetType() StreamEventType {
	return StreamEventTypeChunk
}

type StreamError struct {
	Message string `json:"error"`
}

func (e StreamError) GetType() StreamEventType {
	return StreamEventTypeError
}

type StreamDone struct{}

func (e StreamDone) GetType() StreamEventType {
	return StreamEventTypeDone
}

type StreamUnparseable struct {
	Line string `json:"line"`
}

func (e StreamUnparseable) GetType() StreamEventType {
	return StreamEventTypeUnparseable
}

package models

type TurnState string

const (
	TurnStateIdle           TurnState = "idle"
	TurnStateValidating     TurnState = "validating"
	TurnStateConfiguring    TurnState = "configuring"
	TurnStateAwaitingStream TurnState = "awaiting_stream"
	TurnStateStreaming      TurnState = "streaming"
	TurnStateDone           TurnState = "done"
	TurnStateFailed         TurnState = "failed"
	TurnStateCancelled      TurnState = "cancelled"
)

func (s TurnState) Terminal() bool {
	return s == TurnStateDone || s == TurnStateFailed || s == TurnStateCancelled
}

type TurnEventType string

const (
	TurnEventTypeStateChanged    TurnEventType = "state_changed"
	TurnEventTypeMessageAppended TurnEventType = "message_appended"
	TurnEventTypeContentUpdated  TurnEventType = "content_updated"
	TurnEventTypeFinished        TurnEventType = "finished"
)

// TurnEvent is emitted to the caller while one chat turn runs.
type TurnEvent interface {
	GetType() TurnEventType
}

type TurnStateChanged struct {
	SessionID string    `json:"session_id"`
	From      TurnState `json:"from"`
	To        TurnState `json:"to"`
}

func (e TurnStateChanged) GetType() TurnEventType {
	return TurnEventTypeStateChanged
}

type TurnMessageAppended struct {
	SessionID string  `json:"session_id"`
	Message   Message `json:"message"`
}

func (e TurnMessageAppended) GetType() TurnEventType {
	return TurnEventTypeMessageAppended
}

type TurnContentUpdated struct {
	SessionID string `json:"session_id"`
	LocalID   string `json:"local_id"`
	Chunk     string `json:"chunk"`
	Content   string `json:"content"`
}

func (e TurnContentUpdated) GetType() TurnEventType {
	return TurnEventTypeContentUpdated
}

type TurnFinished struct {
	SessionID string    `json:"session_id"`
	State     TurnState `json:"state"`
	Err       error     `json:"-"`
}

func (e TurnFinished) GetType() TurnEventType {
	return TurnEventTypeFinished
}

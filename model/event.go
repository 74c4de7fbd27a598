package model

type EventType string

const (
	EventOutlineChunk EventType = "outline_chunk"
	EventDetailChunk  EventType = "detail_chunk"
	EventStatus       EventType = "status"
	EventDone         EventType = "done"
	EventError        EventType = "error"
)

func (t EventType) Valid() bool {
	switch t {
	case EventOutlineChunk, EventDetailChunk, EventStatus, EventDone, EventError:
		return true
	}
	return false
}

// Event 回答流中的一个事件。
// done 携带最终的 outline/detail，error 在 Content 中携带诊断信息。
type Event struct {
	Type    EventType `json:"type"`
	Content string    `json:"content,omitempty"`
	Outline string    `json:"outline,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}

// Terminal done 与 error 之后不会再有事件
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

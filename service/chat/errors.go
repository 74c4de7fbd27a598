package chat

import "errors"

var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrNoSession    = errors.New("session not found")
	ErrSendInFlight = errors.New("an answer is already streaming in this session")

	// ErrRemoteFailure 回答流中的 error 事件
	ErrRemoteFailure = errors.New("answer service reported an error")
	ErrStreamEnded   = errors.New("answer stream ended without content")
)

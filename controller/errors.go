package controller

import (
	"errors"
	"net/http"

	"ckd-chat-gateway/dao"
	"ckd-chat-gateway/service/chat"
	"ckd-chat-gateway/service/session"
)

var (
	ErrParseRequest = errors.New("failed to parse request")

	ErrGenerateToken = errors.New("failed to generate token")
	ErrUserLogin     = errors.New("failed to login")
	ErrUserLogout    = errors.New("failed to logout")

	ErrCreateSession = errors.New("failed to create a chat session")
	ErrGetSessions   = errors.New("failed to get chat sessions")
	ErrGetSession    = errors.New("failed to get chat session")
	ErrDeleteSession = errors.New("failed to delete a chat session")
	ErrRenameSession = errors.New("failed to rename chat session")
	ErrSelectSession = errors.New("failed to select chat session")

	ErrSendMessage = errors.New("failed to send message")
	ErrStateFeed   = errors.New("failed to serve state feed")
)

// statusOf 把服务层错误映射为 HTTP 状态码
func statusOf(err error) int {
	var statusErr *dao.StatusError
	switch {
	case errors.Is(err, session.ErrEmptyName),
		errors.Is(err, session.ErrEmptySession),
		errors.Is(err, chat.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrSessionAbsent),
		errors.Is(err, chat.ErrNoSession):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrSendInFlight):
		return http.StatusConflict
	case errors.As(err, &statusErr):
		if statusErr.StatusCode == http.StatusNotFound {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}

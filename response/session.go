package response

import (
	"ckd-chat-gateway/model"
	"ckd-chat-gateway/service/chat"
	"ckd-chat-gateway/service/naming"
	"ckd-chat-gateway/store"
)

type UserAuthResponse struct {
	User  model.User `json:"user"`
	Token string     `json:"token"`
}

// SessionResponse 单个会话，Title 为界面显示的名称
type SessionResponse struct {
	model.Session
	Title    string `json:"title"`
	InFlight bool   `json:"in_flight"`
}

func NewSessionResponse(s model.Session, inFlight bool) SessionResponse {
	return SessionResponse{
		Session:  s,
		Title:    s.Title(),
		InFlight: inFlight,
	}
}

type StateResponse struct {
	store.State
}

type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

type HealthResponse struct {
	Status      string       `json:"status"`
	Workspaces  int          `json:"workspaces"`
	FeedClients int          `json:"feed_clients"`
	Streams     chat.Stats   `json:"streams"`
	Naming      naming.Stats `json:"naming"`
}

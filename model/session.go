package model

import "time"

// DefaultSessionTitle 未命名会话在界面上的显示名称
const DefaultSessionTitle = "新對話"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role    `json:"role"`
	Content Content `json:"content"`
}

// Session 一个对话线程，History 按追加顺序即时间顺序排列，从不重排
type Session struct {
	ID        string    `json:"id"`
	Name      *string   `json:"name"`
	History   []Message `json:"history"`
	CreatedAt Timestamp `json:"created_at"`
	UpdatedAt Timestamp `json:"updated_at"`

	// 远端会话记录的医师与病患，会话列表接口会返回
	Doctor string `json:"doctor,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

// Title 返回会话名称，未命名时返回默认标题
func (s Session) Title() string {
	if s.Name == nil || *s.Name == "" {
		return DefaultSessionTitle
	}
	return *s.Name
}

// Clone 深拷贝，读者拿到的永远是快照
func (s Session) Clone() Session {
	out := s
	if s.Name != nil {
		name := *s.Name
		out.Name = &name
	}
	if s.History != nil {
		out.History = make([]Message, len(s.History))
		copy(out.History, s.History)
	}
	return out
}

// Turns 已完成的问答轮数
func (s Session) Turns() int {
	return len(s.History) / 2
}

// SessionPatch 会话级字段的合并更新，nil 字段不修改
type SessionPatch struct {
	Name *string `json:"name,omitempty"`
}

func NewSession(id string, now time.Time) Session {
	return Session{
		ID:        id,
		History:   []Message{},
		CreatedAt: Timestamp{now},
		UpdatedAt: Timestamp{now},
	}
}

// StringPtr 便于构造 SessionPatch
func StringPtr(s string) *string {
	return &s
}

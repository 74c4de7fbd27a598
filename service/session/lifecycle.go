// Package session 会话的创建、改名、删除与加载。
// 远端调用成功之后才修改 store，失败时 store 保持不变并把错误返回给调用方。
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"ckd-chat-gateway/model"
	"ckd-chat-gateway/store"
)

var (
	ErrEmptyName     = errors.New("session name is empty")
	ErrEmptySession  = errors.New("session id is empty")
	ErrSessionAbsent = errors.New("session not found")
)

// SessionAPI 远端会话接口
type SessionAPI interface {
	ListSessions(ctx context.Context, userID, doctor string) ([]model.Session, error)
	CreateSession(ctx context.Context, userID, doctor string) (model.Session, error)
	GetSession(ctx context.Context, sessionID string) (model.Session, error)
	UpdateSessionName(ctx context.Context, sessionID, name string) error
	DeleteSession(ctx context.Context, sessionID, userID string) error
}

// Canceler 删除会话前中止其进行中的回答流
type Canceler interface {
	Cancel(sessionID string) bool
}

type Manager struct {
	store    *store.Store
	api      SessionAPI
	identity model.Identity
	canceler Canceler
}

type Option func(*Manager)

func WithCanceler(c Canceler) Option {
	return func(m *Manager) {
		m.canceler = c
	}
}

func NewManager(s *store.Store, api SessionAPI, identity model.Identity, opts ...Option) *Manager {
	m := &Manager{
		store:    s,
		api:      api,
		identity: identity,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Identity() model.Identity {
	return m.identity
}

// Create 远端创建会话，插入 store 并选中
func (m *Manager) Create(ctx context.Context) (model.Session, error) {
	sess, err := m.api.CreateSession(ctx, m.identity.UserID, m.identity.SessionDoctor())
	if err != nil {
		return model.Session{}, err
	}
	m.store.UpsertSession(sess)
	m.store.Select(sess.ID)

	slog.Info("Session created", "session_id", sess.ID, "user_id", m.identity.UserID)
	return sess, nil
}

// Rename 远端改名成功后再修改 store
func (m *Manager) Rename(ctx context.Context, id, name string) error {
	if id == "" {
		return ErrEmptySession
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	if err := m.api.UpdateSessionName(ctx, id, name); err != nil {
		return err
	}
	if !m.store.PatchSession(id, model.SessionPatch{Name: &name}) {
		return fmt.Errorf("%w: %s", ErrSessionAbsent, id)
	}
	return nil
}

// Delete 远端删除成功后中止回答流并从 store 移除，选中状态按回退规则更新
func (m *Manager) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrEmptySession
	}
	if err := m.api.DeleteSession(ctx, id, m.identity.UserID); err != nil {
		return err
	}
	if m.canceler != nil {
		m.canceler.Cancel(id)
	}
	m.store.RemoveSession(id)

	slog.Info("Session deleted", "session_id", id, "user_id", m.identity.UserID)
	return nil
}

// Load 拉取会话列表。列表为空时自动创建第一个会话，
// 没有选中会话时选中第一个。发送中的会话保留本地历史。
func (m *Manager) Load(ctx context.Context) ([]model.Session, error) {
	remote, err := m.api.ListSessions(ctx, m.identity.UserID, m.identity.SessionDoctor())
	if err != nil {
		return nil, err
	}
	m.store.ReplaceAll(remote)

	sessions := m.store.Sessions()
	if len(sessions) == 0 {
		if _, err := m.Create(ctx); err != nil {
			return nil, fmt.Errorf("failed to create first session: %w", err)
		}
		return m.store.Sessions(), nil
	}

	if _, ok := m.store.Current(); !ok {
		m.store.Select(sessions[0].ID)
	}
	return sessions, nil
}

// Refresh 重新拉取单个会话并覆盖本地副本，返回覆盖后的本地会话。
// 会话正在接收回答时由 store 保留本地历史，占位消息不会被替换。
func (m *Manager) Refresh(ctx context.Context, id string) (model.Session, error) {
	if id == "" {
		return model.Session{}, ErrEmptySession
	}

	remote, err := m.api.GetSession(ctx, id)
	if err != nil {
		return model.Session{}, err
	}
	m.store.UpsertSession(remote)

	sess, ok := m.store.Session(id)
	if !ok {
		return model.Session{}, fmt.Errorf("%w: %s", ErrSessionAbsent, id)
	}
	return sess, nil
}

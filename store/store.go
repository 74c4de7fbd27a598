// Package store 会话状态的唯一数据源。
//
// 所有修改都经由 Store 的方法完成，并在同一把锁下执行，
// 读者拿到的永远是深拷贝的快照，不会观察到修改的中间状态。
package store

import (
	"sync"
	"time"

	"ckd-chat-gateway/model"

	"github.com/google/uuid"
)

const defaultSubscriberBufCap = 64

type ChangeKind string

const (
	ChangeReplaceAll     ChangeKind = "replace_all"
	ChangeUpsertSession  ChangeKind = "upsert_session"
	ChangePatchSession   ChangeKind = "patch_session"
	ChangeRemoveSession  ChangeKind = "remove_session"
	ChangeAppendMessage  ChangeKind = "append_message"
	ChangeMessageContent ChangeKind = "message_content"
	ChangeSelection      ChangeKind = "selection"
	ChangeInFlight       ChangeKind = "in_flight"
)

// Change 一次修改的通知，Index 仅对消息级修改有意义
type Change struct {
	Kind      ChangeKind `json:"kind"`
	SessionID string     `json:"session_id,omitempty"`
	Index     int        `json:"index,omitempty"`
}

// State 某一时刻的完整快照
type State struct {
	Sessions         []model.Session `json:"sessions"`
	CurrentSessionID string          `json:"current_session_id,omitempty"`

	// 任一会话有进行中的发送
	Loading  bool     `json:"loading"`
	InFlight []string `json:"in_flight,omitempty"`
}

type Store struct {
	mu       sync.RWMutex
	sessions []model.Session
	current  string
	inFlight map[string]bool
	closed   bool

	subMu       sync.RWMutex
	subscribers map[string]chan Change
	subBufCap   int
	subClosed   bool

	now func() time.Time
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func WithSubscriberBuffer(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.subBufCap = n
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		sessions:    []model.Session{},
		inFlight:    make(map[string]bool),
		subscribers: make(map[string]chan Change),
		subBufCap:   defaultSubscriberBufCap,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReplaceAll 拉取会话列表后整体替换
func (s *Store) ReplaceAll(sessions []model.Session) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	next := make([]model.Session, 0, len(sessions))
	seen := make(map[string]bool, len(sessions))
	for _, sess := range sessions {
		seen[sess.ID] = true
		next = append(next, s.keepInFlight(normalize(sess)))
	}
	// 远端列表尚未包含的发送中会话保留在末尾
	for _, local := range s.sessions {
		if s.inFlight[local.ID] && !seen[local.ID] {
			next = append(next, local)
		}
	}
	s.sessions = next
	if s.current != "" && s.indexOf(s.current) < 0 {
		s.current = ""
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeReplaceAll})
}

// UpsertSession 插入新建的会话，id 已存在时整体替换。
// 会话有进行中的发送时保留本地的消息历史。
func (s *Store) UpsertSession(sess model.Session) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	sess = s.keepInFlight(normalize(sess))
	if i := s.indexOf(sess.ID); i >= 0 {
		s.sessions[i] = sess
	} else {
		s.sessions = append(s.sessions, sess)
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeUpsertSession, SessionID: sess.ID})
}

// PatchSession 合并更新会话级字段，会话不存在时返回 false
func (s *Store) PatchSession(id string, patch model.SessionPatch) bool {
	s.mu.Lock()
	i := s.indexOf(id)
	if s.closed || i < 0 {
		s.mu.Unlock()
		return false
	}
	if patch.Name != nil {
		name := *patch.Name
		s.sessions[i].Name = &name
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangePatchSession, SessionID: id})
	return true
}

// RemoveSession 删除会话。被删除的是当前选中会话时，
// 选中剩余会话中的最后一个，没有剩余会话则清空选择。
func (s *Store) RemoveSession(id string) bool {
	s.mu.Lock()
	i := s.indexOf(id)
	if s.closed || i < 0 {
		s.mu.Unlock()
		return false
	}
	s.sessions = append(s.sessions[:i:i], s.sessions[i+1:]...)
	delete(s.inFlight, id)

	selectionChanged := false
	if s.current == id {
		s.current = ""
		if n := len(s.sessions); n > 0 {
			s.current = s.sessions[n-1].ID
		}
		selectionChanged = true
	}
	current := s.current
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeRemoveSession, SessionID: id})
	if selectionChanged {
		s.notify(Change{Kind: ChangeSelection, SessionID: current})
	}
	return true
}

// AppendMessage 追加消息并刷新 UpdatedAt，返回分配的下标
func (s *Store) AppendMessage(id string, msg model.Message) (int, bool) {
	s.mu.Lock()
	i := s.indexOf(id)
	if s.closed || i < 0 {
		s.mu.Unlock()
		return -1, false
	}
	index := s.appendLocked(i, msg)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeAppendMessage, SessionID: id, Index: index})
	return index, true
}

// AppendTurn 在同一次加锁内追加用户消息和助手占位消息，
// 两者的下标在追加时即确定且不再变化。
func (s *Store) AppendTurn(id string, user, placeholder model.Message) (userIndex, placeholderIndex int, ok bool) {
	s.mu.Lock()
	i := s.indexOf(id)
	if s.closed || i < 0 {
		s.mu.Unlock()
		return -1, -1, false
	}
	userIndex = s.appendLocked(i, user)
	placeholderIndex = s.appendLocked(i, placeholder)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeAppendMessage, SessionID: id, Index: userIndex})
	s.notify(Change{Kind: ChangeAppendMessage, SessionID: id, Index: placeholderIndex})
	return userIndex, placeholderIndex, true
}

// ReplaceMessageContent 覆盖指定下标消息的内容。
// 会话可能在流式输出期间被删除，此时忽略写入，返回 false。
func (s *Store) ReplaceMessageContent(id string, index int, content model.Content) bool {
	s.mu.Lock()
	i := s.indexOf(id)
	if s.closed || i < 0 || index < 0 || index >= len(s.sessions[i].History) {
		s.mu.Unlock()
		return false
	}

	sess := &s.sessions[i]
	history := make([]model.Message, len(sess.History))
	copy(history, sess.History)
	history[index].Content = content
	sess.History = history
	sess.UpdatedAt = model.Timestamp{Time: s.now()}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeMessageContent, SessionID: id, Index: index})
	return true
}

func (s *Store) Select(id string) bool {
	s.mu.Lock()
	if s.closed || s.indexOf(id) < 0 {
		s.mu.Unlock()
		return false
	}
	changed := s.current != id
	s.current = id
	s.mu.Unlock()

	if changed {
		s.notify(Change{Kind: ChangeSelection, SessionID: id})
	}
	return true
}

func (s *Store) ClearSelection() {
	s.mu.Lock()
	changed := s.current != ""
	s.current = ""
	s.mu.Unlock()

	if changed {
		s.notify(Change{Kind: ChangeSelection})
	}
}

func (s *Store) Current() (string, bool) {
	id := s.currentID()
	return id, id != ""
}

// SetInFlight 会话的发送中标记
func (s *Store) SetInFlight(id string, inFlight bool) {
	s.mu.Lock()
	if s.closed || s.inFlight[id] == inFlight {
		s.mu.Unlock()
		return
	}
	if inFlight {
		s.inFlight[id] = true
	} else {
		delete(s.inFlight, id)
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeInFlight, SessionID: id})
}

func (s *Store) InFlight(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inFlight[id]
}

func (s *Store) Session(id string) (model.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexOf(id)
	if i < 0 {
		return model.Session{}, false
	}
	return s.sessions[i].Clone(), true
}

func (s *Store) Sessions() []model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cloneSessions()
}

func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := State{
		Sessions:         s.cloneSessions(),
		CurrentSessionID: s.current,
		Loading:          len(s.inFlight) > 0,
	}
	// 按会话顺序输出，保证快照稳定
	for _, sess := range s.sessions {
		if s.inFlight[sess.ID] {
			state.InFlight = append(state.InFlight, sess.ID)
		}
	}
	return state
}

// Subscribe 订阅修改通知。订阅者消费过慢时通知会被丢弃，
// 订阅者应在收到通知后重新读取快照，而不是依赖通知本身。
func (s *Store) Subscribe() (string, <-chan Change, func()) {
	subID := uuid.New().String()
	ch := make(chan Change, s.subBufCap)

	s.subMu.Lock()
	if s.subClosed {
		s.subMu.Unlock()
		close(ch)
		return subID, ch, func() {}
	}
	s.subscribers[subID] = ch
	s.subMu.Unlock()

	return subID, ch, func() { s.unsubscribe(subID) }
}

// Close 销毁 Store，关闭所有订阅通道，之后的修改被忽略
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.subMu.Lock()
	s.subClosed = true
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subMu.Unlock()
}

func (s *Store) unsubscribe(subID string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ch, ok := s.subscribers[subID]; ok {
		close(ch)
		delete(s.subscribers, subID)
	}
}

func (s *Store) notify(change Change) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- change:
		default:
			// 订阅者通道已满，丢弃
		}
	}
}

func (s *Store) appendLocked(i int, msg model.Message) int {
	sess := &s.sessions[i]
	index := len(sess.History)
	history := make([]model.Message, index, index+1)
	copy(history, sess.History)
	sess.History = append(history, msg)
	sess.UpdatedAt = model.Timestamp{Time: s.now()}
	return index
}

// keepInFlight 发送中的会话以本地历史为准，占位消息的下标保持有效。
// 远端副本只提供会话级字段，本地已有名称时也以本地为准。
func (s *Store) keepInFlight(remote model.Session) model.Session {
	if !s.inFlight[remote.ID] {
		return remote
	}
	i := s.indexOf(remote.ID)
	if i < 0 {
		return remote
	}
	local := s.sessions[i]
	remote.History = local.History
	remote.UpdatedAt = local.UpdatedAt
	if local.Name != nil {
		remote.Name = local.Name
	}
	return remote
}

func (s *Store) currentID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Store) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) cloneSessions() []model.Session {
	out := make([]model.Session, len(s.sessions))
	for i, sess := range s.sessions {
		out[i] = sess.Clone()
	}
	return out
}

func normalize(sess model.Session) model.Session {
	sess = sess.Clone()
	if sess.History == nil {
		sess.History = []model.Message{}
	}
	return sess
}

// Package workspace 为每个登录用户维护一套独立的会话引擎
package workspace

import (
	"log/slog"
	"sync"

	"ckd-chat-gateway/model"
	"ckd-chat-gateway/service/chat"
	"ckd-chat-gateway/service/session"
	"ckd-chat-gateway/store"
)

// RemoteAPI 会话接口与回答流接口
type RemoteAPI interface {
	session.SessionAPI
	chat.StreamOpener
}

// Workspace 同一用户的 Store、Orchestrator 与 Manager 共用一个 Store
type Workspace struct {
	Identity     model.Identity
	Store        *store.Store
	Orchestrator *chat.Orchestrator
	Sessions     *session.Manager
}

func (w *Workspace) close() {
	w.Orchestrator.CancelAll()
	w.Store.Close()
}

type Registry struct {
	api        RemoteAPI
	chatOpts   []chat.Option
	storeOpts  []store.Option
	mu         sync.Mutex
	workspaces map[string]*Workspace
}

type Option func(*Registry)

func WithChatOptions(opts ...chat.Option) Option {
	return func(r *Registry) {
		r.chatOpts = append(r.chatOpts, opts...)
	}
}

func WithStoreOptions(opts ...store.Option) Option {
	return func(r *Registry) {
		r.storeOpts = append(r.storeOpts, opts...)
	}
}

func NewRegistry(api RemoteAPI, opts ...Option) *Registry {
	r := &Registry{
		api:        api,
		workspaces: make(map[string]*Workspace),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get 返回用户的工作区，不存在时创建。
// 同一用户以不同身份（例如更换医师）登录时，旧工作区被销毁并重建。
func (r *Registry) Get(identity model.Identity) *Workspace {
	r.mu.Lock()
	stale, ok := r.workspaces[identity.UserID]
	if ok && stale.Identity == identity {
		r.mu.Unlock()
		return stale
	}

	s := store.New(r.storeOpts...)
	orch := chat.NewOrchestrator(s, r.api, r.chatOpts...)
	ws := &Workspace{
		Identity:     identity,
		Store:        s,
		Orchestrator: orch,
		Sessions:     session.NewManager(s, r.api, identity, session.WithCanceler(orch)),
	}
	r.workspaces[identity.UserID] = ws
	r.mu.Unlock()

	if ok {
		stale.close()
		slog.Info("Workspace identity changed, rebuilt",
			"user_id", identity.UserID,
			"doctor", identity.Doctor,
		)
		return ws
	}
	slog.Info("Workspace created", "user_id", identity.UserID)
	return ws
}

func (r *Registry) Lookup(userID string) (*Workspace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ws, ok := r.workspaces[userID]
	return ws, ok
}

// Close 中止用户所有回答流并销毁其 Store
func (r *Registry) Close(userID string) bool {
	r.mu.Lock()
	ws, ok := r.workspaces[userID]
	delete(r.workspaces, userID)
	r.mu.Unlock()

	if !ok {
		return false
	}
	ws.close()
	slog.Info("Workspace closed", "user_id", userID)
	return true
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	workspaces := r.workspaces
	r.workspaces = make(map[string]*Workspace)
	r.mu.Unlock()

	for _, ws := range workspaces {
		ws.close()
	}
}

// Stats 所有工作区的回答流统计之和
func (r *Registry) Stats() chat.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total chat.Stats
	for _, ws := range r.workspaces {
		st := ws.Orchestrator.Stats()
		total.Started += st.Started
		total.Completed += st.Completed
		total.Failed += st.Failed
		total.Cancelled += st.Cancelled
		total.DroppedLines += st.DroppedLines
	}
	return total
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workspaces)
}

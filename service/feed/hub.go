// Package feed 通过 websocket 向界面推送 store 快照
package feed

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"ckd-chat-gateway/middleware"
	"ckd-chat-gateway/store"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultPingInterval  = 30 * time.Second
	defaultReadDeadline  = 60 * time.Second
	defaultWriteDeadline = 10 * time.Second

	FrameSnapshot = "snapshot"
)

// Frame 推送给界面的一帧，Change 为触发本次推送的最后一个修改
type Frame struct {
	Type   string        `json:"type"`
	Change *store.Change `json:"change,omitempty"`
	State  store.State   `json:"state"`
}

type Hub struct {
	upgrader      websocket.Upgrader
	pingInterval  time.Duration
	readDeadline  time.Duration
	writeDeadline time.Duration

	mu      sync.Mutex
	clients map[string]*client
}

type client struct {
	id   string
	conn *websocket.Conn
	done chan struct{}
}

type Option func(*Hub)

func WithPingInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

// WithCheckOrigin 默认只允许同源连接
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = fn
	}
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// 与认证中间件约定的子协议，浏览器要求服务端回应其中之一
			Subprotocols: []string{middleware.WebSocketTokenProtocol},
		},
		pingInterval:  defaultPingInterval,
		readDeadline:  defaultReadDeadline,
		writeDeadline: defaultWriteDeadline,
		clients:       make(map[string]*client),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve 升级连接并推送快照，阻塞到连接断开或 store 被关闭
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, s *store.Store) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &client{
		id:   uuid.New().String(),
		conn: conn,
		done: make(chan struct{}),
	}
	h.register(c)
	defer h.unregister(c)

	_, changes, cancel := s.Subscribe()
	defer cancel()

	go h.readPump(c)
	return h.writePump(c, s, changes)
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// CloseAll 关闭所有连接，Serve 随之返回
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		c.conn.Close()
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.conn.Close()
}

// readPump 只用于感知连接关闭和处理 pong
func (h *Hub) readPump(c *client) {
	defer close(c.done)

	c.conn.SetReadDeadline(time.Now().Add(h.readDeadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.readDeadline))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("Feed connection closed", "client_id", c.id, "err", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client, s *store.Store, changes <-chan store.Change) error {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	if err := h.writeFrame(c, Frame{Type: FrameSnapshot, State: s.Snapshot()}); err != nil {
		return err
	}

	for {
		select {
		case change, ok := <-changes:
			if !ok {
				// store 已关闭
				c.conn.SetWriteDeadline(time.Now().Add(h.writeDeadline))
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "workspace closed"))
				return nil
			}
			// 合并积压的通知，只推送最新快照；通道关闭由下一轮循环处理
			change = drain(changes, change)
			if err := h.writeFrame(c, Frame{Type: FrameSnapshot, Change: &change, State: s.Snapshot()}); err != nil {
				return err
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		case <-c.done:
			return nil
		}
	}
}

func (h *Hub) writeFrame(c *client, frame Frame) error {
	c.conn.SetWriteDeadline(time.Now().Add(h.writeDeadline))
	if err := c.conn.WriteJSON(frame); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	}
	return nil
}

// drain 返回积压通知中的最后一个
func drain(changes <-chan store.Change, last store.Change) store.Change {
	for {
		select {
		case change, ok := <-changes:
			if !ok {
				return last
			}
			last = change
		default:
			return last
		}
	}
}

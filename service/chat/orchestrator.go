// Package chat 负责一次用户提问的完整流程：乐观改名、追加消息、
// 打开回答流并把事件写回占位消息。
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"ckd-chat-gateway/model"
	"ckd-chat-gateway/service/naming"
	"ckd-chat-gateway/store"
	"ckd-chat-gateway/stream"
	"ckd-chat-gateway/utils"
)

const (
	defaultNameLimit = 30
	nameEllipsis     = "..."
)

// StreamOpener 打开回答流，握手失败时返回错误
type StreamOpener interface {
	OpenStream(ctx context.Context, sessionID, message string) (io.ReadCloser, error)
}

// NameRegistrar 接收首条消息触发的远端改名任务
type NameRegistrar interface {
	RegisterRenameTask(task naming.RenameTask)
}

type Orchestrator struct {
	store  *store.Store
	opener StreamOpener
	names  NameRegistrar

	texts       Texts
	nameLimit   int
	decoderOpts []stream.Option

	mu    sync.Mutex
	sends map[string]*inFlightSend

	started   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64
	dropped   atomic.Int64
}

type inFlightSend struct {
	cancel context.CancelFunc
}

type Option func(*Orchestrator)

func WithNameRegistrar(r NameRegistrar) Option {
	return func(o *Orchestrator) {
		o.names = r
	}
}

func WithTexts(t Texts) Option {
	return func(o *Orchestrator) {
		o.texts = t
	}
}

func WithNameLimit(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.nameLimit = n
		}
	}
}

func WithDecoderOptions(opts ...stream.Option) Option {
	return func(o *Orchestrator) {
		o.decoderOpts = append(o.decoderOpts, opts...)
	}
}

func NewOrchestrator(s *store.Store, opener StreamOpener, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     s,
		opener:    opener,
		texts:     DefaultTexts(),
		nameLimit: defaultNameLimit,
		sends:     make(map[string]*inFlightSend),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Send 发送一条消息并阻塞到回答流结束。
// 校验失败时返回错误且不修改任何状态；回答流本身的失败只体现为占位消息的内容，
// 通过 Handler 通知调用方，不作为错误返回。
func (o *Orchestrator) Send(ctx context.Context, sessionID, text string, h Handler) error {
	if h == nil {
		h = SimpleHandler{}
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	if sessionID == "" {
		return ErrNoSession
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	send, err := o.begin(sessionID, cancel)
	if err != nil {
		return err
	}
	defer o.end(sessionID, send)

	sess, ok := o.store.Session(sessionID)
	if !ok {
		return ErrNoSession
	}

	// 先标记发送中，之后远端的会话覆盖不会替换本地历史
	o.store.SetInFlight(sessionID, true)

	// 首条消息：本地乐观改名，远端确认尽力而为
	if len(sess.History) == 0 {
		name := utils.TruncateRunes(text, o.nameLimit, nameEllipsis)
		o.store.PatchSession(sessionID, model.SessionPatch{Name: &name})
		if o.names != nil {
			o.names.RegisterRenameTask(naming.RenameTask{SessionID: sessionID, Name: name})
		}
	}

	_, index, ok := o.store.AppendTurn(sessionID,
		model.Message{Role: model.RoleUser, Content: model.TextContent(text)},
		model.Message{Role: model.RoleAssistant, Content: o.texts.placeholder()},
	)
	if !ok {
		return ErrNoSession
	}

	o.started.Add(1)

	w := &replyWriter{
		ctx:       ctx,
		store:     o.store,
		handler:   h,
		sessionID: sessionID,
		index:     index,
		last:      o.texts.placeholder(),
	}
	result := o.stream(ctx, text, w)
	o.record(result)
	h.HandleComplete(ctx, result)
	return nil
}

// Cancel 中止会话正在进行的回答流，之后不会再写入该会话
func (o *Orchestrator) Cancel(sessionID string) bool {
	o.mu.Lock()
	send, ok := o.sends[sessionID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	send.cancel()
	return true
}

func (o *Orchestrator) CancelAll() {
	o.mu.Lock()
	sends := make([]*inFlightSend, 0, len(o.sends))
	for _, send := range o.sends {
		sends = append(sends, send)
	}
	o.mu.Unlock()

	for _, send := range sends {
		send.cancel()
	}
}

func (o *Orchestrator) InFlight(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.sends[sessionID]
	return ok
}

type Stats struct {
	Started      int64 `json:"started"`
	Completed    int64 `json:"completed"`
	Failed       int64 `json:"failed"`
	Cancelled    int64 `json:"cancelled"`
	DroppedLines int64 `json:"dropped_lines"`
}

func (o *Orchestrator) Stats() Stats {
	return Stats{
		Started:      o.started.Load(),
		Completed:    o.completed.Load(),
		Failed:       o.failed.Load(),
		Cancelled:    o.cancelled.Load(),
		DroppedLines: o.dropped.Load(),
	}
}

func (o *Orchestrator) begin(sessionID string, cancel context.CancelFunc) (*inFlightSend, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.sends[sessionID]; busy {
		return nil, ErrSendInFlight
	}
	send := &inFlightSend{cancel: cancel}
	o.sends[sessionID] = send
	return send, nil
}

// end 清除发送中标记，每次发送恰好执行一次
func (o *Orchestrator) end(sessionID string, send *inFlightSend) {
	o.mu.Lock()
	if o.sends[sessionID] == send {
		delete(o.sends, sessionID)
	}
	o.mu.Unlock()

	send.cancel()
	o.store.SetInFlight(sessionID, false)
}

func (o *Orchestrator) stream(ctx context.Context, text string, w *replyWriter) Result {
	result := Result{SessionID: w.sessionID, Index: w.index}

	body, err := o.opener.OpenStream(ctx, w.sessionID, text)
	if err != nil {
		if ctx.Err() != nil {
			return o.cancelledResult(result, w)
		}
		slog.Error("Failed to open answer stream", "session_id", w.sessionID, "err", err)
		w.fail(o.texts)
		result.Outcome = OutcomeTransportError
		result.Err = err
		result.Content = w.last
		return result
	}
	defer body.Close()

	// 取消时关闭 body，使阻塞中的读取立即返回
	stop := context.AfterFunc(ctx, func() {
		body.Close()
	})
	defer stop()

	dec := stream.NewDecoder(body, o.decoderOpts...)
	defer func() {
		o.dropped.Add(int64(dec.Dropped()))
	}()

	for {
		ev, err := dec.Next()
		if ctx.Err() != nil {
			return o.cancelledResult(result, w)
		}
		if errors.Is(err, io.EOF) {
			// 数据源结束但没有终止事件：保留已累积的内容
			if !w.applied {
				w.fail(o.texts)
				result.Err = ErrStreamEnded
			}
			result.Outcome = OutcomeEOF
			result.Content = w.last
			return result
		}
		if err != nil {
			slog.Error("Answer stream interrupted", "session_id", w.sessionID, "err", err)
			w.fail(o.texts)
			result.Outcome = OutcomeTransportError
			result.Err = err
			result.Content = w.last
			return result
		}

		switch ev.Type {
		case model.EventOutlineChunk:
			w.appendOutline(ev.Content)
		case model.EventDetailChunk:
			w.appendDetail(ev.Content)
		case model.EventStatus:
			w.handler.HandleStatus(ctx, w.sessionID, ev.Content)
		case model.EventDone:
			w.finish(ev.Outline, ev.Detail)
			result.Outcome = OutcomeDone
			result.Content = w.last
			return result
		case model.EventError:
			slog.Warn("Answer service reported an error", "session_id", w.sessionID, "detail", ev.Content)
			w.fail(o.texts)
			result.Outcome = OutcomeError
			result.Err = fmt.Errorf("%w: %s", ErrRemoteFailure, ev.Content)
			result.Content = w.last
			return result
		}
	}
}

func (o *Orchestrator) cancelledResult(result Result, w *replyWriter) Result {
	result.Outcome = OutcomeCancelled
	result.Err = context.Cause(w.ctx)
	result.Content = w.last
	return result
}

func (o *Orchestrator) record(result Result) {
	switch result.Outcome {
	case OutcomeCancelled:
		o.cancelled.Add(1)
	case OutcomeDone:
		o.completed.Add(1)
	case OutcomeEOF:
		if result.Err != nil {
			o.failed.Add(1)
		} else {
			o.completed.Add(1)
		}
	default:
		o.failed.Add(1)
	}
}

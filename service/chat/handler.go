package chat

import (
	"context"

	"ckd-chat-gateway/model"
	"ckd-chat-gateway/utils"

	"github.com/gin-gonic/gin"
)

type Outcome string

const (
	OutcomeDone           Outcome = "done"
	OutcomeError          Outcome = "error"
	OutcomeTransportError Outcome = "transport_error"
	OutcomeCancelled      Outcome = "cancelled"
	OutcomeEOF            Outcome = "eof"
)

// Result 一次发送的最终结果，Content 为占位消息最后写入的内容
type Result struct {
	SessionID string        `json:"session_id"`
	Index     int           `json:"index"`
	Outcome   Outcome       `json:"outcome"`
	Content   model.Content `json:"content"`
	Err       error         `json:"-"`
}

// Handler 接收一次发送过程中的进度回调，回调在 Send 所在的 goroutine 中同步执行
type Handler interface {
	HandleStatus(ctx context.Context, sessionID, status string)
	HandleContent(ctx context.Context, sessionID string, content model.Content)
	HandleComplete(ctx context.Context, result Result)
}

// SimpleHandler 空实现，嵌入后只需覆盖关心的方法
type SimpleHandler struct{}

var _ Handler = SimpleHandler{}

func (SimpleHandler) HandleStatus(context.Context, string, string)         {}
func (SimpleHandler) HandleContent(context.Context, string, model.Content) {}
func (SimpleHandler) HandleComplete(context.Context, Result)               {}

// GinSSEHandler 通过 SSE 把进度转发给界面
type GinSSEHandler struct {
	SimpleHandler

	Ctx *gin.Context
}

var _ Handler = &GinSSEHandler{}

func NewGinSSEHandler(c *gin.Context) *GinSSEHandler {
	return &GinSSEHandler{Ctx: c}
}

func (h *GinSSEHandler) HandleStatus(ctx context.Context, sessionID, status string) {
	utils.SendSSEMessage(h.Ctx, utils.EventStatus, status)
}

func (h *GinSSEHandler) HandleContent(ctx context.Context, sessionID string, content model.Content) {
	utils.SendSSEMessage(h.Ctx, utils.EventContent, content)
}

func (h *GinSSEHandler) HandleComplete(ctx context.Context, result Result) {
	// 客户端已断开时无需再写
	if result.Outcome == OutcomeCancelled && h.Ctx.Request.Context().Err() != nil {
		return
	}
	utils.SendSSEMessage(h.Ctx, utils.EventDone, result)
}

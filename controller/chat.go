package controller

import (
	"errors"
	"log/slog"

	"ckd-chat-gateway/request"
	"ckd-chat-gateway/service/chat"
	"ckd-chat-gateway/utils"

	"github.com/gin-gonic/gin"
)

// Chat 发送消息并以 SSE 转发回答进度。
// 客户端断开时请求 context 被取消，回答流随之中止。
func (ctl *Controller) Chat(c *gin.Context) {
	utils.SetSSEHeaders(c)

	var req request.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Error(ErrParseRequest.Error(), "err", err)
		utils.SendSSEMessage(c, utils.EventError, ErrParseRequest.Error())
		utils.SendSSEMessage(c, utils.EventDone, "")
		return
	}

	ws := ctl.workspace(c)
	ctx := c.Request.Context()

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID, _ = ws.Store.Current()
	}

	// 网关重启后工作区为空，先按用户身份加载会话列表
	if _, ok := ws.Store.Session(sessionID); !ok {
		if _, err := ws.Sessions.Load(ctx); err != nil {
			utils.LoggerFromContext(ctx).Warn(ErrGetSessions.Error(), "err", err)
		}
		if sessionID == "" {
			sessionID, _ = ws.Store.Current()
		}
	}

	err := ws.Orchestrator.Send(ctx, sessionID, req.Message, chat.NewGinSSEHandler(c))
	if err != nil {
		utils.LoggerFromContext(ctx).Warn(ErrSendMessage.Error(),
			"session_id", sessionID,
			"err", err,
		)
		msg := ErrSendMessage.Error()
		if errors.Is(err, chat.ErrSendInFlight) || errors.Is(err, chat.ErrNoSession) || errors.Is(err, chat.ErrEmptyMessage) {
			msg = err.Error()
		}
		utils.SendSSEMessage(c, utils.EventError, msg)
		utils.SendSSEMessage(c, utils.EventDone, "")
	}
}

package controller

import (
	"log/slog"
	"net/http"

	"ckd-chat-gateway/middleware"
	"ckd-chat-gateway/request"
	"ckd-chat-gateway/response"
	"ckd-chat-gateway/service/workspace"
	"ckd-chat-gateway/utils"

	"github.com/gin-gonic/gin"
)

func (ctl *Controller) workspace(c *gin.Context) *workspace.Workspace {
	return ctl.workspaces.Get(middleware.Identity(c))
}

// GetSessions 拉取会话列表并返回完整快照
func (ctl *Controller) GetSessions(c *gin.Context) {
	ws := ctl.workspace(c)
	if _, err := ws.Sessions.Load(c.Request.Context()); err != nil {
		utils.LoggerFromContext(c.Request.Context()).Error(ErrGetSessions.Error(), "err", err)
		c.AbortWithStatusJSON(statusOf(err), response.Response{
			Msg: ErrGetSessions.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, response.Response{
		Data: response.StateResponse{State: ws.Store.Snapshot()},
	})
}

func (ctl *Controller) CreateSession(c *gin.Context) {
	ws := ctl.workspace(c)
	sess, err := ws.Sessions.Create(c.Request.Context())
	if err != nil {
		utils.LoggerFromContext(c.Request.Context()).Error(ErrCreateSession.Error(), "err", err)
		c.AbortWithStatusJSON(statusOf(err), response.Response{
			Msg: ErrCreateSession.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, response.Response{
		Data: response.NewSessionResponse(sess, false),
	})
}

func (ctl *Controller) GetSession(c *gin.Context) {
	ws := ctl.workspace(c)
	sessionID := c.Param("id")

	sess, err := ws.Sessions.Refresh(c.Request.Context(), sessionID)
	if err != nil {
		utils.LoggerFromContext(c.Request.Context()).Error(ErrGetSession.Error(),
			"session_id", sessionID,
			"err", err,
		)
		c.AbortWithStatusJSON(statusOf(err), response.Response{
			Msg: ErrGetSession.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, response.Response{
		Data: response.NewSessionResponse(sess, ws.Store.InFlight(sessionID)),
	})
}

func (ctl *Controller) RenameSession(c *gin.Context) {
	var req request.RenameSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Error(ErrParseRequest.Error(), "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, response.Response{
			Msg: ErrParseRequest.Error(),
		})
		return
	}

	ws := ctl.workspace(c)
	sessionID := c.Param("id")
	if err := ws.Sessions.Rename(c.Request.Context(), sessionID, req.Name); err != nil {
		utils.LoggerFromContext(c.Request.Context()).Error(ErrRenameSession.Error(),
			"session_id", sessionID,
			"err", err,
		)
		c.AbortWithStatusJSON(statusOf(err), response.Response{
			Msg: ErrRenameSession.Error(),
		})
		return
	}

	sess, _ := ws.Store.Session(sessionID)
	c.JSON(http.StatusOK, response.Response{
		Data: response.NewSessionResponse(sess, ws.Store.InFlight(sessionID)),
	})
}

func (ctl *Controller) SelectSession(c *gin.Context) {
	ws := ctl.workspace(c)
	if !ws.Store.Select(c.Param("id")) {
		c.AbortWithStatusJSON(http.StatusNotFound, response.Response{
			Msg: ErrSelectSession.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, response.Response{
		Data: response.StateResponse{State: ws.Store.Snapshot()},
	})
}

// CancelSession 用户离开对话页面时中止回答流
func (ctl *Controller) CancelSession(c *gin.Context) {
	ws := ctl.workspace(c)
	cancelled := ws.Orchestrator.Cancel(c.Param("id"))

	c.JSON(http.StatusOK, response.Response{
		Data: response.CancelResponse{Cancelled: cancelled},
	})
}

func (ctl *Controller) DeleteSession(c *gin.Context) {
	ws := ctl.workspace(c)
	sessionID := c.Param("id")
	if err := ws.Sessions.Delete(c.Request.Context(), sessionID); err != nil {
		utils.LoggerFromContext(c.Request.Context()).Error(ErrDeleteSession.Error(),
			"session_id", sessionID,
			"err", err,
		)
		c.AbortWithStatusJSON(statusOf(err), response.Response{
			Msg: ErrDeleteSession.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, response.Response{
		Data: response.StateResponse{State: ws.Store.Snapshot()},
	})
}

package controller

import (
	"context"
	"net/http"

	"ckd-chat-gateway/model"
	"ckd-chat-gateway/request"
	"ckd-chat-gateway/response"
	"ckd-chat-gateway/service/feed"
	"ckd-chat-gateway/service/naming"
	"ckd-chat-gateway/service/workspace"

	"github.com/gin-gonic/gin"
)

// AuthAPI 远端认证接口
type AuthAPI interface {
	Login(ctx context.Context, req request.UserLoginRequest) (model.User, error)
	LoginAnonymous(ctx context.Context) (model.User, error)
	Logout(ctx context.Context, userID string) error
}

type Controller struct {
	auth       AuthAPI
	workspaces *workspace.Registry
	hub        *feed.Hub
	names      *naming.Syncer
}

func New(auth AuthAPI, workspaces *workspace.Registry, hub *feed.Hub, names *naming.Syncer) *Controller {
	return &Controller{
		auth:       auth,
		workspaces: workspaces,
		hub:        hub,
		names:      names,
	}
}

func (ctl *Controller) Health(c *gin.Context) {
	resp := response.HealthResponse{
		Status:     "ok",
		Workspaces: ctl.workspaces.Len(),
		Streams:    ctl.workspaces.Stats(),
	}
	if ctl.hub != nil {
		resp.FeedClients = ctl.hub.Len()
	}
	if ctl.names != nil {
		resp.Naming = ctl.names.Stats()
	}
	c.JSON(http.StatusOK, response.Response{Data: resp})
}

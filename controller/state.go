package controller

import (
	"net/http"

	"ckd-chat-gateway/response"
	"ckd-chat-gateway/utils"

	"github.com/gin-gonic/gin"
)

// GetState 返回本地快照，不访问远端
func (ctl *Controller) GetState(c *gin.Context) {
	ws := ctl.workspace(c)
	c.JSON(http.StatusOK, response.Response{
		Data: response.StateResponse{State: ws.Store.Snapshot()},
	})
}

func (ctl *Controller) StateFeed(c *gin.Context) {
	ws := ctl.workspace(c)
	if err := ctl.hub.Serve(c.Writer, c.Request, ws.Store); err != nil {
		utils.LoggerFromContext(c.Request.Context()).Warn(ErrStateFeed.Error(), "err", err)
	}
}

package controller

import (
	"log/slog"
	"net/http"

	"ckd-chat-gateway/middleware"
	"ckd-chat-gateway/model"
	"ckd-chat-gateway/request"
	"ckd-chat-gateway/response"

	"github.com/gin-gonic/gin"
)

func (ctl *Controller) UserLogin(c *gin.Context) {
	var req request.UserLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Error(ErrParseRequest.Error(), "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, response.Response{
			Msg: ErrParseRequest.Error(),
		})
		return
	}

	user, err := ctl.auth.Login(c.Request.Context(), req)
	if err != nil {
		slog.Error(ErrUserLogin.Error(),
			"name", req.Name,
			"err", err,
		)
		c.AbortWithStatusJSON(http.StatusUnauthorized, response.Response{
			Msg: ErrUserLogin.Error(),
		})
		return
	}

	ctl.issueToken(c, user)
}

func (ctl *Controller) UserLoginAnonymous(c *gin.Context) {
	user, err := ctl.auth.LoginAnonymous(c.Request.Context())
	if err != nil {
		slog.Error(ErrUserLogin.Error(), "anonymous", true, "err", err)
		c.AbortWithStatusJSON(statusOf(err), response.Response{
			Msg: ErrUserLogin.Error(),
		})
		return
	}

	ctl.issueToken(c, user)
}

// UserLogout 本地工作区总是被销毁，远端登出失败只报告错误
func (ctl *Controller) UserLogout(c *gin.Context) {
	identity := middleware.Identity(c)
	ctl.workspaces.Close(identity.UserID)

	if err := ctl.auth.Logout(c.Request.Context(), identity.UserID); err != nil {
		slog.Error(ErrUserLogout.Error(),
			"user_id", identity.UserID,
			"err", err,
		)
		c.AbortWithStatusJSON(statusOf(err), response.Response{
			Msg: ErrUserLogout.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, response.Response{})
}

func (ctl *Controller) issueToken(c *gin.Context, user model.User) {
	token, err := middleware.GenerateToken(user)
	if err != nil {
		slog.Error(ErrGenerateToken.Error(),
			"user_id", user.ID,
			"err", err,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, response.Response{
			Msg: ErrGenerateToken.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, response.Response{
		Data: response.UserAuthResponse{
			User:  user,
			Token: token,
		},
	})
}

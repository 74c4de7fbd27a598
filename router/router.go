package router

import (
	"ckd-chat-gateway/controller"
	"ckd-chat-gateway/middleware"

	"github.com/gin-gonic/gin"
)

func Register(ctl *controller.Controller) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog())
	r.Use(middleware.CORSMiddleware())

	r.GET("/healthz", ctl.Health)

	api := r.Group("/api")
	{
		public := api.Group("/user")
		{
			public.POST("/login", ctl.UserLogin)
			public.POST("/login/anonymous", ctl.UserLoginAnonymous)
		}

		protected := api.Group("")
		protected.Use(middleware.AuthMiddleware())
		{
			protected.POST("/user/logout", ctl.UserLogout)

			protected.GET("/sessions", ctl.GetSessions)
			protected.GET("/state", ctl.GetState)

			protected.POST("/session", ctl.CreateSession)
			protected.GET("/session/:id", ctl.GetSession)
			protected.PUT("/session/:id/name", ctl.RenameSession)
			protected.PUT("/session/:id/select", ctl.SelectSession)
			protected.POST("/session/:id/cancel", ctl.CancelSession)
			protected.DELETE("/session/:id", ctl.DeleteSession)

			protected.POST("/chat", ctl.Chat)
		}

		feed := api.Group("/state")
		feed.Use(middleware.WebSocketAuthMiddleware())
		{
			feed.GET("/feed", ctl.StateFeed)
		}
	}

	return r
}

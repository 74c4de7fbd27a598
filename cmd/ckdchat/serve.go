package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"ckd-chat-gateway/config"
	"ckd-chat-gateway/controller"
	"ckd-chat-gateway/dao"
	"ckd-chat-gateway/router"
	"ckd-chat-gateway/service/chat"
	"ckd-chat-gateway/service/feed"
	"ckd-chat-gateway/service/naming"
	"ckd-chat-gateway/service/workspace"
	"ckd-chat-gateway/store"
	"ckd-chat-gateway/stream"
	"ckd-chat-gateway/utils"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chat gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.JWT.SecretKey == "" {
				return errors.New("jwt.secret_key is required to serve, generate one with `ckdchat secret`")
			}
			utils.SetupLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func newRemoteClient(cfg *config.Config) *dao.Client {
	return dao.NewClient(cfg.Remote.BaseURL,
		dao.WithHTTPClient(utils.NewHTTPClient(utils.WithTimeout(cfg.Remote.Timeout))),
		dao.WithReadAttempts(cfg.Remote.ReadAttempts),
	)
}

func chatOptions(cfg *config.Config, names chat.NameRegistrar) []chat.Option {
	opts := []chat.Option{
		chat.WithTexts(chat.Texts{
			Pending:        cfg.Chat.PendingText,
			FailureOutline: cfg.Chat.FailureOutline,
			FailureDetail:  cfg.Chat.FailureDetail,
		}),
		chat.WithNameLimit(cfg.Chat.NameLimit),
		chat.WithDecoderOptions(stream.WithMaxLineSize(cfg.Chat.MaxLineSize)),
	}
	if names != nil {
		opts = append(opts, chat.WithNameRegistrar(names))
	}
	return opts
}

func serve(ctx context.Context, cfg *config.Config) error {
	gin.SetMode(gin.ReleaseMode)

	client := newRemoteClient(cfg)
	syncer := naming.NewSyncer(client,
		naming.WithWorkerNum(cfg.Naming.Workers),
		naming.WithQueueSize(cfg.Naming.QueueSize),
	)
	registry := workspace.NewRegistry(client,
		workspace.WithChatOptions(chatOptions(cfg, syncer)...),
		workspace.WithStoreOptions(store.WithSubscriberBuffer(cfg.Chat.SubscriberQueue)),
	)
	hub := feed.NewHub(feed.WithCheckOrigin(func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(cfg.CORS.AllowOrigins, origin)
	}))

	ctl := controller.New(client, registry, hub, syncer)
	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router.Register(ctl),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Gateway listening", "addr", srv.Addr, "remote", cfg.Remote.BaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		syncer.Run(ctx)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("Shutting down gateway")

		// 先中止回答流和 websocket，SSE 与 feed 请求才能结束
		registry.CloseAll()
		hub.CloseAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

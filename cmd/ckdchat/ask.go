package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"ckd-chat-gateway/config"
	"ckd-chat-gateway/dao"
	"ckd-chat-gateway/model"
	"ckd-chat-gateway/request"
	"ckd-chat-gateway/service/chat"
	"ckd-chat-gateway/service/naming"
	"ckd-chat-gateway/service/session"
	"ckd-chat-gateway/service/workspace"
	"ckd-chat-gateway/store"
	"ckd-chat-gateway/utils"

	"github.com/spf13/cobra"
)

func newAskCmd() *cobra.Command {
	var (
		name      string
		doctor    string
		email     string
		anonymous bool
		sessionID string
		newThread bool
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask questions from the terminal, one per line when no argument is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			utils.SetupLogger(cmd.ErrOrStderr(), "warn", cfg.Log.Format)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			client := newRemoteClient(cfg)
			user, err := login(ctx, client, anonymous, request.UserLoginRequest{
				Name:         name,
				Doctor:       doctor,
				PatientEmail: email,
			})
			if err != nil {
				return err
			}
			defer client.Logout(context.Background(), user.ID)

			engine := startTerminalEngine(ctx, cfg, client, model.Identity{
				UserID:    user.ID,
				Doctor:    user.Doctor,
				Anonymous: user.Anonymous,
			})
			defer engine.Close()

			if _, err := engine.sessions.Load(ctx); err != nil {
				return err
			}
			switch {
			case newThread:
				if _, err := engine.sessions.Create(ctx); err != nil {
					return err
				}
			case sessionID != "":
				if !engine.store.Select(sessionID) {
					return fmt.Errorf("session %s not found", sessionID)
				}
			}

			current, _ := engine.store.Current()
			out := cmd.OutOrStdout()
			if len(args) > 0 {
				return engine.ask(ctx, current, strings.Join(args, " "), out)
			}

			scanner := bufio.NewScanner(cmd.InOrStdin())
			fmt.Fprint(out, "> ")
			for scanner.Scan() {
				if err := engine.ask(ctx, current, scanner.Text(), out); err != nil && !errors.Is(err, chat.ErrEmptyMessage) {
					return err
				}
				if ctx.Err() != nil {
					return nil
				}
				fmt.Fprint(out, "> ")
			}
			return scanner.Err()
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&name, "name", "", "patient name")
	flags.StringVar(&doctor, "doctor", "", "attending doctor")
	flags.StringVar(&email, "email", "", "patient email")
	flags.BoolVar(&anonymous, "anonymous", false, "log in anonymously")
	flags.StringVar(&sessionID, "session", "", "continue an existing session")
	flags.BoolVar(&newThread, "new", false, "start a new session")

	return cmd
}

func login(ctx context.Context, client *dao.Client, anonymous bool, req request.UserLoginRequest) (model.User, error) {
	if anonymous {
		return client.LoginAnonymous(ctx)
	}
	if req.Name == "" || req.Doctor == "" || req.PatientEmail == "" {
		return model.User{}, errors.New("--name, --doctor and --email are required unless --anonymous is set")
	}
	return client.Login(ctx, req)
}

// terminalEngine 终端客户端独占的一套会话引擎，首条消息的改名由后台 worker 同步给远端
type terminalEngine struct {
	store    *store.Store
	orch     *chat.Orchestrator
	sessions *session.Manager
	names    *naming.Syncer

	stopNames context.CancelFunc
	namesDone chan struct{}
}

func startTerminalEngine(ctx context.Context, cfg *config.Config, remote workspace.RemoteAPI, identity model.Identity) *terminalEngine {
	names := naming.NewSyncer(remote,
		naming.WithWorkerNum(1),
		naming.WithQueueSize(cfg.Naming.QueueSize),
	)
	s := store.New()
	orch := chat.NewOrchestrator(s, remote, chatOptions(cfg, names)...)

	e := &terminalEngine{
		store:     s,
		orch:      orch,
		sessions:  session.NewManager(s, remote, identity, session.WithCanceler(orch)),
		names:     names,
		namesDone: make(chan struct{}),
	}

	namesCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.stopNames = cancel
	go func() {
		defer close(e.namesDone)
		names.Run(namesCtx)
	}()
	return e
}

func (e *terminalEngine) ask(ctx context.Context, sessionID, question string, out io.Writer) error {
	return e.orch.Send(ctx, sessionID, question, &terminalHandler{out: out})
}

// Close 中止回答流，等待已入队的改名任务完成后销毁 store
func (e *terminalEngine) Close() {
	e.orch.CancelAll()
	e.stopNames()
	<-e.namesDone
	e.store.Close()
}

// terminalHandler 逐步打印摘要，结束后打印详细说明
type terminalHandler struct {
	chat.SimpleHandler

	out     io.Writer
	printed string
}

func (h *terminalHandler) HandleStatus(ctx context.Context, sessionID, status string) {
	fmt.Fprintf(h.out, "[%s]\n", status)
}

func (h *terminalHandler) HandleContent(ctx context.Context, sessionID string, content model.Content) {
	if strings.HasPrefix(content.Outline, h.printed) {
		fmt.Fprint(h.out, content.Outline[len(h.printed):])
		h.printed = content.Outline
	}
}

func (h *terminalHandler) HandleComplete(ctx context.Context, result chat.Result) {
	if result.Content.Outline != h.printed {
		if h.printed != "" {
			fmt.Fprintln(h.out)
		}
		fmt.Fprint(h.out, result.Content.Outline)
	}
	fmt.Fprintln(h.out)
	if detail := result.Content.Detail; detail != "" && detail != result.Content.Outline {
		fmt.Fprintf(h.out, "\n%s\n", detail)
	}
	if result.Outcome == chat.OutcomeCancelled {
		fmt.Fprintln(h.out, "(cancelled)")
	}
}

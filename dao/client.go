package dao

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ckd-chat-gateway/model"
	"ckd-chat-gateway/request"
	"ckd-chat-gateway/utils"

	"github.com/avast/retry-go/v4"
)

const (
	defaultReadAttempts = 3
	defaultRetryDelay   = 200 * time.Millisecond

	// 错误响应体只保留前 maxErrorBody 字节用于诊断
	maxErrorBody = 4 << 10
)

// ErrDecodeResponse 响应体不是预期的 JSON，重试不会得到不同的结果
var ErrDecodeResponse = errors.New("failed to decode response")

// StatusError 远端返回非 2xx 状态码
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote returned status %d: %s", e.StatusCode, e.Body)
}

// Client 远端问答服务的 HTTP 客户端
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	readAttempts uint
	retryDelay   time.Duration
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithStreamClient 流式接口使用的客户端，不应设置整体超时
func WithStreamClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		if c != nil {
			cl.streamClient = c
		}
	}
}

func WithReadAttempts(n uint) ClientOption {
	return func(cl *Client) {
		if n > 0 {
			cl.readAttempts = n
		}
	}
}

func WithRetryDelay(d time.Duration) ClientOption {
	return func(cl *Client) {
		cl.retryDelay = d
	}
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   utils.DefaultHTTPClient(),
		streamClient: utils.NewHTTPClient(utils.WithTimeout(0)),
		readAttempts: defaultReadAttempts,
		retryDelay:   defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListSessions 按用户与医师查询会话列表
func (c *Client) ListSessions(ctx context.Context, userID, doctor string) ([]model.Session, error) {
	var sessions []model.Session
	err := c.retryRead(ctx, "list_sessions", func() error {
		sessions = nil
		return c.doJSON(ctx, http.MethodGet, "/api/sessions", identityQuery(userID, doctor), nil, &sessions)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	return sessions, nil
}

func (c *Client) CreateSession(ctx context.Context, userID, doctor string) (model.Session, error) {
	var resp struct {
		Session model.Session `json:"session"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/sessions", identityQuery(userID, doctor), nil, &resp); err != nil {
		return model.Session{}, fmt.Errorf("failed to create session: %w", err)
	}
	if resp.Session.ID == "" {
		return model.Session{}, errors.New("failed to create session: response carries no session id")
	}
	return resp.Session, nil
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (model.Session, error) {
	var sess model.Session
	err := c.retryRead(ctx, "get_session", func() error {
		sess = model.Session{}
		return c.doJSON(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(sessionID), nil, nil, &sess)
	})
	if err != nil {
		return model.Session{}, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	return sess, nil
}

func (c *Client) UpdateSessionName(ctx context.Context, sessionID, name string) error {
	body := map[string]string{"name": name}
	if err := c.doJSON(ctx, http.MethodPut, "/api/sessions/"+url.PathEscape(sessionID), nil, body, nil); err != nil {
		return fmt.Errorf("failed to update session name: %w", err)
	}
	return nil
}

func (c *Client) DeleteSession(ctx context.Context, sessionID, userID string) error {
	query := url.Values{"user_id": {userID}}
	if err := c.doJSON(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(sessionID), query, nil, nil); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// OpenStream 打开回答流，调用方负责关闭返回的 body。
// 连接失败或非 2xx 响应在读取任何事件之前返回错误。
func (c *Client) OpenStream(ctx context.Context, sessionID, message string) (io.ReadCloser, error) {
	payload, err := json.Marshal(map[string]string{
		"session_id": sessionID,
		"message":    message,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat/message/stream", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	return resp.Body, nil
}

type loginResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	User    *model.User `json:"user"`
}

func (c *Client) Login(ctx context.Context, req request.UserLoginRequest) (model.User, error) {
	var resp loginResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", nil, req, &resp); err != nil {
		return model.User{}, fmt.Errorf("failed to login: %w", err)
	}
	return resp.user()
}

func (c *Client) LoginAnonymous(ctx context.Context) (model.User, error) {
	var resp loginResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/login/anonymous", nil, struct{}{}, &resp); err != nil {
		return model.User{}, fmt.Errorf("failed to login anonymously: %w", err)
	}
	user, err := resp.user()
	if err != nil {
		return model.User{}, err
	}
	user.Anonymous = true
	return user, nil
}

func (c *Client) Logout(ctx context.Context, userID string) error {
	query := url.Values{"user_id": {userID}}
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/logout", query, nil, nil); err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}
	return nil
}

func (r loginResponse) user() (model.User, error) {
	if !r.Success || r.User == nil || r.User.ID == "" {
		return model.User{}, fmt.Errorf("login rejected: %s", r.Message)
	}
	return *r.User, nil
}

// retryRead 仅用于幂等的读取接口
func (c *Client) retryRead(ctx context.Context, op string, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(c.readAttempts),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("Retrying remote read",
				"op", op,
				"attempt", n+1,
				"err", err)
		}),
	)
}

// 客户端错误重试没有意义
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrDecodeResponse) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= http.StatusInternalServerError ||
			statusErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %w", ErrDecodeResponse, err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

func identityQuery(userID, doctor string) url.Values {
	query := url.Values{"user_id": {userID}}
	if doctor != "" {
		query.Set("doctor", doctor)
	}
	return query
}

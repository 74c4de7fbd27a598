package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ckd-chat-gateway/config"
	"ckd-chat-gateway/model"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ContextKeyUserID    = "user_id"
	ContextKeyDoctor    = "doctor"
	ContextKeyAnonymous = "anonymous"
)

var ErrMissingSecret = errors.New("jwt secret is not configured")

type Claims struct {
	UserID    string `json:"user_id"`
	Doctor    string `json:"doctor"`
	Anonymous bool   `json:"anonymous,omitempty"`
	jwt.RegisteredClaims
}

func GenerateToken(user model.User) (string, error) {
	secret := config.Cfg.JWT.SecretKey
	if secret == "" {
		return "", ErrMissingSecret
	}

	now := time.Now()
	claims := Claims{
		UserID:    user.ID,
		Doctor:    user.Doctor,
		Anonymous: user.Anonymous,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(config.Cfg.JWT.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

const (
	QueryAccessToken = "access_token"

	// WebSocketTokenProtocol 浏览器以子协议 ["bearer", token] 携带 token
	WebSocketTokenProtocol = "bearer"
)

var errAuthFormat = errors.New("invalid authorization format")

// tokenSource 从请求中取出 token，请求未携带时返回空串
type tokenSource func(c *gin.Context) (string, error)

func AuthMiddleware() gin.HandlerFunc {
	return authenticate(headerToken)
}

// WebSocketAuthMiddleware 浏览器的 WebSocket 无法设置请求头，
// 此时从 access_token 查询参数或 Sec-WebSocket-Protocol 中取 token
func WebSocketAuthMiddleware() gin.HandlerFunc {
	return authenticate(headerToken, queryToken, protocolToken)
}

func authenticate(sources ...tokenSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		var raw string
		for _, source := range sources {
			token, err := source(c)
			if err != nil {
				slog.Info("Invalid authorization format", "err", err)
				c.AbortWithStatus(http.StatusUnauthorized)
				return
			}
			if token != "" {
				raw = token
				break
			}
		}
		if raw == "" {
			slog.Info("Authorization header required")
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
			return []byte(config.Cfg.JWT.SecretKey), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

		if err != nil || !token.Valid || claims.UserID == "" {
			slog.Info("Invalid token", "err", err, "user_id", claims.UserID)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyDoctor, claims.Doctor)
		c.Set(ContextKeyAnonymous, claims.Anonymous)
		c.Next()
	}
}

func headerToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", nil
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errAuthFormat
	}
	return parts[1], nil
}

func queryToken(c *gin.Context) (string, error) {
	return c.Query(QueryAccessToken), nil
}

func protocolToken(c *gin.Context) (string, error) {
	header := c.GetHeader("Sec-WebSocket-Protocol")
	if header == "" {
		return "", nil
	}
	var protocols []string
	for _, p := range strings.Split(header, ",") {
		protocols = append(protocols, strings.TrimSpace(p))
	}
	for i, p := range protocols {
		if p == WebSocketTokenProtocol && i+1 < len(protocols) {
			return protocols[i+1], nil
		}
	}
	return "", nil
}

// Identity 认证中间件写入的身份
func Identity(c *gin.Context) model.Identity {
	return model.Identity{
		UserID:    c.GetString(ContextKeyUserID),
		Doctor:    c.GetString(ContextKeyDoctor),
		Anonymous: c.GetBool(ContextKeyAnonymous),
	}
}

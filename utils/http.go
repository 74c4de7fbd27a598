package utils

import (
	"net"
	"net/http"
	"time"
)

const (
	defaultTimeout             = 30 * time.Second
	defaultDialTimeout         = 10 * time.Second
	defaultIdleConnTimeout     = 90 * time.Second
	defaultMaxIdleConnsPerHost = 16
)

type HTTPClientOption func(*http.Client)

// WithTimeout 设置整个请求的超时时间，0 表示不限制（流式响应使用）
func WithTimeout(timeout time.Duration) HTTPClientOption {
	return func(c *http.Client) {
		c.Timeout = timeout
	}
}

func WithTransport(transport http.RoundTripper) HTTPClientOption {
	return func(c *http.Client) {
		if transport != nil {
			c.Transport = transport
		}
	}
}

func NewHTTPClient(opts ...HTTPClientOption) *http.Client {
	c := &http.Client{
		Timeout: defaultTimeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   defaultDialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
			IdleConnTimeout:       defaultIdleConnTimeout,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func DefaultHTTPClient() *http.Client {
	return NewHTTPClient()
}

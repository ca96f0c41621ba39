package server

import (
	"net"
	"net/http"
	"time"

	"github.com/any-hub/modhost/internal/config"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewUpstreamClient 返回模块 API 调用共享的 http.Client，超时取 APITimeout。
func NewUpstreamClient(cfg *config.Config) *http.Client {
	timeout := 30 * time.Second
	if cfg != nil && cfg.Global.APITimeout.DurationValue() > 0 {
		timeout = cfg.Global.APITimeout.DurationValue()
	}
	return newClient(timeout)
}

// NewBundleClient 返回拉取模块清单的 http.Client，超时取 BundleTimeout。
func NewBundleClient(cfg *config.Config) *http.Client {
	timeout := 10 * time.Second
	if cfg != nil && cfg.Global.BundleTimeout.DurationValue() > 0 {
		timeout = cfg.Global.BundleTimeout.DurationValue()
	}
	return newClient(timeout)
}

func newClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
	}
}

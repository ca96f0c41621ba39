// Package apiproxy 为单个模块封装对其声明 endpoint 的 HTTP 调用，并按需缓存成功结果。
package apiproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/modhost/internal/cache"
	"github.com/any-hub/modhost/internal/logging"
)

// maxErrorBody 限制错误响应中保留的正文长度。
const maxErrorBody = 4 << 10

// Doer 是发出 HTTP 请求的最小能力，*http.Client 即满足。
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Proxy 绑定模块的 endpoint 映射、共享 HTTP 客户端与独享缓存。
type Proxy struct {
	moduleID  string
	endpoints map[string]string
	client    Doer
	cache     cache.Store
	logger    *logrus.Logger
}

// New 创建 Proxy。client 为空时退回 http.DefaultClient，logger 可为空。
func New(moduleID string, endpoints map[string]string, client Doer, logger *logrus.Logger) *Proxy {
	if client == nil {
		client = http.DefaultClient
	}
	copied := make(map[string]string, len(endpoints))
	for name, url := range endpoints {
		copied[name] = url
	}
	return &Proxy{
		moduleID:  moduleID,
		endpoints: copied,
		client:    client,
		cache:     cache.NewMemoryStore(),
		logger:    logger,
	}
}

// Endpoints 返回已声明的 endpoint 名称，按字母序排列。
func (p *Proxy) Endpoints() []string {
	names := make([]string, 0, len(p.endpoints))
	for name := range p.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call 调用 endpoint。params 为空时发 GET，否则以 JSON 正文发 POST。
// useCache 为 true 时优先返回同一 (endpoint, params) 的缓存结果，并在成功后写入缓存。
func (p *Proxy) Call(ctx context.Context, endpoint string, params map[string]any, useCache bool) (any, error) {
	target, ok := p.endpoints[endpoint]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEndpoint, endpoint)
	}

	var locator cache.Locator
	if useCache {
		serialized, err := serializeParams(params)
		if err != nil {
			return nil, err
		}
		locator = cache.Locator{Endpoint: endpoint, Params: serialized}
		payload, hit, err := p.cached(endpoint, locator)
		if err != nil {
			return nil, err
		}
		if hit {
			return payload, nil
		}
	}

	raw, contentType, err := p.do(ctx, endpoint, target, params)
	if err != nil {
		p.log(endpoint, false).WithError(err).Warn("api_call_failed")
		return nil, err
	}
	payload, err := decodeBody(contentType, raw)
	if err != nil {
		p.log(endpoint, false).WithError(err).Warn("api_call_failed")
		return nil, err
	}
	if useCache {
		p.cache.Put(locator, raw, contentType)
	}
	p.log(endpoint, false).Debug("api_call_completed")
	return payload, nil
}

// cached 每次命中都重新解码正文，调用方拿到的是独立的值；无法解码的条目会被移除并按未命中处理。
func (p *Proxy) cached(endpoint string, locator cache.Locator) (any, bool, error) {
	entry, err := p.cache.Get(locator)
	switch {
	case errors.Is(err, cache.ErrNotFound):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}

	payload, err := decodeBody(entry.ContentType, entry.Body)
	if err != nil {
		p.cache.Remove(locator)
		p.log(endpoint, true).WithError(err).Warn("api_cache_evicted")
		return nil, false, nil
	}
	p.log(endpoint, true).Debug("api_cache_hit")
	return payload, true, nil
}

// ClearCache 清理缓存；endpoint 为空时全部清除，返回删除的条目数。
func (p *Proxy) ClearCache(endpoint string) int {
	removed := p.cache.Purge(strings.TrimSpace(endpoint))
	if p.logger != nil {
		fields := logging.ModuleFields(p.moduleID, "api_cache_clear")
		fields["endpoint"] = endpoint
		fields["removed"] = removed
		p.logger.WithFields(fields).Debug("api cache cleared")
	}
	return removed
}

// CacheSize 返回当前缓存条目数。
func (p *Proxy) CacheSize() int {
	return p.cache.Len()
}

// do 发出请求并返回成功响应的原始正文与 Content-Type。
func (p *Proxy) do(ctx context.Context, endpoint, target string, params map[string]any) ([]byte, string, error) {
	method := http.MethodGet
	var body io.Reader
	if len(params) > 0 {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, "", fmt.Errorf("encode params for %s: %w", endpoint, err)
		}
		method = http.MethodPost
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, "", &TransportError{Endpoint: endpoint, URL: target, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", &TransportError{Endpoint: endpoint, URL: target, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", &TransportError{Endpoint: endpoint, URL: target, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := raw
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, "", &TransportError{
			Endpoint: endpoint,
			URL:      target,
			Status:   resp.StatusCode,
			Body:     string(snippet),
			Err:      fmt.Errorf("status %d", resp.StatusCode),
		}
	}
	return raw, resp.Header.Get("Content-Type"), nil
}

func decodeBody(contentType string, raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if strings.Contains(contentType, "json") || json.Valid(trimmed) {
		var out any
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return out, nil
	}
	return string(raw), nil
}

// serializeParams 依赖 encoding/json 对 map 键排序，保证同一参数集得到同一缓存键。
func serializeParams(params map[string]any) (string, error) {
	if len(params) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("serialize params: %w", err)
	}
	return string(raw), nil
}

func (p *Proxy) log(endpoint string, cacheHit bool) *logrus.Entry {
	logger := p.logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	fields := logging.ModuleFields(p.moduleID, "api_call")
	fields["endpoint"] = endpoint
	fields["cache_hit"] = cacheHit
	return logger.WithFields(fields)
}

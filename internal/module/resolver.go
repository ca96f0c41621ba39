package module

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BuiltinScheme 是注册表内置模块的定位前缀，例如 builtin:listing。
const BuiltinScheme = "builtin"

// ErrDefinitionNotFound 表示定位符无法解析到任何已注册定义。
var ErrDefinitionNotFound = errors.New("module definition not found")

// Resolver 将 Descriptor.Source 解析为可实例化的 Definition。
type Resolver interface {
	Resolve(ctx context.Context, locator string) (Definition, error)
}

// ResolverFunc 将普通函数适配为 Resolver。
type ResolverFunc func(ctx context.Context, locator string) (Definition, error)

// Resolve 使 ResolverFunc 满足 Resolver。
func (f ResolverFunc) Resolve(ctx context.Context, locator string) (Definition, error) {
	return f(ctx, locator)
}

// BuiltinLocator 返回内置模块 key 对应的定位符。
func BuiltinLocator(key string) string {
	return BuiltinScheme + ":" + normalizeKey(key)
}

// RegistryResolver 在全局定义注册表中查找 builtin:<key> 或裸 key。
type RegistryResolver struct{}

// Resolve 实现 Resolver。
func (RegistryResolver) Resolve(_ context.Context, locator string) (Definition, error) {
	def, ok := Lookup(builtinKey(locator))
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrDefinitionNotFound, locator)
	}
	return def, nil
}

// builtinKey 去掉不区分大小写的 builtin: 前缀，裸 key 原样返回。
func builtinKey(locator string) string {
	trimmed := strings.TrimSpace(locator)
	prefix := BuiltinScheme + ":"
	if len(trimmed) >= len(prefix) && strings.EqualFold(trimmed[:len(prefix)], prefix) {
		return trimmed[len(prefix):]
	}
	return trimmed
}

// Manifest 是远程/本地模块清单的格式：指向一个内置定义并附带静态选项。
type Manifest struct {
	Module      string         `json:"module"`
	Description string         `json:"description,omitempty"`
	Options     map[string]any `json:"options,omitempty"`
}

// HTTPDoer 是清单拉取所需的最小 HTTP 能力。
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// ManifestResolver 拉取 http(s):// 或 file:// 清单并映射为注册表中的定义。
// HTTP 拉取在传输错误或 5xx 时按指数退避重试，4xx 立即失败。
type ManifestResolver struct {
	Client         HTTPDoer
	MaxRetries     uint64
	InitialBackoff time.Duration
	// Registry 用于查找清单引用的定义，为空时使用 RegistryResolver。
	Registry Resolver
}

// Resolve 实现 Resolver。
func (r ManifestResolver) Resolve(ctx context.Context, locator string) (Definition, error) {
	parsed, err := url.Parse(strings.TrimSpace(locator))
	if err != nil {
		return Definition{}, fmt.Errorf("parse module locator %q: %w", locator, err)
	}

	var raw []byte
	switch parsed.Scheme {
	case "http", "https":
		raw, err = r.fetch(ctx, parsed.String())
	case "file":
		raw, err = os.ReadFile(manifestPath(parsed))
	default:
		return Definition{}, fmt.Errorf("unsupported manifest scheme %q", parsed.Scheme)
	}
	if err != nil {
		return Definition{}, fmt.Errorf("load manifest %s: %w", locator, err)
	}

	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return Definition{}, fmt.Errorf("decode manifest %s: %w", locator, err)
	}
	if strings.TrimSpace(manifest.Module) == "" {
		return Definition{}, fmt.Errorf("manifest %s: module field is required", locator)
	}

	registry := r.Registry
	if registry == nil {
		registry = RegistryResolver{}
	}
	def, err := registry.Resolve(ctx, manifest.Module)
	if err != nil {
		return Definition{}, err
	}
	if manifest.Description != "" {
		def.Description = manifest.Description
	}
	return def.WithOptions(manifest.Options), nil
}

func (r ManifestResolver) fetch(ctx context.Context, target string) ([]byte, error) {
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}

	policy := backoff.NewExponentialBackOff()
	if r.InitialBackoff > 0 {
		policy.InitialInterval = r.InitialBackoff
	}
	strategy := backoff.WithContext(backoff.WithMaxRetries(policy, r.MaxRetries), ctx)

	return backoff.RetryWithData(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		switch {
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("manifest status %d", resp.StatusCode)
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			return nil, backoff.Permanent(fmt.Errorf("manifest status %d", resp.StatusCode))
		}
		return body, nil
	}, strategy)
}

func manifestPath(u *url.URL) string {
	if u.Opaque != "" {
		return u.Opaque
	}
	if u.Host != "" && u.Host != "localhost" {
		return u.Host + u.Path
	}
	return u.Path
}

// SchemeResolver 按定位符的 scheme 分派：builtin/空 → Builtin，其它 → Manifest。
type SchemeResolver struct {
	Builtin  Resolver
	Manifest Resolver
}

// NewDefaultResolver 组合注册表与清单解析器，供 loader 默认使用。
func NewDefaultResolver(client HTTPDoer, maxRetries uint64, initialBackoff time.Duration) SchemeResolver {
	return SchemeResolver{
		Builtin: RegistryResolver{},
		Manifest: ManifestResolver{
			Client:         client,
			MaxRetries:     maxRetries,
			InitialBackoff: initialBackoff,
		},
	}
}

// Resolve 实现 Resolver。
func (r SchemeResolver) Resolve(ctx context.Context, locator string) (Definition, error) {
	trimmed := strings.TrimSpace(locator)
	scheme := ""
	if idx := strings.Index(trimmed, ":"); idx > 0 {
		scheme = strings.ToLower(trimmed[:idx])
	}
	switch scheme {
	case "", BuiltinScheme:
		if r.Builtin == nil {
			return Definition{}, fmt.Errorf("%w: no builtin resolver for %s", ErrDefinitionNotFound, locator)
		}
		return r.Builtin.Resolve(ctx, trimmed)
	case "http", "https", "file":
		if r.Manifest == nil {
			return Definition{}, fmt.Errorf("%w: no manifest resolver for %s", ErrDefinitionNotFound, locator)
		}
		return r.Manifest.Resolve(ctx, trimmed)
	default:
		return Definition{}, fmt.Errorf("%w: unsupported locator scheme %q", ErrDefinitionNotFound, scheme)
	}
}

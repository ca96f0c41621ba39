package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/modhost/internal/module"
)

var supportedSourceSchemes = map[string]struct{}{
	module.BuiltinScheme: {},
	"http":               {},
	"https":              {},
	"file":               {},
}

const supportedSourceSchemeList = "builtin|http|https|file"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.LogLevel != "" {
		if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
			return newFieldError("Global.LogLevel", "无法识别的日志级别")
		}
	}
	if strings.TrimSpace(g.SurfaceID) == "" {
		return newFieldError("Global.SurfaceID", "不能为空")
	}
	if g.APITimeout.DurationValue() <= 0 {
		return newFieldError("Global.APITimeout", "必须大于 0")
	}
	if g.BundleTimeout.DurationValue() <= 0 {
		return newFieldError("Global.BundleTimeout", "必须大于 0")
	}
	if g.BundleMaxRetries < 0 {
		return newFieldError("Global.BundleMaxRetries", "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("Global.InitialBackoff", "必须大于 0")
	}

	if len(c.Modules) == 0 {
		return errors.New("至少需要配置一个 Module")
	}

	seenIDs := map[string]struct{}{}
	autoLoaded := map[string]string{}
	for i := range c.Modules {
		m := &c.Modules[i]
		if m.ID == "" {
			return newFieldError("Module[].ID", "不能为空")
		}
		if strings.ContainsAny(m.ID, " /") {
			return newFieldError(moduleField(m.ID, "ID"), "不允许包含空格或斜杠")
		}
		if _, exists := seenIDs[m.ID]; exists {
			return newFieldError(moduleField(m.ID, "ID"), "重复")
		}
		seenIDs[m.ID] = struct{}{}

		if err := validateSource(m.ID, m.Source); err != nil {
			return err
		}
		for name, raw := range m.APIEndpoints {
			if err := validateEndpoint(raw); err != nil {
				return fmt.Errorf("%s: %w", moduleField(m.ID, "APIEndpoints."+name), err)
			}
		}

		if m.AutoLoad {
			if prev, exists := autoLoaded[m.Surface]; exists {
				return newFieldError(moduleField(m.ID, "AutoLoad"), fmt.Sprintf("展示面 %s 已由 %s 自动加载", m.Surface, prev))
			}
			autoLoaded[m.Surface] = m.ID
		}
	}

	return nil
}

// validateSource 校验模块来源。为空时按 builtin:<ID> 处理，要求对应内置定义存在。
func validateSource(id, source string) error {
	if source == "" {
		if _, ok := module.Lookup(id); !ok {
			return newFieldError(moduleField(id, "Source"), fmt.Sprintf("未指定来源且不存在内置模块: %s", id))
		}
		return nil
	}

	parsed, err := url.Parse(source)
	if err != nil {
		return fmt.Errorf("%s: %w", moduleField(id, "Source"), err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if _, ok := supportedSourceSchemes[scheme]; !ok {
		return newFieldError(moduleField(id, "Source"), "仅支持 "+supportedSourceSchemeList)
	}

	switch scheme {
	case module.BuiltinScheme:
		key := parsed.Opaque
		if key == "" {
			return newFieldError(moduleField(id, "Source"), "builtin 来源缺少模块 key")
		}
		if _, ok := module.Lookup(key); !ok {
			return newFieldError(moduleField(id, "Source"), fmt.Sprintf("未注册模块: %s", key))
		}
	case "http", "https":
		if parsed.Host == "" {
			return newFieldError(moduleField(id, "Source"), "缺少 Host")
		}
	case "file":
		if parsed.Path == "" && parsed.Opaque == "" {
			return newFieldError(moduleField(id, "Source"), "file 来源缺少路径")
		}
	}
	return nil
}

func validateEndpoint(raw string) error {
	if raw == "" {
		return errors.New("缺少 endpoint 地址")
	}
	parsed, err := url.ParseRequestURI(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，endpoint: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("endpoint 缺少 Host: %s", raw)
	}
	return nil
}

package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/any-hub/modhost/internal/module"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述宿主进程的全局运行参数。
type GlobalConfig struct {
	ListenPort       int      `mapstructure:"ListenPort"`
	LogLevel         string   `mapstructure:"LogLevel"`
	LogFilePath      string   `mapstructure:"LogFilePath"`
	LogMaxSize       int      `mapstructure:"LogMaxSize"`
	LogMaxBackups    int      `mapstructure:"LogMaxBackups"`
	LogCompress      bool     `mapstructure:"LogCompress"`
	SurfaceID        string   `mapstructure:"SurfaceID"`
	APITimeout       Duration `mapstructure:"APITimeout"`
	BundleTimeout    Duration `mapstructure:"BundleTimeout"`
	BundleMaxRetries int      `mapstructure:"BundleMaxRetries"`
	InitialBackoff   Duration `mapstructure:"InitialBackoff"`
}

// ModuleConfig 对应一个 [[Module]] 表，启动时转换为模块描述符。
type ModuleConfig struct {
	ID           string            `mapstructure:"ID"`
	Title        string            `mapstructure:"Title"`
	Description  string            `mapstructure:"Description"`
	Source       string            `mapstructure:"Source"`
	Surface      string            `mapstructure:"Surface"`
	AutoLoad     bool              `mapstructure:"AutoLoad"`
	APIEndpoints map[string]string `mapstructure:"APIEndpoints"`
	InitialData  map[string]any    `mapstructure:"InitialData"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global  GlobalConfig   `mapstructure:",squash"`
	Modules []ModuleConfig `mapstructure:"Module"`
}

// ToDescriptor 将配置转换为 loader 使用的描述符。
func (m ModuleConfig) ToDescriptor() module.Descriptor {
	desc := module.Descriptor{
		ID:           m.ID,
		Title:        m.Title,
		Description:  m.Description,
		Source:       m.Source,
		APIEndpoints: m.APIEndpoints,
		InitialData:  m.InitialData,
	}
	if desc.Title == "" {
		desc.Title = m.ID
	}
	return desc.Clone()
}

// Descriptors 按配置顺序返回全部模块描述符。
func (c *Config) Descriptors() []module.Descriptor {
	out := make([]module.Descriptor, 0, len(c.Modules))
	for _, m := range c.Modules {
		out = append(out, m.ToDescriptor())
	}
	return out
}

// AutoLoadModules 返回需要在启动时激活的模块。
func (c *Config) AutoLoadModules() []ModuleConfig {
	var out []ModuleConfig
	for _, m := range c.Modules {
		if m.AutoLoad {
			out = append(out, m)
		}
	}
	return out
}

// ModuleIDs 返回模块 ID 摘要，供启动日志使用。
func ModuleIDs(modules []ModuleConfig) []string {
	if len(modules) == 0 {
		return nil
	}
	result := make([]string, len(modules))
	for i, m := range modules {
		result[i] = fmt.Sprintf("%s:%s", m.ID, m.Surface)
	}
	return result
}

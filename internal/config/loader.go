package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// DefaultSurfaceID 是未配置 SurfaceID 时模块挂载的展示面。
const DefaultSurfaceID = "main"

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	if err := rejectModuleLevelTimeouts(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := restoreModuleKeyCase(path, &cfg); err != nil {
		return nil, err
	}

	applyGlobalDefaults(&cfg.Global)
	for i := range cfg.Modules {
		applyModuleDefaults(&cfg.Modules[i], cfg.Global)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("SurfaceID", DefaultSurfaceID)
	v.SetDefault("APITimeout", "30s")
	v.SetDefault("BundleTimeout", "10s")
	v.SetDefault("BundleMaxRetries", 3)
	v.SetDefault("InitialBackoff", "500ms")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if strings.TrimSpace(g.SurfaceID) == "" {
		g.SurfaceID = DefaultSurfaceID
	}
	if g.APITimeout.DurationValue() == 0 {
		g.APITimeout = Duration(30 * time.Second)
	}
	if g.BundleTimeout.DurationValue() == 0 {
		g.BundleTimeout = Duration(10 * time.Second)
	}
	if g.InitialBackoff.DurationValue() == 0 {
		g.InitialBackoff = Duration(500 * time.Millisecond)
	}
}

func applyModuleDefaults(m *ModuleConfig, g GlobalConfig) {
	m.ID = strings.TrimSpace(m.ID)
	m.Source = strings.TrimSpace(m.Source)
	if strings.TrimSpace(m.Surface) == "" {
		m.Surface = g.SurfaceID
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

// rejectModuleLevelTimeouts 拒绝模块表内的超时字段，超时只能在全局配置。
func rejectModuleLevelTimeouts(v *viper.Viper) error {
	raw := v.Get("Module")
	modules, ok := raw.([]interface{})
	if !ok {
		return nil
	}

	for idx, entry := range modules {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		for _, key := range []string{"APITimeout", "Timeout"} {
			if _, exists := lookupFold(m, key); exists {
				id := fmt.Sprintf("#%d", idx)
				if rawID, ok := lookupFold(m, "ID"); ok {
					if s, ok := rawID.(string); ok && s != "" {
						id = s
					}
				}
				return newFieldError(moduleField(id, key), "模块级超时不受支持，请使用全局 APITimeout")
			}
		}
	}

	return nil
}

// lookupFold 忽略大小写查找键，viper 读取后的键已被统一转为小写。
func lookupFold(m map[string]interface{}, key string) (interface{}, bool) {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

// rawModules 只承载需要保留原始大小写的模块字段。
type rawModules struct {
	Module []struct {
		APIEndpoints map[string]string `toml:"APIEndpoints"`
		InitialData  map[string]any    `toml:"InitialData"`
	} `toml:"Module"`
}

// restoreModuleKeyCase 用原始 TOML 覆盖 APIEndpoints/InitialData，viper 会把这些 map 的键转为小写，
// 而 endpoint 名称与数据键对模块是区分大小写的。
func restoreModuleKeyCase(path string, cfg *Config) error {
	if !strings.EqualFold(filepath.Ext(path), ".toml") {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("读取配置失败: %w", err)
	}
	var parsed rawModules
	if err := toml.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("解析配置失败: %w", err)
	}
	if len(parsed.Module) != len(cfg.Modules) {
		return nil
	}
	for i, m := range parsed.Module {
		if m.APIEndpoints != nil {
			cfg.Modules[i].APIEndpoints = m.APIEndpoints
		}
		if m.InitialData != nil {
			cfg.Modules[i].InitialData = m.InitialData
		}
	}
	return nil
}

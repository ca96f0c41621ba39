package config

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadFailsWithMissingFields(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺失字段的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
APITimeout = "boom"

[[Module]]
ID = "orders"
Source = "builtin:listing"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadAcceptsNumericDurations(t *testing.T) {
	cfg := `
APITimeout = 12
InitialBackoff = "0.25"

[[Module]]
ID = "orders"
Source = "builtin:listing"
`
	loaded, err := Load(writeTempConfig(t, cfg))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if got := loaded.Global.APITimeout.DurationValue(); got != 12*time.Second {
		t.Fatalf("纯数字应按秒解析, got %s", got)
	}
	if got := loaded.Global.InitialBackoff.DurationValue(); got != 250*time.Millisecond {
		t.Fatalf("小数秒解析错误, got %s", got)
	}
}

func TestLoadRejectsModuleLevelTimeout(t *testing.T) {
	cfg := `
[[Module]]
ID = "orders"
Source = "builtin:listing"
APITimeout = "1s"
`
	_, err := Load(writeTempConfig(t, cfg))
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) {
		t.Fatalf("期望 FieldError, got %v", err)
	}
	if fieldErr.Field != "Module[orders].APITimeout" {
		t.Fatalf("字段路径错误: %s", fieldErr.Field)
	}
}

func TestLoadPreservesMapKeyCase(t *testing.T) {
	loaded, err := Load(testConfigPath(t, "valid.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	want := map[string]string{
		"list":         "https://api.example.com/orders",
		"getItemsByID": "https://api.example.com/orders/by-id",
	}
	if diff := cmp.Diff(want, loaded.Modules[0].APIEndpoints); diff != "" {
		t.Fatalf("APIEndpoints mismatch (-want +got):\n%s", diff)
	}
	if _, ok := loaded.Modules[0].InitialData["pageSize"]; !ok {
		t.Fatalf("InitialData 键应保持原始大小写: %v", loaded.Modules[0].InitialData)
	}
}

// Package listing 提供通用列表模块：挂载时调用声明的列表 endpoint 并逐行渲染结果，
// 支持宿主推送新数据后实时重绘。
package listing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/any-hub/modhost/internal/module"
	"github.com/any-hub/modhost/internal/store"
)

// Key 是列表模块在定义注册表中的键。
const Key = "listing"

const (
	defaultEndpoint = "list"
	actionLoaded    = "items-loaded"
)

func init() {
	module.MustRegister(module.Definition{
		Key:         Key,
		Description: "Generic list module backed by a declared list endpoint",
		Factory:     New,
		Options: map[string]any{
			"endpoint": defaultEndpoint,
			"useCache": true,
		},
	})
}

type instance struct {
	target module.Target
	props  module.Props

	mu    sync.Mutex
	items []any
	data  map[string]any
}

// New 是列表模块的 Factory。
func New(ctx context.Context, target module.Target, props module.Props) (module.Instance, error) {
	inst := &instance{
		target: target,
		props:  props,
		data:   props.Data,
	}

	endpoint := stringOption(props.Options, "endpoint", defaultEndpoint)
	if _, declared := props.APIEndpoints[endpoint]; declared && props.API != nil {
		payload, err := props.API.CallAPI(ctx, endpoint, queryParams(props.Data), boolOption(props.Options, "useCache", true))
		if err != nil {
			return nil, fmt.Errorf("load %s items: %w", endpoint, err)
		}
		inst.items = extractItems(payload)
	}

	inst.render()

	if props.Store != nil {
		_ = props.Store.Dispatch(store.Action{
			Type:    actionLoaded,
			Payload: map[string]any{"itemCount": len(inst.items)},
		})
	}
	if props.OnAction != nil {
		props.OnAction(map[string]any{"type": actionLoaded, "count": len(inst.items)})
	}
	return inst, nil
}

// UpdateProps 接收宿主推送的数据并重绘。
func (i *instance) UpdateProps(_ context.Context, data map[string]any) error {
	i.mu.Lock()
	i.data = data
	i.mu.Unlock()
	i.render()
	return nil
}

// Destroy 清空自身输出，目标元素的移除由容器负责。
func (i *instance) Destroy(context.Context) error {
	i.target.SetContent("")
	return nil
}

func (i *instance) render() {
	i.mu.Lock()
	defer i.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "== %s ==\n", title(i.props))
	for idx, item := range i.items {
		fmt.Fprintf(&b, "%d. %v\n", idx+1, item)
	}
	for _, key := range sortedKeys(i.data) {
		fmt.Fprintf(&b, "%s=%v\n", key, i.data[key])
	}
	i.target.SetContent(b.String())
}

func title(props module.Props) string {
	if v, ok := props.Host["title"].(string); ok && v != "" {
		return v
	}
	return stringOption(props.Options, "title", props.ModuleID)
}

// queryParams 取 data.query 作为列表请求参数。
func queryParams(data map[string]any) map[string]any {
	if q, ok := data["query"].(map[string]any); ok {
		return q
	}
	return nil
}

func extractItems(payload any) []any {
	switch v := payload.(type) {
	case nil:
		return nil
	case []any:
		return v
	case map[string]any:
		if items, ok := v["items"].([]any); ok {
			return items
		}
	}
	return []any{payload}
}

func stringOption(opts map[string]any, key, fallback string) string {
	if v, ok := opts[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func boolOption(opts map[string]any, key string, fallback bool) bool {
	if v, ok := opts[key].(bool); ok {
		return v
	}
	return fallback
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if k == "query" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Package static 提供只读展示模块：挂载时渲染标题与初始数据，不支持实时更新。
package static

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/any-hub/modhost/internal/module"
)

// Key 是静态模块在定义注册表中的键。
const Key = "static"

func init() {
	module.MustRegister(module.Definition{
		Key:         Key,
		Description: "Read-only module rendering its title and seed data",
		Factory:     New,
	})
}

type instance struct {
	target module.Target
}

// New 是静态模块的 Factory。
func New(_ context.Context, target module.Target, props module.Props) (module.Instance, error) {
	var b strings.Builder
	heading := props.ModuleID
	if v, ok := props.Options["title"].(string); ok && v != "" {
		heading = v
	}
	fmt.Fprintf(&b, "# %s\n", heading)

	keys := make([]string, 0, len(props.Data))
	for k := range props.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, props.Data[k])
	}
	target.SetContent(b.String())
	return &instance{target: target}, nil
}

func (i *instance) Destroy(context.Context) error {
	i.target.SetContent("")
	return nil
}

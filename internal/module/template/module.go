// Package template 提供编写新模块时可复制的骨架示例。
//
// 使用方式：复制整个目录到 internal/module/<module-key>/ 并替换字段。
//   - 将 Key 改为实际模块键，并在 init() 中调用 module.MustRegister(Definition())；
//   - 在 Factory 中向 target 写入输出，需要接收宿主数据时实现 UpdateProps；
//   - 在 internal/config/modules.go 中以空白导入引入新包。
//
// 本包自身不在 init() 中注册，避免骨架出现在运行时注册表里。
package template

import (
	"context"
	"fmt"

	"github.com/any-hub/modhost/internal/module"
)

// Key 是骨架模块的示例键。
const Key = "template"

// Definition 返回骨架模块的定义。
func Definition() module.Definition {
	return module.Definition{
		Key:         Key,
		Description: "Skeleton module for authors",
		Factory:     newInstance,
		Options:     map[string]any{"greeting": "hello"},
	}
}

type instance struct {
	target module.Target
	props  module.Props
}

func newInstance(_ context.Context, target module.Target, props module.Props) (module.Instance, error) {
	inst := &instance{target: target, props: props}
	inst.render(props.Data)
	return inst, nil
}

func (i *instance) UpdateProps(_ context.Context, data map[string]any) error {
	i.render(data)
	return nil
}

func (i *instance) Destroy(context.Context) error {
	i.target.SetContent("")
	return nil
}

func (i *instance) render(data map[string]any) {
	i.target.SetContent(fmt.Sprintf("%v, %s (%d fields)", i.props.Options["greeting"], i.props.ModuleID, len(data)))
}

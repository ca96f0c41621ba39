package module

import (
	"context"
	"io"
	"time"

	"github.com/any-hub/modhost/internal/store"
)

// Descriptor 是模块的注册记录。IsLoaded/Error/LoadTime 由 loader 维护，其余字段注册后不再变化。
type Descriptor struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	Source       string            `json:"source,omitempty"`
	InitialData  map[string]any    `json:"initial_data,omitempty"`
	APIEndpoints map[string]string `json:"api_endpoints,omitempty"`

	IsLoaded bool      `json:"is_loaded"`
	Error    string    `json:"error,omitempty"`
	LoadTime time.Time `json:"load_time,omitempty"`
}

// Clone 返回不与原值共享 map 的副本，InitialData 按层深拷贝。
func (d Descriptor) Clone() Descriptor {
	out := d
	out.InitialData = CloneData(d.InitialData)
	if d.APIEndpoints != nil {
		out.APIEndpoints = make(map[string]string, len(d.APIEndpoints))
		for k, v := range d.APIEndpoints {
			out.APIEndpoints[k] = v
		}
	}
	return out
}

// Target 是模块绘制输出的渲染目标，surface.Element 即满足。
type Target interface {
	io.Writer
	ID() string
	SetContent(content string)
	Clear()
}

// APICaller 允许模块经由所属容器调用其声明的 endpoint。
type APICaller interface {
	CallAPI(ctx context.Context, endpoint string, params map[string]any, useCache bool) (any, error)
}

// Props 是挂载时传给 Factory 的合并参数。
type Props struct {
	ModuleID     string
	APIEndpoints map[string]string
	Store        *store.Store
	API          APICaller
	// OnAction 将模块发起的动作原样转交给宿主，容器不做业务解读。
	OnAction func(action any)
	// Options 来自 Definition 的静态选项。
	Options map[string]any
	// Host 是宿主在 load 时提供的参数。
	Host map[string]any
	// Data 是挂载时容器的工作数据快照。
	Data map[string]any
}

// Instance 是一个已挂载的模块实例。
type Instance interface {
	Destroy(ctx context.Context) error
}

// LiveUpdater 是可选能力：实现它的实例可以在不重新挂载的情况下接收新数据。
type LiveUpdater interface {
	UpdateProps(ctx context.Context, data map[string]any) error
}

// Factory 将模块实例化到 target 上。
type Factory func(ctx context.Context, target Target, props Props) (Instance, error)

// Definition 是解析 Source 后得到的模块定义：工厂 + 静态选项。
type Definition struct {
	Key         string
	Description string
	Factory     Factory
	Options     map[string]any
}

// WithOptions 返回合并了额外静态选项的定义副本，extra 优先。
func (d Definition) WithOptions(extra map[string]any) Definition {
	if len(extra) == 0 {
		return d
	}
	merged := make(map[string]any, len(d.Options)+len(extra))
	for k, v := range d.Options {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	d.Options = merged
	return d
}

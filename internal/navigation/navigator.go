// Package navigation 实现宿主侧的"标签页"切换约定：同一展示面上同一时刻只保留一个激活模块。
package navigation

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/modhost/internal/loader"
	"github.com/any-hub/modhost/internal/logging"
)

// ModuleLoader 是 Navigator 依赖的 loader 能力子集。
type ModuleLoader interface {
	LoadModule(ctx context.Context, id string, opts loader.LoadOptions) (*loader.ActiveModule, error)
	UnloadModule(ctx context.Context, id string) (bool, error)
}

// Navigator 记录每个展示面当前激活的模块 ID。
type Navigator struct {
	loader ModuleLoader
	logger *logrus.Logger

	mu       sync.Mutex
	surfaces map[string]*surfaceState
}

type surfaceState struct {
	mu      sync.Mutex
	current string
}

// New 创建 Navigator，logger 为空时丢弃日志。
func New(l ModuleLoader, logger *logrus.Logger) *Navigator {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Navigator{loader: l, logger: logger, surfaces: make(map[string]*surfaceState)}
}

// Activate 卸载该展示面上的其它模块后激活 id。id 已是当前模块时直接返回现有句柄。
func (n *Navigator) Activate(ctx context.Context, surface, id string, props map[string]any) (*loader.ActiveModule, error) {
	st := n.state(surface)
	st.mu.Lock()
	defer st.mu.Unlock()

	fields := logging.ModuleFields(id, "navigate")
	fields["surface"] = surface

	if prev := st.current; prev != "" && prev != id {
		if _, err := n.loader.UnloadModule(ctx, prev); err != nil {
			n.logger.WithFields(fields).WithField("previous", prev).WithError(err).Warn("navigation_unload_failed")
		}
		st.current = ""
	}

	entry, err := n.loader.LoadModule(ctx, id, loader.LoadOptions{Props: props})
	if err != nil {
		return nil, fmt.Errorf("activate %s on %s: %w", id, surface, err)
	}
	st.current = id
	n.logger.WithFields(fields).Info("navigation_activated")
	return entry, nil
}

// Deactivate 卸载展示面当前的模块，展示面为空时返回 false。
func (n *Navigator) Deactivate(ctx context.Context, surface string) (bool, error) {
	st := n.state(surface)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.current == "" {
		return false, nil
	}
	id := st.current
	st.current = ""
	return n.loader.UnloadModule(ctx, id)
}

// Current 返回展示面当前激活的模块 ID。
func (n *Navigator) Current(surface string) (string, bool) {
	st := n.state(surface)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.current, st.current != ""
}

func (n *Navigator) state(surface string) *surfaceState {
	n.mu.Lock()
	defer n.mu.Unlock()
	st, ok := n.surfaces[surface]
	if !ok {
		st = &surfaceState{}
		n.surfaces[surface] = st
	}
	return st
}

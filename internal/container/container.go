// Package container 包装单个模块实例：持有其 Store 与 ApiProxy，驱动
// init → mount → update* → unmount 生命周期，并把模块动作转换为宿主事件。
package container

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/modhost/internal/apiproxy"
	"github.com/any-hub/modhost/internal/logging"
	"github.com/any-hub/modhost/internal/module"
	"github.com/any-hub/modhost/internal/store"
)

// Options 为容器注入共享依赖。
type Options struct {
	Client  apiproxy.Doer
	Logger  *logrus.Logger
	OnEvent EventHandler
	Now     func() time.Time
}

// Container 管理一次模块激活。卸载后的容器不会复活，再次激活需新建容器。
type Container struct {
	desc       module.Descriptor
	def        module.Definition
	instanceID string
	client     apiproxy.Doer
	logger     *logrus.Logger
	onEvent    EventHandler
	now        func() time.Time

	mu          sync.Mutex
	initialized bool
	lifecycle   Lifecycle
	errMsg      string
	store       *store.Store
	proxy       *apiproxy.Proxy
	instance    module.Instance
	target      module.Target

	// dataMu 串行化 data 的读-改-写，不与 mu 嵌套，Store 监听器可安全回调容器。
	dataMu sync.Mutex
}

// New 创建尚未 init 的容器。
func New(desc module.Descriptor, def module.Definition, opts Options) *Container {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Container{
		desc:       desc.Clone(),
		def:        def,
		instanceID: uuid.NewString(),
		client:     opts.Client,
		logger:     logger,
		onEvent:    opts.OnEvent,
		now:        now,
	}
}

// ModuleID 返回所属模块 ID。
func (c *Container) ModuleID() string {
	return c.desc.ID
}

// InstanceID 唯一标识本次激活，重新激活会得到新的 ID。
func (c *Container) InstanceID() string {
	return c.instanceID
}

// Store 返回容器的状态容器，init 之前为 nil。
func (c *Container) Store() *store.Store {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store
}

// Instance 返回当前存活的模块实例。
func (c *Container) Instance() (module.Instance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instance, c.instance != nil
}

// State 返回容器状态快照。
func (c *Container) State() State {
	c.mu.Lock()
	lifecycle := c.lifecycle
	errMsg := c.errMsg
	st := c.store
	c.mu.Unlock()

	out := State{Lifecycle: lifecycle, Error: errMsg}
	if st == nil {
		out.Data = cloneMap(c.desc.InitialData)
		return out
	}
	if v, ok := st.Get(keyIsLoading); ok {
		out.IsLoading, _ = v.(bool)
	}
	out.Data = c.currentData(st)
	return out
}

// Init 校验 endpoint 并构建 Store/ApiProxy。已 init 的容器直接返回成功。
func (c *Container) Init(_ context.Context) error {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return nil
	}

	if err := validateEndpoints(c.desc.APIEndpoints); err != nil {
		c.failLocked(err)
		c.mu.Unlock()
		c.emit(Event{Type: EventModuleError, Error: err.Error()})
		c.logger.WithFields(c.fields()).WithError(err).Warn("module_init_failed")
		return err
	}

	if err := c.transitionLocked(StateInitialized); err != nil {
		c.mu.Unlock()
		return err
	}
	c.proxy = apiproxy.New(c.desc.ID, c.desc.APIEndpoints, c.client, c.logger)
	c.store = store.New(c.desc.ID, map[string]any{
		keyIsLoading: false,
		keyError:     nil,
		keyData:      cloneMap(c.desc.InitialData),
		keyLifecycle: c.lifecycle,
	})
	c.initialized = true
	c.mu.Unlock()

	c.logger.WithFields(c.fields()).Debug("module_initialized")
	c.emit(Event{Type: EventModuleInitialized})
	return nil
}

// Mount 将模块实例化到 target 上，未 init 时先自动 init。已挂载时返回现有实例。
// 实例化失败会把容器置为 error、通知宿主并返回包装了 ErrMountFailure 的错误。
func (c *Container) Mount(ctx context.Context, target module.Target, hostProps map[string]any) (module.Instance, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.instance != nil {
		inst := c.instance
		c.mu.Unlock()
		return inst, nil
	}
	if err := c.transitionLocked(StateMounting); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.target = target
	st := c.store
	lifecycle := c.lifecycle
	c.mu.Unlock()

	_ = st.Update(map[string]any{keyIsLoading: true, keyLifecycle: lifecycle})

	props := module.Props{
		ModuleID:     c.desc.ID,
		APIEndpoints: cloneStrings(c.desc.APIEndpoints),
		Store:        st,
		API:          c,
		OnAction:     c.forwardAction,
		Options:      cloneMap(c.def.Options),
		Host:         cloneMap(hostProps),
		Data:         c.currentData(st),
	}

	inst, err := instantiate(ctx, c.def.Factory, target, props)
	if err != nil {
		mountErr := fmt.Errorf("%w: module %s: %w", ErrMountFailure, c.desc.ID, err)
		c.fail(mountErr)
		return nil, mountErr
	}

	c.mu.Lock()
	c.instance = inst
	_ = c.transitionLocked(StateMounted)
	lifecycle = c.lifecycle
	c.mu.Unlock()

	_ = st.Update(map[string]any{keyIsLoading: false, keyLifecycle: lifecycle})
	c.logger.WithFields(c.fields()).Info("module_mounted")
	return inst, nil
}

// Unmount 销毁存活实例并清空渲染目标。没有存活实例时返回 false。
func (c *Container) Unmount(ctx context.Context) (bool, error) {
	c.mu.Lock()
	inst := c.instance
	if inst == nil {
		c.mu.Unlock()
		return false, nil
	}
	if err := c.transitionLocked(StateUnmounting); err != nil {
		c.mu.Unlock()
		return false, err
	}
	target := c.target
	st := c.store
	lifecycle := c.lifecycle
	c.mu.Unlock()

	_ = st.Update(map[string]any{keyLifecycle: lifecycle})

	err := destroy(ctx, inst)
	if target != nil {
		target.Clear()
	}

	c.mu.Lock()
	c.instance = nil
	c.target = nil
	c.mu.Unlock()

	if err != nil {
		unmountErr := fmt.Errorf("%w: module %s: %w", ErrUnmountFailure, c.desc.ID, err)
		c.fail(unmountErr)
		return false, unmountErr
	}

	c.mu.Lock()
	_ = c.transitionLocked(StateUnmounted)
	lifecycle = c.lifecycle
	c.mu.Unlock()

	_ = st.Update(map[string]any{keyLifecycle: lifecycle})
	c.logger.WithFields(c.fields()).Info("module_unmounted")
	return true, nil
}

// UpdateData 将 partial 合并进工作数据，存活实例支持 LiveUpdater 时同步推送。
// 只有 init 失败或实时推送失败时返回 false，合并本身不会被丢弃。
func (c *Container) UpdateData(ctx context.Context, partial map[string]any) (bool, error) {
	if partial == nil {
		return false, store.ErrMalformedPartial
	}
	if err := c.Init(ctx); err != nil {
		return false, err
	}

	c.mu.Lock()
	st := c.store
	inst := c.instance
	c.mu.Unlock()

	c.dataMu.Lock()
	merged := c.currentData(st)
	for k, v := range partial {
		merged[k] = v
	}
	err := st.Update(map[string]any{keyData: merged})
	c.dataMu.Unlock()
	if err != nil {
		return false, err
	}

	updater, ok := inst.(module.LiveUpdater)
	if !ok {
		return true, nil
	}
	if err := updater.UpdateProps(ctx, cloneMap(merged)); err != nil {
		c.logger.WithFields(c.fields()).WithError(err).Warn("module_live_update_failed")
		return false, fmt.Errorf("module %s: live update: %w", c.desc.ID, err)
	}
	return true, nil
}

// CallAPI 经由容器独享的 ApiProxy 调用 endpoint，未 init 时先自动 init。
func (c *Container) CallAPI(ctx context.Context, endpoint string, params map[string]any, useCache bool) (any, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	proxy := c.proxy
	c.mu.Unlock()
	return proxy.Call(ctx, endpoint, params, useCache)
}

// ClearAPICache 清理缓存，endpoint 为空时全部清除，返回删除的条目数。
func (c *Container) ClearAPICache(endpoint string) int {
	c.mu.Lock()
	proxy := c.proxy
	c.mu.Unlock()
	if proxy == nil {
		return 0
	}
	return proxy.ClearCache(endpoint)
}

// CacheSize 返回当前缓存条目数，未 init 时为 0。
func (c *Container) CacheSize() int {
	c.mu.Lock()
	proxy := c.proxy
	c.mu.Unlock()
	if proxy == nil {
		return 0
	}
	return proxy.CacheSize()
}

func (c *Container) forwardAction(action any) {
	c.emit(Event{Type: EventModuleAction, Action: action})
}

func (c *Container) emit(evt Event) {
	if c.onEvent == nil {
		return
	}
	evt.ModuleID = c.desc.ID
	if evt.Timestamp.IsZero() {
		evt.Timestamp = c.now().UTC()
	}
	c.onEvent(evt)
}

func (c *Container) fail(err error) {
	c.mu.Lock()
	c.failLocked(err)
	lifecycle := c.lifecycle
	st := c.store
	c.mu.Unlock()

	if st != nil {
		_ = st.Update(map[string]any{
			keyIsLoading: false,
			keyError:     err.Error(),
			keyLifecycle: lifecycle,
		})
	}
	c.logger.WithFields(c.fields()).WithError(err).Error("module_lifecycle_failed")
	c.emit(Event{Type: EventModuleError, Error: err.Error()})
}

func (c *Container) failLocked(err error) {
	c.errMsg = err.Error()
	c.lifecycle = Lifecycle{State: StateError, Timestamp: c.now().UTC()}
}

func (c *Container) transitionLocked(to LifecycleState) error {
	from := c.lifecycle.State
	if !canTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, displayState(from), to)
	}
	c.lifecycle = Lifecycle{State: to, Timestamp: c.now().UTC()}
	return nil
}

func (c *Container) currentData(st *store.Store) map[string]any {
	if v, ok := st.Get(keyData); ok {
		if data, ok := v.(map[string]any); ok {
			return cloneMap(data)
		}
	}
	return map[string]any{}
}

func (c *Container) fields() logrus.Fields {
	c.mu.Lock()
	state := c.lifecycle.State
	c.mu.Unlock()
	return logging.LifecycleFields(c.desc.ID, c.instanceID, string(displayState(state)))
}

// instantiate 调用 Factory，并把 panic 转换为错误，挂载失败不能被静默吞掉。
func instantiate(ctx context.Context, factory module.Factory, target module.Target, props module.Props) (inst module.Instance, err error) {
	if factory == nil {
		return nil, fmt.Errorf("definition has no factory")
	}
	defer func() {
		if r := recover(); r != nil {
			inst, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	inst, err = factory(ctx, target, props)
	if err == nil && inst == nil {
		err = fmt.Errorf("factory returned no instance")
	}
	return inst, err
}

func destroy(ctx context.Context, inst module.Instance) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return inst.Destroy(ctx)
}

func validateEndpoints(endpoints map[string]string) error {
	for name, raw := range endpoints {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: empty endpoint name", ErrInvalidAPIEndpoint)
		}
		parsed, err := url.ParseRequestURI(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidAPIEndpoint, name, err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("%w: %s: unsupported scheme %q", ErrInvalidAPIEndpoint, name, parsed.Scheme)
		}
		if parsed.Host == "" {
			return fmt.Errorf("%w: %s: missing host", ErrInvalidAPIEndpoint, name)
		}
	}
	return nil
}

func displayState(s LifecycleState) LifecycleState {
	if s == "" {
		return "new"
	}
	return s
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return module.CloneData(m)
}

func cloneStrings(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

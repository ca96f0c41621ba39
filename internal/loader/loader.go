// Package loader 是模块编排的顶层入口：维护描述符注册表与激活集合，按需解析模块定义，
// 为每个激活的模块 ID 创建唯一的 Container，并在宿主与模块之间转发事件。
package loader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/modhost/internal/apiproxy"
	"github.com/any-hub/modhost/internal/container"
	"github.com/any-hub/modhost/internal/logging"
	"github.com/any-hub/modhost/internal/module"
	"github.com/any-hub/modhost/internal/surface"
)

// ErrModuleNotRegistered 表示在注册之前请求了 load。
var ErrModuleNotRegistered = errors.New("module not registered")

// DefaultRootID 是未注入根元素时 loader 自建根元素的 ID。
const DefaultRootID = "modules"

// Options 描述 loader 的依赖。OnModuleEvent 由宿主在构造时提供一次。
type Options struct {
	Root          *surface.Element
	Resolver      module.Resolver
	Client        apiproxy.Doer
	Logger        *logrus.Logger
	OnModuleEvent container.EventHandler
	Now           func() time.Time
}

// LoadOptions 是一次激活携带的宿主参数。
type LoadOptions struct {
	Props map[string]any
}

// ActiveModule 是激活成功后返回给宿主的句柄。
type ActiveModule struct {
	ModuleID     string
	Container    *container.Container
	Target       *surface.Element
	Instance     module.Instance
	LoadTime     time.Time
	LoadDuration time.Duration
}

// RegistrationResult 记录批量注册中单个模块的结果。
type RegistrationResult struct {
	ModuleID string
	Err      error
}

// Loader 持有进程内唯一的模块注册表，只有 Loader 自身会修改它。
type Loader struct {
	root     *surface.Element
	resolver module.Resolver
	client   apiproxy.Doer
	logger   *logrus.Logger
	onEvent  container.EventHandler
	now      func() time.Time

	locks *keyLock
	group singleflight.Group

	mu          sync.RWMutex
	descriptors map[string]*module.Descriptor
	order       []string
	definitions map[string]module.Definition
	active      map[string]*ActiveModule
}

// New 构建 Loader。未提供的依赖使用默认值：自建根元素、注册表解析器、丢弃日志。
func New(opts Options) *Loader {
	root := opts.Root
	if root == nil {
		root = surface.NewRoot(DefaultRootID)
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = module.RegistryResolver{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Loader{
		root:        root,
		resolver:    resolver,
		client:      opts.Client,
		logger:      logger,
		onEvent:     opts.OnModuleEvent,
		now:         now,
		locks:       newKeyLock(),
		descriptors: make(map[string]*module.Descriptor),
		definitions: make(map[string]module.Definition),
		active:      make(map[string]*ActiveModule),
	}
}

// Root 返回 loader 管理的根渲染元素。
func (l *Loader) Root() *surface.Element {
	return l.root
}

// RegisterModule 注册描述符。重复 ID 不报错，仅记录日志（首次注册生效）。
// Source 非空时立即解析模块定义；解析失败会记录在描述符上并返回错误，描述符保留以便后续 load 重试。
func (l *Loader) RegisterModule(ctx context.Context, desc module.Descriptor) error {
	id, added, err := l.add(desc)
	if err != nil || !added {
		return err
	}
	return l.resolveRegistered(ctx, id, desc.Source)
}

// RegisterAll 按给定顺序登记一批描述符，再并发解析各自的定义，单个失败不影响其它模块。
func (l *Loader) RegisterAll(ctx context.Context, descs []module.Descriptor) []RegistrationResult {
	results := make([]RegistrationResult, len(descs))
	var wg sync.WaitGroup
	for i, desc := range descs {
		results[i].ModuleID = desc.ID
		id, added, err := l.add(desc)
		if err != nil || !added {
			results[i].Err = err
			continue
		}
		wg.Add(1)
		go func(i int, id, source string) {
			defer wg.Done()
			results[i].Err = l.resolveRegistered(ctx, id, source)
		}(i, id, desc.Source)
	}
	wg.Wait()
	return results
}

// add 登记描述符，返回规范化后的 ID 以及是否为新登记。
func (l *Loader) add(desc module.Descriptor) (string, bool, error) {
	id := strings.TrimSpace(desc.ID)
	if id == "" {
		return "", false, errors.New("module id is required")
	}
	desc = desc.Clone()
	desc.ID = id
	desc.IsLoaded = false
	desc.Error = ""
	desc.LoadTime = time.Time{}

	l.mu.Lock()
	if existing, ok := l.descriptors[id]; ok {
		fields := logging.ModuleFields(id, "register")
		if existing.Source != desc.Source {
			fields["ignored_source"] = desc.Source
		}
		l.mu.Unlock()
		l.logger.WithFields(fields).Info("module_register_duplicate")
		return id, false, nil
	}
	l.descriptors[id] = &desc
	l.order = append(l.order, id)
	l.mu.Unlock()
	return id, true, nil
}

func (l *Loader) resolveRegistered(ctx context.Context, id, source string) error {
	fields := logging.ModuleFields(id, "register")
	if strings.TrimSpace(source) == "" {
		l.markLoaded(id, nil)
		l.logger.WithFields(fields).Info("module_registered")
		return nil
	}

	if _, err := l.resolveDefinition(ctx, strings.TrimSpace(source)); err != nil {
		l.markLoaded(id, err)
		l.emitError(id, err)
		l.logger.WithFields(fields).WithError(err).Warn("module_register_failed")
		return fmt.Errorf("register module %s: %w", id, err)
	}
	l.markLoaded(id, nil)
	l.logger.WithFields(fields).Info("module_registered")
	return nil
}

// LoadModule 激活模块。已激活时直接返回现有句柄；同一 ID 的并发调用会排队，
// 后到者拿到先到者创建的句柄，因此同一 ID 永远不会同时存在两个已挂载容器。
func (l *Loader) LoadModule(ctx context.Context, id string, opts LoadOptions) (*ActiveModule, error) {
	unlock := l.locks.lock(id)
	defer unlock()
	return l.load(ctx, id, opts)
}

// UnloadModule 卸载模块，未激活时返回 false。进行中的 load 会先完成再卸载。
func (l *Loader) UnloadModule(ctx context.Context, id string) (bool, error) {
	unlock := l.locks.lock(id)
	defer unlock()
	return l.unload(ctx, id)
}

// ReloadModule 先卸载（若已激活）再重新激活，用于从失败中恢复单个模块。
func (l *Loader) ReloadModule(ctx context.Context, id string, opts LoadOptions) (*ActiveModule, error) {
	unlock := l.locks.lock(id)
	defer unlock()

	if _, err := l.unload(ctx, id); err != nil {
		l.logger.WithFields(logging.ModuleFields(id, "reload")).WithError(err).Warn("module_reload_unload_failed")
	}
	return l.load(ctx, id, opts)
}

// UpdateModuleData 将数据推送给激活中的模块，未激活时返回 false。
func (l *Loader) UpdateModuleData(ctx context.Context, id string, data map[string]any) (bool, error) {
	unlock := l.locks.lock(id)
	defer unlock()

	entry, ok := l.Active(id)
	if !ok {
		return false, nil
	}
	return entry.Container.UpdateData(ctx, data)
}

// Shutdown 卸载全部激活模块，返回合并后的错误。
func (l *Loader) Shutdown(ctx context.Context) error {
	var errs []error
	for _, id := range l.ActiveIDs() {
		if _, err := l.UnloadModule(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Descriptor 返回描述符副本。
func (l *Loader) Descriptor(id string) (module.Descriptor, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	desc, ok := l.descriptors[id]
	if !ok {
		return module.Descriptor{}, false
	}
	return desc.Clone(), true
}

// Descriptors 按注册顺序返回全部描述符副本。
func (l *Loader) Descriptors() []module.Descriptor {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]module.Descriptor, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.descriptors[id].Clone())
	}
	return out
}

// Active 返回激活中的模块句柄。
func (l *Loader) Active(id string) (*ActiveModule, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.active[id]
	return entry, ok
}

// ActiveIDs 返回按字母序排列的激活模块 ID。
func (l *Loader) ActiveIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.active))
	for id := range l.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (l *Loader) load(ctx context.Context, id string, opts LoadOptions) (*ActiveModule, error) {
	l.mu.RLock()
	descPtr, registered := l.descriptors[id]
	var desc module.Descriptor
	if registered {
		desc = descPtr.Clone()
	}
	entry := l.active[id]
	l.mu.RUnlock()

	if !registered {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotRegistered, id)
	}
	if entry != nil {
		return entry, nil
	}

	started := l.now()
	fields := logging.ModuleFields(id, "load")

	def, err := l.resolveDefinition(ctx, locatorFor(desc))
	if err != nil {
		l.markLoaded(id, err)
		l.emitError(id, err)
		l.logger.WithFields(fields).WithError(err).Warn("module_definition_unavailable")
		return nil, fmt.Errorf("load module %s: %w", id, err)
	}
	if !desc.IsLoaded {
		l.markLoaded(id, nil)
	}

	target := l.root.CreateChild(TargetID(id))
	target.SetAttr("data-module", id)

	c := container.New(desc, def, container.Options{
		Client:  l.client,
		Logger:  l.logger,
		OnEvent: l.dispatchEvent,
		Now:     l.now,
	})

	inst, err := c.Mount(ctx, target, opts.Props)
	if err != nil {
		// 容器已发出 module-error，这里只负责可见的错误提示与描述符状态。
		renderFailure(target, id, err)
		l.recordError(id, err)
		l.logger.WithFields(fields).WithError(err).Error("module_activate_failed")
		return nil, err
	}

	loaded := l.now()
	entry = &ActiveModule{
		ModuleID:     id,
		Container:    c,
		Target:       target,
		Instance:     inst,
		LoadTime:     loaded,
		LoadDuration: loaded.Sub(started),
	}

	l.mu.Lock()
	l.active[id] = entry
	if d, ok := l.descriptors[id]; ok {
		d.Error = ""
	}
	l.mu.Unlock()

	fields["instance_id"] = c.InstanceID()
	fields["duration_ms"] = entry.LoadDuration.Milliseconds()
	l.logger.WithFields(fields).Info("module_activated")
	return entry, nil
}

func (l *Loader) unload(ctx context.Context, id string) (bool, error) {
	entry, ok := l.Active(id)
	if !ok {
		return false, nil
	}

	_, err := entry.Container.Unmount(ctx)

	l.mu.Lock()
	delete(l.active, id)
	l.mu.Unlock()
	entry.Target.Clear()
	entry.Target.Remove()

	fields := logging.ModuleFields(id, "unload")
	fields["instance_id"] = entry.Container.InstanceID()
	if err != nil {
		l.recordError(id, err)
		l.logger.WithFields(fields).WithError(err).Error("module_unload_failed")
		return false, err
	}
	l.logger.WithFields(fields).Info("module_unloaded")
	return true, nil
}

// resolveDefinition 以定位符为键缓存定义，并发解析同一定位符只会触发一次加载。
func (l *Loader) resolveDefinition(ctx context.Context, locator string) (module.Definition, error) {
	if def, ok := l.cachedDefinition(locator); ok {
		return def, nil
	}

	// 共享的解析不绑定任何单个调用方的取消；每个调用方只在自己的 ctx 上放弃等待。
	shared := context.WithoutCancel(ctx)
	ch := l.group.DoChan(locator, func() (interface{}, error) {
		if def, ok := l.cachedDefinition(locator); ok {
			return def, nil
		}
		def, err := l.resolver.Resolve(shared, locator)
		if err != nil {
			return module.Definition{}, err
		}
		l.mu.Lock()
		l.definitions[locator] = def
		l.mu.Unlock()
		return def, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return module.Definition{}, res.Err
		}
		return res.Val.(module.Definition), nil
	case <-ctx.Done():
		return module.Definition{}, ctx.Err()
	}
}

func (l *Loader) cachedDefinition(locator string) (module.Definition, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	def, ok := l.definitions[locator]
	return def, ok
}

func (l *Loader) markLoaded(id string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.descriptors[id]
	if !ok {
		return
	}
	if err != nil {
		d.IsLoaded = false
		d.Error = err.Error()
		return
	}
	d.IsLoaded = true
	d.Error = ""
	d.LoadTime = l.now()
}

func (l *Loader) recordError(id string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if d, ok := l.descriptors[id]; ok {
		d.Error = err.Error()
	}
}

func (l *Loader) emitError(id string, err error) {
	l.dispatchEvent(container.Event{
		Type:      container.EventModuleError,
		ModuleID:  id,
		Error:     err.Error(),
		Timestamp: l.now().UTC(),
	})
}

func (l *Loader) dispatchEvent(evt container.Event) {
	l.logger.WithFields(logging.EventFields(string(evt.Type), evt.ModuleID)).Debug("module_event")
	if l.onEvent != nil {
		l.onEvent(evt)
	}
}

// TargetID 返回模块渲染目标在根元素下的 ID。
func TargetID(moduleID string) string {
	return "module-" + moduleID
}

func locatorFor(desc module.Descriptor) string {
	if src := strings.TrimSpace(desc.Source); src != "" {
		return src
	}
	return module.BuiltinLocator(desc.ID)
}

func renderFailure(target *surface.Element, id string, err error) {
	target.Clear()
	target.SetAttr("data-module", id)
	target.SetAttr("data-state", string(container.StateError))
	target.SetContent(fmt.Sprintf("module %s failed to load: %v", id, err))
}

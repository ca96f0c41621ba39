package module

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

var globalRegistry = newRegistry()

type registry struct {
	mu          sync.RWMutex
	definitions map[string]Definition
}

func newRegistry() *registry {
	return &registry{definitions: make(map[string]Definition)}
}

// Register 将模块定义加入全局注册表，重复键会返回错误。
func Register(def Definition) error {
	return globalRegistry.register(def)
}

// MustRegister 在注册失败时 panic，适合模块 init() 中调用。
func MustRegister(def Definition) {
	if err := Register(def); err != nil {
		panic(err)
	}
}

// Lookup 返回指定键的模块定义。
func Lookup(key string) (Definition, bool) {
	return globalRegistry.lookup(key)
}

// List 返回按键排序的模块定义列表。
func List() []Definition {
	return globalRegistry.list()
}

// Keys 返回所有已注册定义的键值，供配置校验或诊断使用。
func Keys() []string {
	items := List()
	result := make([]string, len(items))
	for i, def := range items {
		result[i] = def.Key
	}
	return result
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (r *registry) register(def Definition) error {
	key := normalizeKey(def.Key)
	if key == "" {
		return fmt.Errorf("module key is required")
	}
	if def.Factory == nil {
		return fmt.Errorf("module %s: factory is required", key)
	}
	def.Key = key

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.definitions[key]; exists {
		return fmt.Errorf("module %s already registered", key)
	}
	r.definitions[key] = def
	return nil
}

func (r *registry) lookup(key string) (Definition, bool) {
	normalized := normalizeKey(key)
	if normalized == "" {
		return Definition{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.definitions[normalized]
	return def, ok
}

func (r *registry) list() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.definitions) == 0 {
		return nil
	}

	keys := make([]string, 0, len(r.definitions))
	for key := range r.definitions {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]Definition, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.definitions[key])
	}
	return result
}

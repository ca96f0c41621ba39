package store

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
)

// ErrMalformedPartial 表示 Update 收到了无法按对象合并的输入。
var ErrMalformedPartial = errors.New("store: partial must be an object")

// Listener 在每次更新完成后收到最新的状态快照。
type Listener func(state map[string]any)

// Action 是一条可分发的状态变更记录。
type Action struct {
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Store 是按名称区分的键值状态容器，name 仅用于诊断。
type Store struct {
	name string

	mu        sync.RWMutex
	state     map[string]any
	actions   []Action
	listeners map[uint64]Listener
	nextID    uint64
}

// New 创建以 initial 为初始状态的 Store，initial 会被浅拷贝。
func New(name string, initial map[string]any) *Store {
	state := make(map[string]any, len(initial))
	for k, v := range initial {
		state[k] = v
	}
	return &Store{
		name:      name,
		state:     state,
		listeners: make(map[uint64]Listener),
	}
}

// Name 返回创建时指定的诊断名称。
func (s *Store) Name() string {
	return s.name
}

// State 返回当前状态的浅拷贝。
func (s *Store) State() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Get 按键读取状态，键不存在时返回 false。
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.state[key]
	return v, ok
}

// Update 将 partial 浅合并进状态并同步通知订阅者。partial 未提及的键保持不变。
// partial 可以是 map[string]any 或结构体（按 mapstructure 标签展开）。
func (s *Store) Update(partial any) error {
	fields, err := normalizePartial(partial)
	if err != nil {
		return err
	}
	s.apply(fields, nil)
	return nil
}

// Dispatch 记录动作并将其 Payload 作为 partial 合并。
func (s *Store) Dispatch(action Action) error {
	if action.Type == "" {
		return fmt.Errorf("%w: action type required", ErrMalformedPartial)
	}
	if action.Timestamp.IsZero() {
		action.Timestamp = time.Now().UTC()
	}
	payload := action.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	s.apply(payload, &action)
	return nil
}

// Actions 返回已分发动作的副本，按分发顺序排列。
func (s *Store) Actions() []Action {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Action(nil), s.actions...)
}

// Subscribe 注册监听器并返回对应的注销函数，多次调用注销函数是安全的。
func (s *Store) Subscribe(listener Listener) func() {
	if listener == nil {
		return func() {}
	}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) apply(fields map[string]any, action *Action) {
	s.mu.Lock()
	for k, v := range fields {
		s.state[k] = v
	}
	if action != nil {
		s.actions = append(s.actions, *action)
	}
	snapshot := s.snapshotLocked()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	// 回调在锁外执行，监听器内部可以再次读取或更新 Store。
	for _, l := range listeners {
		l(snapshot)
	}
}

func (s *Store) snapshotLocked() map[string]any {
	out := make(map[string]any, len(s.state))
	for k, v := range s.state {
		out[k] = v
	}
	return out
}

func normalizePartial(partial any) (map[string]any, error) {
	switch v := partial.(type) {
	case nil:
		return nil, ErrMalformedPartial
	case map[string]any:
		if v == nil {
			return nil, ErrMalformedPartial
		}
		return v, nil
	}

	rv := reflect.ValueOf(partial)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, ErrMalformedPartial
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: got %T", ErrMalformedPartial, partial)
	}

	out := map[string]any{}
	if err := mapstructure.Decode(partial, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPartial, err)
	}
	return out, nil
}

package container

import "time"

// LifecycleState 是容器所处的生命周期阶段。
type LifecycleState string

const (
	StateInitialized LifecycleState = "initialized"
	StateMounting    LifecycleState = "mounting"
	StateMounted     LifecycleState = "mounted"
	StateUnmounting  LifecycleState = "unmounting"
	StateUnmounted   LifecycleState = "unmounted"
	StateError       LifecycleState = "error"
)

// 生命周期只能沿 initialized → mounting → mounted → unmounting → unmounted 前进，
// error 可以从 initialized/mounting/unmounting 进入；空状态表示尚未 init。
var transitions = map[LifecycleState][]LifecycleState{
	"":               {StateInitialized, StateError},
	StateInitialized: {StateMounting, StateError},
	StateMounting:    {StateMounted, StateError},
	StateMounted:     {StateUnmounting},
	StateUnmounting:  {StateUnmounted, StateError},
}

func canTransition(from, to LifecycleState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Lifecycle 记录当前阶段及进入该阶段的时间。
type Lifecycle struct {
	State     LifecycleState `json:"state"`
	Timestamp time.Time      `json:"timestamp"`
}

// State 是容器对外暴露的状态快照。Data 是模块的工作数据，与 Descriptor.InitialData 相互独立。
type State struct {
	Lifecycle Lifecycle      `json:"lifecycle"`
	IsLoading bool           `json:"isLoading"`
	Error     string         `json:"error,omitempty"`
	Data      map[string]any `json:"data"`
}

// Store 中使用的键，模块可以订阅这些键观察自身状态。
const (
	keyIsLoading = "isLoading"
	keyError     = "error"
	keyData      = "data"
	keyLifecycle = "lifecycle"
)

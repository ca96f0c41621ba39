package container

import "time"

// EventType 区分发往宿主的事件种类。
type EventType string

const (
	EventModuleAction      EventType = "module-action"
	EventModuleError       EventType = "module-error"
	EventModuleInitialized EventType = "module-initialized"
)

// Event 是容器/loader 发往宿主的事件。Action 原样透传模块发起的动作。
type Event struct {
	Type      EventType `json:"type"`
	ModuleID  string    `json:"moduleId"`
	Action    any       `json:"action,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventHandler 接收事件，宿主在构造 loader 时提供一次。
type EventHandler func(Event)

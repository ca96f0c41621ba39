package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// ModuleFields 提供 module_id/action 字段，供 loader、容器与 ApiProxy 日志复用。
func ModuleFields(moduleID, action string) logrus.Fields {
	return logrus.Fields{
		"module_id": moduleID,
		"action":    action,
	}
}

// LifecycleFields 在 ModuleFields 基础上附加容器实例与生命周期状态。
func LifecycleFields(moduleID, instanceID, state string) logrus.Fields {
	fields := ModuleFields(moduleID, "lifecycle")
	fields["instance_id"] = instanceID
	fields["state"] = state
	return fields
}

// EventFields 描述一次发往宿主的模块事件。
func EventFields(eventType, moduleID string) logrus.Fields {
	return logrus.Fields{
		"action":     "module_event",
		"event_type": eventType,
		"module_id":  moduleID,
	}
}

package container

import "errors"

var (
	// ErrInvalidAPIEndpoint 表示 init 时发现声明的 endpoint 不是合法 URL。
	ErrInvalidAPIEndpoint = errors.New("invalid api endpoint")
	// ErrMountFailure 表示模块实例化过程中出错。
	ErrMountFailure = errors.New("module mount failed")
	// ErrUnmountFailure 表示模块销毁过程中出错。
	ErrUnmountFailure = errors.New("module unmount failed")
	// ErrInvalidTransition 表示生命周期不允许当前操作，例如对已卸载容器再次挂载。
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
)

package apiproxy

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownEndpoint 表示调用了模块未声明的 endpoint 名称。
	ErrUnknownEndpoint = errors.New("unknown api endpoint")
	// ErrTransport 是所有网络/非 2xx 失败的哨兵错误，可通过 errors.Is 判断。
	ErrTransport = errors.New("api transport error")
)

// TransportError 携带失败请求的上下文。Status 为 0 表示请求未拿到响应。
type TransportError struct {
	Endpoint string
	URL      string
	Status   int
	Body     string
	Err      error
}

func (e *TransportError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("api %s (%s): unexpected status %d", e.Endpoint, e.URL, e.Status)
	}
	return fmt.Sprintf("api %s (%s): %v", e.Endpoint, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is 让 errors.Is(err, ErrTransport) 对所有 TransportError 成立。
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

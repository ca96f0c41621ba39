package cache

import (
	"errors"
	"time"
)

// Store 负责管理单个 ApiProxy 的缓存条目。键布局遵循：
//
//	<Endpoint>:<序列化参数>
//
// 条目保存原始响应正文，调用方每次命中都自行解码，缓存内容不会被调用方修改。
// 只有成功的响应会被写入，条目没有 TTL。
type Store interface {
	// Get 返回缓存条目，不存在时返回 ErrNotFound。
	Get(locator Locator) (Entry, error)

	// Put 复制 body 后写入或覆盖 locator 对应的条目，并返回写入后的 Entry。
	Put(locator Locator, body []byte, contentType string) Entry

	// Remove 删除单个条目（例如正文无法解码时），不存在时静默返回。
	Remove(locator Locator)

	// Purge 删除 endpoint 下的全部条目；endpoint 为空时清空整个缓存。返回删除数量。
	Purge(endpoint string) int

	// Len 返回当前条目数量，主要用于诊断。
	Len() int
}

// Locator 唯一定位一个缓存条目（Endpoint + 序列化参数）。
type Locator struct {
	Endpoint string
	Params   string
}

// Key 返回条目在缓存中的字符串键。
func (l Locator) Key() string {
	return l.Endpoint + keySeparator + l.Params
}

// Entry 表示一次缓存命中结果。Body 是独立副本，可自由读取。
type Entry struct {
	Locator     Locator   `json:"locator"`
	Body        []byte    `json:"body"`
	ContentType string    `json:"content_type,omitempty"`
	StoredAt    time.Time `json:"stored_at"`
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

const keySeparator = ":"

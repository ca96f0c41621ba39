// Package surface models the host's render targets as a tree of elements.
//
// Elements are the DOM-equivalent surfaces modules draw into: the loader owns a
// root element and creates one child per activation, and clears it fully when
// the module is unmounted. All methods are safe for concurrent use.
package surface

import (
	"html"
	"sort"
	"strings"
	"sync"
)

// Element 是一个可写入内容、可挂载子元素的渲染目标。
type Element struct {
	id string

	mu       sync.RWMutex
	parent   *Element
	content  strings.Builder
	children []*Element
	attrs    map[string]string
}

// NewRoot 创建没有父元素的根节点。
func NewRoot(id string) *Element {
	return &Element{id: id, attrs: map[string]string{}}
}

// ID 返回元素标识。
func (e *Element) ID() string {
	return e.id
}

// CreateChild 在当前元素下创建子元素；同 ID 的旧子元素会被替换。
func (e *Element) CreateChild(id string) *Element {
	child := &Element{id: id, parent: e, attrs: map[string]string{}}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i, existing := range e.children {
		if existing.id == id {
			existing.detach()
			e.children[i] = child
			return child
		}
	}
	e.children = append(e.children, child)
	return child
}

// Child 按 ID 查找直接子元素。
func (e *Element) Child(id string) (*Element, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, child := range e.children {
		if child.id == id {
			return child, true
		}
	}
	return nil, false
}

// Children 返回直接子元素的副本。
func (e *Element) Children() []*Element {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*Element(nil), e.children...)
}

// Write 追加内容，实现 io.Writer。
func (e *Element) Write(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.content.Write(p)
}

// SetContent 替换元素自身的内容，不影响子元素。
func (e *Element) SetContent(content string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.content.Reset()
	e.content.WriteString(content)
}

// Content 返回元素自身的内容。
func (e *Element) Content() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.content.String()
}

// SetAttr 设置元素属性，例如 data-state。
func (e *Element) SetAttr(key, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attrs[key] = value
}

// Attr 读取属性。
func (e *Element) Attr(key string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.attrs[key]
	return v, ok
}

// Clear 清空内容、属性与全部子元素。
func (e *Element) Clear() {
	e.mu.Lock()
	children := e.children
	e.children = nil
	e.content.Reset()
	e.attrs = map[string]string{}
	e.mu.Unlock()

	for _, child := range children {
		child.detach()
	}
}

// IsEmpty 判断元素是否既无内容也无子元素。
func (e *Element) IsEmpty() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.content.Len() == 0 && len(e.children) == 0
}

// Remove 将元素从父元素上摘除。
func (e *Element) Remove() {
	e.mu.RLock()
	parent := e.parent
	e.mu.RUnlock()
	if parent == nil {
		return
	}

	parent.mu.Lock()
	for i, child := range parent.children {
		if child == e {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			break
		}
	}
	parent.mu.Unlock()
	e.detach()
}

// Render 以类 HTML 形式输出整个子树，内容会被转义。
func (e *Element) Render() string {
	var b strings.Builder
	e.render(&b)
	return b.String()
}

func (e *Element) render(b *strings.Builder) {
	e.mu.RLock()
	content := e.content.String()
	children := append([]*Element(nil), e.children...)
	attrs := make([]string, 0, len(e.attrs))
	for k, v := range e.attrs {
		attrs = append(attrs, k+`="`+html.EscapeString(v)+`"`)
	}
	e.mu.RUnlock()

	sort.Strings(attrs)
	b.WriteString(`<div id="` + html.EscapeString(e.id) + `"`)
	for _, attr := range attrs {
		b.WriteString(" " + attr)
	}
	b.WriteString(">")
	b.WriteString(html.EscapeString(content))
	for _, child := range children {
		child.render(b)
	}
	b.WriteString("</div>")
}

func (e *Element) detach() {
	e.mu.Lock()
	e.parent = nil
	e.mu.Unlock()
}

package surface

import (
	"fmt"
	"strings"
	"testing"
)

func TestCreateChildReplacesSameID(t *testing.T) {
	root := NewRoot("app")
	first := root.CreateChild("module-a")
	first.SetContent("old")
	second := root.CreateChild("module-a")

	if len(root.Children()) != 1 {
		t.Fatalf("expected one child, got %d", len(root.Children()))
	}
	got, ok := root.Child("module-a")
	if !ok || got != second {
		t.Fatalf("lookup should return the replacement child")
	}
	if got.Content() != "" {
		t.Fatalf("replacement child should start empty")
	}
}

func TestClearRemovesContentAndChildren(t *testing.T) {
	root := NewRoot("app")
	target := root.CreateChild("module-a")
	fmt.Fprint(target, "hello")
	target.CreateChild("row-1").SetContent("x")
	target.SetAttr("data-state", "mounted")

	target.Clear()
	if !target.IsEmpty() {
		t.Fatalf("target should be empty after clear, got %q", target.Render())
	}
	if _, ok := target.Attr("data-state"); ok {
		t.Fatalf("attributes should be cleared")
	}
}

func TestRemoveDetachesFromParent(t *testing.T) {
	root := NewRoot("app")
	a := root.CreateChild("a")
	root.CreateChild("b")
	a.Remove()
	a.Remove()

	if _, ok := root.Child("a"); ok {
		t.Fatalf("removed child should not be found")
	}
	if len(root.Children()) != 1 {
		t.Fatalf("expected one remaining child")
	}
}

func TestRenderEscapesContent(t *testing.T) {
	root := NewRoot("app")
	root.CreateChild("m").SetContent("<script>")
	out := root.Render()
	if strings.Contains(out, "<script>") {
		t.Fatalf("content should be escaped: %s", out)
	}
	if !strings.HasPrefix(out, `<div id="app">`) || !strings.Contains(out, `<div id="m">&lt;script&gt;</div>`) {
		t.Fatalf("unexpected render output: %s", out)
	}
}

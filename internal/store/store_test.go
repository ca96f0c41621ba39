package store

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestUpdateMergesInsteadOfReplacing(t *testing.T) {
	s := New("orders", map[string]any{"a": 1, "b": 2})
	if err := s.Update(map[string]any{"b": 3}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	want := map[string]any{"a": 1, "b": 3}
	if diff := cmp.Diff(want, s.State()); diff != "" {
		t.Fatalf("state mismatch (-want +got):\n%s", diff)
	}
}

func TestNewCopiesInitialState(t *testing.T) {
	initial := map[string]any{"a": 1}
	s := New("copy", initial)
	initial["a"] = 99
	if v, _ := s.Get("a"); v != 1 {
		t.Fatalf("initial map should be copied, got %v", v)
	}
}

func TestUpdateRejectsMalformedPartial(t *testing.T) {
	s := New("bad", nil)
	cases := []any{nil, 42, "text", []string{"a"}}
	for _, partial := range cases {
		if err := s.Update(partial); !errors.Is(err, ErrMalformedPartial) {
			t.Fatalf("expected ErrMalformedPartial for %T, got %v", partial, err)
		}
	}
}

func TestUpdateAcceptsStructPartial(t *testing.T) {
	type loading struct {
		IsLoading bool `mapstructure:"isLoading"`
	}
	s := New("struct", map[string]any{"data": "x"})
	if err := s.Update(&loading{IsLoading: true}); err != nil {
		t.Fatalf("struct partial should be accepted: %v", err)
	}
	if v, _ := s.Get("isLoading"); v != true {
		t.Fatalf("expected isLoading=true, got %v", v)
	}
	if v, _ := s.Get("data"); v != "x" {
		t.Fatalf("untouched key lost: %v", v)
	}
}

func TestSubscribeAndUnsubscribeAreIndependent(t *testing.T) {
	s := New("subs", nil)
	var first, second int
	unsubFirst := s.Subscribe(func(map[string]any) { first++ })
	s.Subscribe(func(state map[string]any) {
		second++
		if state["n"] == nil {
			t.Errorf("listener should receive updated snapshot")
		}
	})

	_ = s.Update(map[string]any{"n": 1})
	unsubFirst()
	unsubFirst()
	_ = s.Update(map[string]any{"n": 2})

	if first != 1 {
		t.Fatalf("unsubscribed listener called %d times", first)
	}
	if second != 2 {
		t.Fatalf("remaining listener should see both updates, got %d", second)
	}
}

func TestDispatchRecordsActionLog(t *testing.T) {
	s := New("log", nil)
	if err := s.Dispatch(Action{Type: "select", Payload: map[string]any{"selected": 7}}); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if err := s.Dispatch(Action{}); err == nil {
		t.Fatalf("dispatch without type should fail")
	}

	actions := s.Actions()
	if len(actions) != 1 || actions[0].Type != "select" {
		t.Fatalf("unexpected action log: %+v", actions)
	}
	if actions[0].Timestamp.IsZero() {
		t.Fatalf("dispatch should stamp the action")
	}
	if v, _ := s.Get("selected"); v != 7 {
		t.Fatalf("payload should be merged, got %v", v)
	}
}

func TestGetMissingKey(t *testing.T) {
	s := New("missing", nil)
	if _, ok := s.Get("nope"); ok {
		t.Fatalf("missing key should report false")
	}
}

package server

import (
	"testing"
	"time"

	"github.com/any-hub/modhost/internal/config"
)

func TestNewUpstreamClientUsesConfigTimeout(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{
			APITimeout: config.Duration(45 * time.Second),
		},
	}

	client := NewUpstreamClient(cfg)
	if client.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout)
	}
}

func TestClientsFallBackToDefaults(t *testing.T) {
	if got := NewUpstreamClient(nil).Timeout; got != 30*time.Second {
		t.Fatalf("unexpected upstream default %s", got)
	}
	if got := NewBundleClient(&config.Config{}).Timeout; got != 10*time.Second {
		t.Fatalf("unexpected bundle default %s", got)
	}
}

func TestClientsDoNotShareTransport(t *testing.T) {
	a := NewUpstreamClient(nil)
	b := NewBundleClient(nil)
	if a.Transport == b.Transport {
		t.Fatalf("each client should own a cloned transport")
	}
}

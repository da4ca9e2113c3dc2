package entertainment

import "testing"

func TestListenerConfigDefaults(t *testing.T) {
	cfg := ListenerConfig{}.withDefaults()
	if cfg.Addr != DefaultAddr {
		t.Errorf("Addr = %q, want %q", cfg.Addr, DefaultAddr)
	}
	if cfg.MinFrameSpacing != DefaultMinFrameSpacing {
		t.Errorf("MinFrameSpacing = %v, want %v", cfg.MinFrameSpacing, DefaultMinFrameSpacing)
	}
	if cfg.FrameSilence != DefaultFrameSilence {
		t.Errorf("FrameSilence = %v, want %v", cfg.FrameSilence, DefaultFrameSilence)
	}
}

func TestListenerConfigPreservesExplicitValues(t *testing.T) {
	cfg := ListenerConfig{Addr: ":9999"}.withDefaults()
	if cfg.Addr != ":9999" {
		t.Errorf("Addr = %q, want :9999", cfg.Addr)
	}
}

package api

import (
	"sync"
	"time"
)

// LinkButton is the pairing gate POST /api checks before minting a new
// application key: opened by an explicit bridge-side action, closed
// automatically after a fixed window.
type LinkButton struct {
	mu    sync.Mutex
	timer *time.Timer
	open  bool
}

// Press opens the gate for window, restarting the window if already open.
func (b *LinkButton) Press(window time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.open = true
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(window, func() {
		b.mu.Lock()
		b.open = false
		b.mu.Unlock()
	})
}

// IsOpen reports whether the gate currently admits pairing.
func (b *LinkButton) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

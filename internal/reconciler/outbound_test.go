package reconciler

import (
	"context"
	"testing"
	"time"
)

func TestNewOutboundQueueDefaultsRPS(t *testing.T) {
	q := newOutboundQueue(0)
	if q.limiter.Limit() != 20 {
		t.Errorf("limiter rate = %v, want 20 (default)", q.limiter.Limit())
	}
}

func TestNewOutboundQueueHonorsExplicitRPS(t *testing.T) {
	q := newOutboundQueue(5)
	if q.limiter.Limit() != 5 {
		t.Errorf("limiter rate = %v, want 5", q.limiter.Limit())
	}
}

func TestEnqueueReturnsContextErrorWhenQueueNeverDrained(t *testing.T) {
	q := newOutboundQueue(10)
	// fill the channel to capacity so the next send blocks
	for i := 0; i < cap(q.normal); i++ {
		q.normal <- &Intent{result: make(chan error, 1)}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := enqueue(ctx, q.normal, &Intent{})
	if err == nil {
		t.Fatal("expected context deadline error, got nil")
	}
}

func TestSendWithRetrySkipsAbandonedIntent(t *testing.T) {
	q := newOutboundQueue(10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	in := &Intent{ctx: ctx, result: make(chan error, 1)}
	if err := q.sendWithRetry(context.Background(), nil, in); err == nil {
		t.Fatal("expected the abandoned intent's context error, got nil")
	}
}

func TestEnqueueReturnsResultOnceDelivered(t *testing.T) {
	q := newOutboundQueue(10)
	done := make(chan struct{})
	go func() {
		defer close(done)
		in := <-q.normal
		in.result <- nil
	}()

	if err := enqueue(context.Background(), q.normal, &Intent{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	<-done
}

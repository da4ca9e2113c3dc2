package reconciler

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/huebridged/bridge/internal/graph"
	"github.com/huebridged/bridge/internal/huerr"
)

// Intent is one outbound command targeting a light.
type Intent struct {
	Light   graph.Handle
	Payload envelope
	ctx     context.Context
	result  chan error
}

// retryBackoffs is the fixed exponential-backoff retry schedule for
// outbound commands: up to 3 retries on transport errors.
var retryBackoffs = []time.Duration{100 * time.Millisecond, 400 * time.Millisecond, 1600 * time.Millisecond}

const commandWriteDeadline = 3 * time.Second

// outboundQueue is a session's single writer: one FIFO channel for
// ordinary intents, rate-limited and retried, and a priority channel
// entertainment frames use to bypass it entirely.
type outboundQueue struct {
	limiter  *rate.Limiter
	normal   chan *Intent
	priority chan *Intent
}

func newOutboundQueue(rps float64) *outboundQueue {
	if rps <= 0 {
		rps = 20
	}
	return &outboundQueue{
		limiter:  rate.NewLimiter(rate.Limit(rps), int(rps)),
		normal:   make(chan *Intent, 256),
		priority: make(chan *Intent, 64),
	}
}

// enqueue submits in on the given channel and blocks until it is either
// sent (or permanently failed) or ctx is done. An intent whose ctx is
// already done by the time the writer picks it up is dropped without
// being written; a command already on the wire completes and its result
// is discarded by the departed caller.
func enqueue(ctx context.Context, ch chan *Intent, in *Intent) error {
	in.ctx = ctx
	in.result = make(chan error, 1)
	select {
	case ch <- in:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-in.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain is the session's single writer goroutine: it owns conn
// exclusively for writes, always preferring the priority channel so
// entertainment frames never wait behind a backed-up intent queue.
func (q *outboundQueue) drain(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case in := <-q.priority:
			in.result <- sendOnce(conn, in)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case in := <-q.priority:
			in.result <- sendOnce(conn, in)
		case in := <-q.normal:
			in.result <- q.sendWithRetry(ctx, conn, in)
		}
	}
}

func sendOnce(conn *websocket.Conn, in *Intent) error {
	conn.SetWriteDeadline(time.Now().Add(commandWriteDeadline))
	if err := conn.WriteJSON(in.Payload); err != nil {
		return huerr.Wrap(huerr.Unavailable, "entertainment frame write failed", err)
	}
	return nil
}

func (q *outboundQueue) sendWithRetry(ctx context.Context, conn *websocket.Conn, in *Intent) error {
	if in.ctx != nil && in.ctx.Err() != nil {
		return in.ctx.Err()
	}

	var lastErr error
	for attempt := 0; attempt <= len(retryBackoffs); attempt++ {
		if err := q.limiter.Wait(ctx); err != nil {
			return huerr.Wrap(huerr.Timeout, "rate limiter wait canceled", err)
		}

		conn.SetWriteDeadline(time.Now().Add(commandWriteDeadline))
		err := conn.WriteJSON(in.Payload)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < len(retryBackoffs) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoffs[attempt]):
			}
		}
	}
	return huerr.Wrap(huerr.Unavailable, "outbound command failed after retries", lastErr)
}

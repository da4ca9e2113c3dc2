// Package entertainment implements the DTLS entertainment-streaming
// server: it accepts PSK-authenticated sessions, parses
// each received light-frame burst with internal/codec/entertainment,
// and forwards it to the owning upstream gateway's priority send path,
// in counter order, with per-gateway inter-frame spacing.
//
// Segment virtual-address resolution and pre-session state snapshotting
// are the Binder implementation's responsibility (wired against the
// resource graph and reconciler sessions); this package only consumes
// an already-resolved Binding.
package entertainment

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pion/dtls/v3"
	"github.com/rs/zerolog"

	"github.com/huebridged/bridge/internal/graph"
	"github.com/huebridged/bridge/internal/huerr"
)

// PSKLookup resolves a connecting client's PSK identity (an application
// key) to its derived 16-byte secret. An identity that matches no
// paired key is rejected during the handshake, before any frame is
// processed.
type PSKLookup interface {
	Secret(identity string) (secret []byte, ok bool)
}

// Member is one light bound into an entertainment session.
type Member struct {
	Light           graph.Handle
	Gateway         string
	Addrs           []uint16 // physical address (len 1) or per-segment virtual addresses
	PreSessionState *graph.Light
}

// Binding is one entertainment_configuration's member snapshot, fixed
// for the life of a session: member lights and segment addresses are
// resolved once at session start.
type Binding struct {
	Config  graph.Handle
	Members []Member
}

// Binder resolves the entertainment_configuration a connecting identity
// is authorized to stream to, performing whatever live segment-address
// handshake with the owning gateway(s) the binding needs before a
// stream can go live.
type Binder interface {
	Bind(ctx context.Context, identity string) (Binding, error)
}

// FrameSender forwards one gateway's share of a frame via its priority
// send path, bypassing the normal intent queue.
type FrameSender interface {
	SendEntertainmentFrame(ctx context.Context, gateway string, light graph.Handle, wire []byte) error
}

// Restorer re-applies a light's pre-session state on session teardown.
type Restorer interface {
	Restore(ctx context.Context, light graph.Handle, state *graph.Light) error
}

const (
	DefaultAddr            = ":2100"
	DefaultMinFrameSpacing = 20 * time.Millisecond
	DefaultFrameSilence    = 5 * time.Second
)

// ListenerConfig configures the DTLS accept loop.
type ListenerConfig struct {
	Addr            string
	MinFrameSpacing time.Duration
	FrameSilence    time.Duration
}

func (c ListenerConfig) withDefaults() ListenerConfig {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.MinFrameSpacing <= 0 {
		c.MinFrameSpacing = DefaultMinFrameSpacing
	}
	if c.FrameSilence <= 0 {
		c.FrameSilence = DefaultFrameSilence
	}
	return c
}

// Listener accepts entertainment-streaming DTLS sessions.
type Listener struct {
	cfg      ListenerConfig
	psk      PSKLookup
	binder   Binder
	sender   FrameSender
	restorer Restorer
	log      zerolog.Logger
}

// NewListener builds a Listener. Call Serve to run the accept loop.
func NewListener(cfg ListenerConfig, psk PSKLookup, binder Binder, sender FrameSender, restorer Restorer, log zerolog.Logger) *Listener {
	return &Listener{
		cfg:      cfg.withDefaults(),
		psk:      psk,
		binder:   binder,
		sender:   sender,
		restorer: restorer,
		log:      log.With().Str("component", "entertainment").Logger(),
	}
}

// Serve runs the DTLS accept loop until ctx is canceled.
func (l *Listener) Serve(ctx context.Context) error {
	laddr, err := net.ResolveUDPAddr("udp", l.cfg.Addr)
	if err != nil {
		return err
	}

	dtlsCfg := &dtls.Config{
		PSK: func(hint []byte) ([]byte, error) {
			secret, ok := l.psk.Secret(string(hint))
			if !ok {
				return nil, huerr.New(huerr.Unauthorized, "psk identity not paired")
			}
			return secret, nil
		},
		PSKIdentityHint: []byte("huebridged"),
		CipherSuites:    []dtls.CipherSuiteID{dtls.TLS_PSK_WITH_AES_128_GCM_SHA256},
	}

	ln, err := dtls.Listen("udp", laddr, dtlsCfg)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		dconn, ok := conn.(*dtls.Conn)
		if !ok {
			conn.Close()
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			l.handleConn(ctx, dconn)
		}()
	}
}

func (l *Listener) handleConn(ctx context.Context, conn *dtls.Conn) {
	defer conn.Close()

	state, ok := conn.ConnectionState()
	if !ok {
		l.log.Warn().Msg("entertainment connection accepted without a completed handshake")
		return
	}
	identity := string(state.IdentityHint)
	binding, err := l.binder.Bind(ctx, identity)
	if err != nil {
		l.log.Warn().Err(err).Str("identity", identity).Msg("entertainment session rejected: no bound configuration")
		return
	}

	s := newSession(l, conn, identity, binding)
	s.run(ctx)
}

// Package reconciler implements one long-running session per configured
// upstream gateway: it ingests the gateway's device/group inventory and
// live state into the resource graph, and translates outbound intents
// into gateway commands with ordering and retry discipline.
package reconciler

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	entcodec "github.com/huebridged/bridge/internal/codec/entertainment"
	"github.com/huebridged/bridge/internal/graph"
	"github.com/huebridged/bridge/internal/huerr"
)

// State is one state in the per-gateway session state machine.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshakeWait
	StateInventoryFetch
	StateLive
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshakeWait:
		return "handshake_wait"
	case StateInventoryFetch:
		return "inventory_fetch"
	case StateLive:
		return "live"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// GatewayConfig names one upstream gateway session's connection and
// filtering parameters.
type GatewayConfig struct {
	Name              string
	URL               string
	TLSInsecure       bool
	GroupPrefix       string
	CommandRPS        float64
	InventoryTTL      time.Duration
	DeviceGracePeriod time.Duration
}

// envelope is the wire shape of every gateway WebSocket message.
type envelope struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

const (
	reconnectMinBackoff = 1 * time.Second
	reconnectMaxBackoff = 60 * time.Second
	reconnectMultiplier = 2.0
	inventoryTimeout    = 10 * time.Second
	keepaliveInterval   = 30 * time.Second
	keepaliveTimeout    = 75 * time.Second // misses two pongs before the read fails
)

// Session owns one gateway's WebSocket connection, its outbound queues,
// and the state machine driving inventory sync and live-event ingest.
type Session struct {
	cfg   GatewayConfig
	graph *graph.Graph
	log   zerolog.Logger

	state    atomic.Int32
	outbound *outboundQueue

	mapMu           sync.RWMutex
	devices         map[string]deviceLink  // upstream device id -> graph handles
	lightToUpstream map[graph.Handle]string // reverse lookup for outbound translation

	segmentAckMu sync.Mutex
	segmentAcks  map[string]chan entcodec.Frame7Response // upstream device id -> pending command-7 response
}

// NewSession creates a session for one gateway. Call Run to drive it.
func NewSession(cfg GatewayConfig, g *graph.Graph, log zerolog.Logger) *Session {
	s := &Session{
		cfg:             cfg,
		graph:           g,
		log:             log.With().Str("gateway", cfg.Name).Logger(),
		devices:         make(map[string]deviceLink),
		lightToUpstream: make(map[graph.Handle]string),
		segmentAcks:     make(map[string]chan entcodec.Frame7Response),
	}
	s.outbound = newOutboundQueue(cfg.CommandRPS)
	s.state.Store(int32(StateDisconnected))
	return s
}

// State returns the session's current state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.log.Debug().Str("state", st.String()).Msg("gateway session state transition")
}

// Run drives the session until ctx is canceled: dial, handshake,
// inventory sync, live ingest, and on disconnect an exponential-backoff
// reconnect (1 s, 2 s, 4 s, ... capped at 60 s).
func (s *Session) Run(ctx context.Context) error {
	backoff := reconnectMinBackoff

	for {
		select {
		case <-ctx.Done():
			s.setState(StateDisconnected)
			return nil
		default:
		}

		err := s.connectAndServe(ctx)
		if ctx.Err() != nil {
			s.setState(StateDisconnected)
			return nil
		}

		s.setState(StateReconnecting)
		if err != nil {
			s.log.Warn().Err(err).Dur("backoff", backoff).Msg("gateway session disconnected, reconnecting")
		}

		select {
		case <-ctx.Done():
			s.setState(StateDisconnected)
			return nil
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * reconnectMultiplier)
		if backoff > reconnectMaxBackoff {
			backoff = reconnectMaxBackoff
		}
	}
}

func (s *Session) connectAndServe(ctx context.Context) error {
	s.setState(StateConnecting)

	conn, warnings, err := Dial(ctx, s.cfg)
	for _, w := range warnings {
		s.log.Warn().Str("warning", w).Msg("gateway url normalization")
	}
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	s.setState(StateHandshakeWait)
	if err := conn.WriteJSON(envelope{Topic: "inventory", Type: "request"}); err != nil {
		return fmt.Errorf("inventory request: %w", err)
	}

	s.setState(StateInventoryFetch)
	inv, err := s.awaitInventory(ctx, conn)
	if err != nil {
		return fmt.Errorf("inventory fetch: %w", err)
	}

	s.mapMu.Lock()
	err = applyInventory(s.graph, s.cfg, s.devices, s.lightToUpstream, inv)
	s.mapMu.Unlock()
	if err != nil {
		return fmt.Errorf("apply inventory: %w", err)
	}

	s.setState(StateLive)

	// Everything below lives exactly as long as this one connection;
	// the writer and the keepalive/refresh ticker must not outlive it,
	// or a dead socket would wedge the reconnect loop.
	connCtx, cancelConn := context.WithCancel(ctx)
	defer cancelConn()

	conn.SetReadDeadline(time.Now().Add(keepaliveTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(keepaliveTimeout))
	})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.outbound.drain(connCtx, conn)
	}()

	tickerDone := make(chan struct{})
	go func() {
		defer close(tickerDone)
		s.keepaliveAndRefresh(connCtx, conn)
	}()

	err = s.readLoop(connCtx, conn)
	cancelConn()
	conn.Close()
	<-writerDone
	<-tickerDone
	return err
}

// keepaliveAndRefresh pings the gateway so a silent dead peer fails the
// read deadline, and re-requests the full inventory every InventoryTTL
// so devices added or removed without a live event still converge.
func (s *Session) keepaliveAndRefresh(ctx context.Context, conn *websocket.Conn) {
	ttl := s.cfg.InventoryTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	ping := time.NewTicker(keepaliveInterval)
	defer ping.Stop()
	refresh := time.NewTicker(ttl)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(inventoryTimeout)); err != nil {
				return
			}
		case <-refresh.C:
			reqCtx, cancel := context.WithTimeout(ctx, inventoryTimeout)
			err := enqueue(reqCtx, s.outbound.normal, &Intent{Payload: envelope{Topic: "inventory", Type: "request"}})
			cancel()
			if err != nil {
				s.log.Warn().Err(err).Msg("inventory refresh request failed")
			}
		}
	}
}

func (s *Session) awaitInventory(ctx context.Context, conn *websocket.Conn) (inventoryPayload, error) {
	deadline := time.Now().Add(inventoryTimeout)
	conn.SetReadDeadline(deadline)

	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			return inventoryPayload{}, err
		}
		if env.Topic != "inventory" || env.Type != "response" {
			continue
		}

		var inv inventoryPayload
		if err := json.Unmarshal(env.Payload, &inv); err != nil {
			return inventoryPayload{}, huerr.Wrap(huerr.MalformedFrame, "invalid inventory response", err)
		}
		conn.SetReadDeadline(time.Time{})
		return inv, nil
	}
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}

		switch {
		case env.Topic == "device" && env.Type == "state":
			if err := s.applyDeviceState(env.Payload); err != nil {
				s.log.Warn().Err(err).Msg("failed to apply device state event")
			}
		case env.Topic == "inventory" && env.Type == "response":
			var inv inventoryPayload
			if err := json.Unmarshal(env.Payload, &inv); err != nil {
				s.log.Warn().Err(err).Msg("failed to parse refreshed inventory")
				continue
			}
			s.mapMu.Lock()
			err := applyInventory(s.graph, s.cfg, s.devices, s.lightToUpstream, inv)
			s.mapMu.Unlock()
			if err != nil {
				s.log.Warn().Err(err).Msg("failed to apply refreshed inventory")
			}
		case env.Topic == "device" && env.Type == "raw_response":
			s.handleRawResponse(env.Payload)
		default:
			s.log.Trace().Str("topic", env.Topic).Str("type", env.Type).Msg("unhandled gateway message")
		}
	}
}

type deviceStateEvent struct {
	ID         string   `json:"id"`
	On         *bool    `json:"on,omitempty"`
	Brightness *float64 `json:"brightness,omitempty"`
	Mirek      *int     `json:"mirek,omitempty"`
	X          *float64 `json:"x,omitempty"`
	Y          *float64 `json:"y,omitempty"`
}

func (s *Session) applyDeviceState(payload json.RawMessage) error {
	var ev deviceStateEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return huerr.Wrap(huerr.MalformedFrame, "invalid device state event", err)
	}

	s.mapMu.RLock()
	link, ok := s.devices[ev.ID]
	s.mapMu.RUnlock()
	if !ok {
		return huerr.New(huerr.NotFound, "device state event for unknown upstream id "+ev.ID)
	}

	r, ok := s.graph.Get(link.Light)
	if !ok {
		return huerr.New(huerr.NotFound, "light handle missing from graph")
	}
	current, ok := r.Payload.(*graph.Light)
	if !ok {
		return huerr.New(huerr.Internal, "device light handle did not hold a Light payload")
	}

	next := *current
	if ev.On != nil {
		next.On = *ev.On
	}
	if ev.Brightness != nil {
		next.Brightness = *ev.Brightness
	}
	if ev.Mirek != nil {
		next.ColorMode = graph.ColorModeTemperature
		next.ColorTempMirek = uint16(*ev.Mirek)
	}
	if ev.X != nil && ev.Y != nil {
		next.ColorMode = graph.ColorModeXY
		next.ColorXY = graph.XY{X: *ev.X, Y: *ev.Y}
	}

	_, err := s.graph.Upsert(link.Light, &next)
	return err
}

// SendIntent queues a light state change for this gateway. While the
// session is anything but Live, intents fail fast with Unavailable
// instead of queueing behind a reconnect.
func (s *Session) SendIntent(ctx context.Context, light graph.Handle, in LightIntent) error {
	if s.State() != StateLive {
		return huerr.New(huerr.Unavailable, "gateway session is not live")
	}

	s.mapMu.RLock()
	upstreamID, ok := s.lightToUpstream[light]
	s.mapMu.RUnlock()
	if !ok {
		return huerr.New(huerr.NotFound, "light not owned by this gateway session")
	}

	env, err := BuildEnvelope(upstreamID, in)
	if err != nil {
		return err
	}
	return enqueue(ctx, s.outbound.normal, &Intent{Light: light, Payload: env})
}

// SendEntertainmentFrame delivers a pre-built cluster-0xFC01 command-1
// payload via the priority path, bypassing the normal intent FIFO.
func (s *Session) SendEntertainmentFrame(ctx context.Context, light graph.Handle, wire []byte) error {
	if s.State() != StateLive {
		return huerr.New(huerr.Unavailable, "gateway session is not live")
	}

	s.mapMu.RLock()
	upstreamID, ok := s.lightToUpstream[light]
	s.mapMu.RUnlock()
	if !ok {
		return huerr.New(huerr.NotFound, "light not owned by this gateway session")
	}

	env, err := buildEntertainmentEnvelope(upstreamID, wire)
	if err != nil {
		return err
	}
	return enqueue(ctx, s.outbound.priority, &Intent{Light: light, Payload: env})
}

const segmentConfigureTimeout = 3 * time.Second

// ConfigureSegments performs the cluster-0xFC01 command-7 segment-map
// handshake for light, configuring the gateway with addrs as the
// virtual address assigned to each physical segment, in order. A
// non-zero status from the gateway is treated as transport failure and
// retried exactly once before giving up.
func (s *Session) ConfigureSegments(ctx context.Context, light graph.Handle, addrs []uint16) error {
	if s.State() != StateLive {
		return huerr.New(huerr.Unavailable, "gateway session is not live")
	}

	s.mapMu.RLock()
	upstreamID, ok := s.lightToUpstream[light]
	s.mapMu.RUnlock()
	if !ok {
		return huerr.New(huerr.NotFound, "light not owned by this gateway session")
	}

	req := &entcodec.Frame7{SegmentCount: len(addrs)}
	for _, a := range addrs {
		req.Assignments = append(req.Assignments, entcodec.SegmentAssignment{VirtualAddr: a})
	}
	wire := entcodec.SerializeFrame7(req)

	resp, err := s.sendSegmentConfigure(ctx, upstreamID, wire)
	if err == nil && resp.Success() {
		return nil
	}

	resp, err = s.sendSegmentConfigure(ctx, upstreamID, wire)
	if err != nil {
		return err
	}
	if !resp.Success() {
		return huerr.New(huerr.Unavailable, "gateway rejected segment configuration")
	}
	return nil
}

func (s *Session) sendSegmentConfigure(ctx context.Context, upstreamID string, wire []byte) (entcodec.Frame7Response, error) {
	ack := make(chan entcodec.Frame7Response, 1)
	s.segmentAckMu.Lock()
	s.segmentAcks[upstreamID] = ack
	s.segmentAckMu.Unlock()
	defer func() {
		s.segmentAckMu.Lock()
		delete(s.segmentAcks, upstreamID)
		s.segmentAckMu.Unlock()
	}()

	env, err := buildSegmentConfigureEnvelope(upstreamID, wire)
	if err != nil {
		return entcodec.Frame7Response{}, err
	}
	if err := enqueue(ctx, s.outbound.normal, &Intent{Payload: env}); err != nil {
		return entcodec.Frame7Response{}, err
	}

	timer := time.NewTimer(segmentConfigureTimeout)
	defer timer.Stop()
	select {
	case resp := <-ack:
		return resp, nil
	case <-timer.C:
		return entcodec.Frame7Response{}, huerr.New(huerr.Timeout, "gateway did not respond to segment configuration request")
	case <-ctx.Done():
		return entcodec.Frame7Response{}, ctx.Err()
	}
}

// handleRawResponse delivers a cluster-0xFC01 command-7 response to
// whichever ConfigureSegments call is waiting on it; any other raw
// response topic is ignored here.
func (s *Session) handleRawResponse(payload json.RawMessage) {
	var p rawCommandPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		s.log.Warn().Err(err).Msg("failed to parse raw command response")
		return
	}
	if p.Cluster != 0xFC01 || p.Command != 7 {
		return
	}

	wire, err := hex.DecodeString(p.HexData)
	if err != nil {
		s.log.Warn().Err(err).Msg("invalid hex in segment configure response")
		return
	}
	resp, err := entcodec.ParseFrame7Response(wire)
	if err != nil {
		s.log.Warn().Err(err).Msg("malformed segment configure response frame")
		return
	}

	s.segmentAckMu.Lock()
	ack, ok := s.segmentAcks[p.ID]
	s.segmentAckMu.Unlock()
	if ok {
		select {
		case ack <- *resp:
		default:
		}
	}
}

// Owns reports whether light belongs to a device this session has
// discovered, used by the reconciler registry to route intents.
func (s *Session) Owns(light graph.Handle) bool {
	s.mapMu.RLock()
	defer s.mapMu.RUnlock()
	_, ok := s.lightToUpstream[light]
	return ok
}

package entertainment

import (
	"context"
	"sync"
	"time"

	"github.com/pion/dtls/v3"
	"golang.org/x/time/rate"

	entcodec "github.com/huebridged/bridge/internal/codec/entertainment"
)

// maxFrameSize bounds one DTLS read: header (6 bytes) plus up to 10
// light blocks of 7 bytes each.
const maxFrameSize = 6 + entcodec.MaxLightBlocks*7

type session struct {
	listener *Listener
	conn     *dtls.Conn
	identity string
	binding  Binding

	addrIndex map[uint16]Member // routes a light block's addr to its member

	haveCounter bool
	lastCounter uint32

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter // per-gateway inter-frame spacing
}

func newSession(l *Listener, conn *dtls.Conn, identity string, binding Binding) *session {
	idx := make(map[uint16]Member, len(binding.Members))
	for _, m := range binding.Members {
		for _, addr := range m.Addrs {
			idx[addr] = m
		}
	}

	return &session{
		listener:  l,
		conn:      conn,
		identity:  identity,
		binding:   binding,
		addrIndex: idx,
		limiters:  make(map[string]*rate.Limiter),
	}
}

func (s *session) run(ctx context.Context) {
	defer s.restore(context.Background())

	buf := make([]byte, maxFrameSize)
	for {
		if ctx.Err() != nil {
			return
		}

		s.conn.SetReadDeadline(time.Now().Add(s.listener.cfg.FrameSilence))
		n, err := s.conn.Read(buf)
		if err != nil {
			return // silence timeout, DTLS alert, or client close
		}

		frame, err := entcodec.ParseFrame1(buf[:n])
		if err != nil {
			s.listener.log.Debug().Err(err).Str("identity", s.identity).Msg("dropping malformed entertainment frame")
			continue
		}

		if s.haveCounter && frame.Counter <= s.lastCounter {
			continue // out-of-order or duplicate, silently dropped
		}
		s.haveCounter = true
		s.lastCounter = frame.Counter

		s.dispatch(ctx, frame)
	}
}

// dispatch groups a frame's light blocks by owning gateway and forwards
// one command-1 frame to each unique gateway carrying any target light.
func (s *session) dispatch(ctx context.Context, frame *entcodec.Frame1) {
	type group struct {
		member Member
		blocks []entcodec.LightBlock
	}
	byGateway := make(map[string]*group)

	for _, block := range frame.LightBlocks {
		member, ok := s.addrIndex[block.Addr]
		if !ok {
			continue // address not part of this session's binding
		}
		g, ok := byGateway[member.Gateway]
		if !ok {
			g = &group{member: member}
			byGateway[member.Gateway] = g
		}
		g.blocks = append(g.blocks, block)
	}

	for gateway, g := range byGateway {
		out := &entcodec.Frame1{Counter: frame.Counter, Reserved04: 0x04, LightBlocks: g.blocks}
		wire, err := entcodec.SerializeFrame1(out)
		if err != nil {
			continue
		}

		if err := s.waitForSpacing(ctx, gateway); err != nil {
			return
		}
		_ = s.listener.sender.SendEntertainmentFrame(ctx, gateway, g.member.Light, wire)
	}
}

func (s *session) waitForSpacing(ctx context.Context, gateway string) error {
	s.limiterMu.Lock()
	lim, ok := s.limiters[gateway]
	if !ok {
		spacing := s.listener.cfg.MinFrameSpacing
		lim = rate.NewLimiter(rate.Every(spacing), 1)
		s.limiters[gateway] = lim
	}
	s.limiterMu.Unlock()
	return lim.Wait(ctx)
}

func (s *session) restore(ctx context.Context) {
	for _, m := range s.binding.Members {
		if m.PreSessionState == nil {
			continue
		}
		_ = s.listener.restorer.Restore(ctx, m.Light, m.PreSessionState)
	}
}

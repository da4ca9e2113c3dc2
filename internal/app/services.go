package app

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/huebridged/bridge/internal/api"
	"github.com/huebridged/bridge/internal/config"
	"github.com/huebridged/bridge/internal/discovery"
	"github.com/huebridged/bridge/internal/entertainment"
	"github.com/huebridged/bridge/internal/graph"
	"github.com/huebridged/bridge/internal/persist"
	"github.com/huebridged/bridge/internal/reconciler"
)

// bridgeModelID is the model id this emulator advertises to discovery
// clients through its discovery identity, matching the real Hue
// Bridge V2 hardware so existing Hue apps recognize it.
const bridgeModelID = "BSB002"

// Services is a container for the bridge's collaborators and their
// lifecycle. It manages initialization order and dependencies: one
// reconciler.Session per configured gateway, the entertainment
// listener, the API server, and the persistence stores underneath
// them.
type Services struct {
	cfg *config.Config

	graph *graph.Graph
	log   *graph.ChangeLog

	store   *persist.Store
	clients *persist.PairedClients

	gateways *gatewayRegistry
	sessions []*reconciler.Session
	listener *entertainment.Listener
	api      *api.Server

	beacon   discovery.Beacon
	identity discovery.Identity

	bridgeIdent persist.BridgeIdentity

	snapshotDone chan struct{}
}

// NewServices creates all collaborators with proper dependency
// injection, including hydrating the resource graph from the last
// saved snapshot.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	s.log = graph.NewChangeLog()
	s.graph = graph.New(s.log)

	s.store = persist.NewStore(cfg.Persistence.GetSnapshotPath())
	snap, err := s.store.Load()
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	bridgeID := snap.Bridge.BridgeID
	if bridgeID == "" {
		bridgeID = deriveBridgeID(cfg.Bridge.MAC)
		snap.Bridge.BridgeID = bridgeID
		snap.Bridge.MAC = cfg.Bridge.MAC
	}

	if cfg.API.CertFile != "" {
		cert, err := loadCertificate(cfg.API.CertFile)
		if err != nil {
			return nil, fmt.Errorf("load https certificate: %w", err)
		}
		if err := persist.VerifyCertificateMAC(cert, cfg.Bridge.MAC); err != nil {
			return nil, fmt.Errorf("https certificate does not match configured MAC: %w", err)
		}
		fp := sha256.Sum256(cert.Raw)
		snap.Bridge.CertFingerprint = hex.EncodeToString(fp[:])
	}
	s.bridgeIdent = snap.Bridge

	if err := hydrateGraph(s.graph, snap); err != nil {
		return nil, fmt.Errorf("hydrate graph: %w", err)
	}

	bridgeHandle := graph.NewHandle(graph.TypeBridge, bridgeID)
	if _, err := s.graph.Upsert(bridgeHandle, &graph.Bridge{
		Name: cfg.Bridge.GetName(), MAC: cfg.Bridge.MAC, BridgeID: bridgeID,
	}); err != nil {
		return nil, fmt.Errorf("upsert bridge resource: %w", err)
	}

	s.beacon = discovery.NoopBeacon{}
	s.identity = discovery.Identity{
		BridgeID: bridgeID, MAC: cfg.Bridge.MAC, ModelID: bridgeModelID, Addr: cfg.API.GetAddr(),
	}

	clients, err := persist.OpenPairedClients(cfg.Persistence.GetPairedClientsDB())
	if err != nil {
		return nil, fmt.Errorf("open paired clients store: %w", err)
	}
	s.clients = clients

	s.sessions = make([]*reconciler.Session, len(cfg.Gateways))
	names := make([]string, len(cfg.Gateways))
	for i, gw := range cfg.Gateways {
		sessionCfg := reconciler.GatewayConfig{
			Name:              gw.Name,
			URL:               gw.URL,
			TLSInsecure:       gw.TLSInsecure,
			GroupPrefix:       gw.GroupPrefix,
			CommandRPS:        gw.GetCommandRPS(),
			InventoryTTL:      gw.GetInventoryTTL(),
			DeviceGracePeriod: gw.GetDeviceGracePeriod(),
		}
		s.sessions[i] = reconciler.NewSession(sessionCfg, s.graph, log.Logger)
		names[i] = gw.Name
	}
	s.gateways = newGatewayRegistry(s.sessions, names)

	s.listener = entertainment.NewListener(
		entertainment.ListenerConfig{
			Addr:            cfg.Entertainment.GetAddr(),
			MinFrameSpacing: cfg.Entertainment.GetMinFrameSpacing(),
			FrameSilence:    cfg.Entertainment.GetFrameSilence(),
		},
		&pskLookup{clients: s.clients},
		&binder{graph: s.graph, gateways: s.gateways},
		&frameSender{gateways: s.gateways},
		&restorer{gateways: s.gateways},
		log.Logger,
	)

	s.api = api.NewServer(
		api.Config{
			Addr:             cfg.API.GetAddr(),
			CertFile:         cfg.API.CertFile,
			KeyFile:          cfg.API.KeyFile,
			ShutdownTimeout:  cfg.API.GetShutdownTimeout(),
			LinkButtonWindow: cfg.API.GetLinkButtonWindow(),
		},
		s.graph, s.log,
		&intentRouter{gateways: s.gateways},
		&pairedClientStore{clients: s.clients},
		log.Logger,
	)

	return s, nil
}

// Start runs every background collaborator: gateway sessions, the
// entertainment listener, the API server, and the periodic snapshot
// saver. The onFatalError callback is invoked if the entertainment
// listener or the API server exits with an error the caller didn't ask
// for (e.g. the API server's listener failing to bind); a gateway
// session or the discovery beacon exiting with an error is only logged.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	for i, sess := range s.sessions {
		sess := sess
		name := s.cfg.Gateways[i].Name
		go func() {
			if err := sess.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Str("gateway", name).Msg("gateway session exited")
			}
		}()
	}

	go func() {
		if err := s.listener.Serve(ctx); err != nil && ctx.Err() == nil {
			onFatalError(fmt.Errorf("entertainment listener: %w", err))
		}
	}()

	go func() {
		if err := s.beacon.Advertise(ctx, s.identity); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("discovery beacon exited")
		}
	}()

	go func() {
		if err := s.api.Run(ctx); err != nil && ctx.Err() == nil {
			onFatalError(fmt.Errorf("api server: %w", err))
		}
	}()

	linkSig := make(chan os.Signal, 1)
	signal.Notify(linkSig, syscall.SIGUSR1)
	go func() {
		defer signal.Stop(linkSig)
		for {
			select {
			case <-ctx.Done():
				return
			case <-linkSig:
				log.Info().Msg("link button pressed, pairing window open")
				s.api.PressLinkButton()
			}
		}
	}()

	s.snapshotDone = make(chan struct{})
	go s.runSnapshotLoop(ctx)

	return nil
}

// loadCertificate reads the first PEM certificate block from path.
func loadCertificate(path string) (*x509.Certificate, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("no certificate PEM block in %s", path)
	}
	return x509.ParseCertificate(block.Bytes)
}

const snapshotInterval = time.Minute

// runSnapshotLoop periodically persists the user-authored subset of the
// graph, plus one final save on shutdown so the last in-flight edit
// before ctx cancellation isn't lost.
func (s *Services) runSnapshotLoop(ctx context.Context) {
	defer close(s.snapshotDone)

	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.saveSnapshot(); err != nil {
				log.Error().Err(err).Msg("failed to save snapshot on shutdown")
			}
			return
		case <-ticker.C:
			if err := s.saveSnapshot(); err != nil {
				log.Warn().Err(err).Msg("failed to save snapshot")
			}
		}
	}
}

func (s *Services) saveSnapshot() error {
	return s.store.Save(extractSnapshot(s.graph, s.bridgeIdent))
}

// Stop waits for the background snapshot loop to finish its final save
// and closes the paired-clients store.
func (s *Services) Stop() error {
	if s.snapshotDone != nil {
		<-s.snapshotDone
	}
	if s.clients != nil {
		return s.clients.Close()
	}
	return nil
}

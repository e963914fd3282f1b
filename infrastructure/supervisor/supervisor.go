// Package supervisor drives the top-level fan-in of §4.8: a client redials
// and re-establishes on every close, a server accepts concurrently up to a
// capacity bound and respawns capacity as sessions close. Both legs run
// under one errgroup whose context also carries the process interrupt.
package supervisor

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tunnelcore/application/addon"
	"tunnelcore/application/addresspool"
	"tunnelcore/application/link"
	"tunnelcore/application/logging"
	"tunnelcore/application/rewriter"
	"tunnelcore/application/session"
	"tunnelcore/application/tun"
	"tunnelcore/domain/mode"
)

// DeviceFactory builds one tun device for one session (§4.8: a fresh device
// per session on the server, one long-lived device on the client that is
// reused... in practice reconstructed per connection attempt here, since the
// reference implementation tears the device down with the session too).
type DeviceFactory func() (tun.Device, error)

// Config bundles everything the supervisor needs to keep producing sessions.
type Config struct {
	Mode        mode.Mode
	LinkManager link.Manager
	Net         session.NetworkConfigurator
	NewDevice   DeviceFactory
	Logger      logging.Logger

	// Capacity bounds concurrently live sessions (§4.8): 1 for a client, a
	// configured value for a server.
	Capacity int
	// Backoff is the delay after a failed Create/Accept before retrying.
	Backoff time.Duration

	NewRewriters func() []rewriter.Rewriter
	NewAddons    func() []func() (addon.Addon, error)

	// SetDefaultGateway is forwarded to each client session (§4.6, §6).
	SetDefaultGateway bool
	// Network and NewPool are server-only (§4.6 table).
	Network netip.Prefix
	NewPool func(netip.Prefix) addresspool.Pool
}

// Supervisor owns the link manager's lifetime and the set of live sessions.
type Supervisor struct {
	cfg    Config
	logger logging.Logger

	mu       sync.Mutex
	sessions map[session.Session]struct{}
}

func New(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop{}
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	return &Supervisor{cfg: cfg, logger: logger, sessions: make(map[session.Session]struct{})}
}

// Run blocks until ctx is cancelled (process interrupt, §4.8 global
// cleanup), then tears down the link manager and every live session before
// returning. A link manager Setup failure is fatal and returned immediately.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.cfg.LinkManager.Setup(); err != nil {
		return err
	}

	group, gctx := errgroup.WithContext(ctx)

	switch s.cfg.Mode {
	case mode.Client:
		group.Go(func() error { return s.runClientLoop(gctx) })
	case mode.Server:
		sem := make(chan struct{}, s.cfg.Capacity)
		group.Go(func() error { return s.runServerLoop(gctx, group, sem) })
	}

	err := group.Wait()
	s.shutdown()
	if cleanupErr := s.cfg.LinkManager.Cleanup(); cleanupErr != nil {
		s.logger.Printf("supervisor: link manager cleanup failed: %v", cleanupErr)
	}
	return err
}

// runClientLoop holds exactly one live session at a time (capacity 1): dial,
// run to completion, back off, redial (§4.8).
func (s *Supervisor) runClientLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		lnk, err := s.cfg.LinkManager.Create(ctx)
		if err != nil {
			s.logger.Printf("supervisor: create link failed: %v", err)
			if !sleepOrDone(ctx, s.cfg.Backoff) {
				return nil
			}
			continue
		}

		done := make(chan struct{})
		if startErr := s.startSession(lnk, func() { close(done) }); startErr != nil {
			s.logger.Printf("supervisor: start session failed: %v", startErr)
			_ = lnk.Cleanup()
			if !sleepOrDone(ctx, s.cfg.Backoff) {
				return nil
			}
			continue
		}

		select {
		case <-done:
		case <-ctx.Done():
			return nil
		}
	}
}

// runServerLoop accepts up to Capacity concurrently live sessions, spawning
// each into its own errgroup goroutine and freeing its slot on close (§4.8).
func (s *Supervisor) runServerLoop(ctx context.Context, group *errgroup.Group, sem chan struct{}) error {
	for {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return nil
		}

		lnk, err := s.cfg.LinkManager.Accept(ctx)
		if err != nil {
			<-sem
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Printf("supervisor: accept link failed: %v", err)
			if !sleepOrDone(ctx, s.cfg.Backoff) {
				return nil
			}
			continue
		}

		group.Go(func() error {
			defer func() { <-sem }()
			done := make(chan struct{})
			if startErr := s.startSession(lnk, func() { close(done) }); startErr != nil {
				s.logger.Printf("supervisor: start session failed: %v", startErr)
				_ = lnk.Cleanup()
				return nil
			}
			select {
			case <-done:
			case <-ctx.Done():
			}
			return nil
		})
	}
}

// startSession builds a fresh Device and Engine, drives the Link's Setup and
// handshake, and registers the session so Cleanup can reach it.
func (s *Supervisor) startSession(lnk link.Link, onClose func()) error {
	dev, err := s.cfg.NewDevice()
	if err != nil {
		return err
	}

	var rewriters []rewriter.Rewriter
	if s.cfg.NewRewriters != nil {
		rewriters = s.cfg.NewRewriters()
	}
	var addons []func() (addon.Addon, error)
	if s.cfg.NewAddons != nil {
		addons = s.cfg.NewAddons()
	}

	eng := session.New(session.Config{
		Mode:              s.cfg.Mode,
		Device:            dev,
		Net:               s.cfg.Net,
		Link:              lnk,
		Logger:            s.logger,
		Rewriters:         rewriters,
		AddonFactories:    addons,
		SetDefaultGateway: s.cfg.SetDefaultGateway,
		Network:           s.cfg.Network,
		NewPool:           s.cfg.NewPool,
	})

	s.track(eng)
	wrappedOnClose := func() {
		s.untrack(eng)
		onClose()
	}

	// lnk has already completed Setup (magic-word handshake, reader
	// goroutine(s), liveness timers) as part of the link manager's
	// Create/Accept; the session only drives the higher-level address
	// handshake from here.
	setupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return eng.Setup(setupCtx, wrappedOnClose)
}

func (s *Supervisor) track(sess session.Session) {
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
}

func (s *Supervisor) untrack(sess session.Session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

// shutdown tears down every still-live session (§4.8 global cleanup). Each
// Session.Cleanup is idempotent and safe even if the link is already dying.
func (s *Supervisor) shutdown() {
	s.mu.Lock()
	live := make([]session.Session, 0, len(s.sessions))
	for sess := range s.sessions {
		live = append(live, sess)
	}
	s.mu.Unlock()

	for _, sess := range live {
		sess.Cleanup()
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

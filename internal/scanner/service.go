package scanner

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"hybridscan/internal/config"
	"hybridscan/internal/models"
)

// ScanService creates and tracks scan sessions. Sessions are
// independent: they share no mutable state with each other beyond the
// injected result store, so concurrent scans of the same target need no
// cross-session locking.
type ScanService struct {
	cfg    *config.Config
	store  ResultStore
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

// New creates a new scan service
func New(cfg *config.Config, store ResultStore) *ScanService {
	ctx, stop := context.WithCancel(context.Background())
	return &ScanService{
		cfg:      cfg,
		store:    store,
		logger:   log.With().Str("component", "scanner").Logger(),
		sessions: make(map[string]*Session),
		ctx:      ctx,
		stop:     stop,
	}
}

// Start initializes the scan service
func (s *ScanService) Start() error {
	s.logger.Info().
		Str("nmap", s.cfg.Scanner.NmapPath).
		Str("sherlock", s.cfg.Scanner.SherlockPath).
		Str("amass", s.cfg.Scanner.AmassPath).
		Msg("Starting scan service")
	return nil
}

// Stop cancels every running session and waits for them to finish
// publishing their terminal events.
func (s *ScanService) Stop() error {
	s.logger.Info().Msg("Stopping scan service")
	s.stop()
	s.wg.Wait()
	return nil
}

// NewSession validates the request and creates a session for it. The
// session is not running yet; attach a subscriber first, then Launch.
func (s *ScanService) NewSession(req models.ScanRequest) (*Session, error) {
	if req.Target == "" {
		return nil, fmt.Errorf("target is required")
	}
	return NewSession(s.cfg, s.store, req)
}

// Launch starts the session's run loop in the background and tracks it
// until its terminal event has been published.
func (s *ScanService) Launch(sess *Session) {
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sess.Run(s.ctx)

		s.mu.Lock()
		delete(s.sessions, sess.ID)
		s.mu.Unlock()
	}()
}

// ActiveSessions returns the number of sessions that have not yet
// published their terminal event.
func (s *ScanService) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

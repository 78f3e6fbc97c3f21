package scanner

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"hybridscan/internal/config"
	"hybridscan/internal/models"
)

// State is the lifecycle state of a scan session.
type State int

const (
	// StatePending means the session exists but the subprocess has not
	// been confirmed started.
	StatePending State = iota
	// StateRunning means the subprocess started and lines are flowing.
	StateRunning
	// StateCompleted means the tool exited zero and the result was
	// extracted and persisted.
	StateCompleted
	// StateFailed means the tool could not be launched, exited
	// non-zero, or the session was cancelled.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Subscriber consumes a session's event sequence. Implementations must
// tolerate calls after the underlying client is gone (sends become
// no-ops); a session never checks delivery success.
type Subscriber interface {
	Progress(p models.ProgressPayload)
	Log(l models.LogPayload)
	Result(r *models.ScanResult)
	End()
	Error(e models.ErrorPayload)
}

// ResultStore is where finished sessions persist their result. The
// store is injected so sessions never reach for package-level state.
type ResultStore interface {
	SaveScanResult(result *models.ScanResult) error
}

// Session orchestrates one scan from request to terminal outcome. It is
// owned by a single Run goroutine; the only external mutations allowed
// are Attach/Detach of the subscriber and Cancel.
type Session struct {
	ID      string
	Request models.ScanRequest

	cfg        *config.Config
	store      ResultStore
	tool       *toolDefinition
	classifier *LineClassifier
	logger     zerolog.Logger

	mu        sync.Mutex
	state     State
	sub       Subscriber
	cancelled bool
	cancel    context.CancelFunc
	acc       strings.Builder
	truncated bool
	startedAt time.Time

	done chan struct{}
}

// NewSession creates a session for the given request. The request's
// tool must be supported and the target non-empty.
func NewSession(cfg *config.Config, store ResultStore, req models.ScanRequest) (*Session, error) {
	tool, err := resolveTool(cfg, req)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	logger := log.With().
		Str("component", "session").
		Str("sessionID", id).
		Str("tool", string(req.Tool)).
		Str("target", req.Target).
		Logger()

	return &Session{
		ID:         id,
		Request:    req,
		cfg:        cfg,
		store:      store,
		tool:       tool,
		classifier: NewLineClassifier(tool.progress),
		logger:     logger,
		state:      StatePending,
		done:       make(chan struct{}),
	}, nil
}

// Attach sets the subscriber receiving this session's events. Only one
// subscriber is held at a time; attaching replaces the previous one.
// Events produced while no subscriber is attached are dropped, not
// buffered; there is no replay after reattaching.
func (s *Session) Attach(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sub = sub
}

// Detach removes the current subscriber. The session keeps running and
// still persists its result.
func (s *Session) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sub = nil
}

// Cancel terminates the subprocess and moves the session to Failed
// without running extraction. Partial progress is discarded.
func (s *Session) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartedAt returns when Run began.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Done closes once the session has published its terminal event.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run drives the session to completion: spawn the tool, classify and
// forward each output line, then extract, persist, and emit the
// terminal events. It blocks until the terminal event is out and must
// be called exactly once. Exactly one of result+end or error reaches an
// attached subscriber.
func (s *Session) Run(ctx context.Context) {
	defer close(s.done)

	runCtx, cancel := context.WithCancel(ctx)
	if timeout, err := s.cfg.GetScanTimeout(); err == nil && timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	s.mu.Lock()
	s.startedAt = time.Now()
	s.cancel = cancel
	alreadyCancelled := s.cancelled
	s.mu.Unlock()

	if alreadyCancelled {
		s.setState(StateFailed)
		s.emitError("scan cancelled")
		return
	}

	s.logger.Info().Strs("args", s.tool.args).Str("binary", s.tool.binary).Msg("Starting scan")

	proc, err := StartProcess(runCtx, s.tool.binary, s.tool.args)
	if err != nil {
		// Launch failure: error event, nothing persisted.
		s.logger.Error().Err(err).Msg("Failed to launch tool")
		s.setState(StateFailed)
		s.emitError(err.Error())
		return
	}

	s.setState(StateRunning)

	// Lines are consumed in OS delivery order; classification and
	// forwarding are strictly sequential within the session. The loop
	// always drains to the end so the subprocess can be reaped even if
	// the subscriber departed.
	for line := range proc.Lines() {
		s.accumulate(line)
		s.forward(line)
	}
	<-proc.Done()

	if s.isCancelled() {
		s.logger.Info().Msg("Scan cancelled")
		s.setState(StateFailed)
		s.emitError("scan cancelled")
		return
	}

	// Timeout expiry is treated like a cancel: the tool was killed
	// mid-run, so extraction over the partial output is skipped.
	if runCtx.Err() == context.DeadlineExceeded {
		s.logger.Warn().Str("timeout", s.cfg.Scanner.ScanTimeout).Msg("Scan timed out")
		s.setState(StateFailed)
		s.emitError("scan timed out")
		return
	}

	if err := proc.Err(); err != nil {
		s.logger.Error().Err(err).Msg("Tool execution failed")
		s.setState(StateFailed)
		s.emitError(err.Error())
		return
	}

	exitCode := proc.ExitCode()
	accumulated := s.accumulated()

	result := s.tool.extract.Extract(accumulated, exitCode)
	result.ID = s.ID
	result.Target = s.Request.Target
	result.Tool = s.Request.Tool
	result.Timestamp = time.Now()

	if result.Status == models.StatusCompleted && resultIsEmpty(result) && accumulated != "" {
		// Extraction anomaly: output present but nothing matched the
		// known grammar. Logged for observability, never fatal.
		s.logger.Warn().Int("outputBytes", len(accumulated)).Msg("Scan completed but no records were extracted")
	}

	// Persist before emitting so a storage failure is at least visible
	// in the logs before the client is told the scan finished. The
	// client-facing sequence is unchanged either way.
	if err := s.store.SaveScanResult(result); err != nil {
		s.logger.Error().Err(err).Msg("Failed to persist scan result")
	} else {
		s.logger.Info().Int("exitCode", exitCode).Str("status", result.Status).Msg("Scan result saved")
	}

	s.emitResult(result)
	s.emitEnd()

	if exitCode == 0 {
		s.setState(StateCompleted)
	} else {
		s.setState(StateFailed)
	}
}

// resultIsEmpty reports whether extraction produced no records at all.
func resultIsEmpty(r *models.ScanResult) bool {
	return len(r.Ports) == 0 && len(r.Matches) == 0 && len(r.Subdomains) == 0
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Session) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// accumulate appends a line to the retained output buffer. The buffer
// feeds extraction and is kept regardless of subscriber presence. An
// optional byte cap guards against tools that flood stdout; lines past
// the cap are still forwarded live but not retained.
func (s *Session) accumulate(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	max := s.cfg.Scanner.MaxOutputBytes
	if max > 0 && s.acc.Len()+len(line)+1 > max {
		if !s.truncated {
			s.truncated = true
			s.logger.Warn().Int("maxOutputBytes", max).Msg("Accumulated output cap reached, further lines not retained")
		}
		return
	}

	s.acc.WriteString(line)
	s.acc.WriteByte('\n')
}

func (s *Session) accumulated() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acc.String()
}

// forward classifies one line and pushes it to the subscriber, if any.
// Nothing is emitted after cancellation.
func (s *Session) forward(line string) {
	s.mu.Lock()
	sub := s.sub
	cancelled := s.cancelled
	s.mu.Unlock()

	if sub == nil || cancelled {
		return
	}

	if progress, ok := s.classifier.Classify(line); ok {
		sub.Progress(progress)
	} else {
		sub.Log(models.LogPayload{Line: line})
	}
}

func (s *Session) emitResult(result *models.ScanResult) {
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	if sub != nil {
		sub.Result(result)
	}
}

func (s *Session) emitEnd() {
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	if sub != nil {
		sub.End()
	}
}

func (s *Session) emitError(msg string) {
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	if sub != nil {
		sub.Error(models.ErrorPayload{Error: msg})
	}
}

package sandbox

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rama-kairi/zencube/internal/config"
	"github.com/rama-kairi/zencube/internal/database"
	"github.com/rama-kairi/zencube/internal/errors"
	"github.com/rama-kairi/zencube/internal/logger"
)

// Manager wires the registry, launcher, pump, monitor and janitor together
// and is the only entry point the tool and dashboard layers talk to.
type Manager struct {
	cfg      *config.Config
	logger   *logger.Logger
	db       *database.DB
	registry *Registry
	janitor  *Janitor

	startedCount   atomic.Int64
	completedCount atomic.Int64
}

// StartRequest describes one session to launch. File takes precedence over
// Argv; OwnedPaths are artifacts (such as a saved upload) the session cleans
// up when it ends.
type StartRequest struct {
	File       string
	Argv       []string
	Limits     *Limits
	OwnedPaths []string
}

// NewManager creates a manager. db may be nil when run history is disabled.
func NewManager(cfg *config.Config, log *logger.Logger, db *database.DB) (*Manager, error) {
	janitor, err := NewJanitor(cfg.Sandbox.RootDir, log)
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:      cfg,
		logger:   log,
		db:       db,
		registry: NewRegistry(),
		janitor:  janitor,
	}, nil
}

// Root returns the canonicalized sandbox root directory
func (m *Manager) Root() string {
	return m.janitor.Root()
}

// DefaultLimits returns the configured limit defaults
func (m *Manager) DefaultLimits() Limits {
	return Limits{
		CPUSeconds:   m.cfg.Limits.CPUSeconds,
		MemoryMB:     m.cfg.Limits.MemoryMB,
		MaxProcesses: m.cfg.Limits.MaxProcesses,
		FileSizeMB:   m.cfg.Limits.FileSizeMB,
	}
}

// StartSession validates the request, resolves the command, launches the
// sandboxed process and registers the live session. Validation and
// configuration problems surface before any session exists.
func (m *Manager) StartSession(req StartRequest) (*Session, error) {
	limits := m.DefaultLimits()
	if req.Limits != nil {
		limits = *req.Limits
	}
	if err := limits.Validate(); err != nil {
		return nil, err
	}

	if req.File == "" && len(req.Argv) == 0 {
		return nil, errors.MissingRequired("command")
	}

	if m.registry.Count() >= m.cfg.Sandbox.MaxSessions {
		return nil, errors.SessionLimitReached(m.registry.Count(), m.cfg.Sandbox.MaxSessions)
	}

	artifacts := append([]string{}, req.OwnedPaths...)

	var resolved *ResolvedCommand
	if req.File != "" {
		var err error
		resolved, err = ResolveFile(req.File, m.janitor.Root())
		if err != nil {
			m.cleanupPaths(artifacts)
			return nil, err
		}
		resolved.Argv = append(resolved.Argv, req.Argv...)
		if resolved.BuildDir != "" {
			artifacts = append(artifacts, resolved.BuildDir)
		}
	} else {
		resolved = &ResolvedCommand{Argv: req.Argv}
	}

	sandboxPath, err := FindSandbox(m.cfg.Sandbox.BinaryPath, m.cfg.Sandbox.SearchPaths)
	if err != nil {
		m.cleanupPaths(artifacts)
		return nil, err
	}

	fullArgv := append([]string{sandboxPath}, limits.Flags()...)
	fullArgv = append(fullArgv, resolved.Argv...)

	session, err := m.launch(fullArgv, artifacts)
	if err != nil {
		m.cleanupPaths(artifacts)
		return nil, err
	}
	return session, nil
}

// launch spawns the process with a dedicated stdin pipe and a single merged
// stdout+stderr pipe, then starts the pump and monitor goroutines.
func (m *Manager) launch(argv []string, artifacts []string) (*Session, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.LaunchFailed(err, strings.Join(argv, " "))
	}

	// One pipe carries both streams so output interleaves in real order
	outputReader, outputWriter, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, errors.LaunchFailed(err, strings.Join(argv, " "))
	}
	cmd.Stdout = outputWriter
	cmd.Stderr = outputWriter

	if err := cmd.Start(); err != nil {
		stdin.Close()
		outputReader.Close()
		outputWriter.Close()
		return nil, errors.LaunchFailed(err, strings.Join(argv, " "))
	}

	// The child holds its own copy of the write end; the parent's copy must
	// close or the reader never sees EOF.
	outputWriter.Close()

	session := &Session{
		ID:          uuid.New().String(),
		Command:     strings.Join(argv, " "),
		Argv:        argv,
		PID:         cmd.Process.Pid,
		StartedAt:   time.Now(),
		cmd:         cmd,
		stdin:       stdin,
		logger:      m.logger,
		state:       StateRunning,
		subscribers: make(map[int]chan Event),
		artifacts:   artifacts,
		maxOutput:   m.cfg.Sandbox.MaxOutputSize,
		doneCh:      make(chan struct{}),
		inputCh:     make(chan struct{}, 1),
	}

	m.registry.Register(session)
	m.startedCount.Add(1)

	m.logger.LogSessionEvent("session_started", session.ID, session.Command, map[string]interface{}{
		"pid": session.PID,
	})

	go session.pump(outputReader, m.cfg.Sandbox.QuietInterval, m.onSessionComplete)
	go session.monitor(m.cfg.Sandbox.MonitorInterval)

	return session, nil
}

// onSessionComplete runs once per session after the completed event has been
// delivered: unregister, clean artifacts, record history.
func (m *Manager) onSessionComplete(s *Session) {
	m.registry.Unregister(s.ID)
	m.completedCount.Add(1)

	m.janitor.CleanupSession(s.ID, s.artifacts)

	exitCode, stopped, _ := s.Result()
	duration := s.finishedAt.Sub(s.StartedAt)
	transcript := s.Transcript()

	m.logger.LogRun(s.ID, s.Command, duration, exitCode, len(transcript))

	if m.db != nil {
		record := &database.RunRecord{
			ID:         s.ID,
			Command:    s.Command,
			ExitCode:   exitCode,
			Stopped:    stopped,
			Transcript: transcript,
			StartedAt:  s.StartedAt,
			FinishedAt: s.finishedAt,
			DurationMS: duration.Milliseconds(),
		}
		if err := m.db.StoreRun(record); err != nil {
			m.logger.Error("Failed to record run history", err, map[string]interface{}{
				"session_id": s.ID,
			})
		}
	}
}

// cleanupPaths removes pre-session artifacts when a launch never happened
func (m *Manager) cleanupPaths(paths []string) {
	for _, path := range paths {
		m.janitor.Remove(path)
	}
}

// GetSession returns a live session by ID
func (m *Manager) GetSession(id string) (*Session, bool) {
	return m.registry.Get(id)
}

// ListSessions returns summaries of all live sessions
func (m *Manager) ListSessions() []SessionSummary {
	sessions := m.registry.List()
	summaries := make([]SessionSummary, len(sessions))
	for i, s := range sessions {
		summaries[i] = s.Summary()
	}
	return summaries
}

// SendInput relays text to a session's stdin. Unknown or finished sessions
// are a silent no-op; the return value reports whether the write happened.
func (m *Manager) SendInput(id, text string, appendNewline bool) bool {
	session, ok := m.registry.Get(id)
	if !ok {
		return false
	}
	return session.SendInput(text, appendNewline)
}

// StopSession terminates a session and waits for its teardown
func (m *Manager) StopSession(id string) error {
	session, ok := m.registry.Get(id)
	if !ok {
		return errors.SessionNotFound(id)
	}
	session.Stop(m.cfg.Sandbox.StopGracePeriod)
	return nil
}

// SessionCounts returns lifetime started and completed counters
func (m *Manager) SessionCounts() (started, completed int64) {
	return m.startedCount.Load(), m.completedCount.Load()
}

// ActiveSessions returns the number of live sessions
func (m *Manager) ActiveSessions() int {
	return m.registry.Count()
}

// Shutdown stops every live session and waits for their teardowns, bounded
// by the context.
func (m *Manager) Shutdown(ctx context.Context) error {
	sessions := m.registry.List()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Stop(m.cfg.Sandbox.StopGracePeriod)
		}(s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

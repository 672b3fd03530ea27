package sandbox

import (
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rama-kairi/zencube/internal/logger"
)

// Session is one supervised sandboxed process. The pump goroutine owns all
// output handling and state transitions driven by output; the monitor
// goroutine publishes resource samples; input arrives through SendInput from
// any goroutine.
type Session struct {
	ID        string
	Command   string
	Argv      []string
	PID       int
	StartedAt time.Time

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger *logger.Logger

	mu          sync.Mutex
	state       State
	seq         int
	transcript  strings.Builder
	subscribers map[int]chan Event
	nextSubID   int
	exitCode    int
	stopped     bool
	finished    bool
	finishedAt  time.Time

	stdinMu     sync.Mutex
	stdinClosed bool

	lastSample *ResourceSample

	// artifacts are paths this session owns inside the sandbox root
	artifacts []string

	maxOutput int
	truncated bool

	stopOnce sync.Once
	doneCh   chan struct{}

	// inputCh pings the pump after delivered input so the quiet timer re-arms
	// and the input-wait guess can fire again without intervening output
	inputCh chan struct{}
}

// SessionSummary is the read-only view returned by listings
type SessionSummary struct {
	ID        string    `json:"id"`
	PID       int       `json:"pid"`
	Command   string    `json:"command"`
	State     State     `json:"state"`
	StartedAt time.Time `json:"started_at"`
}

// Summary returns a point-in-time view of the session
func (s *Session) Summary() SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionSummary{
		ID:        s.ID,
		PID:       s.PID,
		Command:   s.Command,
		State:     s.state,
		StartedAt: s.StartedAt,
	}
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript returns all output produced so far
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.String()
}

// Result returns the exit code and stop flag once the session has finished
func (s *Session) Result() (exitCode int, stopped bool, finished bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode, s.stopped, s.finished
}

// Done returns a channel closed when teardown has completed
func (s *Session) Done() <-chan struct{} {
	return s.doneCh
}

// Subscribe registers an event channel. Every event from this point on is
// delivered in production order; the returned cancel function must be called
// when the observer goes away. Delivery blocks when a subscriber stops
// draining, so observers with unpredictable consumers should buffer on their
// side.
func (s *Session) Subscribe(buffer int) (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Event, buffer)
	if s.finished {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch

	cancel := func() {
		// Keep draining while waiting for the lock so a publish blocked on
		// this channel can finish and release it.
		done := make(chan struct{})
		go func() {
			for {
				select {
				case <-ch:
				case <-done:
					return
				}
			}
		}()

		s.mu.Lock()
		if existing, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(existing)
		}
		s.mu.Unlock()
		close(done)
	}

	return ch, cancel
}

// publishLocked fans an event out to all subscribers. Callers hold s.mu.
func (s *Session) publishLocked(event Event) {
	s.seq++
	event.Sequence = s.seq
	event.SessionID = s.ID
	event.Timestamp = time.Now()
	for _, ch := range s.subscribers {
		ch <- event
	}
}

// publishSample delivers one resource measurement to subscribers
func (s *Session) publishSample(sample *ResourceSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.lastSample = sample
	s.publishLocked(Event{Type: EventResourceSample, Sample: sample})
}

// LastSample returns the most recent resource measurement, or nil before the
// first monitor tick.
func (s *Session) LastSample() *ResourceSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSample
}

// appendOutput records a chunk of process output, forwards it to subscribers
// and retracts an input-wait guess if one was showing. Retraction is
// idempotent: output while RUNNING changes nothing.
func (s *Session) appendOutput(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}

	if s.transcript.Len() < s.maxOutput {
		remaining := s.maxOutput - s.transcript.Len()
		if len(chunk) > remaining {
			s.transcript.Write(chunk[:remaining])
			s.truncated = true
		} else {
			s.transcript.Write(chunk)
		}
	} else {
		s.truncated = true
	}

	s.publishLocked(Event{Type: EventOutput, Output: string(chunk)})

	if s.state == StateAwaitingInput {
		s.state = StateRunning
		s.publishLocked(Event{Type: EventState, State: StateRunning})
	}
}

// markAwaitingInput flips RUNNING to AWAITING_INPUT after a quiet interval.
// The transition is a heuristic guess; silently-computing programs trigger it
// too, which is why it retracts for free on the next output.
func (s *Session) markAwaitingInput() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished || s.state != StateRunning {
		return
	}
	s.state = StateAwaitingInput
	s.publishLocked(Event{Type: EventState, State: StateAwaitingInput})
}

// SendInput writes text to the process stdin. A newline is appended only when
// requested and not already present. Writes are serialized per session and
// flushed immediately; a closed stdin or finished session is a silent no-op.
// Delivered input optimistically re-arms the RUNNING state.
func (s *Session) SendInput(text string, appendNewline bool) bool {
	s.stdinMu.Lock()
	defer s.stdinMu.Unlock()

	if s.stdinClosed || s.stdin == nil {
		return false
	}

	s.mu.Lock()
	finished := s.finished
	s.mu.Unlock()
	if finished {
		return false
	}

	if appendNewline && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}

	if _, err := s.stdin.Write([]byte(text)); err != nil {
		// Process closed its end; treat every later write as a no-op
		s.stdinClosed = true
		s.logger.Debug("Session stdin closed", map[string]interface{}{
			"session_id": s.ID,
		})
		return false
	}

	s.mu.Lock()
	if !s.finished && s.state == StateAwaitingInput {
		s.state = StateRunning
		s.publishLocked(Event{Type: EventState, State: StateRunning})
	}
	s.mu.Unlock()

	// Wake the pump so the quiet timer restarts from this delivery; a program
	// reading several inputs with no output in between flips back to
	// AWAITING_INPUT for each one.
	select {
	case s.inputCh <- struct{}{}:
	default:
	}

	return true
}

// Stop terminates the session: SIGTERM to the process group, then SIGKILL
// after the grace period if it has not exited. Completion still flows through
// the pump's single teardown path, so Stop returns once that has run.
// Stopping an already-finished session is a no-op.
func (s *Session) Stop(grace time.Duration) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		if s.finished {
			s.mu.Unlock()
			return
		}
		s.stopped = true
		s.mu.Unlock()

		s.logger.LogSessionEvent("session_stop_requested", s.ID, s.Command)
		s.signalGroup(syscall.SIGTERM)

		select {
		case <-s.doneCh:
			return
		case <-time.After(grace):
			s.logger.Warn("Session ignored SIGTERM, escalating", map[string]interface{}{
				"session_id": s.ID,
				"grace":      grace.String(),
			})
			s.signalGroup(syscall.SIGKILL)
		}
	})

	<-s.doneCh
}

// signalGroup signals the whole process group so children spawned inside the
// sandbox die with it, falling back to the single PID when no group exists.
func (s *Session) signalGroup(sig syscall.Signal) {
	if pgid, err := syscall.Getpgid(s.PID); err == nil {
		if err := syscall.Kill(-pgid, sig); err == nil {
			return
		}
	}
	syscall.Kill(s.PID, sig)
}

// closeStdin releases the write end of the child's stdin during teardown
func (s *Session) closeStdin() {
	s.stdinMu.Lock()
	defer s.stdinMu.Unlock()
	if !s.stdinClosed && s.stdin != nil {
		s.stdin.Close()
		s.stdinClosed = true
	}
}

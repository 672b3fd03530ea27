package sandbox

import (
	"io"
	"os/exec"
	"syscall"
	"time"
)

// outputChunkSize is the read buffer for the merged output pipe
const outputChunkSize = 4096

// pump owns the session's output side. A dedicated reader goroutine blocks on
// the merged stdout+stderr pipe and feeds a chunk channel; the pump loop
// forwards chunks in production order and arms a quiet-interval timer that
// drives the input-wait guess. Pipe EOF means the process is gone and every
// chunk has been drained, so the loop falls through to the single teardown
// path shared with Stop.
func (s *Session) pump(reader io.ReadCloser, quiet time.Duration, onComplete func(*Session)) {
	chunks := make(chan []byte, 64)

	go func() {
		defer close(chunks)
		defer reader.Close()
		buf := make([]byte, outputChunkSize)
		for {
			n, err := reader.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				chunks <- chunk
			}
			if err != nil {
				return
			}
		}
	}()

	timer := time.NewTimer(quiet)
	defer timer.Stop()

	for chunks != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			s.appendOutput(chunk)
			rearm(timer, quiet)
		case <-s.inputCh:
			// Delivered input restarts the silence window, so a program that
			// reads again without producing output is guessed as awaiting
			// input a second time.
			rearm(timer, quiet)
		case <-timer.C:
			// No output for a full quiet interval: guess the process wants
			// input. The next chunk or delivered input re-arms the timer and
			// retracts the guess.
			s.markAwaitingInput()
		}
	}

	s.finish(onComplete)
}

// rearm restarts the quiet-interval timer, draining a pending fire first
func rearm(timer *time.Timer, quiet time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(quiet)
}

// finish is the only teardown path. Natural exit and stop() both arrive here
// through pipe EOF, so completion work happens exactly once: reap the child,
// record the outcome, emit the final state and completed events, release the
// subscribers, then hand off to the manager for unregistration and cleanup.
func (s *Session) finish(onComplete func(*Session)) {
	waitErr := s.cmd.Wait()
	exitCode := exitCodeFrom(waitErr)

	s.closeStdin()

	s.mu.Lock()
	s.exitCode = exitCode
	s.finished = true
	s.finishedAt = time.Now()
	s.state = StateTerminated
	stopped := s.stopped
	transcript := s.transcript.String()

	s.publishLocked(Event{Type: EventState, State: StateTerminated})
	s.publishLocked(Event{
		Type: EventCompleted,
		Completed: &CompletedPayload{
			ExitCode:   exitCode,
			Stopped:    stopped,
			Transcript: transcript,
			DurationMS: s.finishedAt.Sub(s.StartedAt).Milliseconds(),
		},
	})

	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
	s.mu.Unlock()

	close(s.doneCh)

	if onComplete != nil {
		onComplete(s)
	}
}

// exitCodeFrom maps a Wait error to the session exit code. A signal death has
// no exit status, so the shell convention 128+signal stands in for it.
func exitCodeFrom(waitErr error) int {
	if waitErr == nil {
		return 0
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				return 128 + int(ws.Signal())
			}
			return ws.ExitStatus()
		}
		return exitErr.ExitCode()
	}
	return -1
}

package sandbox

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rama-kairi/zencube/internal/errors"
)

// Jiffies per second for /proc/<pid>/stat CPU accounting
const userHZ = 100

// cpuTicks is the cumulative user+system time of a process in jiffies
type cpuTicks struct {
	total uint64
	at    time.Time
}

// monitor samples the sandboxed process on a fixed cadence and publishes one
// resource event per tick. It ends cleanly when the session finishes or the
// process becomes unobservable; a failed individual read degrades to zero
// values and is logged without disturbing the session.
func (s *Session) monitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var prev *cpuTicks

	for {
		select {
		case <-s.doneCh:
			return
		case <-ticker.C:
			if !processAlive(s.PID) {
				return
			}

			sample, ticks, err := readSample(s.PID)
			if err != nil {
				if !processAlive(s.PID) {
					return
				}
				obsErr := errors.ObservationFailed(err, s.ID, "process resources")
				s.logger.Warn("Resource sampling degraded", map[string]interface{}{
					"session_id": s.ID,
					"error":      obsErr.Error(),
				})
				sample = &ResourceSample{}
			}

			sample.Timestamp = time.Now()
			if ticks != nil && prev != nil {
				elapsed := ticks.at.Sub(prev.at).Seconds()
				if elapsed > 0 && ticks.total >= prev.total {
					cpuSeconds := float64(ticks.total-prev.total) / userHZ
					sample.CPUPercent = cpuSeconds / elapsed * 100
				}
			}
			prev = ticks

			s.publishSample(sample)
		}
	}
}

// processAlive reports whether the PID still exists, using the null signal
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}

// readSample collects one measurement from /proc. Fields the platform does
// not expose come back zero.
func readSample(pid int) (*ResourceSample, *cpuTicks, error) {
	sample := &ResourceSample{}

	ticks, err := readCPUTicks(pid)
	if err != nil {
		return sample, nil, err
	}

	if err := readMemoryStatus(pid, sample); err != nil {
		return sample, ticks, err
	}

	sample.OpenFDs = countOpenFDs(pid)

	return sample, ticks, nil
}

// readCPUTicks parses utime and stime from /proc/<pid>/stat
func readCPUTicks(pid int) (*cpuTicks, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return nil, err
	}

	// The comm field is parenthesized and may contain spaces; fields are
	// counted from after the closing paren.
	text := string(data)
	idx := strings.LastIndexByte(text, ')')
	if idx < 0 || idx+2 > len(text) {
		return nil, fmt.Errorf("malformed stat for pid %d", pid)
	}
	fields := strings.Fields(text[idx+2:])
	// After comm: state is field 0, utime is field 11, stime is field 12
	if len(fields) < 13 {
		return nil, fmt.Errorf("truncated stat for pid %d", pid)
	}

	utime, err := strconv.ParseUint(fields[11], 10, 64)
	if err != nil {
		return nil, err
	}
	stime, err := strconv.ParseUint(fields[12], 10, 64)
	if err != nil {
		return nil, err
	}

	return &cpuTicks{total: utime + stime, at: time.Now()}, nil
}

// readMemoryStatus parses VmRSS, VmSize and Threads from /proc/<pid>/status
func readMemoryStatus(pid int, sample *ResourceSample) error {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return err
	}

	for _, line := range strings.Split(string(data), "\n") {
		switch {
		case strings.HasPrefix(line, "VmRSS:"):
			sample.RSSBytes = parseKBLine(line) * 1024
		case strings.HasPrefix(line, "VmSize:"):
			sample.VSZBytes = parseKBLine(line) * 1024
		case strings.HasPrefix(line, "Threads:"):
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				if n, err := strconv.Atoi(fields[1]); err == nil {
					sample.Threads = n
				}
			}
		}
	}
	return nil
}

// parseKBLine extracts the numeric kB value from a status line like
// "VmRSS:      1234 kB"
func parseKBLine(line string) uint64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	value, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return value
}

// countOpenFDs counts entries in /proc/<pid>/fd, zero when unreadable
func countOpenFDs(pid int) int {
	entries, err := os.ReadDir(fmt.Sprintf("/proc/%d/fd", pid))
	if err != nil {
		return 0
	}
	return len(entries)
}

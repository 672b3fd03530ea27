package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// GetResourceStatusArgs represents arguments for the resource status tool (none needed)
type GetResourceStatusArgs struct{}

// SessionResourceView is the latest resource sample of one live session
type SessionResourceView struct {
	SessionID  string  `json:"session_id"`
	PID        int     `json:"pid"`
	Command    string  `json:"command"`
	State      string  `json:"state"`
	UptimeMS   int64   `json:"uptime_ms"`
	CPUPercent float64 `json:"cpu_percent,omitempty"`
	RSSBytes   uint64  `json:"rss_bytes,omitempty"`
	VSZBytes   uint64  `json:"vsz_bytes,omitempty"`
	Threads    int     `json:"threads,omitempty"`
	OpenFDs    int     `json:"open_fds,omitempty"`
}

// GetResourceStatusResult represents the combined server and session status
type GetResourceStatusResult struct {
	Server   map[string]interface{} `json:"server,omitempty"`
	Sessions []SessionResourceView  `json:"sessions"`
	Database string                 `json:"database"`
}

// GetResourceStatus reports the server's own resource usage alongside the
// latest per-session samples and database health.
func (t *SandboxTools) GetResourceStatus(ctx context.Context, req *mcp.CallToolRequest, args GetResourceStatusArgs) (*mcp.CallToolResult, GetResourceStatusResult, error) {
	result := GetResourceStatusResult{
		Sessions: make([]SessionResourceView, 0),
	}

	if t.resourceMonitor != nil {
		result.Server = t.resourceMonitor.GetResourceSummary()
	}

	for _, summary := range t.manager.ListSessions() {
		view := SessionResourceView{
			SessionID: summary.ID,
			PID:       summary.PID,
			Command:   summary.Command,
			State:     string(summary.State),
			UptimeMS:  time.Since(summary.StartedAt).Milliseconds(),
		}
		if session, ok := t.manager.GetSession(summary.ID); ok {
			if sample := session.LastSample(); sample != nil {
				view.CPUPercent = sample.CPUPercent
				view.RSSBytes = sample.RSSBytes
				view.VSZBytes = sample.VSZBytes
				view.Threads = sample.Threads
				view.OpenFDs = sample.OpenFDs
			}
		}
		result.Sessions = append(result.Sessions, view)
	}

	switch {
	case t.database == nil:
		result.Database = "disabled"
	default:
		if err := t.database.HealthCheck(); err != nil {
			result.Database = fmt.Sprintf("unhealthy: %v", err)
		} else {
			result.Database = "healthy"
		}
	}

	return createJSONResult(result), result, nil
}

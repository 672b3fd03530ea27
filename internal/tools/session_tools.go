package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rama-kairi/zencube/internal/sandbox"
)

// RunSessionArgs represents arguments for launching a sandboxed session
type RunSessionArgs struct {
	Command      string   `json:"command,omitempty" jsonschema:"description,The command to run inside the sandbox split on whitespace (no shell quoting). Either command or filename with content must be provided."`
	Filename     string   `json:"filename,omitempty" jsonschema:"description,Name of a source file to upload and run. The extension selects the toolchain (.py .sh .js .rb .pl are interpreted; .c .cpp .java are compiled first)."`
	Content      string   `json:"content,omitempty" jsonschema:"description,Source code to save under filename before running. Required when filename is set."`
	Args         []string `json:"args,omitempty" jsonschema:"description,Extra arguments appended to the resolved program."`
	CPUSeconds   int      `json:"cpu_seconds,omitempty" jsonschema:"description,CPU time limit in seconds. Zero uses the configured default."`
	MemoryMB     int      `json:"memory_mb,omitempty" jsonschema:"description,Memory limit in megabytes. Zero uses the configured default."`
	MaxProcesses int      `json:"max_processes,omitempty" jsonschema:"description,Maximum number of processes the session may spawn. Zero uses the configured default."`
	FileSizeMB   int      `json:"file_size_mb,omitempty" jsonschema:"description,Maximum size in megabytes of any file the session writes. Zero uses the configured default."`
	WaitMS       int      `json:"wait_ms,omitempty" jsonschema:"description,How long to wait in milliseconds for the session to finish or start waiting for input before returning. Zero returns immediately."`
}

// RunSessionResult represents the result of launching a sandboxed session
type RunSessionResult struct {
	SessionID string `json:"session_id"`
	PID       int    `json:"pid"`
	Command   string `json:"command"`
	State     string `json:"state"`
	Output    string `json:"output,omitempty"`
	ExitCode  *int   `json:"exit_code,omitempty"`
	Stopped   bool   `json:"stopped,omitempty"`
	Message   string `json:"message"`
}

// RunSession launches a command or uploaded source file inside the sandbox.
// When wait_ms is set it waits for the session to either terminate or settle
// into AWAITING_INPUT, so short programs return their full output in one call.
func (t *SandboxTools) RunSession(ctx context.Context, req *mcp.CallToolRequest, args RunSessionArgs) (*mcp.CallToolResult, RunSessionResult, error) {
	if args.Command == "" && args.Filename == "" {
		return createErrorResult("either command or filename must be provided"), RunSessionResult{}, nil
	}
	if args.Filename != "" && args.Content == "" {
		return createErrorResult("content is required when filename is set"), RunSessionResult{}, nil
	}

	limits := t.manager.DefaultLimits()
	if args.CPUSeconds > 0 {
		limits.CPUSeconds = args.CPUSeconds
	}
	if args.MemoryMB > 0 {
		limits.MemoryMB = args.MemoryMB
	}
	if args.MaxProcesses > 0 {
		limits.MaxProcesses = args.MaxProcesses
	}
	if args.FileSizeMB > 0 {
		limits.FileSizeMB = args.FileSizeMB
	}

	request := sandbox.StartRequest{Limits: &limits}

	if args.Filename != "" {
		saved, err := sandbox.SaveUpload(t.manager.Root(), args.Filename, []byte(args.Content))
		if err != nil {
			t.logger.Error("Failed to save upload", err, map[string]interface{}{
				"filename": args.Filename,
			})
			return createErrorResult(fmt.Sprintf("Failed to save upload: %v", err)), RunSessionResult{}, nil
		}
		request.File = saved
		request.OwnedPaths = []string{saved}
		request.Argv = args.Args
	} else {
		argv := strings.Fields(args.Command)
		request.Argv = append(argv, args.Args...)
	}

	session, err := t.manager.StartSession(request)
	if err != nil {
		t.logger.Error("Failed to start session", err, map[string]interface{}{
			"command":  args.Command,
			"filename": args.Filename,
		})
		return createErrorResult(fmt.Sprintf("Failed to start session: %v", err)), RunSessionResult{}, nil
	}

	if args.WaitMS > 0 {
		waitForSettle(ctx, session, time.Duration(args.WaitMS)*time.Millisecond)
	}

	result := RunSessionResult{
		SessionID: session.ID,
		PID:       session.PID,
		Command:   session.Command,
		State:     string(session.State()),
		Output:    session.Transcript(),
		Message:   fmt.Sprintf("Session %s started", session.ID),
	}
	if exitCode, stopped, finished := session.Result(); finished {
		result.ExitCode = &exitCode
		result.Stopped = stopped
		result.Message = fmt.Sprintf("Session %s finished with exit code %d", session.ID, exitCode)
	}

	return createJSONResult(result), result, nil
}

// waitForSettle blocks until the session terminates, flips to AWAITING_INPUT,
// or the deadline passes. Best effort only; the caller reads fresh state after.
func waitForSettle(ctx context.Context, session *sandbox.Session, timeout time.Duration) {
	events, cancel := session.Subscribe(64)
	defer cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if event.Type == sandbox.EventCompleted {
				return
			}
			if event.Type == sandbox.EventState && event.State == sandbox.StateAwaitingInput {
				return
			}
		case <-session.Done():
			return
		case <-timer.C:
			return
		case <-ctx.Done():
			return
		}
	}
}

// SendInputArgs represents arguments for relaying input to a session
type SendInputArgs struct {
	SessionID string `json:"session_id" jsonschema:"required,description,The UUID of the session to send input to."`
	Input     string `json:"input" jsonschema:"required,description,The text to write to the session's stdin."`
	Raw       bool   `json:"raw,omitempty" jsonschema:"description,When true the text is written exactly as given. By default a trailing newline is appended when missing."`
}

// SendInputResult represents the result of an input relay
type SendInputResult struct {
	SessionID string `json:"session_id"`
	Delivered bool   `json:"delivered"`
	State     string `json:"state,omitempty"`
	Message   string `json:"message"`
}

// SendInput relays text to a running session's stdin. Input to an unknown or
// already-finished session is reported as undelivered rather than an error.
func (t *SandboxTools) SendInput(ctx context.Context, req *mcp.CallToolRequest, args SendInputArgs) (*mcp.CallToolResult, SendInputResult, error) {
	if err := validateSessionID(args.SessionID); err != nil {
		return createErrorResult(fmt.Sprintf("Invalid session ID: %v", err)), SendInputResult{}, nil
	}

	delivered := t.manager.SendInput(args.SessionID, args.Input, !args.Raw)

	result := SendInputResult{
		SessionID: args.SessionID,
		Delivered: delivered,
	}
	if delivered {
		result.Message = "Input delivered"
	} else {
		result.Message = "Input not delivered: session is unknown or no longer accepting input"
	}
	if session, ok := t.manager.GetSession(args.SessionID); ok {
		result.State = string(session.State())
	}

	return createJSONResult(result), result, nil
}

// StopSessionArgs represents arguments for stopping a session
type StopSessionArgs struct {
	SessionID string `json:"session_id" jsonschema:"required,description,The UUID of the session to stop."`
}

// StopSessionResult represents the result of stopping a session
type StopSessionResult struct {
	SessionID  string `json:"session_id"`
	ExitCode   int    `json:"exit_code"`
	Stopped    bool   `json:"stopped"`
	Output     string `json:"output"`
	DurationMS int64  `json:"duration_ms"`
	Message    string `json:"message"`
}

// StopSession terminates a session and waits for its teardown, so by the time
// this returns the process is gone and its artifacts have been cleaned up.
func (t *SandboxTools) StopSession(ctx context.Context, req *mcp.CallToolRequest, args StopSessionArgs) (*mcp.CallToolResult, StopSessionResult, error) {
	if err := validateSessionID(args.SessionID); err != nil {
		return createErrorResult(fmt.Sprintf("Invalid session ID: %v", err)), StopSessionResult{}, nil
	}

	session, ok := t.manager.GetSession(args.SessionID)
	if !ok {
		return createErrorResult(fmt.Sprintf("Session not found: %s", args.SessionID)), StopSessionResult{}, nil
	}

	if err := t.manager.StopSession(args.SessionID); err != nil {
		return createErrorResult(fmt.Sprintf("Failed to stop session: %v", err)), StopSessionResult{}, nil
	}

	exitCode, stopped, _ := session.Result()
	result := StopSessionResult{
		SessionID:  args.SessionID,
		ExitCode:   exitCode,
		Stopped:    stopped,
		Output:     session.Transcript(),
		DurationMS: time.Since(session.StartedAt).Milliseconds(),
		Message:    fmt.Sprintf("Session %s stopped", args.SessionID),
	}

	return createJSONResult(result), result, nil
}

// ListSandboxSessionsArgs represents arguments for listing sessions (none needed)
type ListSandboxSessionsArgs struct{}

// ListSandboxSessionsResult represents the result of listing live sessions
type ListSandboxSessionsResult struct {
	Sessions    []sandbox.SessionSummary `json:"sessions"`
	Count       int                      `json:"count"`
	MaxSessions int                      `json:"max_sessions"`
}

// ListSessions lists all live sandboxed sessions ordered by start time
func (t *SandboxTools) ListSessions(ctx context.Context, req *mcp.CallToolRequest, args ListSandboxSessionsArgs) (*mcp.CallToolResult, ListSandboxSessionsResult, error) {
	sessions := t.manager.ListSessions()

	result := ListSandboxSessionsResult{
		Sessions:    sessions,
		Count:       len(sessions),
		MaxSessions: t.config.Sandbox.MaxSessions,
	}

	return createJSONResult(result), result, nil
}

// GetSessionOutputArgs represents arguments for fetching session output
type GetSessionOutputArgs struct {
	SessionID string `json:"session_id" jsonschema:"required,description,The UUID of the session. Live sessions return their current transcript; finished ones are served from run history."`
}

// GetSessionOutputResult represents the output of a live or recorded session
type GetSessionOutputResult struct {
	SessionID  string `json:"session_id"`
	Live       bool   `json:"live"`
	State      string `json:"state,omitempty"`
	Output     string `json:"output"`
	ExitCode   *int   `json:"exit_code,omitempty"`
	Stopped    bool   `json:"stopped,omitempty"`
	StartedAt  string `json:"started_at,omitempty"`
	FinishedAt string `json:"finished_at,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// GetSessionOutput returns the transcript of a session, checking the live
// registry first and falling back to recorded run history.
func (t *SandboxTools) GetSessionOutput(ctx context.Context, req *mcp.CallToolRequest, args GetSessionOutputArgs) (*mcp.CallToolResult, GetSessionOutputResult, error) {
	if err := validateSessionID(args.SessionID); err != nil {
		return createErrorResult(fmt.Sprintf("Invalid session ID: %v", err)), GetSessionOutputResult{}, nil
	}

	if session, ok := t.manager.GetSession(args.SessionID); ok {
		result := GetSessionOutputResult{
			SessionID: session.ID,
			Live:      true,
			State:     string(session.State()),
			Output:    session.Transcript(),
			StartedAt: session.StartedAt.Format(time.RFC3339),
		}
		if exitCode, stopped, finished := session.Result(); finished {
			result.ExitCode = &exitCode
			result.Stopped = stopped
		}
		return createJSONResult(result), result, nil
	}

	if t.database == nil {
		return createErrorResult(fmt.Sprintf("Session not found: %s (run history is disabled)", args.SessionID)), GetSessionOutputResult{}, nil
	}

	run, err := t.database.GetRun(args.SessionID)
	if err != nil {
		return createErrorResult(fmt.Sprintf("Session not found: %v", err)), GetSessionOutputResult{}, nil
	}

	result := GetSessionOutputResult{
		SessionID:  run.ID,
		Live:       false,
		State:      string(sandbox.StateTerminated),
		Output:     run.Transcript,
		ExitCode:   &run.ExitCode,
		Stopped:    run.Stopped,
		StartedAt:  run.StartedAt.Format(time.RFC3339),
		FinishedAt: run.FinishedAt.Format(time.RFC3339),
		DurationMS: run.DurationMS,
	}

	return createJSONResult(result), result, nil
}

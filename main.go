package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rama-kairi/zencube/internal/config"
	"github.com/rama-kairi/zencube/internal/database"
	"github.com/rama-kairi/zencube/internal/logger"
	"github.com/rama-kairi/zencube/internal/monitoring"
	"github.com/rama-kairi/zencube/internal/sandbox"
	"github.com/rama-kairi/zencube/internal/server"
	"github.com/rama-kairi/zencube/internal/tools"
)

func main() {
	// Parse command line flags
	configFile := flag.String("config", "", "Path to configuration file")
	debugMode := flag.Bool("debug", false, "Enable debug mode")
	dashboard := flag.Bool("dashboard", false, "Enable the HTTP dashboard")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Override debug mode if specified via flag
	if *debugMode {
		cfg.Server.Debug = true
		cfg.Logging.Level = "debug"
	}
	if *dashboard {
		cfg.Dashboard.Enabled = true
	}

	// Set log output to stderr to avoid interfering with JSON-RPC communication
	log.SetOutput(os.Stderr)

	// Initialize logger
	appLogger, err := logger.NewLogger(&cfg.Logging, "github.com/rama-kairi/zencube")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	appLogger.Info("Starting Sandboxed Session MCP Server", map[string]interface{}{
		"version":      cfg.Server.Version,
		"debug":        cfg.Server.Debug,
		"sandbox_root": cfg.Sandbox.RootDir,
	})

	// Initialize database if enabled
	var db *database.DB
	if cfg.Database.Enabled {
		var err error
		db, err = database.NewDB(cfg.Database.Path)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer db.Close()

		appLogger.Info("Database initialized successfully", map[string]interface{}{
			"path": cfg.Database.Path,
		})
	}

	// Create the sandbox session manager
	manager, err := sandbox.NewManager(cfg, appLogger, db)
	if err != nil {
		log.Fatalf("Failed to initialize sandbox manager: %v", err)
	}

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Server-side resource monitor with session counters wired in
	resourceMonitor := monitoring.NewResourceMonitor(appLogger, 30*time.Second)
	resourceMonitor.SetCounters(manager.ActiveSessions, manager.SessionCounts)
	resourceMonitor.Start(ctx)
	defer resourceMonitor.Stop()

	// Create the tool set
	sandboxTools := tools.NewSandboxTools(manager, cfg, appLogger, db, resourceMonitor)

	// Create MCP server
	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Server.Name,
		Version: cfg.Server.Version,
	}, nil)

	// Register session launch tool
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "run_sandbox_session",
		Description: "Launch a command or uploaded source file as an interactive session inside the native sandbox. Sessions stay alive while they run: interactive programs flip to AWAITING_INPUT when they go quiet waiting for stdin, and input is relayed with send_input. Source files are resolved by extension (.py .sh .js .rb .pl run through interpreters; .c .cpp .java are compiled first, with compile errors reported before any session exists). Resource limits are passed to the sandbox as flags.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"command": {
					Type:        "string",
					Description: "Command to run inside the sandbox, split on whitespace. Example: 'python3 -i'. Provide either this or filename+content.",
				},
				"filename": {
					Type:        "string",
					Description: "Source file name to upload and run. The extension picks the toolchain. Example: 'solution.py'.",
				},
				"content": {
					Type:        "string",
					Description: "Source code saved under filename before the run. Required when filename is set.",
				},
				"args": {
					Type:        "array",
					Items:       &jsonschema.Schema{Type: "string"},
					Description: "Extra arguments appended to the resolved program.",
				},
				"cpu_seconds": {
					Type:        "integer",
					Description: "CPU time limit in seconds. Zero uses the configured default.",
				},
				"memory_mb": {
					Type:        "integer",
					Description: "Memory limit in megabytes. Zero uses the configured default.",
				},
				"max_processes": {
					Type:        "integer",
					Description: "Maximum number of processes the session may spawn. Zero uses the configured default.",
				},
				"file_size_mb": {
					Type:        "integer",
					Description: "Maximum size of any file the session writes, in megabytes. Zero uses the configured default.",
				},
				"wait_ms": {
					Type:        "integer",
					Description: "Wait up to this many milliseconds for the session to finish or start waiting for input before returning. Zero returns immediately.",
				},
			},
		},
	}, sandboxTools.RunSession)

	// Register input relay tool
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "send_input",
		Description: "Send a line of input to a running session's stdin. A trailing newline is appended when missing unless raw is set. Input to a finished or unknown session is reported as undelivered rather than failing, so racing against a session's natural exit is safe.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"session_id": {
					Type:        "string",
					Description: "UUID of the target session, from run_sandbox_session or list_sandbox_sessions.",
				},
				"input": {
					Type:        "string",
					Description: "Text to write to the session's stdin.",
				},
				"raw": {
					Type:        "boolean",
					Description: "Write the text exactly as given without appending a newline. Default: false.",
				},
			},
			Required: []string{"session_id", "input"},
		},
	}, sandboxTools.SendInput)

	// Register session stop tool
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "stop_session",
		Description: "Terminate a running session and wait for its teardown. The whole process group gets SIGTERM, escalating to SIGKILL after a grace period. By the time this returns the process is gone, the final transcript is available and the session's uploaded files and build directories have been removed.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"session_id": {
					Type:        "string",
					Description: "UUID of the session to stop.",
				},
			},
			Required: []string{"session_id"},
		},
	}, sandboxTools.StopSession)

	// Register session listing tool
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "list_sandbox_sessions",
		Description: "List all live sandboxed sessions with their PID, command, lifecycle state (RUNNING, AWAITING_INPUT, TERMINATED) and start time, ordered oldest first. Finished sessions disappear from this list; their transcripts remain available through get_session_output.",
		InputSchema: &jsonschema.Schema{
			Type:       "object",
			Properties: map[string]*jsonschema.Schema{},
		},
	}, sandboxTools.ListSessions)

	// Register output retrieval tool
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "get_session_output",
		Description: "Fetch the merged stdout+stderr transcript of a session. Live sessions return their current state and output so far; finished sessions are served from recorded run history with exit code and duration.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"session_id": {
					Type:        "string",
					Description: "UUID of the session to inspect.",
				},
			},
			Required: []string{"session_id"},
		},
	}, sandboxTools.GetSessionOutput)

	// Register static analysis tool
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "analyze_source",
		Description: "Statically scan source code for common security and correctness problems without executing it. Supports C/C++ (unsafe string functions, memory leaks, format strings, integer overflow), Python (eval/exec, command injection, hardcoded secrets, unsafe deserialization) and Java (command execution, SQL injection, XSS). Findings are grouped by severity with line numbers and excerpts.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"filename": {
					Type:        "string",
					Description: "Source file name. The extension selects the rule set.",
				},
				"content": {
					Type:        "string",
					Description: "The source code to analyze.",
				},
			},
			Required: []string{"filename", "content"},
		},
	}, sandboxTools.AnalyzeSource)

	// Register run history search tool
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "search_run_history",
		Description: "Search completed sandboxed runs by command text, transcript content, exit code and time window, newest first. Also returns aggregate statistics over all recorded runs. History is read-only; finished sessions cannot be resumed.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"command": {
					Type:        "string",
					Description: "Partial command text to match.",
				},
				"output": {
					Type:        "string",
					Description: "Partial transcript text to match.",
				},
				"exit_code": {
					Type:        "integer",
					Description: "Only return runs with this exit code.",
				},
				"start_time": {
					Type:        "string",
					Description: "Only return runs started at or after this RFC3339 timestamp.",
				},
				"end_time": {
					Type:        "string",
					Description: "Only return runs started at or before this RFC3339 timestamp.",
				},
				"limit": {
					Type:        "integer",
					Description: "Maximum number of runs to return. Default: 50.",
				},
			},
		},
	}, sandboxTools.SearchRunHistory)

	// Register resource status tool
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "get_resource_status",
		Description: "Report the server's own resource usage (goroutines, heap, leak heuristics) alongside the latest per-session samples: CPU percent, resident and virtual memory, thread count and open file descriptors, refreshed on a fixed cadence for every live session. Includes database health.",
		InputSchema: &jsonschema.Schema{
			Type:       "object",
			Properties: map[string]*jsonschema.Schema{},
		},
	}, sandboxTools.GetResourceStatus)

	appLogger.Info("Sandbox MCP Server registered all tools successfully", map[string]interface{}{
		"tools_count": 8,
	})

	// Optional HTTP dashboard with SSE streaming
	if cfg.Dashboard.Enabled {
		dashboardServer, err := server.New(cfg, appLogger, manager, db, resourceMonitor)
		if err != nil {
			log.Fatalf("Failed to initialize dashboard: %v", err)
		}
		go func() {
			if err := dashboardServer.ListenAndServe(ctx); err != nil {
				appLogger.Error("Dashboard server error", err)
			}
		}()
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, cleaning up...")

		// Stop every live session and wait for their teardowns
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Session shutdown incomplete", err)
		}

		cancel()
	}()

	// Start the MCP server using stdio transport
	appLogger.Info("Sandbox MCP Server is now running and waiting for requests...")
	appLogger.Info("Configuration:", map[string]interface{}{
		"sandbox_root":     cfg.Sandbox.RootDir,
		"max_sessions":     cfg.Sandbox.MaxSessions,
		"quiet_interval":   cfg.Sandbox.QuietInterval.String(),
		"monitor_interval": cfg.Sandbox.MonitorInterval.String(),
		"history_enabled":  cfg.Database.Enabled,
	})

	if err := mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		appLogger.Error("Server error", err)
		os.Exit(1)
	}

	appLogger.Info("Sandbox MCP Server shutdown completed")
}

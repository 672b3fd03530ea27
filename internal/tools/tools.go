// Package tools exposes the sandbox session manager as MCP tools.
package tools

import (
	"github.com/rama-kairi/zencube/internal/config"
	"github.com/rama-kairi/zencube/internal/database"
	"github.com/rama-kairi/zencube/internal/logger"
	"github.com/rama-kairi/zencube/internal/monitoring"
	"github.com/rama-kairi/zencube/internal/sandbox"
)

// SandboxTools contains all MCP tools for sandboxed session management
type SandboxTools struct {
	manager         *sandbox.Manager
	config          *config.Config
	logger          *logger.Logger
	database        *database.DB
	resourceMonitor *monitoring.ResourceMonitor
}

// NewSandboxTools creates the tool set. db and monitor may be nil when the
// corresponding subsystems are disabled.
func NewSandboxTools(manager *sandbox.Manager, cfg *config.Config, log *logger.Logger, db *database.DB, monitor *monitoring.ResourceMonitor) *SandboxTools {
	return &SandboxTools{
		manager:         manager,
		config:          cfg,
		logger:          log,
		database:        db,
		resourceMonitor: monitor,
	}
}

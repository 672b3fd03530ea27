package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rama-kairi/zencube/internal/analyzer"
	"github.com/rama-kairi/zencube/internal/database"
)

// AnalyzeSourceArgs represents arguments for static source analysis
type AnalyzeSourceArgs struct {
	Filename string `json:"filename" jsonschema:"required,description,Name of the source file. The extension selects the rule set (.c .cpp .py .java)."`
	Content  string `json:"content" jsonschema:"required,description,The source code to analyze."`
}

// AnalyzeSource scans source code for common security and correctness issues
// without executing it. Report summaries are recorded when history is enabled.
func (t *SandboxTools) AnalyzeSource(ctx context.Context, req *mcp.CallToolRequest, args AnalyzeSourceArgs) (*mcp.CallToolResult, analyzer.Report, error) {
	if args.Filename == "" || args.Content == "" {
		return createErrorResult("filename and content are required"), analyzer.Report{}, nil
	}

	report, err := analyzer.AnalyzeSource(args.Filename, args.Content)
	if err != nil {
		return createErrorResult(fmt.Sprintf("Analysis failed: %v", err)), analyzer.Report{}, nil
	}

	t.logger.Info("Source analyzed", map[string]interface{}{
		"filename":     report.Filename,
		"language":     report.Language,
		"total_issues": report.TotalIssues,
	})

	if t.database != nil {
		record := &database.AnalysisRecord{
			ID:            uuid.New().String(),
			Filename:      report.Filename,
			Language:      report.Language,
			Vulnerability: len(report.Vulnerabilities),
			Warning:       len(report.Warnings),
			Informational: len(report.Info),
			Timestamp:     time.Now(),
		}
		if err := t.database.StoreAnalysis(record); err != nil {
			t.logger.Error("Failed to record analysis", err, map[string]interface{}{
				"filename": report.Filename,
			})
		}
	}

	return createJSONResult(report), *report, nil
}

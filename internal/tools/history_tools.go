package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rama-kairi/zencube/internal/database"
)

// SearchRunHistoryArgs represents arguments for searching recorded runs
type SearchRunHistoryArgs struct {
	Command   string `json:"command,omitempty" jsonschema:"description,Partial command text to match."`
	Output    string `json:"output,omitempty" jsonschema:"description,Partial transcript text to match."`
	ExitCode  *int   `json:"exit_code,omitempty" jsonschema:"description,Only return runs with this exit code."`
	StartTime string `json:"start_time,omitempty" jsonschema:"description,Only return runs started at or after this RFC3339 timestamp."`
	EndTime   string `json:"end_time,omitempty" jsonschema:"description,Only return runs started at or before this RFC3339 timestamp."`
	Limit     int    `json:"limit,omitempty" jsonschema:"description,Maximum number of runs to return. Defaults to 50."`
}

// SearchRunHistoryResult represents the result of a run history search
type SearchRunHistoryResult struct {
	Runs  []*database.RunRecord  `json:"runs"`
	Count int                    `json:"count"`
	Stats map[string]interface{} `json:"stats,omitempty"`
}

// SearchRunHistory searches recorded runs by command, output, exit code and
// time window, newest first. History rows are read-only; finished sessions
// cannot be resumed from here.
func (t *SandboxTools) SearchRunHistory(ctx context.Context, req *mcp.CallToolRequest, args SearchRunHistoryArgs) (*mcp.CallToolResult, SearchRunHistoryResult, error) {
	if t.database == nil {
		return createErrorResult("run history is disabled"), SearchRunHistoryResult{}, nil
	}

	var startTime, endTime time.Time
	if args.StartTime != "" {
		parsed, err := time.Parse(time.RFC3339, args.StartTime)
		if err != nil {
			return createErrorResult(fmt.Sprintf("Invalid start_time: %v", err)), SearchRunHistoryResult{}, nil
		}
		startTime = parsed
	}
	if args.EndTime != "" {
		parsed, err := time.Parse(time.RFC3339, args.EndTime)
		if err != nil {
			return createErrorResult(fmt.Sprintf("Invalid end_time: %v", err)), SearchRunHistoryResult{}, nil
		}
		endTime = parsed
	}

	limit := args.Limit
	if limit <= 0 {
		limit = 50
	}

	runs, err := t.database.SearchRuns(args.Command, args.Output, args.ExitCode, startTime, endTime, limit)
	if err != nil {
		return createErrorResult(fmt.Sprintf("Search failed: %v", err)), SearchRunHistoryResult{}, nil
	}

	result := SearchRunHistoryResult{
		Runs:  runs,
		Count: len(runs),
	}

	if stats, err := t.database.GetRunStats(); err == nil {
		result.Stats = stats
	}

	return createJSONResult(result), result, nil
}

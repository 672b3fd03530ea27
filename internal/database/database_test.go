package database

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) (*DB, string) {
	tempDir, err := os.MkdirTemp("", "db-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tempDir, "test.db")
	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	return db, tempDir
}

// TestNewDB tests database creation and initialization
func TestNewDB(t *testing.T) {
	db, tempDir := setupTestDB(t)
	defer os.RemoveAll(tempDir)
	defer db.Close()

	// Test that database connection is working
	err := db.HealthCheck()
	if err != nil {
		t.Errorf("Database health check failed: %v", err)
	}
}

// TestRunStorage tests run recording and retrieval
func TestRunStorage(t *testing.T) {
	db, tempDir := setupTestDB(t)
	defer os.RemoveAll(tempDir)
	defer db.Close()

	startTime := time.Now()
	endTime := startTime.Add(2 * time.Second)

	run := &RunRecord{
		ID:         "run-1",
		Command:    "python3 hello.py",
		ExitCode:   0,
		Stopped:    false,
		Transcript: "hello\n",
		StartedAt:  startTime,
		FinishedAt: endTime,
		DurationMS: endTime.Sub(startTime).Milliseconds(),
	}

	err := db.StoreRun(run)
	if err != nil {
		t.Fatalf("Failed to store run: %v", err)
	}

	retrieved, err := db.GetRun("run-1")
	if err != nil {
		t.Fatalf("Failed to get run: %v", err)
	}

	if retrieved.Command != run.Command {
		t.Errorf("Expected command %q, got %q", run.Command, retrieved.Command)
	}

	if retrieved.Transcript != "hello\n" {
		t.Errorf("Expected transcript 'hello\\n', got %q", retrieved.Transcript)
	}

	if retrieved.ExitCode != 0 {
		t.Errorf("Expected exit code 0, got %d", retrieved.ExitCode)
	}
}

// TestSearchRuns tests run history search with filters
func TestSearchRuns(t *testing.T) {
	db, tempDir := setupTestDB(t)
	defer os.RemoveAll(tempDir)
	defer db.Close()

	base := time.Now().Add(-time.Hour)
	runs := []*RunRecord{
		{
			ID:         "run-a",
			Command:    "python3 greet.py",
			ExitCode:   0,
			Transcript: "What is your name?\nHello, Ada\n",
			StartedAt:  base,
			FinishedAt: base.Add(time.Second),
			DurationMS: 1000,
		},
		{
			ID:         "run-b",
			Command:    "./crash",
			ExitCode:   139,
			Transcript: "",
			StartedAt:  base.Add(time.Minute),
			FinishedAt: base.Add(time.Minute + time.Second),
			DurationMS: 1000,
		},
		{
			ID:         "run-c",
			Command:    "python3 loop.py",
			ExitCode:   137,
			Stopped:    true,
			Transcript: "tick\ntick\n",
			StartedAt:  base.Add(2 * time.Minute),
			FinishedAt: base.Add(2*time.Minute + time.Second),
			DurationMS: 1000,
		},
	}

	for _, run := range runs {
		if err := db.StoreRun(run); err != nil {
			t.Fatalf("Failed to store run %s: %v", run.ID, err)
		}
	}

	t.Run("by command", func(t *testing.T) {
		results, err := db.SearchRuns("python3", "", nil, time.Time{}, time.Time{}, 10)
		if err != nil {
			t.Fatalf("Failed to search runs: %v", err)
		}
		if len(results) != 2 {
			t.Errorf("Expected 2 python3 runs, got %d", len(results))
		}
	})

	t.Run("by transcript", func(t *testing.T) {
		results, err := db.SearchRuns("", "Hello", nil, time.Time{}, time.Time{}, 10)
		if err != nil {
			t.Fatalf("Failed to search runs: %v", err)
		}
		if len(results) != 1 || results[0].ID != "run-a" {
			t.Errorf("Expected only run-a to match transcript search, got %d results", len(results))
		}
	})

	t.Run("by exit code", func(t *testing.T) {
		code := 139
		results, err := db.SearchRuns("", "", &code, time.Time{}, time.Time{}, 10)
		if err != nil {
			t.Fatalf("Failed to search runs: %v", err)
		}
		if len(results) != 1 || results[0].ID != "run-b" {
			t.Errorf("Expected only run-b to match exit code 139, got %d results", len(results))
		}
	})

	t.Run("ordering and limit", func(t *testing.T) {
		results, err := db.SearchRuns("", "", nil, time.Time{}, time.Time{}, 2)
		if err != nil {
			t.Fatalf("Failed to search runs: %v", err)
		}
		if len(results) != 2 {
			t.Fatalf("Expected limit of 2 results, got %d", len(results))
		}
		if results[0].ID != "run-c" {
			t.Errorf("Expected most recent run first, got %s", results[0].ID)
		}
	})

	t.Run("by time window", func(t *testing.T) {
		results, err := db.SearchRuns("", "", nil, base.Add(30*time.Second), time.Time{}, 10)
		if err != nil {
			t.Fatalf("Failed to search runs: %v", err)
		}
		if len(results) != 2 {
			t.Errorf("Expected 2 runs after the window start, got %d", len(results))
		}
	})
}

// TestAnalysisStorage tests analysis summary recording
func TestAnalysisStorage(t *testing.T) {
	db, tempDir := setupTestDB(t)
	defer os.RemoveAll(tempDir)
	defer db.Close()

	rec := &AnalysisRecord{
		ID:            "analysis-1",
		Filename:      "unsafe.c",
		Language:      "c",
		Vulnerability: 2,
		Warning:       1,
		Informational: 3,
		Timestamp:     time.Now(),
	}

	err := db.StoreAnalysis(rec)
	if err != nil {
		t.Fatalf("Failed to store analysis: %v", err)
	}
}

// TestRunStats tests aggregate run statistics
func TestRunStats(t *testing.T) {
	db, tempDir := setupTestDB(t)
	defer os.RemoveAll(tempDir)
	defer db.Close()

	now := time.Now()
	runs := []*RunRecord{
		{ID: "s1", Command: "ok", ExitCode: 0, StartedAt: now, FinishedAt: now, DurationMS: 100},
		{ID: "s2", Command: "fail", ExitCode: 1, StartedAt: now, FinishedAt: now, DurationMS: 300},
		{ID: "s3", Command: "stopped", ExitCode: 143, Stopped: true, StartedAt: now, FinishedAt: now, DurationMS: 200},
	}
	for _, run := range runs {
		if err := db.StoreRun(run); err != nil {
			t.Fatalf("Failed to store run %s: %v", run.ID, err)
		}
	}

	stats, err := db.GetRunStats()
	if err != nil {
		t.Fatalf("Failed to get run stats: %v", err)
	}

	if stats["total_runs"] != 3 {
		t.Errorf("Expected 3 total runs, got %v", stats["total_runs"])
	}

	if stats["successful_runs"] != 1 {
		t.Errorf("Expected 1 successful run, got %v", stats["successful_runs"])
	}

	if stats["stopped_runs"] != 1 {
		t.Errorf("Expected 1 stopped run, got %v", stats["stopped_runs"])
	}
}

// TestDatabaseErrorHandling tests error conditions
func TestDatabaseErrorHandling(t *testing.T) {
	db, tempDir := setupTestDB(t)
	defer os.RemoveAll(tempDir)
	defer db.Close()

	// Test getting non-existent run
	_, err := db.GetRun("non-existent")
	if err == nil {
		t.Error("Expected error when getting non-existent run, got nil")
	}

	// Duplicate run IDs must be rejected
	now := time.Now()
	run := &RunRecord{ID: "dup", Command: "x", StartedAt: now, FinishedAt: now}
	if err := db.StoreRun(run); err != nil {
		t.Fatalf("Failed to store run: %v", err)
	}
	if err := db.StoreRun(run); err == nil {
		t.Error("Expected error when storing run with duplicate ID, got nil")
	}
}

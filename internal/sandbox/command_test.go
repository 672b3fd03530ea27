package sandbox

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	zerrors "github.com/rama-kairi/zencube/internal/errors"
)

func TestLimitsValidate(t *testing.T) {
	tests := []struct {
		name    string
		limits  Limits
		wantErr bool
	}{
		{"all zero", Limits{}, false},
		{"all positive", Limits{CPUSeconds: 10, MemoryMB: 256, MaxProcesses: 16, FileSizeMB: 10}, false},
		{"negative cpu", Limits{CPUSeconds: -1}, true},
		{"negative mem", Limits{MemoryMB: -5}, true},
		{"negative procs", Limits{MaxProcesses: -1}, true},
		{"negative fsize", Limits{FileSizeMB: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.limits.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !zerrors.Is(err, zerrors.ErrCodeValidationFailed) {
				t.Errorf("Expected VALIDATION_FAILED code, got %v", zerrors.GetCode(err))
			}
		})
	}
}

func TestLimitsFlags(t *testing.T) {
	full := Limits{CPUSeconds: 10, MemoryMB: 256, MaxProcesses: 16, FileSizeMB: 5}
	want := []string{"--cpu=10", "--mem=256", "--procs=16", "--fsize=5"}
	if got := full.Flags(); !reflect.DeepEqual(got, want) {
		t.Errorf("Flags() = %v, want %v", got, want)
	}

	// Zero fields are omitted entirely, not rendered as zero
	partial := Limits{MemoryMB: 128}
	if got := partial.Flags(); !reflect.DeepEqual(got, []string{"--mem=128"}) {
		t.Errorf("Flags() = %v, want [--mem=128]", got)
	}

	if got := (Limits{}).Flags(); len(got) != 0 {
		t.Errorf("Expected no flags for zero limits, got %v", got)
	}
}

func TestFindSandbox(t *testing.T) {
	tempDir := t.TempDir()

	binary := filepath.Join(tempDir, "sandbox")
	if err := os.WriteFile(binary, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("Failed to write fake sandbox: %v", err)
	}

	t.Run("explicit path", func(t *testing.T) {
		found, err := FindSandbox(binary, nil)
		if err != nil {
			t.Fatalf("FindSandbox failed: %v", err)
		}
		if found != binary {
			t.Errorf("Expected %s, got %s", binary, found)
		}
	})

	t.Run("search paths", func(t *testing.T) {
		found, err := FindSandbox("", []string{filepath.Join(tempDir, "missing"), binary})
		if err != nil {
			t.Fatalf("FindSandbox failed: %v", err)
		}
		if filepath.Base(found) != "sandbox" {
			t.Errorf("Expected the fake sandbox, got %s", found)
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := FindSandbox("", []string{filepath.Join(tempDir, "nope")})
		if err == nil {
			t.Fatal("Expected error for missing sandbox")
		}
		if !zerrors.Is(err, zerrors.ErrCodeSandboxNotFound) {
			t.Errorf("Expected SANDBOX_NOT_FOUND, got %v", zerrors.GetCode(err))
		}
	})

	t.Run("non-executable", func(t *testing.T) {
		plain := filepath.Join(tempDir, "plain.txt")
		if err := os.WriteFile(plain, []byte("data"), 0o644); err != nil {
			t.Fatalf("Failed to write file: %v", err)
		}
		if _, err := FindSandbox(plain, nil); err == nil {
			t.Error("Expected error for non-executable binary path")
		}
	})
}

func TestResolveFileInterpreter(t *testing.T) {
	tempDir := t.TempDir()
	script := filepath.Join(tempDir, "hello.sh")
	if err := os.WriteFile(script, []byte("echo hello\n"), 0o644); err != nil {
		t.Fatalf("Failed to write script: %v", err)
	}

	resolved, err := ResolveFile(script, tempDir)
	if err != nil {
		t.Fatalf("ResolveFile failed: %v", err)
	}

	want := []string{"bash", script}
	if !reflect.DeepEqual(resolved.Argv, want) {
		t.Errorf("Expected argv %v, got %v", want, resolved.Argv)
	}
	if resolved.BuildDir != "" {
		t.Errorf("Expected no build dir for interpreted file, got %s", resolved.BuildDir)
	}
}

func TestResolveFileExecutable(t *testing.T) {
	tempDir := t.TempDir()
	binary := filepath.Join(tempDir, "tool")
	if err := os.WriteFile(binary, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("Failed to write executable: %v", err)
	}

	resolved, err := ResolveFile(binary, tempDir)
	if err != nil {
		t.Fatalf("ResolveFile failed: %v", err)
	}

	if !reflect.DeepEqual(resolved.Argv, []string{binary}) {
		t.Errorf("Expected direct execution, got %v", resolved.Argv)
	}
}

func TestResolveFileMissingInterpreter(t *testing.T) {
	tempDir := t.TempDir()
	script := filepath.Join(tempDir, "script.rb")
	if err := os.WriteFile(script, []byte("puts 1\n"), 0o644); err != nil {
		t.Fatalf("Failed to write script: %v", err)
	}

	// Empty PATH makes every interpreter lookup fail
	t.Setenv("PATH", "")

	_, err := ResolveFile(script, tempDir)
	if err == nil {
		t.Fatal("Expected error for missing interpreter")
	}
	if !zerrors.Is(err, zerrors.ErrCodeToolchainNotFound) {
		t.Errorf("Expected TOOLCHAIN_NOT_FOUND, got %v", zerrors.GetCode(err))
	}
}

func TestResolveFileErrors(t *testing.T) {
	tempDir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := ResolveFile(filepath.Join(tempDir, "absent.py"), tempDir)
		if err == nil {
			t.Fatal("Expected error for missing file")
		}
	})

	t.Run("unsupported type", func(t *testing.T) {
		path := filepath.Join(tempDir, "data.txt")
		if err := os.WriteFile(path, []byte("text"), 0o644); err != nil {
			t.Fatalf("Failed to write file: %v", err)
		}
		_, err := ResolveFile(path, tempDir)
		if err == nil {
			t.Fatal("Expected error for unsupported file type")
		}
		if !strings.Contains(err.Error(), "unsupported file type") {
			t.Errorf("Expected unsupported file type message, got %v", err)
		}
	})
}

func TestSaveUpload(t *testing.T) {
	tempDir := t.TempDir()

	first, err := SaveUpload(tempDir, "hello.py", []byte("print('hi')\n"))
	if err != nil {
		t.Fatalf("SaveUpload failed: %v", err)
	}

	second, err := SaveUpload(tempDir, "hello.py", []byte("print('again')\n"))
	if err != nil {
		t.Fatalf("SaveUpload failed: %v", err)
	}

	if first == second {
		t.Error("Expected unique names for repeated uploads of the same file")
	}

	base := filepath.Base(first)
	if !strings.HasPrefix(base, "hello_") || !strings.HasSuffix(base, ".py") {
		t.Errorf("Expected <stem>_<token><ext> naming, got %s", base)
	}

	content, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("Failed to read upload: %v", err)
	}
	if string(content) != "print('hi')\n" {
		t.Errorf("Upload content mismatch: %q", content)
	}
}

func TestSaveUploadSanitizesName(t *testing.T) {
	tempDir := t.TempDir()

	path, err := SaveUpload(tempDir, "../../../etc/passwd", []byte("x"))
	if err != nil {
		t.Fatalf("SaveUpload failed: %v", err)
	}

	if filepath.Dir(path) != tempDir {
		t.Errorf("Expected upload to stay inside %s, got %s", tempDir, path)
	}
	if strings.Contains(filepath.Base(path), "..") {
		t.Errorf("Expected traversal sequences to be stripped, got %s", filepath.Base(path))
	}
}

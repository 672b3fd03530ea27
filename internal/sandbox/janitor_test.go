package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rama-kairi/zencube/internal/logger"
)

func newTestJanitor(t *testing.T) (*Janitor, string) {
	tempDir := t.TempDir()
	root := filepath.Join(tempDir, "uploads")

	janitor, err := NewJanitor(root, logger.GetDefaultLogger())
	if err != nil {
		t.Fatalf("Failed to create janitor: %v", err)
	}
	return janitor, tempDir
}

func TestJanitorContains(t *testing.T) {
	janitor, tempDir := newTestJanitor(t)
	root := janitor.Root()

	inside := filepath.Join(root, "work", "file.txt")
	if err := os.MkdirAll(filepath.Dir(inside), 0o755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(inside, []byte("x"), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	if !janitor.Contains(inside) {
		t.Error("Expected path inside root to be contained")
	}

	// The root itself is not a removable artifact
	if janitor.Contains(root) {
		t.Error("Expected the root itself to be rejected")
	}

	outside := filepath.Join(tempDir, "elsewhere.txt")
	if janitor.Contains(outside) {
		t.Error("Expected sibling path to be rejected")
	}

	traversal := filepath.Join(root, "..", "escape.txt")
	if janitor.Contains(traversal) {
		t.Error("Expected dot-dot traversal to be rejected")
	}
}

func TestJanitorContainsMissingPath(t *testing.T) {
	janitor, _ := newTestJanitor(t)

	// Already-removed artifacts still resolve through existing ancestors
	missing := filepath.Join(janitor.Root(), "gone", "artifact.bin")
	if !janitor.Contains(missing) {
		t.Error("Expected missing path under root to be contained")
	}
}

func TestJanitorSymlinkEscape(t *testing.T) {
	janitor, tempDir := newTestJanitor(t)

	// A secret outside the root, reachable via a symlink inside it
	secret := filepath.Join(tempDir, "secret.txt")
	if err := os.WriteFile(secret, []byte("keep me"), 0o644); err != nil {
		t.Fatalf("Failed to write secret: %v", err)
	}

	link := filepath.Join(janitor.Root(), "innocent.txt")
	if err := os.Symlink(secret, link); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}

	if janitor.Contains(link) {
		t.Error("Expected symlink pointing outside root to be rejected")
	}

	// Remove must refuse the link's target and leave the secret alone
	janitor.Remove(link)
	if _, err := os.Stat(secret); err != nil {
		t.Errorf("Secret outside root was touched: %v", err)
	}
}

func TestJanitorRemove(t *testing.T) {
	janitor, tempDir := newTestJanitor(t)

	target := filepath.Join(janitor.Root(), "build_abc")
	if err := os.MkdirAll(target, 0o755); err != nil {
		t.Fatalf("Failed to create build dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(target, "a.out"), []byte("bin"), 0o755); err != nil {
		t.Fatalf("Failed to write artifact: %v", err)
	}

	janitor.CleanupSession("test-session", []string{target})

	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Error("Expected build dir to be removed")
	}

	// Outside paths are refused even when passed explicitly
	outside := filepath.Join(tempDir, "precious.txt")
	if err := os.WriteFile(outside, []byte("data"), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	janitor.CleanupSession("test-session", []string{outside})
	if _, err := os.Stat(outside); err != nil {
		t.Errorf("File outside root was removed: %v", err)
	}

	// The root itself is refused even when passed explicitly
	janitor.Remove(janitor.Root())
	if _, err := os.Stat(janitor.Root()); err != nil {
		t.Errorf("Sandbox root was removed: %v", err)
	}

	// Removing an already-missing artifact is harmless
	janitor.Remove(filepath.Join(janitor.Root(), "already-gone"))
	janitor.Remove("")
}

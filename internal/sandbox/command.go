package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rama-kairi/zencube/internal/errors"
)

// Limits are the resource ceilings passed to the sandbox binary. A zero field
// is omitted so the sandbox applies its own default.
type Limits struct {
	CPUSeconds   int `json:"cpu_seconds"`
	MemoryMB     int `json:"memory_mb"`
	MaxProcesses int `json:"max_processes"`
	FileSizeMB   int `json:"file_size_mb"`
}

// Validate rejects negative limit values before any process work happens
func (l Limits) Validate() error {
	checks := []struct {
		name  string
		value int
	}{
		{"cpu_seconds", l.CPUSeconds},
		{"memory_mb", l.MemoryMB},
		{"max_processes", l.MaxProcesses},
		{"file_size_mb", l.FileSizeMB},
	}
	for _, c := range checks {
		if c.value < 0 {
			return errors.InvalidLimit(c.name, c.value)
		}
	}
	return nil
}

// Flags renders the limits as sandbox arguments in a fixed order
func (l Limits) Flags() []string {
	var flags []string
	if l.CPUSeconds > 0 {
		flags = append(flags, fmt.Sprintf("--cpu=%d", l.CPUSeconds))
	}
	if l.MemoryMB > 0 {
		flags = append(flags, fmt.Sprintf("--mem=%d", l.MemoryMB))
	}
	if l.MaxProcesses > 0 {
		flags = append(flags, fmt.Sprintf("--procs=%d", l.MaxProcesses))
	}
	if l.FileSizeMB > 0 {
		flags = append(flags, fmt.Sprintf("--fsize=%d", l.FileSizeMB))
	}
	return flags
}

// interpreters maps source file extensions to the interpreter that runs them
var interpreters = map[string]string{
	".py": "python3",
	".sh": "bash",
	".js": "node",
	".rb": "ruby",
	".pl": "perl",
}

var javaPackagePattern = regexp.MustCompile(`(?m)^\s*package\s+([\w.]+)\s*;`)

// ResolvedCommand is the argv to hand to the sandbox plus any build artifacts
// the session owns and must clean up.
type ResolvedCommand struct {
	Argv     []string
	BuildDir string
}

// FindSandbox locates the sandbox binary. An explicit binaryPath wins; the
// search paths are tried in order otherwise.
func FindSandbox(binaryPath string, searchPaths []string) (string, error) {
	if binaryPath != "" {
		if isExecutable(binaryPath) {
			return binaryPath, nil
		}
		return "", errors.SandboxNotFound([]string{binaryPath})
	}

	for _, candidate := range searchPaths {
		if isExecutable(candidate) {
			abs, err := filepath.Abs(candidate)
			if err != nil {
				return candidate, nil
			}
			return abs, nil
		}
	}
	return "", errors.SandboxNotFound(searchPaths)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}

// ResolveFile determines how to execute a file: directly, through an
// interpreter, or after a compile step into a fresh build directory under
// rootDir. Compile failures surface the compiler diagnostics and leave no
// session behind.
func ResolveFile(path string, rootDir string) (*ResolvedCommand, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.InvalidInput("file", fmt.Sprintf("file not found: %s", path))
	}
	if info.IsDir() {
		return nil, errors.InvalidInput("file", fmt.Sprintf("not a regular file: %s", path))
	}

	ext := strings.ToLower(filepath.Ext(path))

	// Executables with no interpreter mapping run as-is
	if _, known := interpreters[ext]; !known && info.Mode()&0o111 != 0 {
		return &ResolvedCommand{Argv: []string{path}}, nil
	}

	if interp, ok := interpreters[ext]; ok {
		if _, err := exec.LookPath(interp); err != nil {
			return nil, errors.ToolchainNotFound(interp, path)
		}
		return &ResolvedCommand{Argv: []string{interp, path}}, nil
	}

	switch ext {
	case ".c":
		return compileNative("gcc", path, rootDir)
	case ".cpp", ".cc", ".cxx":
		return compileNative("g++", path, rootDir)
	case ".java":
		return compileJava(path, rootDir)
	}

	return nil, errors.InvalidInput("file", fmt.Sprintf("unsupported file type: %s", ext))
}

// compileNative builds a C or C++ source into build_<token>/<stem> and
// returns the produced binary as the command.
func compileNative(compiler, path, rootDir string) (*ResolvedCommand, error) {
	if _, err := exec.LookPath(compiler); err != nil {
		return nil, errors.ToolchainNotFound(compiler, path)
	}

	buildDir := filepath.Join(rootDir, "build_"+uuid.New().String())
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return nil, errors.FileSystemError(err, buildDir)
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	output := filepath.Join(buildDir, stem)

	cmd := exec.Command(compiler, path, "-o", output)
	diagnostics, err := cmd.CombinedOutput()
	if err != nil {
		os.RemoveAll(buildDir)
		return nil, errors.CompileFailed(path, string(diagnostics))
	}

	return &ResolvedCommand{Argv: []string{output}, BuildDir: buildDir}, nil
}

// compileJava builds a Java source with javac and derives the fully qualified
// class name from the package declaration.
func compileJava(path, rootDir string) (*ResolvedCommand, error) {
	if _, err := exec.LookPath("javac"); err != nil {
		return nil, errors.ToolchainNotFound("javac", path)
	}
	if _, err := exec.LookPath("java"); err != nil {
		return nil, errors.ToolchainNotFound("java", path)
	}

	buildDir := filepath.Join(rootDir, "build_"+uuid.New().String())
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return nil, errors.FileSystemError(err, buildDir)
	}

	cmd := exec.Command("javac", "-d", buildDir, path)
	diagnostics, err := cmd.CombinedOutput()
	if err != nil {
		os.RemoveAll(buildDir)
		return nil, errors.CompileFailed(path, string(diagnostics))
	}

	className := strings.TrimSuffix(filepath.Base(path), ".java")
	if source, err := os.ReadFile(path); err == nil {
		if m := javaPackagePattern.FindSubmatch(source); m != nil {
			className = string(m[1]) + "." + className
		}
	}

	return &ResolvedCommand{Argv: []string{"java", "-cp", buildDir, className}, BuildDir: buildDir}, nil
}

// SaveUpload writes source content under rootDir as <stem>_<token><ext> and
// returns the stored path. The unique token keeps concurrent uploads of the
// same filename apart.
func SaveUpload(rootDir, filename string, content []byte) (string, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return "", errors.FileSystemError(err, rootDir)
	}

	base := sanitizeFilename(filepath.Base(filename))
	if base == "" {
		base = "upload"
	}

	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	unique := fmt.Sprintf("%s_%s%s", stem, uuid.New().String(), ext)
	destination := filepath.Join(rootDir, unique)

	if err := os.WriteFile(destination, content, 0o644); err != nil {
		return "", errors.FileSystemError(err, destination)
	}
	return destination, nil
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func sanitizeFilename(name string) string {
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	return strings.Trim(name, "._")
}

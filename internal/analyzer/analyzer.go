// Package analyzer scans source files for common security issues. Reports are
// informational only and never block execution.
package analyzer

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rama-kairi/zencube/internal/errors"
)

// Severity classifies how serious a finding is
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityInfo     Severity = "INFO"
)

// Finding is one issue located in the scanned source
type Finding struct {
	Category string   `json:"category"`
	Severity Severity `json:"severity"`
	Line     int      `json:"line"`
	Message  string   `json:"message"`
	Excerpt  string   `json:"excerpt"`
}

// Report is the result of scanning one file
type Report struct {
	Filename        string    `json:"filename"`
	Language        string    `json:"language"`
	TotalIssues     int       `json:"total_issues"`
	CriticalCount   int       `json:"critical_count"`
	HighCount       int       `json:"high_count"`
	MediumCount     int       `json:"medium_count"`
	Vulnerabilities []Finding `json:"vulnerabilities"`
	Warnings        []Finding `json:"warnings"`
	Info            []Finding `json:"info"`
}

// rule is one line-matching check. Rules with requireAny only fire when the
// line also contains one of those substrings.
type rule struct {
	pattern    *regexp.Regexp
	category   string
	severity   Severity
	message    string
	warning    bool
	requireAny []string
}

var cRules = []rule{
	{regexp.MustCompile(`\bstrcpy\s*\(`), "Buffer Overflow", SeverityHigh, "Use of strcpy() can cause buffer overflow. Use strncpy() or strcpy_s() instead.", false, nil},
	{regexp.MustCompile(`\bstrcat\s*\(`), "Buffer Overflow", SeverityHigh, "Use of strcat() can cause buffer overflow. Use strncat() instead.", false, nil},
	{regexp.MustCompile(`\bsprintf\s*\(`), "Buffer Overflow", SeverityMedium, "Use of sprintf() can cause buffer overflow. Use snprintf() instead.", false, nil},
	{regexp.MustCompile(`\bgets\s*\(`), "Buffer Overflow", SeverityCritical, "Use of gets() is dangerous. Use fgets() instead.", false, nil},
	{regexp.MustCompile(`\bsystem\s*\(`), "Unsafe Function", SeverityHigh, "Use of system() can lead to command injection.", true, nil},
	{regexp.MustCompile(`\bpopen\s*\(`), "Unsafe Function", SeverityMedium, "Use of popen() can be unsafe.", true, nil},
}

var pythonRules = []rule{
	{regexp.MustCompile(`\beval\s*\(|\bexec\s*\(`), "Code Injection", SeverityCritical, "Use of eval() or exec() is dangerous. Avoid if possible.", false, nil},
	{regexp.MustCompile(`(?i)os\.system\s*\(`), "Command Injection", SeverityCritical, "Potential command injection in Python. Validate and sanitize user input.", false, []string{"input(", "argv", "args"}},
	{regexp.MustCompile(`(?i)subprocess\.call\s*\(`), "Command Injection", SeverityCritical, "Potential command injection in Python. Validate and sanitize user input.", false, []string{"input(", "argv", "args"}},
	{regexp.MustCompile(`(?i)password\s*=\s*["'][^"']+["']`), "Hardcoded Secret", SeverityHigh, "Hardcoded password. Use environment variables or secure storage.", false, nil},
	{regexp.MustCompile(`(?i)api_key\s*=\s*["'][^"']+["']`), "Hardcoded Secret", SeverityHigh, "Hardcoded API key. Use environment variables or secure storage.", false, nil},
	{regexp.MustCompile(`(?i)secret\s*=\s*["'][^"']+["']`), "Hardcoded Secret", SeverityHigh, "Hardcoded secret. Use environment variables or secure storage.", false, nil},
	{regexp.MustCompile(`pickle\.loads|yaml\.load|marshal\.loads`), "Unsafe Deserialization", SeverityHigh, "Unsafe deserialization can lead to code execution.", false, nil},
}

var javaRules = []rule{
	{regexp.MustCompile(`(?i)Runtime\.getRuntime\(\)\.exec`), "Command Injection", SeverityCritical, "Potential command injection in Java. Validate and sanitize user input.", false, []string{"input(", "argv", "args"}},
	{regexp.MustCompile(`(?i)ProcessBuilder`), "Command Injection", SeverityCritical, "Potential command injection in Java. Validate and sanitize user input.", false, []string{"input(", "argv", "args"}},
	{regexp.MustCompile(`response\.getWriter\(\)\.print|out\.print`), "XSS Vulnerability", SeverityHigh, "Potential XSS. Sanitize user input before output.", false, []string{"request.getParameter", "request.getAttribute"}},
}

// SQL injection patterns apply to both Python and Java
var sqlRules = []rule{
	{regexp.MustCompile(`(?i)execute\s*\([^)]*\+`), "SQL Injection", SeverityCritical, "Potential SQL injection. Use parameterized queries.", false, nil},
	{regexp.MustCompile(`(?i)query\s*\([^)]*\+`), "SQL Injection", SeverityCritical, "Potential SQL injection. Use parameterized queries.", false, nil},
	{regexp.MustCompile(`(?i)SELECT.*\+.*FROM`), "SQL Injection", SeverityCritical, "Potential SQL injection. Use parameterized queries.", false, nil},
	{regexp.MustCompile(`(?i)INSERT.*\+.*INTO`), "SQL Injection", SeverityCritical, "Potential SQL injection. Use parameterized queries.", false, nil},
}

var (
	allocPattern      = regexp.MustCompile(`(\w+)\s*=\s*(?:\([^)]+\))?\s*(?:malloc|calloc|realloc)`)
	freePattern       = regexp.MustCompile(`free\s*\(\s*(\w+)`)
	formatCallPattern = regexp.MustCompile(`\bprintf\s*\([^,)]+\w+[^,)]*\)`)
	formatVerbPattern = regexp.MustCompile(`%[sdifx]`)
	intArithPattern   = regexp.MustCompile(`\+\+|--|\+\s*[0-9]|\*\s*[0-9]`)
	fileCheckPattern  = regexp.MustCompile(`access\s*\(|stat\s*\(|open\s*\(`)
	fileUsePattern    = regexp.MustCompile(`open\s*\(|read\s*\(|write\s*\(`)
)

// languageFor maps a file extension to the analyzer language, or "" when the
// file type is not supported
func languageFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".c", ".cpp", ".cc", ".cxx":
		return "c"
	case ".py":
		return "python"
	case ".java":
		return "java"
	default:
		return ""
	}
}

// AnalyzeSource scans the given source text and returns a report. The filename
// selects the language by extension; unsupported extensions are an error.
func AnalyzeSource(filename, source string) (*Report, error) {
	lang := languageFor(filename)
	if lang == "" {
		return nil, errors.InvalidInput("filename", "unsupported file type: "+filepath.Ext(filename))
	}

	report := &Report{
		Filename:        filename,
		Language:        lang,
		Vulnerabilities: []Finding{},
		Warnings:        []Finding{},
		Info:            []Finding{},
	}

	lines := strings.Split(source, "\n")

	switch lang {
	case "c":
		applyRules(report, lines, cRules)
		checkMemoryLeaks(report, lines)
		checkFormatStrings(report, lines)
		checkIntegerOverflow(report, lines)
		checkRaceConditions(report, lines)
	case "python":
		applyRules(report, lines, pythonRules)
		applyRules(report, lines, sqlRules)
	case "java":
		applyRules(report, lines, javaRules)
		applyRules(report, lines, sqlRules)
	}

	summarize(report)
	return report, nil
}

func applyRules(report *Report, lines []string, rules []rule) {
	for _, r := range rules {
		for i, line := range lines {
			if !r.pattern.MatchString(line) {
				continue
			}
			if len(r.requireAny) > 0 && !containsAny(line, r.requireAny) {
				continue
			}
			finding := Finding{
				Category: r.category,
				Severity: r.severity,
				Line:     i + 1,
				Message:  r.message,
				Excerpt:  strings.TrimSpace(line),
			}
			if r.warning {
				report.Warnings = append(report.Warnings, finding)
			} else {
				report.Vulnerabilities = append(report.Vulnerabilities, finding)
			}
		}
	}
}

func containsAny(line string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(line, n) {
			return true
		}
	}
	return false
}

// checkMemoryLeaks pairs allocations with frees by variable name and warns on
// allocations that are never freed
func checkMemoryLeaks(report *Report, lines []string) {
	allocLines := map[string]int{}
	freed := map[string]bool{}

	for i, line := range lines {
		if m := allocPattern.FindStringSubmatch(line); m != nil {
			allocLines[m[1]] = i + 1
		}
		if m := freePattern.FindStringSubmatch(line); m != nil {
			freed[m[1]] = true
		}
	}

	for name, lineNum := range allocLines {
		if !freed[name] {
			report.Warnings = append(report.Warnings, Finding{
				Category: "Potential Memory Leak",
				Severity: SeverityMedium,
				Line:     lineNum,
				Message:  "Variable " + name + " allocated but may not be freed.",
				Excerpt:  strings.TrimSpace(lines[lineNum-1]),
			})
		}
	}
}

func checkFormatStrings(report *Report, lines []string) {
	for i, line := range lines {
		if formatCallPattern.MatchString(line) && formatVerbPattern.MatchString(line) {
			report.Vulnerabilities = append(report.Vulnerabilities, Finding{
				Category: "Format String Vulnerability",
				Severity: SeverityHigh,
				Line:     i + 1,
				Message:  "Potential format string vulnerability. Validate user input.",
				Excerpt:  strings.TrimSpace(line),
			})
		}
	}
}

func checkIntegerOverflow(report *Report, lines []string) {
	for i, line := range lines {
		if intArithPattern.MatchString(line) && (strings.Contains(line, "int") || strings.Contains(line, "long")) {
			report.Warnings = append(report.Warnings, Finding{
				Category: "Potential Integer Overflow",
				Severity: SeverityMedium,
				Line:     i + 1,
				Message:  "Check for integer overflow in arithmetic operations.",
				Excerpt:  strings.TrimSpace(line),
			})
		}
	}
}

// checkRaceConditions flags a check-then-use pair on consecutive lines
func checkRaceConditions(report *Report, lines []string) {
	for i := 0; i < len(lines)-1; i++ {
		if fileCheckPattern.MatchString(lines[i]) && fileUsePattern.MatchString(lines[i+1]) {
			report.Warnings = append(report.Warnings, Finding{
				Category: "Potential Race Condition",
				Severity: SeverityMedium,
				Line:     i + 1,
				Message:  "Potential race condition in file operations.",
				Excerpt:  strings.TrimSpace(lines[i]),
			})
		}
	}
}

func summarize(report *Report) {
	for _, f := range report.Vulnerabilities {
		switch f.Severity {
		case SeverityCritical:
			report.CriticalCount++
		case SeverityHigh:
			report.HighCount++
		case SeverityMedium:
			report.MediumCount++
		}
	}
	for _, f := range report.Warnings {
		if f.Severity == SeverityMedium {
			report.MediumCount++
		}
	}
	report.TotalIssues = len(report.Vulnerabilities) + len(report.Warnings)
}

package sandbox

import (
	"regexp"
	"strings"
)

// Safety classifies a shell command as safe or dangerous (spec §4.4's
// "Command safety predicate"), used by the orchestrator to elevate
// approval for commands the policy itself doesn't block outright.
type Safety string

const (
	SafetySafe      Safety = "safe"
	SafetyDangerous Safety = "dangerous"
)

// safeCommands is a conservative allow-list of read-only tool binaries.
var safeCommands = map[string]bool{
	"ls": true, "cat": true, "grep": true, "rg": true, "find": true,
	"head": true, "tail": true, "wc": true, "echo": true, "pwd": true,
	"which": true, "file": true, "stat": true, "diff": true, "git": true,
	"tree": true, "sort": true, "uniq": true, "awk": true, "cut": true,
}

// dangerousPatterns match known-destructive shell idioms: rm -rf, fork
// bombs, disk writes, device-node redirection, and filesystem formatting.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+(-\w*r\w*f\w*|-\w*f\w*r\w*)\b`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\}\s*;\s*:`),
	regexp.MustCompile(`\bdd\s+.*\bof=`),
	regexp.MustCompile(`\bmkfs(\.\w+)?\b`),
	regexp.MustCompile(`>\s*/dev/(sd|nvme|hd|null\s*2>&1\s*&)`),
	regexp.MustCompile(`\bchmod\s+-R\s+777\b`),
	regexp.MustCompile(`\bcurl\b.*\|\s*(sh|bash)\b`),
	regexp.MustCompile(`\bwget\b.*\|\s*(sh|bash)\b`),
	regexp.MustCompile(`\bsudo\b`),
}

// IsSafeCommand reports whether the command line is a pure, read-only
// invocation of an allow-listed binary with no pipes, redirects,
// substitutions, or chaining.
func IsSafeCommand(cmd string) bool {
	if IsDangerousCommand(cmd) {
		return false
	}
	trimmed := strings.TrimSpace(cmd)
	if trimmed == "" {
		return false
	}
	if strings.ContainsAny(trimmed, "|;&><$`") {
		return false
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return false
	}
	bin := fields[0]
	if idx := strings.LastIndex(bin, "/"); idx >= 0 {
		bin = bin[idx+1:]
	}
	return safeCommands[bin]
}

// IsDangerousCommand reports whether the command line matches a known
// destructive pattern, regardless of the leading binary name.
func IsDangerousCommand(cmd string) bool {
	for _, re := range dangerousPatterns {
		if re.MatchString(cmd) {
			return true
		}
	}
	return false
}

// Classify returns the Safety classification for a command line.
func Classify(cmd string) Safety {
	if IsDangerousCommand(cmd) {
		return SafetyDangerous
	}
	if IsSafeCommand(cmd) {
		return SafetySafe
	}
	// Neither explicitly safe nor explicitly dangerous: treated as
	// dangerous for approval-elevation purposes (conservative default),
	// matching spec §4.4's "writes/pipes/substitutions/dangerous
	// patterns... are dangerous" framing — anything not on the read-only
	// allow-list is a write/unknown and must be elevated.
	return SafetyDangerous
}

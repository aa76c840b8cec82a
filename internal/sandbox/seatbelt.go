package sandbox

import (
	"fmt"
	"strings"
)

// GenerateSeatbeltProfile compiles a Policy into a macOS sandbox-exec
// profile string. Reproduces the grammar in
// original_source/crates/uira-sandbox/src/seatbelt.rs verbatim.
func GenerateSeatbeltProfile(p Policy) string {
	rules := []string{
		"(version 1)",
		"(deny default)",
		"(allow process-exec process-fork)",
		"(allow signal)",
		"(allow mach-lookup)",
		"(allow sysctl-read)",
	}

	switch p.Kind {
	case KindReadOnly:
		rules = append(rules, "(allow file-read*)")
	case KindWorkspaceWrite:
		rules = append(rules, "(allow file-read*)")
		rules = append(rules, fmt.Sprintf("(allow file-write* (subpath %q))", p.Workspace))
		for _, prot := range p.Protected {
			protected := prot
			if !strings.HasPrefix(protected, "/") {
				protected = p.Workspace + "/" + protected
			}
			rules = append(rules, fmt.Sprintf("(deny file-write* (subpath %q))", protected))
		}
		rules = append(rules, `(allow file-write* (subpath "/tmp"))`)
		rules = append(rules, `(allow file-write* (subpath "/var/tmp"))`)
	case KindFullAccess:
		rules = append(rules, "(allow file-read*)")
		rules = append(rules, "(allow file-write*)")
		rules = append(rules, "(allow network*)")
	case KindCustom:
		for _, path := range p.Readable {
			rules = append(rules, fmt.Sprintf("(allow file-read* (subpath %q))", path))
		}
		for _, path := range p.Writable {
			rules = append(rules, fmt.Sprintf("(allow file-write* (subpath %q))", path))
		}
		for _, path := range p.Executable {
			rules = append(rules, fmt.Sprintf("(allow process-exec (subpath %q))", path))
		}
		if p.Network {
			rules = append(rules, "(allow network*)")
		}
	}

	return strings.Join(rules, "\n")
}

// SandboxExecArgs builds the sandbox-exec command-line prefix for running
// a command under the given compiled profile.
func SandboxExecArgs(profile string) []string {
	return []string{"/usr/bin/sandbox-exec", "-p", profile, "--"}
}

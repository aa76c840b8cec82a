// Package sandbox implements the C4 sandbox policy engine: a pure
// description of allowed reads/writes/exec/network that compiles to an
// OS-native guard (a Seatbelt profile on macOS; on Linux only
// no_new_privs is set, with no Landlock ruleset or seccomp filter) or to
// a safe-command predicate on unsupported platforms.
//
// Grounded on original_source/crates/uira-sandbox/src/policy.rs and
// original_source/crates/uira-sandbox/src/seatbelt.rs.
package sandbox

import (
	"os"
	"path/filepath"
	"strings"
)

// Operation is a filesystem/exec operation a Policy is asked to permit.
type Operation string

const (
	OpRead  Operation = "read"
	OpWrite Operation = "write"
	OpExec  Operation = "exec"
)

// Kind tags a Policy variant.
type Kind string

const (
	KindReadOnly       Kind = "read_only"
	KindWorkspaceWrite Kind = "workspace_write"
	KindFullAccess     Kind = "full_access"
	KindCustom         Kind = "custom"
)

// Policy is a pure value type with no I/O (spec §3 SandboxPolicy, §4.4).
type Policy struct {
	Kind Kind

	// WorkspaceWrite fields.
	Workspace string
	Protected []string

	// Custom fields.
	Readable   []string
	Writable   []string
	Executable []string
	Network    bool
}

// ReadOnly returns the ReadOnly policy: reads all, writes none.
func ReadOnly() Policy { return Policy{Kind: KindReadOnly} }

// WorkspaceWrite returns the default policy: reads all, writes confined
// to workspace minus protected subtrees, plus standard temp dirs.
func WorkspaceWrite(workspace string, protected ...string) Policy {
	return Policy{Kind: KindWorkspaceWrite, Workspace: workspace, Protected: protected}
}

// FullAccess returns the unrestricted policy.
func FullAccess() Policy { return Policy{Kind: KindFullAccess} }

// Custom returns an explicit allow-list policy.
func Custom(readable, writable, executable []string, network bool) Policy {
	return Policy{Kind: KindCustom, Readable: readable, Writable: writable, Executable: executable, Network: network}
}

// IsRestrictive mirrors the original source's SandboxPolicy::is_restrictive.
func (p Policy) IsRestrictive() bool { return p.Kind != KindFullAccess }

// AllowsNetwork reports whether network operations are permitted.
func (p Policy) AllowsNetwork() bool {
	switch p.Kind {
	case KindFullAccess:
		return true
	case KindCustom:
		return p.Network
	default:
		return false
	}
}

// tempDirs are always writable under WorkspaceWrite, matching the
// seatbelt.rs reference ("(allow file-write* (subpath \"/tmp\"))" etc).
var tempDirs = []string{"/tmp", "/var/tmp", os.TempDir()}

// Check decides allow/deny for a path+operation under this policy
// (spec §4.4's "Path check" contract).
func (p Policy) Check(path string, op Operation) bool {
	abs := path
	if a, err := filepath.Abs(path); err == nil {
		abs = a
	}

	switch p.Kind {
	case KindReadOnly:
		return op == OpRead || op == OpExec
	case KindFullAccess:
		return true
	case KindWorkspaceWrite:
		if op == OpRead {
			return true
		}
		// op == OpWrite or OpExec: confined to workspace (minus protected),
		// or a standard temp dir.
		if isUnder(abs, tempDirs...) {
			return true
		}
		if p.Workspace == "" || !isUnder(abs, p.Workspace) {
			return false
		}
		for _, prot := range p.Protected {
			protAbs := prot
			if !filepath.IsAbs(protAbs) {
				protAbs = filepath.Join(p.Workspace, prot)
			}
			if isUnder(abs, protAbs) {
				return false
			}
		}
		return true
	case KindCustom:
		switch op {
		case OpRead:
			return isUnder(abs, p.Readable...)
		case OpWrite:
			return isUnder(abs, p.Writable...)
		case OpExec:
			return isUnder(abs, p.Executable...)
		}
	}
	return false
}

// isUnder reports whether path is equal to or nested under any of roots.
func isUnder(path string, roots ...string) bool {
	for _, root := range roots {
		if root == "" {
			continue
		}
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			rootAbs = root
		}
		rel, err := filepath.Rel(rootAbs, path)
		if err != nil {
			continue
		}
		if rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)) {
			return true
		}
	}
	return false
}

// Type selects the enforcement mechanism independently of the policy
// value, supplementing spec.md from original_source's SandboxType enum
// (None | Native | Container). Container has no binding in this module —
// see DESIGN.md's "Dropped teacher dependencies".
type Type string

const (
	TypeNone   Type = "none"
	TypeNative Type = "native"
)

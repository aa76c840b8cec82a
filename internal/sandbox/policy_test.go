package sandbox

import "testing"

func TestReadOnlyDeniesWrites(t *testing.T) {
	p := ReadOnly()
	if !p.Check("/etc/passwd", OpRead) {
		t.Fatal("read-only policy must allow reads")
	}
	if p.Check("/etc/passwd", OpWrite) {
		t.Fatal("read-only policy must deny writes")
	}
}

func TestWorkspaceWriteConfinesWrites(t *testing.T) {
	p := WorkspaceWrite("/workspace", ".git")
	if !p.Check("/workspace/file.go", OpWrite) {
		t.Fatal("write inside workspace must be allowed")
	}
	if p.Check("/workspace/.git/HEAD", OpWrite) {
		t.Fatal("write inside protected subtree must be denied")
	}
	if p.Check("/etc/passwd", OpWrite) {
		t.Fatal("write outside workspace must be denied")
	}
	if !p.Check("/tmp/scratch", OpWrite) {
		t.Fatal("write to standard temp dir must be allowed")
	}
}

func TestCustomNetwork(t *testing.T) {
	allowed := Custom(nil, nil, nil, true)
	if !allowed.AllowsNetwork() {
		t.Fatal("custom policy with network=true must allow network")
	}
	denied := Custom(nil, nil, nil, false)
	if denied.AllowsNetwork() {
		t.Fatal("custom policy with network=false must deny network")
	}
}

func TestSeatbeltProfileGrammar(t *testing.T) {
	profile := GenerateSeatbeltProfile(ReadOnly())
	if !contains(profile, "(deny default)") || !contains(profile, "(allow file-read*)") {
		t.Fatalf("unexpected profile: %s", profile)
	}
	if contains(profile, "(allow file-write*)") {
		t.Fatal("read-only profile must not allow file-write*")
	}

	ws := GenerateSeatbeltProfile(WorkspaceWrite("/workspace", ".git"))
	if !contains(ws, `(allow file-write* (subpath "/workspace"))`) {
		t.Fatalf("expected workspace write rule: %s", ws)
	}
	if !contains(ws, `(deny file-write* (subpath "/workspace/.git"))`) {
		t.Fatalf("expected protected-path deny rule: %s", ws)
	}
}

func TestCommandSafety(t *testing.T) {
	if !IsSafeCommand("ls -la") {
		t.Fatal("ls should be safe")
	}
	if IsSafeCommand("rm -rf /") {
		t.Fatal("rm -rf should not be safe")
	}
	if !IsDangerousCommand("rm -rf /") {
		t.Fatal("rm -rf should be dangerous")
	}
	if !IsDangerousCommand(":(){ :|:& };:") {
		t.Fatal("fork bomb should be dangerous")
	}
	if !IsDangerousCommand("dd if=/dev/zero of=/dev/sda") {
		t.Fatal("dd of= should be dangerous")
	}
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && indexOf(s, sub) >= 0
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

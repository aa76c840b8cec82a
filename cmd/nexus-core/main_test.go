package main

import "testing"

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"chat", "run", "sessions"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestSessionsCmdHasListAndShow(t *testing.T) {
	cmd := buildSessionsCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, name := range []string{"list", "show"} {
		if !names[name] {
			t.Fatalf("expected sessions subcommand %q to be registered", name)
		}
	}
}

func TestRunCmdRequiresMessage(t *testing.T) {
	cmd := buildRunCmd()
	cmd.SetArgs([]string{"--config", "/nonexistent-nexus-core.yaml"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected an error when --message is omitted")
	}
}

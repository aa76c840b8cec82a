package builtintools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/nexuscore/agent/internal/sandbox"
	"github.com/nexuscore/agent/internal/toolrouter"
)

func TestResolverRejectsEscape(t *testing.T) {
	root := t.TempDir()
	r := resolver{Root: root}
	if _, err := r.Resolve("../outside.txt"); err == nil {
		t.Fatal("expected escape to be rejected")
	}
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	root := t.TempDir()
	sb := sandbox.NewManager(sandbox.WorkspaceWrite(root))
	writeTool := NewWriteTool(root, sb)
	readTool := NewReadTool(root, sb)
	tc := toolrouter.ToolContext{FullAuto: true}

	writeParams, _ := json.Marshal(map[string]any{"path": "notes.txt", "content": "hello world"})
	out, err := writeTool.Execute(context.Background(), tc, writeParams)
	if err != nil || out.IsError {
		t.Fatalf("write failed: err=%v out=%+v", err, out)
	}

	readParams, _ := json.Marshal(map[string]any{"path": "notes.txt"})
	out, err = readTool.Execute(context.Background(), tc, readParams)
	if err != nil || out.IsError {
		t.Fatalf("read failed: err=%v out=%+v", err, out)
	}
	if !strings.Contains(out.Text(), "hello world") {
		t.Fatalf("expected content, got %s", out.Text())
	}
}

func TestReadRejectsPathOutsideWorkspace(t *testing.T) {
	root := t.TempDir()
	sb := sandbox.NewManager(sandbox.WorkspaceWrite(root))
	readTool := NewReadTool(root, sb)

	params, _ := json.Marshal(map[string]any{"path": "../escape.txt"})
	out, err := readTool.Execute(context.Background(), toolrouter.ToolContext{FullAuto: true}, params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.IsError {
		t.Fatal("expected an error output for an escaping path")
	}
}

func TestBashToolRunsCommand(t *testing.T) {
	root := t.TempDir()
	sb := sandbox.NewManager(sandbox.WorkspaceWrite(root))
	bash := NewBashTool(root, sb)

	params, _ := json.Marshal(map[string]any{"command": "echo hi"})
	out, err := bash.Execute(context.Background(), toolrouter.ToolContext{FullAuto: true}, params)
	if err != nil {
		t.Fatalf("bash failed: %v", err)
	}
	if out.IsError {
		t.Fatalf("unexpected exit error: %+v", out)
	}
	if !strings.Contains(out.Text(), "hi") {
		t.Fatalf("expected stdout to contain hi, got %s", out.Text())
	}
}

package crossref

import (
	"context"
	"strings"
	"testing"
)

func TestDefaultExecutor_Run(t *testing.T) {
	executor := &DefaultExecutor{}

	output, err := executor.Run(context.Background(), "", "echo", "hello")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !strings.Contains(string(output), "hello") {
		t.Errorf("Expected 'hello' in output, got %q", string(output))
	}
}

func TestDefaultExecutor_Run_WithDir(t *testing.T) {
	executor := &DefaultExecutor{}

	tmpDir := t.TempDir()
	output, err := executor.Run(context.Background(), tmpDir, "pwd")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !strings.Contains(string(output), tmpDir) {
		t.Errorf("Expected directory in output, got %q", string(output))
	}
}

func TestDefaultExecutor_Run_Error(t *testing.T) {
	executor := &DefaultExecutor{}

	if _, err := executor.Run(context.Background(), "", "nonexistent-command-xyz"); err == nil {
		t.Error("Expected error for nonexistent command")
	}
}

func TestDefaultExecutor_Run_StderrInError(t *testing.T) {
	executor := &DefaultExecutor{}

	_, err := executor.Run(context.Background(), "", "sh", "-c", "echo broken tagger >&2; exit 3")
	if err == nil {
		t.Fatal("Expected error for non-zero exit")
	}
	if !strings.Contains(err.Error(), "broken tagger") {
		t.Errorf("Expected stderr in error, got %v", err)
	}
}

func TestDefaultExecutor_Run_ContextCancellation(t *testing.T) {
	executor := &DefaultExecutor{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := executor.Run(ctx, "", "sleep", "10"); err == nil {
		t.Error("Expected error for cancelled context")
	}
}

func TestDefaultExecutor_Run_OutputOnFailure(t *testing.T) {
	executor := &DefaultExecutor{}

	output, err := executor.Run(context.Background(), "", "sh", "-c", "echo partial; exit 1")
	if err == nil {
		t.Fatal("Expected error for non-zero exit")
	}
	if strings.TrimSpace(string(output)) != "partial" {
		t.Errorf("Expected captured stdout alongside the error, got %q", string(output))
	}
}

package proc

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	runner := NewRunner()
	result, err := runner.Run(context.Background(), 5*time.Second, "sh", "-c", "echo out; echo err 1>&2; exit 3")
	if err != nil {
		t.Fatalf("Run returned error for non-zero exit: %v", err)
	}
	if result.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", result.ExitCode)
	}
	if result.Stdout != "out\n" {
		t.Fatalf("unexpected stdout: %q", result.Stdout)
	}
	if result.Stderr != "err\n" {
		t.Fatalf("unexpected stderr: %q", result.Stderr)
	}
	if result.Combined() != "out\nerr" {
		t.Fatalf("unexpected combined output: %q", result.Combined())
	}
}

func TestRunSuccess(t *testing.T) {
	runner := NewRunner()
	result, err := runner.Run(context.Background(), 5*time.Second, "sh", "-c", "exit 0")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", result.ExitCode)
	}
}

func TestRunTimeoutKillsProcess(t *testing.T) {
	runner := NewRunner()
	started := time.Now()
	_, err := runner.Run(context.Background(), 100*time.Millisecond, "sleep", "10")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > 5*time.Second {
		t.Fatalf("timeout took too long to fire: %s", elapsed)
	}
}

func TestRunSpawnFailure(t *testing.T) {
	runner := NewRunner()
	_, err := runner.Run(context.Background(), time.Second, "/no/such/binary")
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
	if errors.Is(err, ErrTimeout) {
		t.Fatalf("spawn failure misreported as timeout: %v", err)
	}
}

package ping

import (
	"context"
	"strings"
	"testing"
	"time"

	"vpnmon/pkg/proc"
)

type fakeRunner struct {
	name string
	args []string
	exit int
}

func (r *fakeRunner) Run(_ context.Context, _ time.Duration, name string, args ...string) (*proc.Result, error) {
	r.name = name
	r.args = args
	return &proc.Result{ExitCode: r.exit}, nil
}

func TestProbeSuccess(t *testing.T) {
	runner := &fakeRunner{}
	prober := NewProber(runner)

	if err := prober.Probe(context.Background(), "192.0.2.1", 5*time.Second); err != nil {
		t.Fatalf("Probe returned error: %v", err)
	}
	if runner.name != "ping" {
		t.Fatalf("expected ping binary, got %q", runner.name)
	}
	joined := strings.Join(runner.args, " ")
	if !strings.Contains(joined, "-c 1") {
		t.Fatalf("expected single echo request, got args %q", joined)
	}
	if runner.args[len(runner.args)-1] != "192.0.2.1" {
		t.Fatalf("expected target address as last argument, got %q", joined)
	}
}

func TestProbeFailure(t *testing.T) {
	prober := NewProber(&fakeRunner{exit: 1})

	err := prober.Probe(context.Background(), "192.0.2.1", 5*time.Second)
	if err == nil {
		t.Fatal("expected error for failed ping")
	}
	if !strings.Contains(err.Error(), "192.0.2.1") {
		t.Fatalf("expected address in error, got %v", err)
	}
}

package ping

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"vpnmon/pkg/proc"
)

// Prober checks basic reachability of an address.
type Prober interface {
	Probe(ctx context.Context, address string, timeout time.Duration) error
}

type pinger struct {
	runner proc.Runner
}

// NewProber returns an ICMP echo prober backed by the system ping binary.
func NewProber(runner proc.Runner) Prober {
	return &pinger{runner: runner}
}

func (p *pinger) Probe(ctx context.Context, address string, timeout time.Duration) error {
	seconds := int(timeout.Seconds())
	if seconds < 1 {
		seconds = 1
	}

	var args []string
	if runtime.GOOS == "darwin" {
		args = []string{"-c", "1", "-W", strconv.Itoa(seconds * 1000), address}
	} else {
		args = []string{"-c", "1", "-W", strconv.Itoa(seconds), address}
	}

	// Leave headroom over the echo deadline so the binary times out first.
	result, err := p.runner.Run(ctx, timeout+2*time.Second, "ping", args...)
	if err != nil {
		return fmt.Errorf("failed to run ping: %w", err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("no ICMP echo reply from %s", address)
	}
	return nil
}

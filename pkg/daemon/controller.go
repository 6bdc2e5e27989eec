package daemon

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"vpnmon/pkg/internal/clock"
	"vpnmon/pkg/proc"
)

// Controller drives the host-wide IPSec (charon) and L2TP (xl2tpd) daemons.
// The daemons are global singletons, so exactly one attempt may use a
// Controller at a time; callers serialize access.
type Controller interface {
	// StopAll idempotently terminates both daemons and removes stale
	// control/PID files. "Nothing running" is success.
	StopAll(ctx context.Context) error
	// Start launches the IPSec daemon through an ordered list of fallback
	// strategies and reports whether it became live, then launches xl2tpd.
	Start(ctx context.Context) (bool, error)
	// LoadConfig pushes the written configuration into the running daemon
	// and verifies the named policy is present.
	LoadConfig(ctx context.Context, conn string) (bool, error)
	// BringUp issues the tunnel establishment command and returns its
	// combined output without interpreting it.
	BringUp(ctx context.Context, conn string) (string, error)
	// PollUntilEstablished polls the daemon status at a fixed interval
	// until the policy reports ESTABLISHED or the wait window elapses.
	PollUntilEstablished(ctx context.Context, conn string) (bool, error)
	// DialL2TP asks xl2tpd to dial the named connection over its control
	// channel.
	DialL2TP(ctx context.Context, conn string) error
	// HasPPPInterface reports whether a ppp network interface exists.
	HasPPPInterface() (bool, error)
}

// PollPolicy is the fixed-interval retry budget used while waiting for the
// daemon to converge.
type PollPolicy struct {
	MaxWait  time.Duration
	Interval time.Duration
}

// Options configures the exec-backed controller. Zero values fall back to
// the stock strongSwan/xl2tpd install locations.
type Options struct {
	IPSecPath      string
	StrongswanPath string
	CharonPath     string
	XL2TPDPath     string
	ControlFile    string
	StaleFiles     []string
	CommandTimeout time.Duration
	SettleDelay    time.Duration
	Poll           PollPolicy
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.IPSecPath == "" {
		out.IPSecPath = "ipsec"
	}
	if out.StrongswanPath == "" {
		out.StrongswanPath = "strongswan"
	}
	if out.CharonPath == "" {
		out.CharonPath = "/usr/lib/ipsec/starter"
	}
	if out.XL2TPDPath == "" {
		out.XL2TPDPath = "xl2tpd"
	}
	if out.ControlFile == "" {
		out.ControlFile = "/var/run/xl2tpd/l2tp-control"
	}
	if out.StaleFiles == nil {
		out.StaleFiles = []string{
			"/var/run/xl2tpd.pid",
			"/var/run/xl2tpd/l2tp-control",
			"/var/run/charon.pid",
			"/var/run/starter.charon.pid",
		}
	}
	if out.CommandTimeout <= 0 {
		out.CommandTimeout = 15 * time.Second
	}
	if out.SettleDelay <= 0 {
		out.SettleDelay = 2 * time.Second
	}
	if out.Poll.MaxWait <= 0 {
		out.Poll.MaxWait = 30 * time.Second
	}
	if out.Poll.Interval <= 0 {
		out.Poll.Interval = 2 * time.Second
	}
	return out
}

type execController struct {
	runner  proc.Runner
	clock   clock.Clock
	options Options
}

func NewController(runner proc.Runner, options Options) Controller {
	return newExecController(runner, clock.Real{}, options)
}

func newExecController(runner proc.Runner, clk clock.Clock, options Options) *execController {
	return &execController{
		runner:  runner,
		clock:   clk,
		options: options.withDefaults(),
	}
}

func (c *execController) run(ctx context.Context, name string, args ...string) (*proc.Result, error) {
	return c.runner.Run(ctx, c.options.CommandTimeout, name, args...)
}

func (c *execController) StopAll(ctx context.Context) error {
	var result *multierror.Error

	// Polite stop first, then make sure nothing survived. pkill exiting
	// non-zero just means there was nothing to kill.
	if _, err := c.run(ctx, c.options.IPSecPath, "stop"); err != nil {
		logrus.WithError(err).Debug("ipsec stop did not complete")
	}
	for _, name := range []string{"charon", "starter", "xl2tpd"} {
		if _, err := c.run(ctx, "pkill", "-x", name); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to pkill %s: %w", name, err))
		}
	}

	for _, path := range c.options.StaleFiles {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			result = multierror.Append(result, fmt.Errorf("failed to remove stale file %s: %w", path, err))
		}
	}

	// The daemons leave sockets and transient interface state behind for a
	// moment after exiting.
	if err := c.clock.Sleep(ctx, c.options.SettleDelay); err != nil {
		return err
	}

	return result.ErrorOrNil()
}

// startStrategies returns the ordered fallback list for bringing up the
// IPSec daemon: direct starter binary, then the ipsec wrapper, then a forced
// restart through the strongswan manager.
func (c *execController) startStrategies() []startStrategy {
	return []startStrategy{
		{name: "starter", binary: c.options.CharonPath, args: []string{"--daemon", "charon"}},
		{name: "ipsec start", binary: c.options.IPSecPath, args: []string{"start"}},
		{name: "strongswan restart", binary: c.options.StrongswanPath, args: []string{"restart"}},
	}
}

type startStrategy struct {
	name   string
	binary string
	args   []string
}

func (c *execController) Start(ctx context.Context) (bool, error) {
	for _, strategy := range c.startStrategies() {
		if !binaryAvailable(strategy.binary) {
			logrus.WithField("strategy", strategy.name).Debug("start strategy binary not available")
			continue
		}

		logrus.WithField("strategy", strategy.name).Debug("starting IPSec daemon")
		if _, err := c.run(ctx, strategy.binary, strategy.args...); err != nil {
			logrus.WithError(err).WithField("strategy", strategy.name).Warn("IPSec start command failed")
			continue
		}

		if err := c.clock.Sleep(ctx, c.options.SettleDelay); err != nil {
			return false, err
		}

		live, err := c.ipsecLive(ctx)
		if err != nil {
			return false, err
		}
		if live {
			// Best effort: a dead xl2tpd only matters for the L2TP layer
			// and surfaces there as a failed dial.
			if err := c.startXL2TPD(ctx); err != nil {
				logrus.WithError(err).Warn("failed to start xl2tpd")
			}
			return true, nil
		}
		logrus.WithField("strategy", strategy.name).Warn("IPSec daemon not live after start, trying next strategy")
	}
	return false, nil
}

// ipsecLive requires both a charon process and a responsive status query;
// either alone has been observed lying during daemon startup.
func (c *execController) ipsecLive(ctx context.Context) (bool, error) {
	pid, err := c.run(ctx, "pidof", "charon")
	if err != nil {
		return false, fmt.Errorf("failed to check for charon process: %w", err)
	}
	if pid.ExitCode != 0 {
		return false, nil
	}

	status, err := c.run(ctx, c.options.IPSecPath, "status")
	if err != nil {
		return false, fmt.Errorf("failed to query ipsec status: %w", err)
	}
	return status.ExitCode == 0, nil
}

func (c *execController) startXL2TPD(ctx context.Context) error {
	if _, err := os.Stat(c.options.ControlFile); err == nil {
		return nil
	}
	if _, err := c.run(ctx, c.options.XL2TPDPath); err != nil {
		return fmt.Errorf("failed to start xl2tpd: %w", err)
	}
	return c.clock.Sleep(ctx, c.options.SettleDelay)
}

func (c *execController) LoadConfig(ctx context.Context, conn string) (bool, error) {
	reloadFailed := false
	if result, err := c.run(ctx, c.options.IPSecPath, "rereadsecrets"); err != nil || result.ExitCode != 0 {
		reloadFailed = true
	}
	if !reloadFailed {
		if result, err := c.run(ctx, c.options.IPSecPath, "reload"); err != nil || result.ExitCode != 0 {
			reloadFailed = true
		}
	}

	if reloadFailed {
		// Fall back to a full restart with the new config on disk.
		logrus.Warn("config reload failed, restarting IPSec daemon")
		if _, err := c.run(ctx, c.options.IPSecPath, "restart"); err != nil {
			return false, fmt.Errorf("failed to restart IPSec daemon: %w", err)
		}
	}

	if err := c.clock.Sleep(ctx, c.options.SettleDelay); err != nil {
		return false, err
	}

	status, err := c.run(ctx, c.options.IPSecPath, "statusall")
	if err != nil {
		return false, fmt.Errorf("failed to list loaded connections: %w", err)
	}
	return mentionsConnection(status.Combined(), conn), nil
}

func (c *execController) BringUp(ctx context.Context, conn string) (string, error) {
	result, err := c.run(ctx, c.options.IPSecPath, "up", conn)
	if err != nil {
		return "", err
	}
	return result.Combined(), nil
}

func (c *execController) PollUntilEstablished(ctx context.Context, conn string) (bool, error) {
	deadline := c.clock.Now().Add(c.options.Poll.MaxWait)
	for {
		result, err := c.run(ctx, c.options.IPSecPath, "status", conn)
		if err != nil {
			return false, fmt.Errorf("failed to query tunnel status: %w", err)
		}
		if StateFromStatus(result.Combined(), conn) == StateEstablished {
			return true, nil
		}

		if !c.clock.Now().Add(c.options.Poll.Interval).Before(deadline) {
			return false, nil
		}
		if err := c.clock.Sleep(ctx, c.options.Poll.Interval); err != nil {
			return false, err
		}
	}
}

func (c *execController) DialL2TP(ctx context.Context, conn string) error {
	file, err := openControlFile(c.options.ControlFile)
	if err != nil {
		return fmt.Errorf("failed to open xl2tpd control file: %w", err)
	}
	defer file.Close()

	if _, err := fmt.Fprintf(file, "c %s\n", conn); err != nil {
		return fmt.Errorf("failed to signal xl2tpd: %w", err)
	}
	return nil
}

func binaryAvailable(path string) bool {
	if strings.Contains(path, "/") {
		_, err := os.Stat(path)
		return err == nil
	}
	return lookPath(path)
}

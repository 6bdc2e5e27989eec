package monitor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"vpnmon/pkg/internal/clock"
	"vpnmon/pkg/sysinfo"
	"vpnmon/pkg/target"
	"vpnmon/pkg/tunnel"
)

// Attempter runs one connection attempt against one server.
type Attempter interface {
	Attempt(ctx context.Context, server *target.Server) *tunnel.Outcome
}

// Recorder persists one attempt outcome.
type Recorder interface {
	RecordResult(ctx context.Context, host *sysinfo.Host, outcome *tunnel.Outcome) error
}

// Scheduler runs connection attempts sequentially across all configured
// servers. The daemons are host-wide singletons, so attempts are never
// parallel.
type Scheduler struct {
	servers   []*target.Server
	attempter Attempter
	recorder  Recorder
	host      *sysinfo.Host
	interval  time.Duration
	clock     clock.Clock
}

func NewScheduler(servers []*target.Server, attempter Attempter, recorder Recorder, host *sysinfo.Host, interval time.Duration) *Scheduler {
	return newScheduler(servers, attempter, recorder, host, interval, clock.Real{})
}

func newScheduler(servers []*target.Server, attempter Attempter, recorder Recorder, host *sysinfo.Host, interval time.Duration, clk clock.Clock) *Scheduler {
	return &Scheduler{
		servers:   servers,
		attempter: attempter,
		recorder:  recorder,
		host:      host,
		interval:  interval,
		clock:     clk,
	}
}

// RunOnce tests every server in list order and records each outcome. A
// persistence failure is logged and swallowed; it never aborts the pass.
func (s *Scheduler) RunOnce(ctx context.Context) []*tunnel.Outcome {
	logrus.WithFields(logrus.Fields{
		"servers": len(s.servers),
		"host":    s.host.Identifier,
	}).Info("starting monitoring pass")

	outcomes := make([]*tunnel.Outcome, 0, len(s.servers))
	for _, server := range s.servers {
		log := logrus.WithFields(logrus.Fields{
			"server":  server.Name,
			"address": server.Address,
		})
		log.Info("testing VPN server")

		outcome := s.attempter.Attempt(ctx, server)
		outcomes = append(outcomes, outcome)

		if err := s.recorder.RecordResult(ctx, s.host, outcome); err != nil {
			log.WithError(err).Error("failed to persist result")
		}

		if outcome.Success {
			log.WithField("latency_ms", outcome.LatencyMillis()).Info("VPN server connected")
		} else {
			log.WithField("error", outcome.ErrorDetail).Warn("VPN server failed")
		}

		if ctx.Err() != nil {
			break
		}
	}

	s.logSummary(outcomes)
	return outcomes
}

// Run repeats monitoring passes every interval until ctx is cancelled. The
// sleep between passes is interruptible; in-flight attempts finish on their
// own timeouts first.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		s.RunOnce(ctx)

		if err := s.clock.Sleep(ctx, s.interval); err != nil {
			logrus.Info("stop signal observed, exiting monitoring loop")
			return
		}
		if ctx.Err() != nil {
			logrus.Info("stop signal observed, exiting monitoring loop")
			return
		}
	}
}

func (s *Scheduler) logSummary(outcomes []*tunnel.Outcome) {
	succeeded := 0
	for _, outcome := range outcomes {
		entry := logrus.WithFields(logrus.Fields{
			"server":  outcome.Server.Name,
			"address": outcome.Server.Address,
		})
		if outcome.Success {
			succeeded++
			entry.WithField("latency_ms", outcome.LatencyMillis()).Info("summary: ok")
		} else {
			entry.WithField("error", outcome.ErrorDetail).Info("summary: failed")
		}
	}
	logrus.WithFields(logrus.Fields{
		"succeeded": succeeded,
		"failed":    len(outcomes) - succeeded,
	}).Info("monitoring pass completed")
}

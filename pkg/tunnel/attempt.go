package tunnel

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"vpnmon/pkg/daemon"
	"vpnmon/pkg/internal/clock"
	"vpnmon/pkg/ping"
	"vpnmon/pkg/target"
	"vpnmon/pkg/vpnconf"
)

// Policy holds the attempt-level decisions that differ between deployments.
type Policy struct {
	// ProbeTimeout bounds the ICMP reachability probe.
	ProbeTimeout time.Duration
	// ProbeFailureIsFatal decides whether a failed probe aborts the attempt
	// or is only logged; some peers block ICMP.
	ProbeFailureIsFatal bool
	// RequireL2TP decides whether IPSec-only establishment (no ppp
	// interface appearing) counts as failure.
	RequireL2TP bool
	// L2TPWait is how long to wait for a ppp interface after dialing.
	L2TPWait time.Duration
	// L2TPPollInterval is the fixed interval between ppp interface checks.
	L2TPPollInterval time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.ProbeTimeout <= 0 {
		p.ProbeTimeout = 5 * time.Second
	}
	if p.L2TPWait <= 0 {
		p.L2TPWait = 10 * time.Second
	}
	if p.L2TPPollInterval <= 0 {
		p.L2TPPollInterval = time.Second
	}
	return p
}

// Attempter runs one end-to-end tunnel establishment attempt against one
// server: probe, clean slate, config materialization, daemon start, config
// load, bring-up, polling wait, verification and error classification.
type Attempter struct {
	controller   daemon.Controller
	materializer *vpnconf.Materializer
	prober       ping.Prober
	policy       Policy
	clock        clock.Clock
}

func NewAttempter(controller daemon.Controller, materializer *vpnconf.Materializer, prober ping.Prober, policy Policy) *Attempter {
	return newAttempter(controller, materializer, prober, policy, clock.Real{})
}

func newAttempter(controller daemon.Controller, materializer *vpnconf.Materializer, prober ping.Prober, policy Policy, clk clock.Clock) *Attempter {
	return &Attempter{
		controller:   controller,
		materializer: materializer,
		prober:       prober,
		policy:       policy.withDefaults(),
		clock:        clk,
	}
}

// Attempt always returns exactly one Outcome and always runs daemon cleanup,
// no matter which step failed or panicked. Latency is wall-clock from entry
// to just before the final cleanup.
func (a *Attempter) Attempt(ctx context.Context, server *target.Server) (outcome *Outcome) {
	// A stop signal cancelling ctx must not strand half-started daemons:
	// the attempt's external commands and the final StopAll keep running,
	// bounded only by their own timeouts. The scheduler honors shutdown
	// between attempts.
	ctx = context.WithoutCancel(ctx)

	started := a.clock.Now()
	outcome = &Outcome{
		AttemptID: uuid.New().String(),
		Server:    server,
		Timestamp: started,
	}

	log := logrus.WithFields(logrus.Fields{
		"attempt_id": outcome.AttemptID,
		"server":     server.Name,
		"address":    server.Address,
	})

	defer func() {
		if r := recover(); r != nil {
			outcome.Success = false
			outcome.ErrorDetail = fmt.Sprintf("unexpected error: %v", r)
			log.WithField("panic", r).Error("connection attempt panicked")
		}
		outcome.Latency = a.clock.Now().Sub(started)
		if err := a.controller.StopAll(ctx); err != nil {
			log.WithError(err).Warn("post-attempt daemon cleanup failed")
		}
	}()

	if err := a.prober.Probe(ctx, server.Address, a.policy.ProbeTimeout); err != nil {
		if a.policy.ProbeFailureIsFatal {
			outcome.ErrorDetail = fmt.Sprintf("Cannot reach VPN server %s: %v", server.Address, err)
			log.WithError(err).Warn("reachability probe failed")
			return outcome
		}
		log.WithError(err).Info("reachability probe failed, continuing (peer may block ICMP)")
	}

	if err := a.controller.StopAll(ctx); err != nil {
		log.WithError(err).Warn("pre-attempt daemon cleanup failed")
	}

	if err := a.materializer.Write(server); err != nil {
		outcome.ErrorDetail = fmt.Sprintf("failed to write daemon configuration: %v", err)
		log.WithError(err).Error("config materialization failed")
		return outcome
	}

	a.establish(ctx, log, server, outcome)
	return outcome
}

func (a *Attempter) establish(ctx context.Context, log *logrus.Entry, server *target.Server, outcome *Outcome) {
	live, err := a.controller.Start(ctx)
	if err != nil {
		outcome.ErrorDetail = fmt.Sprintf("daemon start failed: %v", err)
		return
	}
	if !live {
		outcome.ErrorDetail = "daemon start failed: IPSec daemon never became live"
		return
	}

	conn := server.ConnectionName()
	loaded, err := a.controller.LoadConfig(ctx, conn)
	if err != nil {
		outcome.ErrorDetail = fmt.Sprintf("config load failed: %v", err)
		return
	}
	if !loaded {
		outcome.ErrorDetail = fmt.Sprintf("config load failed: connection %s not present after reload", conn)
		return
	}

	rawOutput, err := a.controller.BringUp(ctx, conn)
	if err != nil {
		outcome.ErrorDetail = fmt.Sprintf("tunnel bring-up failed: %v", err)
		return
	}

	established, err := a.controller.PollUntilEstablished(ctx, conn)
	if err != nil {
		outcome.ErrorDetail = fmt.Sprintf("tunnel status polling failed: %v", err)
		return
	}
	if !established {
		outcome.ErrorDetail = ClassifyNegotiation(rawOutput)
		log.WithField("detail", outcome.ErrorDetail).Warn("tunnel did not establish")
		return
	}

	outcome.PPPUp = a.verifyL2TP(ctx, log, conn)
	if a.policy.RequireL2TP && !outcome.PPPUp {
		outcome.ErrorDetail = "IPSec established but no ppp interface appeared"
		return
	}
	if !outcome.PPPUp {
		log.Info("accepting IPSec-only establishment, no ppp interface appeared")
	}

	outcome.Success = true
}

// verifyL2TP signals xl2tpd to dial and waits for a ppp interface to appear
// within the configured window.
func (a *Attempter) verifyL2TP(ctx context.Context, log *logrus.Entry, conn string) bool {
	if err := a.controller.DialL2TP(ctx, conn); err != nil {
		log.WithError(err).Warn("failed to signal L2TP dial")
		return false
	}

	deadline := a.clock.Now().Add(a.policy.L2TPWait)
	for {
		up, err := a.controller.HasPPPInterface()
		if err != nil {
			log.WithError(err).Warn("failed to inspect network interfaces")
			return false
		}
		if up {
			return true
		}
		if !a.clock.Now().Add(a.policy.L2TPPollInterval).Before(deadline) {
			return false
		}
		if err := a.clock.Sleep(ctx, a.policy.L2TPPollInterval); err != nil {
			return false
		}
	}
}

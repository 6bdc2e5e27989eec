package tunnel

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vpnmon/pkg/internal/clock"
	"vpnmon/pkg/target"
	"vpnmon/pkg/vpnconf"
)

type fakeController struct {
	stopAllCalls  int
	stopCtxErrs   []error
	startCalls    int
	running       bool
	startLive     bool
	startErr      error
	startPanic    bool
	loadOK        bool
	bringUpOutput string
	established   bool
	pppUp         bool
	dialErr       error
}

func (c *fakeController) StopAll(ctx context.Context) error {
	c.stopAllCalls++
	c.stopCtxErrs = append(c.stopCtxErrs, ctx.Err())
	c.running = false
	return ctx.Err()
}

func (c *fakeController) Start(ctx context.Context) (bool, error) {
	c.startCalls++
	if c.startPanic {
		panic("daemon exploded")
	}
	if c.startErr != nil {
		return false, c.startErr
	}
	c.running = c.startLive
	return c.startLive, nil
}

func (c *fakeController) LoadConfig(ctx context.Context, conn string) (bool, error) {
	return c.loadOK, nil
}

func (c *fakeController) BringUp(ctx context.Context, conn string) (string, error) {
	return c.bringUpOutput, nil
}

func (c *fakeController) PollUntilEstablished(ctx context.Context, conn string) (bool, error) {
	return c.established, nil
}

func (c *fakeController) DialL2TP(ctx context.Context, conn string) error {
	return c.dialErr
}

func (c *fakeController) HasPPPInterface() (bool, error) {
	return c.pppUp, nil
}

type fakeProber struct {
	err    error
	probes int
}

func (p *fakeProber) Probe(ctx context.Context, address string, timeout time.Duration) error {
	p.probes++
	return p.err
}

func testMaterializer(t *testing.T) *vpnconf.Materializer {
	t.Helper()
	dir := t.TempDir()
	return vpnconf.NewMaterializer(vpnconf.Paths{
		IPSecConf:    filepath.Join(dir, "ipsec.conf"),
		IPSecSecrets: filepath.Join(dir, "ipsec.secrets"),
		XL2TPDConf:   filepath.Join(dir, "xl2tpd.conf"),
		PPPOptions:   filepath.Join(dir, "options.l2tpd.client"),
		ChapSecrets:  filepath.Join(dir, "chap-secrets"),
	})
}

func testServer() *target.Server {
	return &target.Server{
		Name:    "ny1",
		Address: "203.0.113.5",
		Credentials: &target.Credentials{
			Username:     "alice",
			Password:     "secret",
			PresharedKey: "psk123",
		},
	}
}

func newTestAttempter(t *testing.T, controller *fakeController, prober *fakeProber, policy Policy) (*Attempter, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake()
	return newAttempter(controller, testMaterializer(t), prober, policy, clk), clk
}

func TestAttemptUnreachableServerStopsBeforeDaemonStart(t *testing.T) {
	controller := &fakeController{}
	prober := &fakeProber{err: errors.New("no ICMP echo reply from 203.0.113.5")}
	attempter, _ := newTestAttempter(t, controller, prober, Policy{ProbeFailureIsFatal: true})

	outcome := attempter.Attempt(context.Background(), testServer())

	if outcome.Success {
		t.Fatal("expected failure outcome")
	}
	if !strings.Contains(outcome.ErrorDetail, "Cannot reach") {
		t.Fatalf("expected error detail containing 'Cannot reach', got %q", outcome.ErrorDetail)
	}
	if controller.startCalls != 0 {
		t.Fatalf("daemon start should never be invoked, got %d calls", controller.startCalls)
	}
	if controller.stopAllCalls == 0 {
		t.Fatal("cleanup must still run on probe failure")
	}
}

func TestAttemptProbeFailureNotFatalProceeds(t *testing.T) {
	controller := &fakeController{startLive: true, loadOK: true, established: true, pppUp: true}
	prober := &fakeProber{err: errors.New("no ICMP echo reply")}
	attempter, _ := newTestAttempter(t, controller, prober, Policy{ProbeFailureIsFatal: false})

	outcome := attempter.Attempt(context.Background(), testServer())

	if !outcome.Success {
		t.Fatalf("expected success despite failed probe, got %q", outcome.ErrorDetail)
	}
	if controller.startCalls != 1 {
		t.Fatalf("expected 1 daemon start, got %d", controller.startCalls)
	}
}

func TestAttemptEstablishedWithinWindow(t *testing.T) {
	controller := &fakeController{startLive: true, loadOK: true, established: true, pppUp: true}
	attempter, _ := newTestAttempter(t, controller, &fakeProber{}, Policy{})

	outcome := attempter.Attempt(context.Background(), testServer())

	if !outcome.Success {
		t.Fatalf("expected success, got %q", outcome.ErrorDetail)
	}
	if !outcome.PPPUp {
		t.Fatal("expected ppp layer to be reported up")
	}
	if outcome.ErrorDetail != "" {
		t.Fatalf("expected empty error detail, got %q", outcome.ErrorDetail)
	}
	if outcome.LatencyMillis() < 0 {
		t.Fatalf("latency must not be negative, got %d", outcome.LatencyMillis())
	}
}

func TestAttemptNegotiationFailureClassified(t *testing.T) {
	controller := &fakeController{
		startLive:     true,
		loadOK:        true,
		established:   false,
		bringUpOutput: "received NO_PROPOSAL_CHOSEN error notify",
	}
	attempter, _ := newTestAttempter(t, controller, &fakeProber{}, Policy{})

	outcome := attempter.Attempt(context.Background(), testServer())

	if outcome.Success {
		t.Fatal("expected failure outcome")
	}
	if !strings.Contains(outcome.ErrorDetail, "encryption algorithm mismatch") {
		t.Fatalf("expected classified detail, got %q", outcome.ErrorDetail)
	}
}

func TestAttemptDaemonStartFailure(t *testing.T) {
	controller := &fakeController{startLive: false}
	attempter, _ := newTestAttempter(t, controller, &fakeProber{}, Policy{})

	outcome := attempter.Attempt(context.Background(), testServer())

	if outcome.Success {
		t.Fatal("expected failure outcome")
	}
	if !strings.Contains(outcome.ErrorDetail, "daemon start failed") {
		t.Fatalf("unexpected error detail: %q", outcome.ErrorDetail)
	}
}

func TestAttemptConfigLoadFailure(t *testing.T) {
	controller := &fakeController{startLive: true, loadOK: false}
	attempter, _ := newTestAttempter(t, controller, &fakeProber{}, Policy{})

	outcome := attempter.Attempt(context.Background(), testServer())

	if outcome.Success {
		t.Fatal("expected failure outcome")
	}
	if !strings.Contains(outcome.ErrorDetail, "config load failed") {
		t.Fatalf("unexpected error detail: %q", outcome.ErrorDetail)
	}
}

func TestAttemptIPSecOnlyEstablishment(t *testing.T) {
	controller := &fakeController{startLive: true, loadOK: true, established: true, pppUp: false}

	attempter, _ := newTestAttempter(t, controller, &fakeProber{}, Policy{RequireL2TP: false})
	outcome := attempter.Attempt(context.Background(), testServer())
	if !outcome.Success {
		t.Fatalf("IPSec-only establishment should count as success, got %q", outcome.ErrorDetail)
	}
	if outcome.PPPUp {
		t.Fatal("ppp layer should be reported down")
	}

	attempter, _ = newTestAttempter(t, controller, &fakeProber{}, Policy{RequireL2TP: true})
	outcome = attempter.Attempt(context.Background(), testServer())
	if outcome.Success {
		t.Fatal("IPSec-only establishment should fail when the L2TP layer is required")
	}
	if !strings.Contains(outcome.ErrorDetail, "no ppp interface") {
		t.Fatalf("unexpected error detail: %q", outcome.ErrorDetail)
	}
}

func TestAttemptRecoversPanicAndCleansUp(t *testing.T) {
	controller := &fakeController{startPanic: true}
	attempter, _ := newTestAttempter(t, controller, &fakeProber{}, Policy{})

	outcome := attempter.Attempt(context.Background(), testServer())

	if outcome == nil {
		t.Fatal("expected an outcome even when the attempt panicked")
	}
	if outcome.Success {
		t.Fatal("expected failure outcome")
	}
	if !strings.Contains(outcome.ErrorDetail, "unexpected error") {
		t.Fatalf("unexpected error detail: %q", outcome.ErrorDetail)
	}
	if controller.stopAllCalls == 0 {
		t.Fatal("cleanup must still run after a panic")
	}
}

func TestConsecutiveAttemptsAlwaysCleanUp(t *testing.T) {
	controller := &fakeController{startLive: true, loadOK: true, established: true, pppUp: true}
	attempter, _ := newTestAttempter(t, controller, &fakeProber{}, Policy{})

	for i := 0; i < 2; i++ {
		before := controller.stopAllCalls
		outcome := attempter.Attempt(context.Background(), testServer())
		if !outcome.Success {
			t.Fatalf("attempt %d failed: %q", i, outcome.ErrorDetail)
		}
		// One clean-slate stop before and one guaranteed stop after.
		if controller.stopAllCalls != before+2 {
			t.Fatalf("expected 2 StopAll calls per attempt, got %d", controller.stopAllCalls-before)
		}
		if controller.running {
			t.Fatalf("daemon left running after attempt %d", i)
		}
	}
}

func TestAttemptCleansUpAfterShutdownSignal(t *testing.T) {
	controller := &fakeController{startLive: true, loadOK: true, established: true, pppUp: true}
	attempter, _ := newTestAttempter(t, controller, &fakeProber{}, Policy{})

	// A stop signal cancels the scheduler context mid-attempt. Teardown
	// commands must still run or charon and xl2tpd stay behind.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := attempter.Attempt(ctx, testServer())

	if !outcome.Success {
		t.Fatalf("in-flight attempt should finish despite cancellation, got %q", outcome.ErrorDetail)
	}
	if controller.stopAllCalls != 2 {
		t.Fatalf("expected pre- and post-attempt cleanup, got %d StopAll calls", controller.stopAllCalls)
	}
	for i, err := range controller.stopCtxErrs {
		if err != nil {
			t.Fatalf("StopAll call %d ran on a dead context: %v", i, err)
		}
	}
	if controller.running {
		t.Fatal("daemon left running after cancelled attempt")
	}
}

func TestAttemptLatencyReflectsTimeSpent(t *testing.T) {
	controller := &fakeController{startLive: true, loadOK: true, established: true, pppUp: false}
	policy := Policy{L2TPWait: 6 * time.Second, L2TPPollInterval: time.Second}
	attempter, clk := newTestAttempter(t, controller, &fakeProber{}, policy)

	outcome := attempter.Attempt(context.Background(), testServer())

	if !outcome.Success {
		t.Fatalf("expected success, got %q", outcome.ErrorDetail)
	}
	if clk.Slept == 0 {
		t.Fatal("expected the ppp wait window to consume time")
	}
	if outcome.Latency != clk.Slept {
		t.Fatalf("latency %s should equal time actually spent %s", outcome.Latency, clk.Slept)
	}
}

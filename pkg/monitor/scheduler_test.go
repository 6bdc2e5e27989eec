package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"vpnmon/pkg/internal/clock"
	"vpnmon/pkg/sysinfo"
	"vpnmon/pkg/target"
	"vpnmon/pkg/tunnel"
)

type fakeAttempter struct {
	attempts int
	onThird  func()
	succeed  bool
}

func (a *fakeAttempter) Attempt(_ context.Context, server *target.Server) *tunnel.Outcome {
	a.attempts++
	if a.attempts == 3 && a.onThird != nil {
		a.onThird()
	}
	return &tunnel.Outcome{
		Server:  server,
		Success: a.succeed,
		Latency: 100 * time.Millisecond,
	}
}

type fakeRecorder struct {
	records int
	err     error
}

func (r *fakeRecorder) RecordResult(_ context.Context, _ *sysinfo.Host, _ *tunnel.Outcome) error {
	r.records++
	return r.err
}

func testServers() []*target.Server {
	return []*target.Server{
		{Name: "ny1", Address: "203.0.113.5"},
		{Name: "fr1", Address: "198.51.100.7"},
	}
}

func testHost() *sysinfo.Host {
	return &sysinfo.Host{Identifier: "monitor-1"}
}

func TestRunOnceTestsEveryServerInOrder(t *testing.T) {
	attempter := &fakeAttempter{succeed: true}
	recorder := &fakeRecorder{}
	scheduler := newScheduler(testServers(), attempter, recorder, testHost(), 0, clock.NewFake())

	outcomes := scheduler.RunOnce(context.Background())

	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	if outcomes[0].Server.Name != "ny1" || outcomes[1].Server.Name != "fr1" {
		t.Fatalf("unexpected outcome order: %s, %s", outcomes[0].Server.Name, outcomes[1].Server.Name)
	}
	if recorder.records != 2 {
		t.Fatalf("expected every outcome recorded, got %d", recorder.records)
	}
}

func TestRunOncePersistenceFailureDoesNotAbort(t *testing.T) {
	attempter := &fakeAttempter{succeed: false}
	recorder := &fakeRecorder{err: errors.New("database is gone")}
	scheduler := newScheduler(testServers(), attempter, recorder, testHost(), 0, clock.NewFake())

	outcomes := scheduler.RunOnce(context.Background())

	if len(outcomes) != 2 {
		t.Fatalf("persistence failures must not abort the pass, got %d outcomes", len(outcomes))
	}
	if recorder.records != 2 {
		t.Fatalf("expected both record attempts, got %d", recorder.records)
	}
}

func TestRunStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempter := &fakeAttempter{succeed: true, onThird: cancel}
	recorder := &fakeRecorder{}
	scheduler := newScheduler(testServers(), attempter, recorder, testHost(), time.Minute, clock.NewFake())

	done := make(chan struct{})
	go func() {
		scheduler.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}

	// The in-flight server finishes; the loop stops between iterations.
	if attempter.attempts != 3 {
		t.Fatalf("expected 3 attempts before stopping, got %d", attempter.attempts)
	}
}

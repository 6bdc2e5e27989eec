package clock

import (
	"context"
	"time"
)

// Clock abstracts wall-clock time and sleeping so polling loops can be
// exercised in tests without real delays.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type Real struct{}

func (Real) Now() time.Time {
	return time.Now()
}

// Sleep blocks for d or until ctx is cancelled, whichever comes first.
func (Real) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Fake advances instantly on Sleep and records total slept time.
type Fake struct {
	Current time.Time
	Slept   time.Duration
}

func NewFake() *Fake {
	return &Fake{Current: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *Fake) Now() time.Time {
	return f.Current
}

func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.Current = f.Current.Add(d)
	f.Slept += d
	return nil
}

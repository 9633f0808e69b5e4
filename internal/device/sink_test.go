package device

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
)

type fakeDriver struct {
	mu    sync.Mutex
	calls []string

	runErr       error
	configureErr error

	active  atomic.Int32
	overlap atomic.Bool
}

func (f *fakeDriver) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeDriver) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeDriver) enter() {
	if f.active.Add(1) > 1 {
		f.overlap.Store(true)
	}
}

func (f *fakeDriver) leave() { f.active.Add(-1) }

func (f *fakeDriver) Configure(_ context.Context, mode Mode) error {
	f.enter()
	defer f.leave()
	f.record("configure:" + string(mode))
	return f.configureErr
}

func (f *fakeDriver) Run(_ context.Context, payload []byte) error {
	f.enter()
	defer f.leave()
	f.record("run:" + string(payload))
	return f.runErr
}

func (f *fakeDriver) DisableMotors(context.Context) error {
	f.enter()
	defer f.leave()
	f.record("disable")
	return nil
}

func (f *fakeDriver) Close() error {
	f.record("close")
	return nil
}

func testSinkLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSubmitRunsThenDisables(t *testing.T) {
	t.Parallel()

	drv := &fakeDriver{}
	sink := NewSink(testSinkLogger(), drv)

	if err := sink.Submit(context.Background(), []byte("G1 X10")); err != nil {
		t.Fatalf("submit: %v", err)
	}

	want := []string{"configure:draw", "run:G1 X10", "configure:manual", "disable"}
	got := drv.snapshot()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("calls = %v, want %v", got, want)
		}
	}
}

func TestSubmitDisablesEvenWhenRunFails(t *testing.T) {
	t.Parallel()

	drv := &fakeDriver{runErr: errors.New("limit switch hit")}
	sink := NewSink(testSinkLogger(), drv)

	err := sink.Submit(context.Background(), []byte("G1 X10"))
	if err == nil || !errors.Is(err, drv.runErr) {
		t.Fatalf("expected run error back, got %v", err)
	}

	calls := drv.snapshot()
	disabled := false
	for _, c := range calls {
		if c == "disable" {
			disabled = true
		}
	}
	if !disabled {
		t.Fatalf("motors were not disabled after failed run: %v", calls)
	}
}

func TestSubmitDisablesEvenWhenConfigureFails(t *testing.T) {
	t.Parallel()

	// Configure failing also breaks the manual switch-over, but the sink
	// must still attempt it and return the drawing error.
	cfgErr := errors.New("device offline")
	drv := &fakeDriver{configureErr: cfgErr}
	sink := NewSink(testSinkLogger(), drv)

	if err := sink.Submit(context.Background(), nil); !errors.Is(err, cfgErr) {
		t.Fatalf("expected configure error back, got %v", err)
	}
	calls := drv.snapshot()
	if len(calls) < 2 || calls[len(calls)-1] != "configure:manual" {
		t.Fatalf("disable path was not attempted: %v", calls)
	}
}

func TestConcurrentSubmissionsSerialize(t *testing.T) {
	t.Parallel()

	drv := &fakeDriver{}
	sink := NewSink(testSinkLogger(), drv)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sink.Submit(context.Background(), []byte("G28"))
		}()
	}
	wg.Wait()

	if drv.overlap.Load() {
		t.Fatalf("driver calls overlapped across submissions")
	}
}

func TestSubmitDisableAlone(t *testing.T) {
	t.Parallel()

	drv := &fakeDriver{}
	sink := NewSink(testSinkLogger(), drv)

	if err := sink.SubmitDisable(context.Background()); err != nil {
		t.Fatalf("disable: %v", err)
	}
	got := drv.snapshot()
	if len(got) != 2 || got[0] != "configure:manual" || got[1] != "disable" {
		t.Fatalf("calls = %v", got)
	}
}

package device

import (
	"context"
	"log/slog"
	"sync"
)

// Sink owns one physical device and serializes all drawing submissions
// against it. Concurrent callers queue on the device mutex; only one
// drawing is ever in flight per device.
type Sink struct {
	log *slog.Logger
	drv Driver

	mu sync.Mutex
}

// NewSink wraps drv behind a single-writer sink.
func NewSink(log *slog.Logger, drv Driver) *Sink {
	return &Sink{log: log, drv: drv}
}

// Submit drives one drawing payload to completion and then returns the
// device to idle. The disable step is issued whether or not the drawing
// succeeded, and the mutex is held across both so another submission
// cannot interleave between them. The drawing error wins when both fail.
func (s *Sink) Submit(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	runErr := s.drawLocked(ctx, payload)
	if err := s.disableLocked(ctx); err != nil {
		s.log.Error("device.disable.fail", "err", err)
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}

// SubmitDrawing runs the payload without the trailing disable. Callers
// that use it must follow with SubmitDisable themselves.
func (s *Sink) SubmitDrawing(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drawLocked(ctx, payload)
}

// SubmitDisable idles the device. Safe to call regardless of what the
// previous submission did.
func (s *Sink) SubmitDisable(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disableLocked(ctx)
}

// Close releases the underlying driver.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drv.Close()
}

func (s *Sink) drawLocked(ctx context.Context, payload []byte) error {
	if err := s.drv.Configure(ctx, ModeDraw); err != nil {
		return err
	}
	return s.drv.Run(ctx, payload)
}

func (s *Sink) disableLocked(ctx context.Context) error {
	if err := s.drv.Configure(ctx, ModeManual); err != nil {
		return err
	}
	return s.drv.DisableMotors(ctx)
}

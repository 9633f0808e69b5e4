// Package device drives a physical plotting device from received drawing
// payloads. It is the direct-drive alternative to the room relay: no
// authentication, no rooms, one sink per device.
package device

import "context"

// Mode selects how the device interprets incoming commands.
type Mode string

const (
	// ModeDraw prepares the device for streaming a drawing program.
	ModeDraw Mode = "draw"
	// ModeManual returns the device to idle, hand-operable state.
	ModeManual Mode = "manual"
)

// Driver is the device-side contract the sink drives. Implementations
// block until the device has physically completed each call.
type Driver interface {
	// Configure switches the device into the given mode.
	Configure(ctx context.Context, mode Mode) error
	// Run streams one complete drawing payload to the device and waits
	// for it to finish.
	Run(ctx context.Context, payload []byte) error
	// DisableMotors releases the motors so the device can idle safely.
	DisableMotors(ctx context.Context) error
	// Close releases the underlying device handle.
	Close() error
}

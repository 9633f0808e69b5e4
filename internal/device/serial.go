package device

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"
)

// linePort is the slice of the serial port surface the driver needs.
// go.bug.st/serial.Port satisfies it; tests substitute an in-memory fake.
type linePort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// readPollTimeout bounds each serial read while waiting for a reply. A
// timed-out read returns (0, nil) per the serial package contract, so the
// deadline and context are re-checked between polls rather than trusting
// a single blocking read.
const readPollTimeout = 50 * time.Millisecond

// SerialConfig describes the attached device and its command dialect.
type SerialConfig struct {
	// Port is the serial device path, e.g. /dev/ttyUSB0.
	Port string
	// Baud is the line rate; defaults to 115200.
	Baud int

	// DrawSetup and ManualSetup are the command sequences sent on mode
	// switches. AckTimeout bounds the wait for each "ok" reply.
	DrawSetup   []string
	ManualSetup []string
	DisableCmd  string
	AckTimeout  time.Duration
}

func (c SerialConfig) withDefaults() SerialConfig {
	if c.Baud <= 0 {
		c.Baud = 115200
	}
	if len(c.DrawSetup) == 0 {
		c.DrawSetup = []string{"G21", "G90"}
	}
	if len(c.ManualSetup) == 0 {
		c.ManualSetup = []string{"G91"}
	}
	if c.DisableCmd == "" {
		c.DisableCmd = "M84"
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 30 * time.Second
	}
	return c
}

// SerialDriver speaks a line-oriented command/ack protocol over a serial
// port: each command line is written with a trailing newline and the
// driver waits for an "ok" line before sending the next.
type SerialDriver struct {
	cfg  SerialConfig
	port linePort

	pending []byte
	scratch []byte
}

// OpenSerial opens the configured serial port and returns a driver bound
// to it.
func OpenSerial(cfg SerialConfig) (*SerialDriver, error) {
	cfg = cfg.withDefaults()
	if cfg.Port == "" {
		return nil, fmt.Errorf("device: serial port not configured")
	}

	port, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: cfg.Baud})
	if err != nil {
		return nil, fmt.Errorf("device: open serial port %s: %w", cfg.Port, err)
	}
	return newSerialDriver(cfg, port), nil
}

func newSerialDriver(cfg SerialConfig, port linePort) *SerialDriver {
	return &SerialDriver{cfg: cfg, port: port, scratch: make([]byte, 256)}
}

// Configure sends the setup sequence for the requested mode.
func (d *SerialDriver) Configure(ctx context.Context, mode Mode) error {
	var seq []string
	switch mode {
	case ModeDraw:
		seq = d.cfg.DrawSetup
	case ModeManual:
		seq = d.cfg.ManualSetup
	default:
		return fmt.Errorf("device: unknown mode %q", mode)
	}
	for _, cmd := range seq {
		if err := d.command(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

// Run streams the drawing program line by line, waiting for the device
// ack after each line. Blank lines and comment lines are skipped.
func (d *SerialDriver) Run(ctx context.Context, payload []byte) error {
	for _, line := range strings.Split(string(payload), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		if err := d.command(ctx, line); err != nil {
			return err
		}
	}
	return nil
}

// DisableMotors issues the motor-release command.
func (d *SerialDriver) DisableMotors(ctx context.Context) error {
	return d.command(ctx, d.cfg.DisableCmd)
}

// Close closes the serial port.
func (d *SerialDriver) Close() error {
	return d.port.Close()
}

// command writes one line and blocks until the device acks it.
func (d *SerialDriver) command(ctx context.Context, cmd string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := d.port.Write([]byte(cmd + "\n")); err != nil {
		return fmt.Errorf("device: write %q: %w", cmd, err)
	}
	return d.awaitAck(ctx, cmd)
}

// awaitAck reads reply lines until the device reports "ok". Informational
// lines are skipped; an "error..." line, the ack deadline, or context
// cancellation fails the command.
func (d *SerialDriver) awaitAck(ctx context.Context, cmd string) error {
	deadline := time.Now().Add(d.cfg.AckTimeout)
	if t, ok := ctx.Deadline(); ok && t.Before(deadline) {
		deadline = t
	}

	for {
		line, err := d.readLine(ctx, deadline, cmd)
		if err != nil {
			return err
		}
		switch {
		case line == "ok":
			return nil
		case strings.HasPrefix(line, "error"):
			return fmt.Errorf("device: %q rejected: %s", cmd, line)
		}
	}
}

// readLine assembles one reply line from short read polls so a silent
// device cannot hold the caller past the deadline.
func (d *SerialDriver) readLine(ctx context.Context, deadline time.Time, cmd string) (string, error) {
	for {
		if i := bytes.IndexByte(d.pending, '\n'); i >= 0 {
			line := strings.TrimSpace(string(d.pending[:i]))
			d.pending = d.pending[i+1:]
			return line, nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !time.Now().Before(deadline) {
			return "", fmt.Errorf("device: ack timeout for %q", cmd)
		}

		if err := d.port.SetReadTimeout(readPollTimeout); err != nil {
			return "", fmt.Errorf("device: set read timeout: %w", err)
		}
		n, err := d.port.Read(d.scratch)
		if err != nil {
			return "", fmt.Errorf("device: read ack for %q: %w", cmd, err)
		}
		// n == 0 with a nil error is a timed-out poll; loop and re-check.
		if n > 0 {
			d.pending = append(d.pending, d.scratch[:n]...)
		}
	}
}

// Package app wires the plotrelay server runtime: config, logging, HTTP
// routes, the relay gateway, and the optional device sink.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"plotrelay/internal/auth"
	"plotrelay/internal/device"
	"plotrelay/internal/relay"
)

// sweepInterval paces the background expiry of idle sessions.
const sweepInterval = 10 * time.Minute

// App is the plotrelay server runtime.
type App struct {
	cfg Config
	log Logger

	reg      *prometheus.Registry
	sessions *auth.SessionStore
	auth     *auth.Handler
	ws       *relay.Gateway

	deviceGW   *device.Gateway
	deviceSink *device.Sink
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogPretty)
	}

	whitelist, err := auth.ParseWhitelist(cfg.WhitelistRaw)
	if err != nil {
		return nil, fmt.Errorf("app: whitelist: %w", err)
	}
	if len(whitelist) == 0 && cfg.DiscordClientID != "" {
		log.Warn("auth.whitelist.empty", "note", "discord logins will all be denied")
	}

	sessions := auth.NewSessionStore(cfg.SessionTTL, nil)

	discord := auth.NewDiscordClient(cfg.DiscordClientID, cfg.DiscordClientSecret, cfg.DiscordRedirectURL)
	authz := auth.NewAuthorizer(log, discord, whitelist)

	authHandler := auth.NewHandler(log, auth.HandlerConfig{
		CookieSecure:     cfg.CookieSecure,
		BasicLoginDigest: cfg.BasicLoginDigest,
		TrustProxy:       cfg.TrustProxy,
	}, sessions, discord, authz)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ws := relay.NewGateway(log, relay.GatewayConfig{
		OriginRequired:  cfg.WSOriginRequired,
		AllowedOrigins:  cfg.WSOrigins,
		WriteTimeout:    cfg.WSWriteTimeout,
		ReadIdleTimeout: cfg.WSIdleTimeout,
		SendQueueSize:   cfg.WSSendQueueSize,
	}, relay.NewHub(log), authHandler, relay.NewMetrics(reg))

	a := &App{
		cfg:      cfg,
		log:      log,
		reg:      reg,
		sessions: sessions,
		auth:     authHandler,
		ws:       ws,
	}

	if cfg.DeviceSerialPort != "" {
		drv, err := device.OpenSerial(device.SerialConfig{
			Port:       cfg.DeviceSerialPort,
			Baud:       cfg.DeviceBaud,
			AckTimeout: cfg.DeviceAckTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("app: device: %w", err)
		}
		a.deviceSink = device.NewSink(log, drv)
		a.deviceGW = device.NewGateway(log, a.deviceSink)
		log.Info("device.enabled", "port", cfg.DeviceSerialPort, "baud", cfg.DeviceBaud)
	}

	return a, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.reg, a.auth, a.ws, a.deviceGW)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "device_enabled", a.deviceGW != nil)

	sweepDone := make(chan struct{})
	go a.sweepSessions(ctx, sweepDone)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	<-sweepDone

	if a.deviceSink != nil {
		if err := a.deviceSink.Close(); err != nil {
			a.log.Error("device.close.fail", "err", err)
		}
	}

	a.log.Info("server.stopped")
	return nil
}

// sweepSessions drops expired sessions in the background so the store
// does not accumulate tombstones between lookups.
func (a *App) sweepSessions(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := a.sessions.Sweep(); n > 0 {
				a.log.Debug("session.sweep", "expired", n)
			}
		}
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

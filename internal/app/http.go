package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"plotrelay/internal/auth"
	"plotrelay/internal/device"
	"plotrelay/internal/relay"
)

func registerHTTP(
	mux *http.ServeMux,
	reg *prometheus.Registry,
	authHandler *auth.Handler,
	ws *relay.Gateway,
	deviceGW *device.Gateway,
) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	registerWeb(mux)

	authHandler.Register(mux)

	mux.HandleFunc("/ws", ws.HandleWS)

	if deviceGW != nil {
		mux.HandleFunc("/device/ws", deviceGW.HandleWS)
	}
}

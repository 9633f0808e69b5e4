package device

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestDeviceTunnelFeedsSink(t *testing.T) {
	t.Parallel()

	drv := &fakeDriver{}
	sink := NewSink(testSinkLogger(), drv)
	gw := NewGateway(testSinkLogger(), sink)

	srv := httptest.NewServer(http.HandlerFunc(gw.HandleWS))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	if err := conn.Write(ctx, websocket.MessageText, []byte("G1 X10")); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		ran := false
		for _, c := range drv.snapshot() {
			if c == "run:G1 X10" {
				ran = true
			}
		}
		if ran {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("payload never reached the driver: %v", drv.snapshot())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDeviceTunnelIgnoresEmptyFrames(t *testing.T) {
	t.Parallel()

	drv := &fakeDriver{}
	sink := NewSink(testSinkLogger(), drv)
	gw := NewGateway(testSinkLogger(), sink)

	srv := httptest.NewServer(http.HandlerFunc(gw.HandleWS))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	if err := conn.Write(ctx, websocket.MessageText, []byte("")); err != nil {
		t.Fatalf("write empty: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte("G28")); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		calls := drv.snapshot()
		done := false
		for _, c := range calls {
			if c == "run:G28" {
				done = true
			}
			if strings.HasPrefix(c, "run:") && c != "run:G28" {
				t.Fatalf("empty frame reached the driver: %v", calls)
			}
		}
		if done {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("payload never reached the driver: %v", calls)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

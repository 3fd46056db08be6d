package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rjboer/hiqsdr-emu/internal/logging"
)

const liveWriteTimeout = 2 * time.Second

// WebServer exposes the hub over HTTP: JSON status and spectrum, a websocket
// event feed and prometheus metrics.
type WebServer struct {
	srv      *http.Server
	hub      *Hub
	logger   logging.Logger
	upgrader websocket.Upgrader
}

func NewWebServer(addr string, hub *Hub, logger logging.Logger) *WebServer {
	if logger == nil {
		logger = logging.Default()
	}
	w := &WebServer{
		hub:    hub,
		logger: logging.Subsystem(logger, "web"),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 16384,
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", hub.handleStatus)
	mux.HandleFunc("/api/spectrum", hub.handleSpectrum)
	mux.HandleFunc("/api/live", w.handleLive)
	mux.Handle("/metrics", promhttp.HandlerFor(hub.Registry(), promhttp.HandlerOpts{}))
	w.srv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return w
}

// Handler returns the routed mux, for tests and embedding.
func (w *WebServer) Handler() http.Handler { return w.srv.Handler }

// Start listens on the configured address and blocks until ctx is cancelled
// or the listener fails.
func (w *WebServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", w.srv.Addr)
	if err != nil {
		return err
	}
	return w.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (w *WebServer) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := w.srv.Shutdown(shutdownCtx); err != nil {
			w.logger.Warn("web telemetry shutdown", logging.F("err", err))
		}
	}()

	w.logger.Info("web telemetry listening", logging.F("addr", ln.Addr().String()))
	if err := w.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleLive upgrades to a websocket, sends the current status and then
// forwards live events until the peer goes away.
func (w *WebServer) handleLive(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Debug("websocket upgrade failed", logging.F("err", err))
		return
	}
	defer conn.Close()

	events, cancel := w.hub.Subscribe()
	defer cancel()

	// the read side only detects close frames and dead peers
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
	if err := conn.WriteJSON(w.hub.Status()); err != nil {
		return
	}
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

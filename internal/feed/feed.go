// Package feed streams bus events to websocket readers as JSON.
package feed

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/wire"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
	bufferSize   = 64
)

// Server serves GET /events?ns=<namespace>. Slow readers lose events rather
// than stall publishers.
type Server struct {
	bus    *bus.Bus
	logger *zap.Logger
	http   *http.Server
	lis    net.Listener
}

// New creates a feed server. Nothing listens until Start.
func New(b *bus.Bus, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{bus: b, logger: logger}
	s.http = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	return s
}

// Handler returns the HTTP handler of the feed.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /events", s.serveEvents)
	return mux
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = lis
	s.logger.Info("event feed listening", zap.String("addr", lis.Addr().String()))
	go func() {
		if err := s.http.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("event feed stopped", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.lis == nil {
		return ""
	}
	return s.lis.Addr().String()
}

// Stop closes the listener and waits for active handlers to finish.
func (s *Server) Stop(ctx context.Context) error {
	if s.lis == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) serveEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.CloseNow() }()

	ns := r.URL.Query().Get("ns")
	ch, unsub := s.bus.Subscribe(ns, bufferSize)
	defer unsub()

	// Push-only: reads just process control frames.
	ctx := conn.CloseRead(r.Context())
	s.logger.Debug("feed reader connected", zap.String("ns", ns), zap.String("remote", r.RemoteAddr))

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case evt := <-ch:
			if err := s.write(ctx, conn, evt); err != nil {
				s.logger.Debug("feed reader dropped", zap.Error(err))
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, evt bus.Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, wire.Event(evt))
}

// Package cangw exposes a running controller over HTTP. /ws streams received
// frames as JSON and sends the frames clients write back, the /api endpoints
// cover one-shot sends and introspection.
package cangw

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/roffe/mcpcan"
	"github.com/roffe/mcpcan/pkg/frame"
)

// Bus is the part of mcpcan.Client the gateway uses.
type Bus interface {
	Send(frame.Frame) error
	Subscribe(ctx context.Context, identifiers ...uint32) *mcpcan.Subscriber
	Stats() mcpcan.Stats
	Kbps() int
}

type Server struct {
	bus      Bus
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

func New(bus Bus) *Server {
	s := &Server{
		bus: bus,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		mux: http.NewServeMux(),
	}
	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/api/send", s.handleSend)
	s.mux.HandleFunc("/api/stats", s.handleStats)
	s.mux.HandleFunc("/api/adapters", s.handleAdapters)
	s.mux.HandleFunc("/api/ports", s.handlePorts)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves on addr until ctx ends. Open websocket streams end with ctx too.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.mux,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()
	log.Printf("[gw] listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

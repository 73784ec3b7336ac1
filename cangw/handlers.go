package cangw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/roffe/mcpcan"
	"github.com/roffe/mcpcan/pkg/mcp2515"
	"go.bug.st/serial/enumerator"
	"golang.org/x/sync/errgroup"
)

const writeWait = 2 * time.Second

// reply reports a rejected frame back to the websocket client that sent it.
type reply struct {
	Error string `json:"error"`
	Frame Frame  `json:"frame"`
}

// parseIDs reads a comma separated identifier list, decimal or 0x prefixed.
func parseIDs(s string) ([]uint32, error) {
	if s == "" {
		return nil, nil
	}
	var ids []uint32
	for _, part := range strings.Split(s, ",") {
		id, err := strconv.ParseUint(strings.TrimSpace(part), 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		ids = append(ids, uint32(id))
	}
	return ids, nil
}

// handleWS streams frames to the client, optionally only those listed in the
// id query parameter, and sends every frame the client writes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ids, err := parseIDs(r.URL.Query().Get("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}
	log.Printf("[ws] %s connected", r.RemoteAddr)

	replies := make(chan reply, 16)
	g, ctx := errgroup.WithContext(r.Context())
	sub := s.bus.Subscribe(ctx, ids...)
	g.Go(func() error {
		return s.readLoop(ctx, conn, replies)
	})
	g.Go(func() error {
		defer conn.Close()
		return s.writeLoop(ctx, conn, sub, replies)
	})
	err = g.Wait()
	sub.Close()
	log.Printf("[ws] %s disconnected: %v", r.RemoteAddr, err)
}

// readLoop always returns an error so the write side stops with it.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, replies chan<- reply) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var j Frame
		if err := json.Unmarshal(msg, &j); err != nil {
			s.reply(ctx, replies, reply{Error: err.Error()})
			continue
		}
		f, err := j.toFrame()
		if err == nil {
			err = s.bus.Send(f)
		}
		if err != nil {
			s.reply(ctx, replies, reply{Error: err.Error(), Frame: j})
		}
	}
}

func (s *Server) reply(ctx context.Context, replies chan<- reply, r reply) {
	select {
	case replies <- r:
	case <-ctx.Done():
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, sub *mcpcan.Subscriber, replies <-chan reply) error {
	for {
		var v interface{}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-sub.Chan():
			if !ok {
				return errors.New("subscription closed")
			}
			v = fromFrame(f, time.Now())
		case r := <-replies:
			v = r
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(v); err != nil {
			return fmt.Errorf("write: %w", err)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode: %v", err)
	}
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var j Frame
	if err := json.Unmarshal(body, &j); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f, err := j.toFrame()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.bus.Send(f); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, mcp2515.ErrTxBusy) || errors.Is(err, mcpcan.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statsResponse struct {
	Kbps    int    `json:"kbps"`
	Recv    uint64 `json:"recv"`
	Sent    uint64 `json:"sent"`
	Errors  uint64 `json:"errors"`
	Dropped uint64 `json:"dropped"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st := s.bus.Stats()
	writeJSON(w, http.StatusOK, statsResponse{
		Kbps:    s.bus.Kbps(),
		Recv:    st.RecvFrames,
		Sent:    st.SentFrames,
		Errors:  st.Errors,
		Dropped: st.DroppedFrames,
	})
}

type adapterResponse struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	RequiresPort bool   `json:"requires_port"`
	InterruptPin bool   `json:"interrupt_pin"`
	MaxSPIHz     int    `json:"max_spi_hz"`
}

func (s *Server) handleAdapters(w http.ResponseWriter, r *http.Request) {
	out := []adapterResponse{}
	for _, a := range mcpcan.ListAdapters() {
		out = append(out, adapterResponse{
			Name:         a.Name,
			Description:  a.Description,
			RequiresPort: a.RequiresPort,
			InterruptPin: a.Capabilities.InterruptPin,
			MaxSPIHz:     a.Capabilities.MaxSPIHz,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type portResponse struct {
	Name   string `json:"name"`
	USB    bool   `json:"usb"`
	VID    string `json:"vid,omitempty"`
	PID    string `json:"pid,omitempty"`
	Serial string `json:"serial,omitempty"`
}

func (s *Server) handlePorts(w http.ResponseWriter, r *http.Request) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := []portResponse{}
	for _, p := range ports {
		out = append(out, portResponse{
			Name:   p.Name,
			USB:    p.IsUSB,
			VID:    p.VID,
			PID:    p.PID,
			Serial: p.SerialNumber,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

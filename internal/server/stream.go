package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/roach88/reportgrid/internal/grid"
	"github.com/roach88/reportgrid/internal/layout"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Stream message kinds. The first message on a stream is always a snapshot;
// later ones carry the layout.ChangeKind name.
const kindSnapshot = "snapshot"

// streamMessage is one frame on the change stream. Every frame carries the
// whole report, so a reader that misses frames only needs the latest.
type streamMessage struct {
	Type     string      `json:"type"`
	ClientID string      `json:"client_id"`
	Kind     string      `json:"kind"`
	Report   grid.Report `json:"report"`
}

func encodeMessage(clientID, kind string, r grid.Report) ([]byte, error) {
	return json.Marshal(streamMessage{Type: "report", ClientID: clientID, Kind: kind, Report: r})
}

// hub fans engine changes out to the open streams of each client.
type hub struct {
	mu      sync.Mutex
	next    uint64
	streams map[string]map[uint64]chan []byte
}

func newHub() *hub {
	return &hub{streams: make(map[string]map[uint64]chan []byte)}
}

func (h *hub) add(clientID string) (uint64, <-chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	ch := make(chan []byte, 1)
	if h.streams[clientID] == nil {
		h.streams[clientID] = make(map[uint64]chan []byte)
	}
	h.streams[clientID][h.next] = ch
	return h.next, ch
}

func (h *hub) remove(clientID string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.streams[clientID], id)
	if len(h.streams[clientID]) == 0 {
		delete(h.streams, clientID)
	}
}

func (h *hub) count(clientID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams[clientID])
}

// publish runs on the engine's mutating goroutine and must not block. A
// stream that has not taken its previous frame gets the newer one instead.
func (h *hub) publish(c layout.Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	streams := h.streams[c.ClientID]
	if len(streams) == 0 {
		return
	}
	b, err := encodeMessage(c.ClientID, c.Kind.String(), c.Report)
	if err != nil {
		return
	}
	for _, ch := range streams {
		select {
		case ch <- b:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- b:
			default:
			}
		}
	}
}

func (s *Server) handleStream(rw http.ResponseWriter, r *http.Request, clientID string) {
	conn, err := s.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Register before reading the report so no change falls in between.
	id, out := s.hub.add(clientID)
	defer s.hub.remove(clientID, id)

	report, _ := s.engine.Report(clientID)
	first, err := encodeMessage(clientID, kindSnapshot, report)
	if err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, first); err != nil {
		return
	}
	s.log.Debug("stream opened", zap.String("client_id", clientID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- s.writeLoop(ctx, conn, out)
	}()

	// Reader loop: the client sends nothing but control frames.
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	cancel()
	if err := <-writeErr; err != nil {
		s.log.Debug("stream write failed", zap.String("client_id", clientID), zap.Error(err))
	}
	s.log.Debug("stream closed", zap.String("client_id", clientID))
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan []byte) error {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			// Unblocks the reader.
			return conn.Close()
		case b := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				conn.Close()
				return err
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				conn.Close()
				return err
			}
		}
	}
}

// Package ingress implements spec.md §4.E: WebSocket upgrade routing by
// room id and the signed /broadcast HTTP endpoint that injects
// server-originated frames into a room. Grounded on the teacher's
// internal/server/server.go route wiring and internal/server/hub.go's
// upgrade path, generalized from a single global hub to per-room actors.
package ingress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/coordroom/coordroom/internal/frame"
	"github.com/coordroom/coordroom/internal/room"
	"github.com/coordroom/coordroom/internal/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the HTTP/WS ingress layer.
type Server struct {
	registry   *room.Registry
	signingKey []byte
	startTime  time.Time
	router     *mux.Router
}

// NewServer builds the ingress router. The HTTPInjector (see below) is
// what actually round-trips through /broadcast for co-located calls, per
// spec.md §4.D; this constructor only wires the inbound routes.
func NewServer(reg *room.Registry, signingKey []byte) *Server {
	s := &Server{
		registry:   reg,
		signingKey: signingKey,
		startTime:  time.Now(),
	}
	s.router = mux.NewRouter()
	s.router.Use(SecurityHeadersMiddleware)
	s.router.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
	s.router.HandleFunc("/broadcast", s.handleBroadcast).Methods(http.MethodPost)
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// handleWS implements GET /ws?room={roomId}.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		respondError(w, http.StatusBadRequest, "missing room query parameter")
		return
	}
	if r.Header.Get("Upgrade") == "" {
		w.WriteHeader(http.StatusUpgradeRequired)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[INGRESS] upgrade failed for room %s: %v", roomID, err)
		return
	}

	actor := s.registry.Get(roomID)
	conn := room.NewConnection(roomID, ws)
	actor.OnOpen(conn)

	go s.pump(actor, conn, ws)
}

// pump is the read loop for one connection; it is the only goroutine
// touching this *websocket.Conn for reads, matching gorilla's one-reader
// requirement. Writes go through Connection.Send, which serializes with
// its own mutex.
func (s *Server) pump(actor *room.Room, conn *room.Connection, ws *websocket.Conn) {
	defer func() {
		actor.OnClose(conn)
		_ = ws.Close()
	}()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				actor.OnError(conn, err)
			}
			return
		}
		actor.OnMessage(conn, data)
	}
}

// handleBroadcast implements POST /broadcast (path-scoped to a room via
// the ?room= query parameter, mirroring /ws).
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		respondError(w, http.StatusBadRequest, "missing room query parameter")
		return
	}

	limitRequestSize(w, r)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]bool{"success": false})
		return
	}

	if len(s.signingKey) > 0 {
		sig := r.Header.Get(SignatureHeader)
		if sig == "" || !Verify(s.signingKey, body, sig) {
			respondError(w, http.StatusUnauthorized, "invalid or missing signature")
			return
		}
	}

	var f types.Frame
	if err := json.Unmarshal(body, &f); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]bool{"success": false})
		return
	}

	actor := s.registry.Get(roomID)
	actor.InjectServerFrame(f)
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleHealthz is the ambient liveness endpoint SPEC_FULL §8 adds; it
// reports per-room dropped-directed-send counts (spec.md §4.C's
// sendToAgent fallback), not a general telemetry subsystem.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ids := s.registry.RoomIDs()
	dropped := make(map[string]int, len(ids))
	for _, id := range ids {
		dropped[id] = s.registry.Get(id).DroppedDirectedSends()
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":               "ok",
		"uptime":               time.Since(s.startTime).String(),
		"rooms":                len(ids),
		"droppedDirectedSends": dropped,
	})
}

// HTTPInjector implements tasksvc.Injector by POSTing to this process's own
// /broadcast endpoint, per spec.md §4.D's "uses the HTTP path even when
// co-located" requirement.
type HTTPInjector struct {
	BaseURL    string
	SigningKey []byte
	Client     *http.Client
}

func NewHTTPInjector(baseURL string, signingKey []byte) *HTTPInjector {
	return &HTTPInjector{BaseURL: baseURL, SigningKey: signingKey, Client: &http.Client{Timeout: 5 * time.Second}}
}

func (h *HTTPInjector) Inject(ctx context.Context, roomID string, f types.Frame) error {
	body, err := frame.Serialize(f)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/broadcast?room=%s", h.BaseURL, roomID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if len(h.SigningKey) > 0 {
		req.Header.Set(SignatureHeader, Sign(h.SigningKey, body))
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("broadcast injection: unexpected status %d", resp.StatusCode)
	}
	return nil
}

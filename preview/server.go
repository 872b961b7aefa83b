package preview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/e7canasta/orion-inspect/control"
	"github.com/e7canasta/orion-inspect/session"
)

const (
	boundary       = "frame"
	statusInterval = 500 * time.Millisecond
	writeWait      = 2 * time.Second
	shutdownWait   = 5 * time.Second
)

// Backend is what the server reads from and acts on.
type Backend interface {
	Status() session.Status
	Snapshot() (string, error)
}

// CommandHandler executes websocket commands.
type CommandHandler interface {
	Handle(ctx context.Context, cmd control.Command) control.Response
}

// Server serves the preview and the websocket control socket.
type Server struct {
	addr     string
	hub      *Hub
	backend  Backend
	commands CommandHandler
	upgrader websocket.Upgrader
}

// NewServer creates a server on addr.
func NewServer(addr string, hub *Hub, backend Backend, commands CommandHandler) *Server {
	return &Server{
		addr:     addr,
		hub:      hub,
		backend:  backend,
		commands: commands,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // local operator console
			},
		},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /stream", s.handleStream)
	mux.HandleFunc("GET /frame.jpg", s.handleFrame)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return mux
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("preview: listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("preview: serve %s: %w", s.addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("preview: shutdown: %w", err)
	}
	slog.Info("preview: server stopped")
	return nil
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	ch := make(chan JPEG, 1)
	if err := s.hub.Subscribe(id, ch); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer s.hub.Unsubscribe(id)

	slog.Info("preview: stream client connected", "client", id, "remote", r.RemoteAddr)
	defer slog.Info("preview: stream client disconnected", "client", id)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	flusher, _ := w.(http.Flusher)

	// Start with the current frame so a paused session is not blank.
	if f, ok := s.hub.Latest(); ok {
		if writePart(w, f) != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case f := <-ch:
			if err := writePart(w, f); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func writePart(w http.ResponseWriter, f JPEG) error {
	_, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(f.Data))
	if err != nil {
		return err
	}
	if _, err := w.Write(f.Data); err != nil {
		return err
	}
	_, err = w.Write([]byte("\r\n"))
	return err
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	f, ok := s.hub.Latest()
	if !ok {
		http.Error(w, "no frame yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("X-Frame-Seq", fmt.Sprint(f.Seq))
	w.Header().Set("X-Frame-Position", fmt.Sprint(f.Position))
	w.Write(f.Data)
}

// statusResponse is the session status plus preview delivery counters.
type statusResponse struct {
	session.Status
	Preview HubStats `json:"preview"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Status: s.backend.Status(), Preview: s.hub.Stats()})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	path, err := s.backend.Snapshot()
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, session.ErrNoFrame) {
			code = http.StatusConflict
		}
		writeJSON(w, code, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("preview: failed to write response", "error", err)
	}
}

// wsMessage is what the socket pushes: either a periodic status or the
// response to a command the client sent.
type wsMessage struct {
	Type     string            `json:"type"`
	Status   *session.Status   `json:"status,omitempty"`
	Response *control.Response `json:"response,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("preview: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	slog.Info("preview: websocket client connected", "remote", r.RemoteAddr)

	var writeMu sync.Mutex
	send := func(m wsMessage) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(m)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		t := time.NewTicker(statusInterval)
		defer t.Stop()
		for {
			st := s.backend.Status()
			if err := send(wsMessage{Type: "status", Status: &st}); err != nil {
				cancel()
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()

	for {
		var cmd control.Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("preview: websocket read error", "error", err)
			}
			return
		}
		if s.commands == nil {
			continue
		}
		resp := s.commands.Handle(ctx, cmd)
		if err := send(wsMessage{Type: "response", Response: &resp}); err != nil {
			return
		}
	}
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/roamiiing/vibetabber/internal/applog"
	"github.com/roamiiing/vibetabber/internal/host"
	"github.com/roamiiing/vibetabber/internal/types"
	"nhooyr.io/websocket"
)

// ErrNotConnected is returned by host calls while no extension is connected.
var ErrNotConnected = errors.New("extension not connected")

// DefaultCallTimeout bounds how long a command waits for the extension.
const DefaultCallTimeout = 10 * time.Second

// Wire value of IncomingMsg.Error for a tab id the browser does not know.
const errNotFound = "not_found"

// IncomingMsg is a message from the extension: either a tab event or the
// response to a command.
type IncomingMsg struct {
	Type  string          `json:"type"`            // "event" or "response"
	Event string          `json:"event,omitempty"` // created, activated, removed, updated, shutdown
	TabID int             `json:"tabId,omitempty"`
	Tab   json.RawMessage `json:"tab,omitempty"`
	Tabs  json.RawMessage `json:"tabs,omitempty"`
	// Response fields
	ID    string `json:"id,omitempty"`
	OK    *bool  `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`
}

// OutgoingMsg is a command to the extension.
type OutgoingMsg struct {
	ID     string `json:"id"`
	Action string `json:"action"` // query, create, activate, close
	TabID  int    `json:"tabId,omitempty"`
	URL    string `json:"url,omitempty"`
}

// Server is a host.Host backed by a browser extension connected over
// WebSocket. Only one extension connection is kept at a time.
type Server struct {
	port    int
	timeout time.Duration
	events  chan host.Event

	mu      sync.Mutex
	conn    *websocket.Conn
	connCtx context.Context
	// gone is closed when conn goes away.
	gone    chan struct{}
	pending map[string]chan IncomingMsg
}

var _ host.Host = (*Server)(nil)

// New creates a new Server. Port 0 means the caller manages the listener.
func New(port int) *Server {
	return &Server{
		port:    port,
		timeout: DefaultCallTimeout,
		events:  make(chan host.Event, 64),
		pending: make(map[string]chan IncomingMsg),
	}
}

// SetCallTimeout changes how long commands wait for a response.
func (s *Server) SetCallTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Events returns the channel of tab events from the extension.
func (s *Server) Events() <-chan host.Event {
	return s.events
}

// Connected reports whether an extension is connected.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Disconnected returns a channel that is closed once the current extension
// connection ends. With no extension connected it is already closed.
func (s *Server) Disconnected() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.gone
}

// WaitConnected blocks until an extension connects or ctx is done.
func (s *Server) WaitConnected(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for !s.Connected() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (s *Server) Query(ctx context.Context) ([]types.HostTab, error) {
	resp, err := s.call(ctx, OutgoingMsg{Action: "query"})
	if err != nil {
		return nil, err
	}
	return ParseTabs(resp.Tabs)
}

func (s *Server) Create(ctx context.Context, url string) (types.HostTab, error) {
	resp, err := s.call(ctx, OutgoingMsg{Action: "create", URL: url})
	if err != nil {
		return types.HostTab{}, err
	}
	return ParseTab(resp.Tab)
}

func (s *Server) Activate(ctx context.Context, tabID int) error {
	_, err := s.call(ctx, OutgoingMsg{Action: "activate", TabID: tabID})
	return err
}

func (s *Server) Close(ctx context.Context, tabID int) error {
	_, err := s.call(ctx, OutgoingMsg{Action: "close", TabID: tabID})
	return err
}

// call sends a command and waits for the response carrying the same id.
func (s *Server) call(ctx context.Context, msg OutgoingMsg) (IncomingMsg, error) {
	msg.ID = uuid.NewString()
	ch := make(chan IncomingMsg, 1)

	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return IncomingMsg{}, fmt.Errorf("%s: %w", msg.Action, ErrNotConnected)
	}
	s.pending[msg.ID] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, msg.ID)
		s.mu.Unlock()
	}()

	if err := s.Send(msg); err != nil {
		return IncomingMsg{}, fmt.Errorf("send %s: %w", msg.Action, err)
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.OK != nil && !*resp.OK {
			if resp.Error == errNotFound {
				return resp, fmt.Errorf("%s tab %d: %w", msg.Action, msg.TabID, host.ErrTabNotFound)
			}
			return resp, fmt.Errorf("%s: %s", msg.Action, resp.Error)
		}
		return resp, nil
	case <-timer.C:
		return IncomingMsg{}, fmt.Errorf("timed out waiting for %s response", msg.Action)
	case <-ctx.Done():
		return IncomingMsg{}, ctx.Err()
	}
}

// Send sends a command to the connected extension.
func (s *Server) Send(msg OutgoingMsg) error {
	s.mu.Lock()
	conn := s.conn
	ctx := s.connCtx
	s.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	applog.Info("ws.send", "action", msg.Action, "id", msg.ID)
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Handler returns an http.Handler that accepts WebSocket upgrades.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			applog.Error("ws.accept", err)
			return
		}

		conn.SetReadLimit(4 << 20) // 4 MB, a query response lists every tab

		ctx := r.Context()
		gone := make(chan struct{})
		s.mu.Lock()
		if s.conn != nil {
			applog.Info("ws.replaced")
			s.conn.CloseNow()
			close(s.gone)
		}
		s.conn = conn
		s.connCtx = ctx
		s.gone = gone
		s.mu.Unlock()

		applog.Info("ws.connected", "remote", r.RemoteAddr)

		defer func() {
			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
				s.connCtx = nil
				close(s.gone)
				s.gone = nil
			}
			s.mu.Unlock()
			conn.CloseNow()
			applog.Info("ws.disconnected")
		}()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg IncomingMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				applog.Error("ws.parse", err)
				continue
			}
			s.dispatch(ctx, msg)
		}
	})
}

func (s *Server) dispatch(ctx context.Context, msg IncomingMsg) {
	switch msg.Type {
	case "response":
		s.mu.Lock()
		ch, ok := s.pending[msg.ID]
		s.mu.Unlock()
		if !ok {
			applog.Info("ws.response.orphan", "id", msg.ID)
			return
		}
		select {
		case ch <- msg:
		default:
		}
	case "event":
		ev, err := ParseEvent(msg)
		if err != nil {
			applog.Error("ws.event.parse", err, "event", msg.Event)
			return
		}
		applog.Debug("ws.event", "event", msg.Event, "tabId", ev.TabID)
		select {
		case s.events <- ev:
		case <-ctx.Done():
		}
	default:
		applog.Info("ws.recv.unknown", "type", msg.Type)
	}
}

// Serve runs handler on the loopback interface until ctx is done.
func Serve(ctx context.Context, port int, handler http.Handler) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	applog.Info("server.start", "addr", addr)
	srv := &http.Server{Addr: addr, Handler: handler}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Package stream serves search and recovery results over a WebSocket.
//
// A client connects to /ws and sends one JSON request at a time. Results are
// written as they are produced, one message per hit or record, followed by a
// single complete or error message. A new request cancels the one still
// running, and closing the socket cancels everything.
package stream

import (
	"context"
	"encoding/json"
	"iter"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/FocuswithJustin/walscope/core/errors"
	"github.com/FocuswithJustin/walscope/core/recovery"
	"github.com/FocuswithJustin/walscope/core/wal"
	"github.com/FocuswithJustin/walscope/internal/logging"
	"github.com/FocuswithJustin/walscope/internal/server"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// Source is what the server queries, normally an *analyzer.Analyzer.
type Source interface {
	Summary() wal.Summary
	Search(ctx context.Context, q recovery.Query) (iter.Seq[recovery.Hit], error)
	RecoverAll(ctx context.Context, flt recovery.Filter) iter.Seq[recovery.Record]
}

// Request is a client message.
type Request struct {
	ID       string `json:"id,omitempty"`
	Action   string `json:"action"`
	Term     string `json:"term,omitempty"`
	Mode     string `json:"mode,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Table    string `json:"table,omitempty"`
	Category string `json:"category,omitempty"`
	Schema   bool   `json:"schema,omitempty"`
}

// Message types.
const (
	TypeHit      = "hit"
	TypeRecord   = "record"
	TypeComplete = "complete"
	TypeError    = "error"
)

// Message is a server message.
type Message struct {
	Type      string           `json:"type"`
	Session   string           `json:"session"`
	Request   string           `json:"request,omitempty"`
	Hit       *recovery.Hit    `json:"hit,omitempty"`
	Record    *recovery.Record `json:"record,omitempty"`
	Count     int              `json:"count,omitempty"`
	Error     string           `json:"error,omitempty"`
	Timestamp string           `json:"timestamp"`
}

// Config tunes the server.
type Config struct {
	// AllowedOrigins lists browser origins allowed to connect. Empty means
	// same-origin only; "*" allows any.
	AllowedOrigins []string
	// MaxMessageSize bounds client requests in bytes.
	MaxMessageSize int64
	// SearchLimit applies when a search request carries no limit.
	SearchLimit int
}

// DefaultConfig returns the settings used by walscope serve.
func DefaultConfig() Config {
	return Config{MaxMessageSize: 4096, SearchLimit: 1000}
}

// Server streams results from one Source.
type Server struct {
	src      Source
	cfg      Config
	upgrader websocket.Upgrader
	clients  atomic.Int32
}

// New returns a server over src.
func New(src Source, cfg Config) *Server {
	s := &Server{src: src, cfg: cfg}
	s.upgrader = websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096}
	if len(cfg.AllowedOrigins) > 0 {
		s.upgrader.CheckOrigin = func(r *http.Request) bool {
			return server.OriginAllowed(r.Header.Get("Origin"), cfg.AllowedOrigins)
		}
	}
	return s
}

// Handler returns the HTTP routes with request logging, CORS and security
// headers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.serveWS)
	mux.HandleFunc("GET /summary", s.serveSummary)
	var h http.Handler = mux
	h = server.CORS(server.CORSConfig{AllowedOrigins: s.cfg.AllowedOrigins}, h)
	h = server.SecurityHeaders(server.APICSPConfig(), h)
	return logging.CombinedMiddleware(h)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", addr)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	logging.ServerStartup("websocket", ln.Addr().String())

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) serveSummary(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.src.Summary()); err != nil {
		logging.WarnContext(r.Context(), "write summary", "error", err)
	}
}

// session is one WebSocket connection.
type session struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	ctx  context.Context

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	if s.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(s.cfg.MaxMessageSize)
	}

	// The request context ends when the handler returns, so the session
	// gets its own.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	sess := &session{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		ctx:  ctx,
	}
	logging.WebSocketEvent("client_connected", int(s.clients.Add(1)), "session", sess.id)

	go sess.writePump()
	s.readPump(sess)

	cancel()
	sess.wg.Wait()
	close(sess.send)
	logging.WebSocketEvent("client_disconnected", int(s.clients.Add(-1)), "session", sess.id)
}

func (s *Server) readPump(sess *session) {
	c := sess.conn
	c.SetReadDeadline(time.Now().Add(pongWait))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug("websocket closed", "session", sess.id, "error", err)
			}
			return
		}
		c.SetReadDeadline(time.Now().Add(pongWait))

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			sess.emit(sess.ctx, Message{Type: TypeError, Error: "malformed request: " + err.Error()})
			continue
		}
		sess.start(func(ctx context.Context) { s.run(ctx, sess, req) })
	}
}

// start cancels the running request, waits for it and runs fn.
func (sess *session) start(fn func(context.Context)) {
	sess.mu.Lock()
	if sess.cancel != nil {
		sess.cancel()
	}
	sess.mu.Unlock()
	sess.wg.Wait()

	ctx, cancel := context.WithCancel(sess.ctx)
	sess.mu.Lock()
	sess.cancel = cancel
	sess.mu.Unlock()

	sess.wg.Add(1)
	go func() {
		defer sess.wg.Done()
		defer cancel()
		fn(ctx)
	}()
}

// emit queues m, giving up when ctx ends.
func (sess *session) emit(ctx context.Context, m Message) bool {
	m.Session = sess.id
	if m.Timestamp == "" {
		m.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	data, err := json.Marshal(m)
	if err != nil {
		logging.Error("failed to marshal stream message", "error", err)
		return false
	}
	select {
	case sess.send <- data:
		return true
	case <-ctx.Done():
		return false
	}
}

func (sess *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sess.conn.Close()
	}()
	for {
		select {
		case data, ok := <-sess.send:
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				sess.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sess.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) run(ctx context.Context, sess *session, req Request) {
	fail := func(err error) {
		sess.emit(ctx, Message{Type: TypeError, Request: req.ID, Error: err.Error()})
	}
	count := 0
	switch strings.ToLower(req.Action) {
	case "search":
		q, err := s.query(req)
		if err != nil {
			fail(err)
			return
		}
		seq, err := s.src.Search(ctx, q)
		if err != nil {
			fail(err)
			return
		}
		for h := range seq {
			if !sess.emit(ctx, Message{Type: TypeHit, Request: req.ID, Hit: &h}) {
				return
			}
			count++
		}
	case "recover":
		flt := recovery.Filter{Table: req.Table, IncludeSchema: req.Schema}
		if req.Category != "" {
			c, err := wal.ParseCategory(req.Category)
			if err != nil {
				fail(err)
				return
			}
			flt.Category = c
		}
		for rec := range s.src.RecoverAll(ctx, flt) {
			if !sess.emit(ctx, Message{Type: TypeRecord, Request: req.ID, Record: &rec}) {
				return
			}
			count++
		}
	default:
		fail(errors.NewUnsupported("action", req.Action))
		return
	}
	if ctx.Err() != nil {
		return
	}
	sess.emit(ctx, Message{Type: TypeComplete, Request: req.ID, Count: count})
}

func (s *Server) query(req Request) (recovery.Query, error) {
	q := recovery.Query{Term: req.Term, Limit: req.Limit}
	if req.Mode != "" {
		m, err := recovery.ParseMode(req.Mode)
		if err != nil {
			return q, err
		}
		q.Mode = m
	}
	if q.Limit <= 0 {
		q.Limit = s.cfg.SearchLimit
	}
	return q, nil
}

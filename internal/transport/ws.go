package transport

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tileworld/internal/metrics"
	"tileworld/internal/supervisor"
)

const wsWriteTimeout = 10 * time.Second

// WSServer serves browser terminals over WebSocket. Frames go out as
// binary messages carrying the same ANSI bytes an SSH client would see;
// xterm.js renders them unchanged.
type WSServer struct {
	sup     *supervisor.Supervisor
	log     *zap.Logger
	metrics *metrics.Collector

	maxQueuedBytes int
	upgrader       websocket.Upgrader
}

func NewWSServer(sup *supervisor.Supervisor, logger *zap.Logger, m *metrics.Collector, maxQueuedBytes int) *WSServer {
	return &WSServer{
		sup:            sup,
		log:            logger,
		metrics:        m,
		maxQueuedBytes: maxQueuedBytes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Browser clients connect from anywhere; the session model
			// does its own identity handling.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades one request. Query params: name, cols, rows.
func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	name := r.URL.Query().Get("name")
	if name == "" {
		name = "guest"
	}
	cols := queryInt(r, "cols", 80)
	rows := queryInt(r, "rows", 24)

	pump := NewPump(&wsWriter{conn: conn}, s.maxQueuedBytes)
	if s.metrics != nil {
		pump.OnWrite(s.metrics.RecordOutputBytes)
	}

	proxy, err := s.sup.Connect(supervisor.ConnectOpts{
		Username: name,
		Cols:     cols,
		Rows:     rows,
		Sink:     pump,
		OnClosed: func() { _ = conn.Close() },
	})
	if err != nil {
		pump.Destroy()
		return
	}
	defer proxy.Close()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		// Control messages ride the text channel; raw terminal input is
		// binary.
		if kind == websocket.TextMessage {
			if c, r2, ok := parseResize(string(data)); ok {
				proxy.Resize(c, r2)
				continue
			}
		}
		proxy.Input(data)
	}
}

// wsWriter adapts one websocket connection to io.Writer for the pump.
// The pump already serializes writes, which gorilla requires.
type wsWriter struct {
	conn *websocket.Conn
}

func (w *wsWriter) Write(b []byte) (int, error) {
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := w.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// parseResize decodes "resize:COLSxROWS".
func parseResize(s string) (cols, rows int, ok bool) {
	rest, found := strings.CutPrefix(s, "resize:")
	if !found {
		return 0, 0, false
	}
	if _, err := fmt.Sscanf(rest, "%dx%d", &cols, &rows); err != nil || cols <= 0 || rows <= 0 {
		return 0, 0, false
	}
	return cols, rows, true
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package status

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/phloton/boardup/pkg/pipeline"
)

const (
	// ContentType is served by the status endpoint.
	ContentType = "application/cbor"

	maxFrameSize = 4096
	sendQueue    = 64
	writeTimeout = 5 * time.Second
)

// Source publishes pipeline snapshots and log lines.
type Source interface {
	Subscribe() (<-chan pipeline.Snapshot, func())
	SubscribeLines() (<-chan string, func())
}

// Commander accepts pipeline commands.
type Commander interface {
	RefreshPorts()
	Probe()
	SelectPort(port string)
	SetFirmware(path string)
	Flash()
	Monitor(port string)
	Disconnect()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans snapshots and lines out to websocket clients and routes their
// commands back to the pipeline.
type Hub struct {
	source Source
	cmd    Commander
	logger *zap.SugaredLogger

	mu      sync.Mutex
	clients map[*client]struct{}
	latest  []byte
	closed  bool
}

// NewHub creates a hub over source. cmd may be nil for a read-only hub.
func NewHub(source Source, cmd Commander, logger *zap.SugaredLogger) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Hub{
		source:  source,
		cmd:     cmd,
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Handler serves /ws and /status.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.serveWS)
	mux.HandleFunc("/status", h.serveStatus)
	return mux
}

// Run forwards pipeline output to clients until ctx is done or the source
// closes. Every client is disconnected on return.
func (h *Hub) Run(ctx context.Context) error {
	snaps, unsubSnaps := h.source.Subscribe()
	defer unsubSnaps()
	lines, unsubLines := h.source.SubscribeLines()
	defer unsubLines()
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-snaps:
			if !ok {
				return nil
			}
			data, err := EncodeSnapshot(snap)
			if err != nil {
				h.logger.Warnw("Dropping snapshot", "error", err)
				continue
			}
			h.mu.Lock()
			h.latest = data
			h.mu.Unlock()
			h.broadcast(data)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			data, err := EncodeLine(line)
			if err != nil {
				h.logger.Warnw("Dropping line", "error", err)
				continue
			}
			h.broadcast(data)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) serveStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.mu.Lock()
	data := h.latest
	h.mu.Unlock()
	if data == nil {
		http.Error(w, "no snapshot yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", ContentType)
	w.Write(data)
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debugw("Websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendQueue)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	if h.latest != nil {
		c.send <- h.latest
	}
	h.mu.Unlock()

	h.logger.Infow("Client connected", "remote", r.RemoteAddr)
	go h.writer(c)
	go h.reader(c)
}

func (h *Hub) writer(c *client) {
	defer c.conn.Close()
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			h.logger.Debugw("Write failed", "error", err)
			h.remove(c)
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

func (h *Hub) reader(c *client) {
	defer h.remove(c)

	c.conn.SetReadLimit(maxFrameSize)
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debugw("Client read failed", "error", err)
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		kind, payload, err := DecodeFrame(data)
		if err != nil {
			h.logger.Debugw("Bad frame from client", "error", err)
			continue
		}
		if kind != KindCommand {
			continue
		}
		cmd, err := DecodeCommand(payload)
		if err != nil {
			h.logger.Debugw("Bad command from client", "error", err)
			continue
		}
		h.dispatch(cmd)
	}
}

func (h *Hub) dispatch(cmd Command) {
	if h.cmd == nil {
		return
	}
	h.logger.Debugw("Client command", "action", cmd.Action, "arg", cmd.Arg)
	switch cmd.Action {
	case ActionRefresh:
		h.cmd.RefreshPorts()
	case ActionProbe:
		h.cmd.Probe()
	case ActionSelect:
		h.cmd.SelectPort(cmd.Arg)
	case ActionFirmware:
		h.cmd.SetFirmware(cmd.Arg)
	case ActionFlash:
		h.cmd.Flash()
	case ActionMonitor:
		h.cmd.Monitor(cmd.Arg)
	case ActionDisconnect:
		h.cmd.Disconnect()
	default:
		h.logger.Debugw("Unknown command", "action", cmd.Action)
	}
}

// broadcast queues data for every client. A client whose queue is full is
// disconnected.
func (h *Hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Infow("Dropping slow client", "remote", c.conn.RemoteAddr())
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

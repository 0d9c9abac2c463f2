// Package feed streams conversation state snapshots to websocket clients.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"NexusChat/internal/conversation"
)

// Source is the state owner being watched
type Source interface {
	Snapshot() conversation.State
	Subscribe(fn func(conversation.State)) (unsubscribe func())
}

// Hub fans committed states out to every connected websocket. Intermediate
// states may be coalesced; each client always ends on the latest one.
type Hub struct {
	source   Source
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}

	pendingMu sync.Mutex
	pending   *conversation.State
	wake      chan struct{}
}

func NewHub(source Source, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		source: source,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: map[*websocket.Conn]struct{}{},
		wake:  make(chan struct{}, 1),
	}
}

// Run forwards store commits to clients until ctx is done
func (h *Hub) Run(ctx context.Context) {
	unsubscribe := h.source.Subscribe(h.enqueue)
	defer unsubscribe()
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.wake:
			h.pendingMu.Lock()
			st := h.pending
			h.pending = nil
			h.pendingMu.Unlock()
			if st == nil {
				continue
			}
			data, err := json.Marshal(st)
			if err != nil {
				h.logger.Error("failed to encode state", "error", err)
				continue
			}
			h.broadcast(data)
		}
	}
}

func (h *Hub) enqueue(st conversation.State) {
	h.pendingMu.Lock()
	h.pending = &st
	h.pendingMu.Unlock()
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *Hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Warn("ws broadcast failed, dropping connection", "remote", conn.RemoteAddr().String(), "error", err)
			delete(h.conns, conn)
			_ = conn.Close()
		}
	}
}

// Count returns the number of connected clients
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	_ = conn.Close()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		_ = conn.Close()
		delete(h.conns, conn)
	}
}

// Router serves GET /ws and GET /state
func (h *Hub) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, h.source.Snapshot())
	})
	r.GET("/ws", h.serveWS)
	return r
}

func (h *Hub) serveWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	// snapshot and register under one lock so no commit falls between the
	// first frame and the first broadcast
	h.mu.Lock()
	data, err := json.Marshal(h.source.Snapshot())
	if err == nil {
		err = conn.WriteMessage(websocket.TextMessage, data)
	}
	if err != nil {
		h.mu.Unlock()
		h.logger.Warn("failed to send initial state", "error", err)
		_ = conn.Close()
		return
	}
	h.conns[conn] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("feed client connected", "remote", conn.RemoteAddr().String())

	// clients only listen; reading detects disconnects
	go func() {
		defer h.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Serve runs the feed on addr until ctx is done
func (h *Hub) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go h.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("feed listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

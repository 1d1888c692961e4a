package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/sebastianpando/lector-tts-app/internal/models"
	"github.com/sebastianpando/lector-tts-app/internal/services"
	"github.com/sebastianpando/lector-tts-app/internal/utils"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// WSHandler pushes progress snapshots of a job to the page while its audio streams.
type WSHandler struct {
	sessions services.SessionService
	poll     time.Duration
	upgrader websocket.Upgrader
}

func NewWSHandler(sessions services.SessionService, poll time.Duration) *WSHandler {
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	// CheckOrigin is left nil: gorilla rejects cross-origin handshakes by default.
	return &WSHandler{sessions: sessions, poll: poll}
}

type wsProgressMsg struct {
	Type string `json:"type"`
	models.Progress
}

type wsErrorMsg struct {
	Type    string     `json:"type"`
	Code    utils.Code `json:"code"`
	Message string     `json:"message"`
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

func (w *wsConn) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.c.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

func (w *wsConn) close(msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, msg), time.Now().Add(wsWriteWait))
}

func (h *WSHandler) Progress(c *gin.Context) {
	token := c.Param("token")

	// unknown tokens get a plain HTTP error before the upgrade
	first, err := h.sessions.Progress(c.Request.Context(), token)
	if err != nil {
		writeError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote response in most cases
		return
	}
	defer conn.Close()

	wc := &wsConn{c: conn}
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// reader: only control frames are expected; a read error means the page went away
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.push(ctx, wc, token, *first); err != nil {
		return
	}
	// wait briefly for the peer's close frame
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	<-readDone
}

// push sends the current snapshot and every change after it until the job finishes.
func (h *WSHandler) push(ctx context.Context, wc *wsConn, token string, last models.Progress) error {
	if err := wc.writeJSON(wsProgressMsg{Type: "progress", Progress: last}); err != nil {
		return err
	}
	if last.Finished() {
		wc.close("finished")
		return nil
	}

	poll := time.NewTicker(h.poll)
	defer poll.Stop()
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ping.C:
			if err := wc.ping(); err != nil {
				return err
			}
		case <-poll.C:
			p, err := h.sessions.Progress(ctx, token)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				var code utils.Code = utils.CodeInternal
				if utils.IsCode(err, utils.CodeNotFound) {
					code = utils.CodeNotFound
				}
				_ = wc.writeJSON(wsErrorMsg{Type: "error", Code: code, Message: "progress unavailable"})
				wc.close("gone")
				return nil
			}
			if *p == last {
				continue
			}
			last = *p
			if err := wc.writeJSON(wsProgressMsg{Type: "progress", Progress: last}); err != nil {
				return err
			}
			if last.Finished() {
				wc.close("finished")
				return nil
			}
		}
	}
}

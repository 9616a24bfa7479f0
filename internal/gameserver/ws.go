package gameserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/hexbattle/internal/game/battle"
	"github.com/cory-johannsen/hexbattle/internal/game/command"
	"github.com/cory-johannsen/hexbattle/internal/game/session"
)

// UserIDHeader carries the caller identity set by the upstream auth layer.
const UserIDHeader = "X-User-ID"

// WSConfig holds WebSocket transport settings.
type WSConfig struct {
	WriteTimeout    time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration
	MaxMessageBytes int64
	// AllowedOrigins lists acceptable Origin headers. Empty allows same-origin
	// requests only; "*" allows any origin.
	AllowedOrigins []string
	// RequestTimeout bounds each hub call made on behalf of a frame.
	RequestTimeout time.Duration
}

// WSHandler upgrades GET /ws requests and bridges frames to the hub.
type WSHandler struct {
	hub       *Hub
	sessions  *session.Manager
	directory Directory
	cfg      WSConfig
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewWSHandler creates the WebSocket endpoint.
//
// Only members of the requested channel, as reported by directory, may open
// its feed.
//
// Precondition: hub, sessions and directory must be non-nil.
func NewWSHandler(hub *Hub, sessions *session.Manager, directory Directory, cfg WSConfig, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	h := &WSHandler{hub: hub, sessions: sessions, directory: directory, cfg: cfg, logger: logger}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h
}

// originChecker builds the upgrade origin policy.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set["*"] || set[origin] {
			return true
		}
		if len(set) > 0 {
			return false
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}

// callerID returns the authenticated user id, preferring the auth header.
func callerID(r *http.Request) string {
	if id := r.Header.Get(UserIDHeader); id != "" {
		return id
	}
	return r.URL.Query().Get("user_id")
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing user identity"})
		return
	}
	channelID := r.URL.Query().Get("channel_id")
	if channelID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing channel_id"})
		return
	}
	if _, err := h.directory.Lookup(r.Context(), channelID, userID); err != nil {
		if errors.Is(err, ErrNotMember) {
			writeJSON(w, http.StatusForbidden, errorResponse{Error: string(command.NotChannelMember)})
			return
		}
		h.logger.Error("directory lookup",
			zap.String("channel_id", channelID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "directory unavailable"})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade", zap.Error(err))
		return
	}
	defer conn.Close()

	sess, err := h.sessions.Open(userID, channelID)
	if err != nil {
		h.logger.Error("opening session", zap.Error(err))
		return
	}
	logger := h.logger.With(
		zap.String("session_id", sess.ID),
		zap.String("user_id", userID),
		zap.String("channel_id", channelID),
	)
	logger.Info("websocket connected")

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.RequestTimeout)
		defer cancel()
		if err := h.hub.Unsubscribe(ctx, sess); err != nil {
			logger.Warn("unsubscribing", zap.Error(err))
		}
		_ = h.sessions.Close(sess.ID)
		logger.Info("websocket disconnected")
	}()

	if err := h.subscribe(sess); err != nil {
		logger.Warn("subscribing", zap.Error(err))
		return
	}

	go h.writePump(conn, sess, logger)
	h.readPump(conn, sess, logger)
}

func (h *WSHandler) subscribe(sess *session.Session) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.RequestTimeout)
	defer cancel()
	return h.hub.Subscribe(ctx, sess)
}

// readPump handles client frames until the connection fails.
func (h *WSHandler) readPump(conn *websocket.Conn, sess *session.Session, logger *zap.Logger) {
	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}
	extend := func() {
		if h.cfg.PongWait > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		}
	}
	extend()
	conn.SetPongHandler(func(string) error { extend(); return nil })

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("websocket read", zap.Error(err))
			}
			return
		}
		extend()
		if !h.dispatch(sess, data, logger) {
			return
		}
	}
}

// dispatch handles one frame and reports whether the connection should stay
// open.
func (h *WSHandler) dispatch(sess *session.Session, data []byte, logger *zap.Logger) bool {
	msg, err := ParseClientMessage(data)
	if err != nil {
		return h.reply(sess, NewActionResult(sess.ChannelID, battle.Result{}, err))
	}
	if ch := msg.Channel(); ch != "" && ch != sess.ChannelID {
		rej := command.Reject(command.UnknownCommand, "connection is bound to channel %q", sess.ChannelID)
		return h.reply(sess, NewActionResult(ch, battle.Result{}, rej))
	}

	switch m := msg.(type) {
	case SnapshotRequest:
		if err := h.subscribe(sess); err != nil {
			logger.Warn("resubscribing", zap.Error(err))
			return false
		}
		return true
	case GameAction:
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.RequestTimeout)
		defer cancel()
		res, err := h.hub.Act(ctx, sess.ChannelID, sess.UserID, m)
		if err != nil {
			logger.Warn("submitting action", zap.Error(err))
			return false
		}
		return h.reply(sess, res)
	}
	return true
}

// reply queues a message for the issuing session only.
func (h *WSHandler) reply(sess *session.Session, msg ActionResultMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encoding action result", zap.Error(err))
		return true
	}
	return sess.Outbox.Push(data) == nil
}

// writePump drains the session outbox to the socket and keeps it alive with
// pings. It returns when the outbox closes or a write fails.
func (h *WSHandler) writePump(conn *websocket.Conn, sess *session.Session, logger *zap.Logger) {
	var ping <-chan time.Time
	if h.cfg.PingPeriod > 0 {
		ticker := time.NewTicker(h.cfg.PingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}
	defer conn.Close()

	for {
		select {
		case data, ok := <-sess.Outbox.Events():
			h.deadline(conn)
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug("websocket write", zap.Error(err))
				return
			}
		case <-ping:
			h.deadline(conn)
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) deadline(conn *websocket.Conn) {
	if h.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
	}
}

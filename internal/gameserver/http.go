package gameserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/cory-johannsen/hexbattle/internal/game/battle"
	"github.com/cory-johannsen/hexbattle/internal/game/command"
	"github.com/cory-johannsen/hexbattle/internal/game/session"
)

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	Hub       *Hub
	Directory Directory
	// WS serves GET /ws; nil leaves the route unregistered.
	WS http.Handler
	// Sessions, when set, adds connection counts to /healthz.
	Sessions *session.Manager
	// Health reports dependency health for /healthz; nil means always healthy.
	Health func(ctx context.Context) error
	Logger *zap.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

// JoinResponse is the body of join and leave responses.
type JoinResponse struct {
	Success   bool           `json:"success"`
	ChannelID string         `json:"channel_id"`
	Player    *battle.Player `json:"player,omitempty"`
	Error     string         `json:"error,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// CommandsResponse lists the recognized commands.
type CommandsResponse struct {
	Commands []command.Definition `json:"commands"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	// Channels counts live battles.
	Channels int `json:"channels"`
	// Sessions counts open WebSocket connections.
	Sessions int `json:"sessions"`
	// WatchedChannels counts channels with at least one connection.
	WatchedChannels int `json:"watched_channels"`
}

type handlers struct {
	cfg RouterConfig
}

// NewRouter builds the REST and WebSocket routes.
//
// Precondition: cfg.Hub and cfg.Directory must be non-nil.
func NewRouter(cfg RouterConfig) *mux.Router {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	h := &handlers{cfg: cfg}

	r := mux.NewRouter()
	r.HandleFunc("/game/join/{channel_id}", h.join).Methods(http.MethodPost)
	r.HandleFunc("/game/leave/{channel_id}", h.leave).Methods(http.MethodPost)
	r.HandleFunc("/game/commands", h.commands).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	if cfg.WS != nil {
		r.Handle("/ws", cfg.WS).Methods(http.MethodGet)
	}
	return r
}

func (h *handlers) join(w http.ResponseWriter, r *http.Request) {
	channelID := mux.Vars(r)["channel_id"]
	userID := callerID(r)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing user identity"})
		return
	}

	member, err := h.cfg.Directory.Lookup(r.Context(), channelID, userID)
	if err != nil {
		if errors.Is(err, ErrNotMember) {
			h.reject(w, channelID, command.Reject(command.NotChannelMember, "not a member of channel %s", channelID))
			return
		}
		h.cfg.Logger.Error("directory lookup",
			zap.String("channel_id", channelID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "directory unavailable"})
		return
	}

	p, err := h.cfg.Hub.Join(r.Context(), channelID, member)
	if err != nil {
		h.reject(w, channelID, err)
		return
	}
	writeJSON(w, http.StatusOK, JoinResponse{Success: true, ChannelID: channelID, Player: &p})
}

func (h *handlers) leave(w http.ResponseWriter, r *http.Request) {
	channelID := mux.Vars(r)["channel_id"]
	userID := callerID(r)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing user identity"})
		return
	}
	if err := h.cfg.Hub.Leave(r.Context(), channelID, userID); err != nil {
		h.reject(w, channelID, err)
		return
	}
	writeJSON(w, http.StatusOK, JoinResponse{Success: true, ChannelID: channelID})
}

func (h *handlers) commands(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, CommandsResponse{Commands: h.cfg.Hub.Registry().Definitions()})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Health != nil {
		if err := h.cfg.Health(r.Context()); err != nil {
			h.cfg.Logger.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable"})
			return
		}
	}
	body := HealthResponse{Status: "ok", Channels: h.cfg.Hub.Len()}
	if h.cfg.Sessions != nil {
		body.Sessions = h.cfg.Sessions.Count()
		body.WatchedChannels = h.cfg.Sessions.ChannelCount()
	}
	writeJSON(w, http.StatusOK, body)
}

// reject maps err onto a status code and JSON body.
func (h *handlers) reject(w http.ResponseWriter, channelID string, err error) {
	kind, ok := command.KindOf(err)
	if !ok {
		h.cfg.Logger.Error("battle request", zap.String("channel_id", channelID), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "battle unavailable"})
		return
	}
	resp := JoinResponse{ChannelID: channelID, Error: string(kind)}
	var rej *command.Rejection
	if errors.As(err, &rej) {
		resp.Message = rej.Message
	}
	writeJSON(w, statusFor(kind), resp)
}

func statusFor(kind command.ErrorKind) int {
	switch kind {
	case command.NotChannelMember:
		return http.StatusForbidden
	case command.NotInBattle:
		return http.StatusNotFound
	case command.AlreadyJoined, command.NoSpawnAvailable:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	ws "github.com/gorilla/websocket"

	"github.com/ajenpan/surfmatch/core/auth"
	xerr "github.com/ajenpan/surfmatch/core/errors"
	"github.com/ajenpan/surfmatch/core/registry"
	"github.com/ajenpan/surfmatch/server/match"
)

type JoinRequest struct {
	Player match.PlayerInfo `json:"player"`
}

type JoinResponse struct {
	Success  bool   `json:"success"`
	QueuePos int    `json:"queuePos"`
	TicketID string `json:"ticketID"`
	Role     string `json:"role"`
}

type StatusResponse struct {
	Status        string             `json:"status"`
	QueuePosition int                `json:"queuePosition,omitempty"`
	MatchID       string             `json:"matchID,omitempty"`
	Survivors     []match.PlayerInfo `json:"survivors,omitempty"`
	Killer        *match.PlayerInfo  `json:"killer,omitempty"`
}

type QueuesResponse struct {
	Survivors int `json:"survivors"`
	Killers   int `json:"killers"`
}

func NewStatusResponse(st match.Status) *StatusResponse {
	resp := &StatusResponse{Status: string(st.State), QueuePosition: st.Position}
	if st.State == match.StateMatched && st.Match != nil {
		killer := st.Match.Killer.Info()
		resp.MatchID = st.Match.ID
		resp.Survivors = st.Match.SurvivorInfos()
		resp.Killer = &killer
	}
	return resp
}

type NodeLister interface {
	Nodes(ctx context.Context) ([]registry.NodeInfo, error)
}

type Options struct {
	Manager  *match.Manager
	Resolver *match.Resolver
	// Auth is optional. When set, join requires a bearer token whose player
	// id equals the joining player.
	Auth *auth.TokenAuth
	// Nodes backs GET /match/nodes; nil answers with an empty list.
	Nodes NodeLister
	Log   *slog.Logger
}

type Handler struct {
	opts     Options
	upgrader ws.Upgrader
}

func New(opts Options) *Handler {
	if opts.Log == nil {
		opts.Log = slog.Default().With("module", "match-http")
	}
	h := &Handler{opts: opts}
	h.upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	return h
}

func (h *Handler) log() *slog.Logger {
	return h.opts.Log
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", h.Health)
	r.Route("/match", func(r chi.Router) {
		r.Post("/join", h.Join)
		r.Get("/status/{ticketID}", h.Status)
		r.Get("/watch/{ticketID}", h.Watch)
		r.Get("/queues", h.Queues)
		r.Get("/nodes", h.Nodes)
		r.Delete("/{matchID}", h.RemoveMatch)
	})
	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("OK"))
}

func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	req := &JoinRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		h.writeError(w, http.StatusBadRequest, xerr.Wrap(xerr.CodeInvalidParticipant, err, "bad join body"))
		return
	}

	if h.opts.Auth != nil {
		if err := h.checkIdentity(r, req.Player.ID); err != nil {
			h.writeError(w, http.StatusUnauthorized, err)
			return
		}
	}

	p, err := h.opts.Manager.Join(r.Context(), req.Player)
	if err != nil {
		h.writeError(w, statusOf(err), err)
		return
	}
	// zero when a match already took the ticket
	pos, _, err := h.opts.Manager.Position(r.Context(), p.TicketID)
	if err != nil {
		h.log().Debug("queue position", "ticket", p.TicketID, "err", err)
	}
	h.writeJSON(w, http.StatusOK, &JoinResponse{Success: true, QueuePos: pos, TicketID: p.TicketID, Role: string(p.Role)})
}

func (h *Handler) checkIdentity(r *http.Request, playerID string) error {
	raw, err := auth.BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return xerr.Wrap(xerr.CodeInvalidParticipant, err, "unauthorized")
	}
	id, err := h.opts.Auth.Verify(raw)
	if err != nil {
		return xerr.Wrap(xerr.CodeInvalidParticipant, err, "unauthorized")
	}
	if id.PlayerID != playerID {
		return xerr.New(xerr.CodeInvalidParticipant, "token does not belong to this player")
	}
	return nil
}

// Status long-polls until the ticket is matched or the wait window closes.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	ticket := chi.URLParam(r, "ticketID")
	st, err := h.opts.Resolver.AwaitStatus(r.Context(), ticket, 0)
	if err != nil {
		h.writeError(w, statusOf(err), err)
		return
	}
	if st.State == match.StateUnknown {
		h.writeError(w, http.StatusNotFound, xerr.Newf(xerr.CodeNotFound, "ticket %s not found", ticket))
		return
	}
	h.writeJSON(w, http.StatusOK, NewStatusResponse(st))
}

// Watch pushes the status once the ticket is matched. The client closing
// its side ends the wait.
func (h *Handler) Watch(w http.ResponseWriter, r *http.Request) {
	ticket := chi.URLParam(r, "ticketID")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log().Warn("watch upgrade failed", "ticket", ticket, "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// drain reads so close frames are seen
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	st, err := h.opts.Resolver.Watch(ctx, ticket)
	if ctx.Err() != nil {
		return
	}

	deadline := time.Now().Add(5 * time.Second)
	closeCode := ws.CloseNormalClosure
	if err != nil {
		conn.SetWriteDeadline(deadline)
		conn.WriteJSON(xerr.FromError(err))
		closeCode = ws.CloseInternalServerErr
	} else if st.State == match.StateUnknown {
		conn.SetWriteDeadline(deadline)
		conn.WriteJSON(xerr.Newf(xerr.CodeNotFound, "ticket %s not found", ticket))
	} else {
		conn.SetWriteDeadline(deadline)
		if err := conn.WriteJSON(NewStatusResponse(st)); err != nil {
			h.log().Warn("watch write failed", "ticket", ticket, "err", err)
			return
		}
	}
	conn.WriteControl(ws.CloseMessage, ws.FormatCloseMessage(closeCode, ""), deadline)
}

func (h *Handler) Queues(w http.ResponseWriter, r *http.Request) {
	ns, nk, err := h.opts.Manager.QueueSizes(r.Context())
	if err != nil {
		h.writeError(w, statusOf(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, &QueuesResponse{Survivors: ns, Killers: nk})
}

func (h *Handler) Nodes(w http.ResponseWriter, r *http.Request) {
	nodes := []registry.NodeInfo{}
	if h.opts.Nodes != nil {
		var err error
		if nodes, err = h.opts.Nodes.Nodes(r.Context()); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, xerr.Wrap(xerr.CodeBackend, err, "list nodes"))
			return
		}
	}
	h.writeJSON(w, http.StatusOK, nodes)
}

func (h *Handler) RemoveMatch(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	m, ok, err := h.opts.Manager.RemoveMatch(r.Context(), matchID)
	if err != nil {
		h.writeError(w, statusOf(err), err)
		return
	}
	if !ok {
		h.writeError(w, http.StatusNotFound, xerr.Newf(xerr.CodeNotFound, "match %s not found", matchID))
		return
	}
	h.log().Info("match removed", "match", m.ID)
	w.WriteHeader(http.StatusNoContent)
}

func statusOf(err error) int {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	switch xerr.Code(err) {
	case xerr.CodeInvalidParticipant, xerr.CodeUnknownRole:
		return http.StatusBadRequest
	case xerr.CodeDuplicateTicket:
		return http.StatusConflict
	case xerr.CodeNotFound:
		return http.StatusNotFound
	case xerr.CodeBackend, xerr.CodeLockLost:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log().Warn("write response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, code int, err error) {
	if code >= http.StatusInternalServerError {
		h.log().Error("request failed", "status", code, "err", err)
	}
	h.writeJSON(w, code, xerr.FromError(err))
}

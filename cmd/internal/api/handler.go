package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"parley/cmd/internal/auth/session"
	"parley/cmd/internal/chat"
	"parley/cmd/internal/pagination"
)

// Handler serves the JSON query and mutation API under /v1.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	chat     *chat.Service
	sessions *session.Service
	limiter  *accountLimiter
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

func WithLogger(log *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

func WithConfig(cfg Config) HandlerOption {
	return func(h *Handler) { h.cfg = cfg }
}

// NewHandler constructs the API handler.
func NewHandler(svc *chat.Service, sessions *session.Service, opts ...HandlerOption) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("api: nil chat service")
	}
	if sessions == nil {
		return nil, errors.New("api: nil session service")
	}
	h := &Handler{
		log:      slog.Default(),
		cfg:      DefaultConfig(),
		chat:     svc,
		sessions: sessions,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.cfg = h.cfg.withDefaults()
	h.limiter = newAccountLimiter(h.cfg.MutationEvents, h.cfg.MutationWindow)
	return h, nil
}

// Register wires API routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}

	mux.HandleFunc("POST /v1/accounts", h.handleCreateAccount)
	mux.HandleFunc("GET /v1/accounts", h.authed(h.handleSearchAccounts))
	mux.HandleFunc("GET /v1/accounts/me", h.authed(h.handleMe))
	mux.HandleFunc("PATCH /v1/accounts/me", h.mutation(h.handleUpdateMe))
	mux.HandleFunc("DELETE /v1/accounts/me", h.mutation(h.handleDeleteMe))
	mux.HandleFunc("GET /v1/accounts/{id}", h.authed(h.handleAccount))
	mux.HandleFunc("GET /v1/accounts/{id}/online-status", h.authed(h.handleOnlineStatus))
	mux.HandleFunc("DELETE /v1/session", h.authed(h.handleLogout))

	mux.HandleFunc("GET /v1/chats", h.authed(h.handleReadChats))
	mux.HandleFunc("POST /v1/chats/private", h.mutation(h.handleCreatePrivateChat))
	mux.HandleFunc("POST /v1/chats/group", h.mutation(h.handleCreateGroupChat))
	mux.HandleFunc("GET /v1/chats/{id}", h.optional(h.handleChat))
	mux.HandleFunc("PATCH /v1/chats/{id}", h.mutation(h.handleUpdateGroupChat))
	mux.HandleFunc("DELETE /v1/chats/{id}", h.mutation(h.handleDeletePrivateChat))
	mux.HandleFunc("POST /v1/chats/{id}/join", h.mutation(h.handleJoinPublicChat))
	mux.HandleFunc("POST /v1/chats/{id}/leave", h.mutation(h.handleLeaveChat))
	mux.HandleFunc("POST /v1/chats/{id}/members", h.mutation(h.handleAddMembers))
	mux.HandleFunc("DELETE /v1/chats/{id}/members/{user}", h.mutation(h.handleRemoveMember))
	mux.HandleFunc("POST /v1/chats/{id}/invites", h.mutation(h.handleCreateInvite))
	mux.HandleFunc("POST /v1/invites/join", h.mutation(h.handleJoinWithInvite))

	mux.HandleFunc("GET /v1/chats/{id}/messages", h.optional(h.handleReadMessages))
	mux.HandleFunc("POST /v1/chats/{id}/messages", h.mutation(h.handleCreateMessage))
	mux.HandleFunc("PATCH /v1/messages/{id}", h.mutation(h.handleEditMessage))
	mux.HandleFunc("DELETE /v1/messages/{id}", h.mutation(h.handleDeleteMessage))

	mux.HandleFunc("POST /v1/presence/online", h.mutation(h.handleSetOnline))
	mux.HandleFunc("POST /v1/chats/{id}/typing", h.mutation(h.handleSetTyping))
	mux.HandleFunc("GET /v1/online-statuses", h.authed(h.handleReadOnlineStatuses))

	if h.cfg.DevEndpoints {
		mux.HandleFunc("POST /v1/dev/accounts/{id}/verify", h.handleDevVerify)
		mux.HandleFunc("POST /v1/dev/sessions", h.handleDevSession)
	}
}

// ---- authentication ----

// viewer is the authenticated caller. id is zero for anonymous readers.
type viewer struct {
	id     int64
	claims session.AccessClaims
}

type viewerHandler func(http.ResponseWriter, *http.Request, viewer)

// authed requires a valid bearer token.
func (h *Handler) authed(next viewerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, ok := h.requireAuth(w, r)
		if !ok {
			return
		}
		next(w, r, v)
	}
}

// optional authenticates when a token is present and otherwise serves the
// request anonymously.
func (h *Handler) optional(next viewerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(r.Header.Get("Authorization")) == "" {
			next(w, r, viewer{})
			return
		}
		v, ok := h.requireAuth(w, r)
		if !ok {
			return
		}
		next(w, r, v)
	}
}

// mutation is authed plus the per-account write limiter.
func (h *Handler) mutation(next viewerHandler) http.HandlerFunc {
	return h.authed(func(w http.ResponseWriter, r *http.Request, v viewer) {
		if ok, retry := h.limiter.allow(v.id); !ok {
			h.log.Info("api.rate_limited", "user_id", v.id, "path", r.URL.Path)
			writeRateLimited(w, retry)
			return
		}
		next(w, r, v)
	})
}

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (viewer, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return viewer{}, false
	}
	claims, err := h.sessions.Authenticate(r.Context(), token)
	switch {
	case session.IsUnauthenticated(err):
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return viewer{}, false
	case err != nil:
		h.log.Error("api.auth.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return viewer{}, false
	}
	id, err := chat.ParseRecipientID(claims.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return viewer{}, false
	}
	return viewer{id: id, claims: claims}, true
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// ---- errors ----

// writeServiceError maps the chat error taxonomy onto HTTP. Internal errors
// are logged and surfaced opaquely.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, chat.ErrInvalidArgument), errors.Is(err, pagination.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "invalid_argument", clientMessage(err, "invalid argument"))
	case errors.Is(err, chat.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthorized", clientMessage(err, "authentication required"))
	case errors.Is(err, chat.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", clientMessage(err, "forbidden"))
	case errors.Is(err, chat.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", clientMessage(err, "not found"))
	case errors.Is(err, chat.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", clientMessage(err, "conflict"))
	default:
		h.log.Error("api.request.fail", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func clientMessage(err error, fallback string) string {
	var op chat.OpError
	if errors.As(err, &op) && op.Msg != "" {
		return op.Msg
	}
	var conflict chat.ConflictError
	if errors.As(err, &conflict) && conflict.Field != "" {
		return conflict.Field + " already taken"
	}
	var nf chat.NotFoundError
	if errors.As(err, &nf) && nf.Resource != "" {
		return nf.Resource + " not found"
	}
	if errors.Is(err, pagination.ErrInvalidArgument) {
		return err.Error()
	}
	return fallback
}

// ---- request helpers ----

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (h *Handler) requirePathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, ok := pathID(r, name)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_argument", "invalid "+name)
	}
	return id, ok
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return false
	}
	return true
}

// pageArgs reads first/after/last/before from the query string.
func pageArgs(r *http.Request) (pagination.Args, error) {
	q := r.URL.Query()
	var args pagination.Args

	intArg := func(name string) (*int, error) {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			return nil, nil
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s must be an integer", pagination.ErrInvalidArgument, name)
		}
		return &n, nil
	}
	cursorArg := func(name string) (*pagination.Cursor, error) {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			return nil, nil
		}
		c, err := pagination.ParseCursor(raw)
		if err != nil {
			return nil, err
		}
		return &c, nil
	}

	var err error
	if args.First, err = intArg("first"); err != nil {
		return pagination.Args{}, err
	}
	if args.Last, err = intArg("last"); err != nil {
		return pagination.Args{}, err
	}
	if args.After, err = cursorArg("after"); err != nil {
		return pagination.Args{}, err
	}
	if args.Before, err = cursorArg("before"); err != nil {
		return pagination.Args{}, err
	}
	return args, nil
}

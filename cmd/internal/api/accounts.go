package api

import (
	"net/http"

	"parley/cmd/internal/chat"
	"parley/cmd/internal/pagination"
)

func (h *Handler) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.chat.CreateAccount(r.Context(), chat.NewAccountInput{
		Username:     req.Username,
		EmailAddress: req.EmailAddress,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Bio:          req.Bio,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.log.Info("api.account.created", "user_id", a.ID)
	writeJSON(w, http.StatusCreated, a)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request, v viewer) {
	a, err := h.chat.Account(r.Context(), v.id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) handleUpdateMe(w http.ResponseWriter, r *http.Request, v viewer) {
	var req updateAccountRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.chat.UpdateAccount(r.Context(), v.id, chat.AccountUpdate{
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Bio:       req.Bio,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleDeleteMe deletes the caller's account. Every live subscription of
// the account completes and the current session is revoked.
func (h *Handler) handleDeleteMe(w http.ResponseWriter, r *http.Request, v viewer) {
	if err := h.chat.DeleteAccount(r.Context(), v.id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.sessions.Revoke(v.claims.SessionID, v.claims.ExpiresAt)
	h.log.Info("api.account.deleted", "user_id", v.id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAccount(w http.ResponseWriter, r *http.Request, _ viewer) {
	id, ok := h.requirePathID(w, r, "id")
	if !ok {
		return
	}
	a, err := h.chat.Account(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.View())
}

func (h *Handler) handleSearchAccounts(w http.ResponseWriter, r *http.Request, _ viewer) {
	args, err := pageArgs(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	conn, err := h.chat.SearchAccounts(r.Context(), r.URL.Query().Get("query"), args)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pagination.MapConnection(conn, chat.Account.View))
}

func (h *Handler) handleLogout(w http.ResponseWriter, _ *http.Request, v viewer) {
	h.sessions.Revoke(v.claims.SessionID, v.claims.ExpiresAt)
	w.WriteHeader(http.StatusNoContent)
}

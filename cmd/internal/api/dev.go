package api

import (
	"net/http"

	"parley/cmd/internal/auth/session"
	"parley/cmd/internal/chat"
)

// Development-only endpoints. Account verification and credential checks
// live outside this server; these stand in for them locally.

func (h *Handler) handleDevVerify(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requirePathID(w, r, "id")
	if !ok {
		return
	}
	a, err := h.chat.VerifyAccount(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.log.Warn("api.dev.verify", "user_id", a.ID)
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) handleDevSession(w http.ResponseWriter, r *http.Request) {
	var req devSessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	issued, err := h.sessions.IssueSession(r.Context(), chat.RecipientID(req.AccountID))
	if err != nil {
		if session.IsUnauthenticated(err) {
			writeError(w, http.StatusForbidden, "forbidden", "account is unknown or unverified")
			return
		}
		h.writeServiceError(w, r, err)
		return
	}
	h.log.Warn("api.dev.session", "user_id", req.AccountID, "session_id", issued.SessionID)
	writeJSON(w, http.StatusCreated, sessionResponse{
		SessionID:       issued.SessionID,
		AccessToken:     issued.AccessToken,
		AccessExpiresAt: issued.AccessExp,
	})
}

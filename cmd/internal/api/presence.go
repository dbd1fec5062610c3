package api

import (
	"net/http"
)

func (h *Handler) handleSetOnline(w http.ResponseWriter, r *http.Request, v viewer) {
	var req onlineRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.chat.SetOnline(r.Context(), v.id, req.Online); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSetTyping(w http.ResponseWriter, r *http.Request, v viewer) {
	id, ok := h.requirePathID(w, r, "id")
	if !ok {
		return
	}
	var req typingRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.chat.SetTyping(r.Context(), v.id, id, req.Typing); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleOnlineStatus(w http.ResponseWriter, r *http.Request, _ viewer) {
	id, ok := h.requirePathID(w, r, "id")
	if !ok {
		return
	}
	st, err := h.chat.OnlineStatus(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) handleReadOnlineStatuses(w http.ResponseWriter, r *http.Request, v viewer) {
	args, err := pageArgs(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	conn, err := h.chat.ReadOnlineStatuses(r.Context(), v.id, args)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

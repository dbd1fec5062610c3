package api

import (
	"net/http"

	"parley/cmd/internal/chat"
	"parley/cmd/internal/pagination"
)

// handleReadMessages pages through a chat's messages. Anonymous callers may
// read public groups.
func (h *Handler) handleReadMessages(w http.ResponseWriter, r *http.Request, v viewer) {
	id, ok := h.requirePathID(w, r, "id")
	if !ok {
		return
	}
	args, err := pageArgs(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	conn, err := h.chat.ReadMessages(r.Context(), v.id, id, args)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pagination.MapConnection(conn, chat.Message.View))
}

func (h *Handler) handleCreateMessage(w http.ResponseWriter, r *http.Request, v viewer) {
	id, ok := h.requirePathID(w, r, "id")
	if !ok {
		return
	}
	var req messageRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.chat.CreateMessage(r.Context(), v.id, id, req.Text)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m.View())
}

func (h *Handler) handleEditMessage(w http.ResponseWriter, r *http.Request, v viewer) {
	id, ok := h.requirePathID(w, r, "id")
	if !ok {
		return
	}
	var req messageRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.chat.EditMessage(r.Context(), v.id, id, req.Text)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m.View())
}

func (h *Handler) handleDeleteMessage(w http.ResponseWriter, r *http.Request, v viewer) {
	id, ok := h.requirePathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.chat.DeleteMessage(r.Context(), v.id, id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

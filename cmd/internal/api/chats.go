package api

import (
	"net/http"

	"parley/cmd/internal/chat"
	"parley/cmd/internal/pagination"
)

func (h *Handler) handleReadChats(w http.ResponseWriter, r *http.Request, v viewer) {
	args, err := pageArgs(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	conn, err := h.chat.ReadChats(r.Context(), v.id, args)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pagination.MapConnection(conn, chat.Chat.View))
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request, v viewer) {
	id, ok := h.requirePathID(w, r, "id")
	if !ok {
		return
	}
	c, err := h.chat.Chat(r.Context(), v.id, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.View())
}

func (h *Handler) handleCreatePrivateChat(w http.ResponseWriter, r *http.Request, v viewer) {
	var req createPrivateChatRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.chat.CreatePrivateChat(r.Context(), v.id, req.UserID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c.View())
}

func (h *Handler) handleCreateGroupChat(w http.ResponseWriter, r *http.Request, v viewer) {
	var req createGroupChatRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.chat.CreateGroupChat(r.Context(), v.id, chat.GroupChatInput{
		Title:       req.Title,
		Description: req.Description,
		IsPublic:    req.IsPublic,
		Members:     req.Members,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c.View())
}

func (h *Handler) handleUpdateGroupChat(w http.ResponseWriter, r *http.Request, v viewer) {
	id, ok := h.requirePathID(w, r, "id")
	if !ok {
		return
	}
	var req updateGroupChatRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.chat.UpdateGroupChat(r.Context(), v.id, id, chat.GroupChatUpdate{
		Title:       req.Title,
		Description: req.Description,
		IsPublic:    req.IsPublic,
		Admins:      req.Admins,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.View())
}

func (h *Handler) handleDeletePrivateChat(w http.ResponseWriter, r *http.Request, v viewer) {
	id, ok := h.requirePathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.chat.DeletePrivateChat(r.Context(), v.id, id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleJoinPublicChat(w http.ResponseWriter, r *http.Request, v viewer) {
	id, ok := h.requirePathID(w, r, "id")
	if !ok {
		return
	}
	c, err := h.chat.JoinPublicChat(r.Context(), v.id, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.View())
}

func (h *Handler) handleLeaveChat(w http.ResponseWriter, r *http.Request, v viewer) {
	id, ok := h.requirePathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.chat.LeaveChat(r.Context(), v.id, id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAddMembers(w http.ResponseWriter, r *http.Request, v viewer) {
	id, ok := h.requirePathID(w, r, "id")
	if !ok {
		return
	}
	var req addMembersRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.chat.AddMembers(r.Context(), v.id, id, req.UserIDs)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.View())
}

func (h *Handler) handleRemoveMember(w http.ResponseWriter, r *http.Request, v viewer) {
	id, ok := h.requirePathID(w, r, "id")
	if !ok {
		return
	}
	user, ok := h.requirePathID(w, r, "user")
	if !ok {
		return
	}
	c, err := h.chat.RemoveMember(r.Context(), v.id, id, user)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.View())
}

func (h *Handler) handleCreateInvite(w http.ResponseWriter, r *http.Request, v viewer) {
	id, ok := h.requirePathID(w, r, "id")
	if !ok {
		return
	}
	var req createInviteRequest
	if !h.decode(w, r, &req) {
		return
	}
	inv, code, err := h.chat.CreateInvite(r.Context(), v.id, id, h.cfg.inviteTTL(req.ExpiresInSeconds), req.MaxUses)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.log.Info("api.invite.created", "user_id", v.id, "chat_id", id, "invite_id", inv.ID)
	writeJSON(w, http.StatusCreated, toInviteResponse(inv, code))
}

func (h *Handler) handleJoinWithInvite(w http.ResponseWriter, r *http.Request, v viewer) {
	var req joinInviteRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.chat.JoinWithInvite(r.Context(), v.id, req.Code)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.View())
}

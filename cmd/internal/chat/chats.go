package chat

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"parley/cmd/internal/broker"
	"parley/cmd/internal/invite"
	"parley/cmd/internal/pagination"
	v1 "parley/shared/contracts/realtime/v1"
)

const (
	MaxTitleLen       = 70
	MaxDescriptionLen = 1000
)

// GroupChatInput is the payload of CreateGroupChat. The creator is always a
// member and the first admin.
type GroupChatInput struct {
	Title       string
	Description string
	IsPublic    bool
	Members     []int64
}

// GroupChatUpdate changes only the non-nil fields. Admins, when set, replaces
// the admin list and must name current members.
type GroupChatUpdate struct {
	Title       *string
	Description *string
	IsPublic    *bool
	Admins      []int64
}

func validateGroupText(op, title, description string) error {
	if n := utf8.RuneCountInString(title); n == 0 || n > MaxTitleLen {
		return invalid(op, "title must be 1-70 characters")
	}
	if utf8.RuneCountInString(description) > MaxDescriptionLen {
		return invalid(op, "description is too long")
	}
	return nil
}

// CreatePrivateChat opens the one private chat between actor and other.
func (s *Service) CreatePrivateChat(ctx context.Context, actor, other int64) (Chat, error) {
	const op = "chat.CreatePrivateChat"

	if actor == other {
		return Chat{}, invalid(op, "cannot chat with yourself")
	}
	if _, err := s.store.Account(ctx, other); err != nil {
		return Chat{}, err
	}
	existing, err := s.store.ChatsOf(ctx, actor)
	if err != nil {
		return Chat{}, err
	}
	for _, c := range existing {
		if c.Kind == KindPrivate && c.HasMember(other) {
			return Chat{}, ConflictError{Op: op, Field: "chat"}
		}
	}

	c, err := s.store.CreateChat(ctx, Chat{Kind: KindPrivate, Members: []int64{actor, other}})
	if err != nil {
		return Chat{}, err
	}
	s.publish(broker.TopicChats, v1.NewChat{Chat: c.View()}, recipients(c.Members))
	s.log.Info("chat.private.create", "chat_id", c.ID)
	return c, nil
}

// CreateGroupChat creates a group with actor as its admin.
func (s *Service) CreateGroupChat(ctx context.Context, actor int64, in GroupChatInput) (Chat, error) {
	const op = "chat.CreateGroupChat"

	title := strings.TrimSpace(in.Title)
	desc := strings.TrimSpace(in.Description)
	if err := validateGroupText(op, title, desc); err != nil {
		return Chat{}, err
	}

	members := []int64{actor}
	for _, id := range in.Members {
		if slices.Contains(members, id) {
			continue
		}
		if _, err := s.store.Account(ctx, id); err != nil {
			return Chat{}, err
		}
		members = append(members, id)
	}

	c, err := s.store.CreateChat(ctx, Chat{
		Kind:        KindGroup,
		Title:       title,
		Description: desc,
		IsPublic:    in.IsPublic,
		Members:     members,
		Admins:      []int64{actor},
	})
	if err != nil {
		return Chat{}, err
	}
	s.publish(broker.TopicChats, v1.NewChat{Chat: c.View()}, recipients(c.Members))
	s.log.Info("chat.group.create", "chat_id", c.ID, "members", len(c.Members))
	return c, nil
}

// UpdateGroupChat edits group metadata (admins only).
func (s *Service) UpdateGroupChat(ctx context.Context, actor, chatID int64, upd GroupChatUpdate) (Chat, error) {
	const op = "chat.UpdateGroupChat"

	c, err := s.adminChat(ctx, op, actor, chatID)
	if err != nil {
		return Chat{}, err
	}
	wasPublic := c.IsPublic
	ev := v1.UpdatedGroupChat{ChatID: c.ID}

	if upd.Title != nil {
		c.Title = strings.TrimSpace(*upd.Title)
		ev.Title = &c.Title
	}
	if upd.Description != nil {
		c.Description = strings.TrimSpace(*upd.Description)
		ev.Description = &c.Description
	}
	if upd.IsPublic != nil {
		c.IsPublic = *upd.IsPublic
		ev.IsPublic = &c.IsPublic
	}
	if upd.Admins != nil {
		if len(upd.Admins) == 0 {
			return Chat{}, invalid(op, "a group needs at least one admin")
		}
		for _, id := range upd.Admins {
			if !c.HasMember(id) {
				return Chat{}, invalid(op, "admins must be members")
			}
		}
		c.Admins = slices.Compact(slices.Sorted(slices.Values(upd.Admins)))
		ev.Admins = slices.Clone(c.Admins)
	}
	if err := validateGroupText(op, c.Title, c.Description); err != nil {
		return Chat{}, err
	}
	if err := s.store.UpdateChat(ctx, c); err != nil {
		return Chat{}, err
	}

	// A chat that just went private still tells its public watchers, then drops them.
	to := audience(c)
	if wasPublic && !c.IsPublic {
		to = append(to, broker.PublicRecipient)
	}
	s.publish(broker.TopicGroupChats, ev, to)
	if wasPublic && !c.IsPublic {
		s.completeChatStreams(c.ID, broker.PublicRecipient, false, ReasonChatPrivate)
		if s.invites != nil {
			_, _ = s.invites.RevokeChat(ctx, c.ID)
		}
	}
	return c, nil
}

// AddMembers adds accounts to a group (admins only).
func (s *Service) AddMembers(ctx context.Context, actor, chatID int64, ids []int64) (Chat, error) {
	const op = "chat.AddMembers"

	c, err := s.adminChat(ctx, op, actor, chatID)
	if err != nil {
		return Chat{}, err
	}
	for _, id := range ids {
		if _, err := s.store.Account(ctx, id); err != nil {
			return Chat{}, err
		}
	}
	return s.addMembers(ctx, c, ids)
}

func (s *Service) addMembers(ctx context.Context, c Chat, ids []int64) (Chat, error) {
	var added []int64
	for _, id := range ids {
		if !c.HasMember(id) && !slices.Contains(added, id) {
			added = append(added, id)
		}
	}
	if len(added) == 0 {
		return c, nil
	}
	c.Members = append(c.Members, added...)
	if err := s.store.UpdateChat(ctx, c); err != nil {
		return Chat{}, err
	}

	s.publish(broker.TopicChats, v1.NewChat{Chat: c.View()}, recipients(added))
	s.publish(broker.TopicGroupChats, v1.UpdatedGroupChat{ChatID: c.ID, AddedMembers: added}, audience(c))
	s.log.Info("chat.members.add", "chat_id", c.ID, "added", len(added))
	return c, nil
}

// RemoveMember removes userID from a group. Admins may remove anyone; any
// member may remove themselves.
func (s *Service) RemoveMember(ctx context.Context, actor, chatID, userID int64) (Chat, error) {
	const op = "chat.RemoveMember"

	c, err := s.memberChat(ctx, op, actor, chatID)
	if err != nil {
		return Chat{}, err
	}
	if c.Kind != KindGroup {
		return Chat{}, invalid(op, "not a group chat")
	}
	if actor != userID && !c.IsAdmin(actor) {
		return Chat{}, forbidden(op, "admin only")
	}
	if !c.HasMember(userID) {
		return Chat{}, NotFoundError{Op: op, Resource: "member", ID: userID}
	}
	return s.removeMember(ctx, c, userID)
}

// LeaveChat removes the actor from a group chat.
func (s *Service) LeaveChat(ctx context.Context, actor, chatID int64) error {
	_, err := s.RemoveMember(ctx, actor, chatID, actor)
	return err
}

func (s *Service) removeMember(ctx context.Context, c Chat, userID int64) (Chat, error) {
	c.Members = slices.DeleteFunc(c.Members, func(m int64) bool { return m == userID })
	c.Admins = slices.DeleteFunc(c.Admins, func(m int64) bool { return m == userID })

	if len(c.Members) == 0 {
		// Last one out: the leaver still hears about the deletion.
		c.Members = []int64{userID}
		return Chat{}, s.deleteChat(ctx, c, ReasonChatDeleted)
	}
	if len(c.Admins) == 0 {
		c.Admins = []int64{c.Members[0]}
	}
	if err := s.store.UpdateChat(ctx, c); err != nil {
		return Chat{}, err
	}
	s.presence.stopTyping(c.ID, userID)

	s.publish(broker.TopicGroupChats, v1.ExitedUsers{ChatID: c.ID, UserIDs: []int64{userID}}, audience(c))
	s.publish(broker.TopicChats, v1.DeletedChat{ChatID: c.ID}, []string{RecipientID(userID)})
	n := s.completeChatStreams(c.ID, RecipientID(userID), false, ReasonLeftChat)
	s.log.Info("chat.members.remove", "chat_id", c.ID, "account_id", userID, "streams_completed", n)
	return c, nil
}

// DeletePrivateChat deletes a private chat; either participant may do so.
func (s *Service) DeletePrivateChat(ctx context.Context, actor, chatID int64) error {
	const op = "chat.DeletePrivateChat"

	c, err := s.memberChat(ctx, op, actor, chatID)
	if err != nil {
		return err
	}
	if c.Kind != KindPrivate {
		return invalid(op, "not a private chat")
	}
	return s.deleteChat(ctx, c, ReasonChatDeleted)
}

func (s *Service) deleteChat(ctx context.Context, c Chat, reason string) error {
	if err := s.store.DeleteChat(ctx, c.ID); err != nil {
		return err
	}
	if s.invites != nil {
		if _, err := s.invites.RevokeChat(ctx, c.ID); err != nil {
			s.log.Warn("chat.invites.revoke_failed", "chat_id", c.ID, "err", err)
		}
	}
	s.publish(broker.TopicChats, v1.DeletedChat{ChatID: c.ID}, recipients(c.Members))
	n := s.completeChatStreams(c.ID, "", true, reason)
	s.log.Info("chat.delete", "chat_id", c.ID, "streams_completed", n)
	return nil
}

// JoinPublicChat adds the actor to a public group.
func (s *Service) JoinPublicChat(ctx context.Context, actor, chatID int64) (Chat, error) {
	const op = "chat.JoinPublicChat"

	c, err := s.store.Chat(ctx, chatID)
	if err != nil {
		return Chat{}, err
	}
	if c.Kind != KindGroup || !c.IsPublic {
		return Chat{}, forbidden(op, "chat is not public")
	}
	return s.addMembers(ctx, c, []int64{actor})
}

// CreateInvite issues an invite code into a group (admins only).
func (s *Service) CreateInvite(ctx context.Context, actor, chatID int64, ttl time.Duration, maxUses int) (invite.Invite, string, error) {
	const op = "chat.CreateInvite"

	if s.invites == nil {
		return invite.Invite{}, "", invalid(op, "invites are disabled")
	}
	c, err := s.adminChat(ctx, op, actor, chatID)
	if err != nil {
		return invite.Invite{}, "", err
	}
	inv, code, err := s.invites.CreateInvite(ctx, invite.CreateInput{
		ChatID:    c.ID,
		CreatedBy: actor,
		TTL:       ttl,
		MaxUses:   maxUses,
		Now:       s.now(),
	})
	if errors.Is(err, invite.ErrInvalidInput) {
		return invite.Invite{}, "", invalid(op, "invalid invite parameters")
	}
	return inv, code, err
}

// JoinWithInvite redeems an invite code and adds the actor to its chat.
func (s *Service) JoinWithInvite(ctx context.Context, actor int64, code string) (Chat, error) {
	const op = "chat.JoinWithInvite"

	if s.invites == nil {
		return Chat{}, invalid(op, "invites are disabled")
	}
	inv, err := s.invites.ConsumeInvite(ctx, invite.ConsumeInput{Code: code, ConsumedBy: actor, Now: s.now()})
	switch {
	case errors.Is(err, invite.ErrNotFound), errors.Is(err, invite.ErrNotActive):
		return Chat{}, NotFoundError{Op: op, Resource: "invite"}
	case errors.Is(err, invite.ErrInvalidInput):
		return Chat{}, invalid(op, "invite code is required")
	case err != nil:
		return Chat{}, err
	}

	c, err := s.store.Chat(ctx, inv.ChatID)
	if err != nil {
		return Chat{}, err
	}
	return s.addMembers(ctx, c, []int64{actor})
}

// Chat returns a chat the viewer belongs to, or any public group.
func (s *Service) Chat(ctx context.Context, viewer, chatID int64) (Chat, error) {
	return s.readableChat(ctx, "chat.Chat", viewer, chatID)
}

// ReadChats pages through the viewer's chats.
func (s *Service) ReadChats(ctx context.Context, viewer int64, args pagination.Args) (pagination.Connection[Chat], error) {
	req, err := request("chat.ReadChats", args)
	if err != nil {
		return pagination.Connection[Chat]{}, err
	}
	chats, err := s.store.ChatsOf(ctx, viewer)
	if err != nil {
		return pagination.Connection[Chat]{}, err
	}
	return pagination.Paginate(pagination.Collect(chats, chatCursor), req), nil
}

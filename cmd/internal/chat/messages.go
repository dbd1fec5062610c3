package chat

import (
	"context"
	"strings"
	"unicode/utf8"

	"parley/cmd/internal/broker"
	"parley/cmd/internal/pagination"
	v1 "parley/shared/contracts/realtime/v1"
)

const MaxMessageLen = 10000

func messageText(op, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", invalid(op, "message text is required")
	}
	if utf8.RuneCountInString(text) > MaxMessageLen {
		return "", invalid(op, "message text is too long")
	}
	return text, nil
}

// CreateMessage posts text to a chat the actor belongs to.
func (s *Service) CreateMessage(ctx context.Context, actor, chatID int64, text string) (Message, error) {
	const op = "chat.CreateMessage"

	text, err := messageText(op, text)
	if err != nil {
		return Message{}, err
	}
	c, err := s.memberChat(ctx, op, actor, chatID)
	if err != nil {
		return Message{}, err
	}
	m, err := s.store.CreateMessage(ctx, Message{ChatID: c.ID, SenderID: actor, Text: text})
	if err != nil {
		return Message{}, err
	}

	s.presence.stopTyping(c.ID, actor)
	s.publish(broker.TopicMessages, v1.NewMessage{Message: m.View()}, audience(c))
	return m, nil
}

// EditMessage replaces the text of the actor's own message.
func (s *Service) EditMessage(ctx context.Context, actor, messageID int64, text string) (Message, error) {
	const op = "chat.EditMessage"

	text, err := messageText(op, text)
	if err != nil {
		return Message{}, err
	}
	m, err := s.store.Message(ctx, messageID)
	if err != nil {
		return Message{}, err
	}
	if m.SenderID != actor {
		return Message{}, forbidden(op, "only the sender may edit a message")
	}
	c, err := s.memberChat(ctx, op, actor, m.ChatID)
	if err != nil {
		return Message{}, err
	}

	m.Text = text
	m.Edited = true
	if err := s.store.UpdateMessage(ctx, m); err != nil {
		return Message{}, err
	}
	s.publish(broker.TopicMessages, v1.UpdatedMessage{Message: m.View()}, audience(c))
	return m, nil
}

// DeleteMessage deletes a message; the sender or a group admin may do so.
func (s *Service) DeleteMessage(ctx context.Context, actor, messageID int64) error {
	const op = "chat.DeleteMessage"

	m, err := s.store.Message(ctx, messageID)
	if err != nil {
		return err
	}
	c, err := s.memberChat(ctx, op, actor, m.ChatID)
	if err != nil {
		return err
	}
	if m.SenderID != actor && !c.IsAdmin(actor) {
		return forbidden(op, "only the sender or an admin may delete a message")
	}
	if err := s.store.DeleteMessage(ctx, m.ID); err != nil {
		return err
	}
	s.publish(broker.TopicMessages, v1.DeletedMessage{ChatID: c.ID, MessageID: m.ID}, audience(c))
	return nil
}

// ReadMessages pages through a chat's messages, oldest first. Public groups
// are readable by anyone; pass viewer 0 for an anonymous reader.
func (s *Service) ReadMessages(ctx context.Context, viewer, chatID int64, args pagination.Args) (pagination.Connection[Message], error) {
	const op = "chat.ReadMessages"

	req, err := request(op, args)
	if err != nil {
		return pagination.Connection[Message]{}, err
	}
	if _, err := s.readableChat(ctx, op, viewer, chatID); err != nil {
		return pagination.Connection[Message]{}, err
	}
	msgs, err := s.store.Messages(ctx, chatID)
	if err != nil {
		return pagination.Connection[Message]{}, err
	}
	return pagination.Paginate(pagination.Collect(msgs, messageCursor), req), nil
}

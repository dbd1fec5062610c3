package v1

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TypenameField is the discriminant field written into every encoded event.
const TypenameField = "__typename"

// Event discriminants (wire-stable).
const (
	EventCreatedSubscription = "CreatedSubscription"

	EventNewMessage     = "NewMessage"
	EventUpdatedMessage = "UpdatedMessage"
	EventDeletedMessage = "DeletedMessage"

	EventNewAccount     = "NewAccount"
	EventUpdatedAccount = "UpdatedAccount"
	EventDeletedAccount = "DeletedAccount"

	EventNewChat     = "NewChat"
	EventDeletedChat = "DeletedChat"

	EventUpdatedGroupChat = "UpdatedGroupChat"
	EventExitedUsers      = "ExitedUsers"

	EventTypingStatus = "TypingStatus"
	EventOnlineStatus = "OnlineStatus"
)

// ---- Views ----

type Account struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	Bio       string    `json:"bio,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Chat struct {
	ID          int64     `json:"id"`
	Kind        string    `json:"kind"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	IsPublic    bool      `json:"is_public"`
	Members     []int64   `json:"members"`
	Admins      []int64   `json:"admins,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Message struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chat_id"`
	SenderID  int64     `json:"sender_id"`
	Text      string    `json:"text"`
	Edited    bool      `json:"edited"`
	CreatedAt time.Time `json:"created_at"`
}

// ---- Events ----

// CreatedSubscription is always the first event of a stream.
type CreatedSubscription struct{}

func (CreatedSubscription) EventType() string { return EventCreatedSubscription }

type NewMessage struct {
	Message Message `json:"message"`
}

func (NewMessage) EventType() string { return EventNewMessage }

type UpdatedMessage struct {
	Message Message `json:"message"`
}

func (UpdatedMessage) EventType() string { return EventUpdatedMessage }

type DeletedMessage struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int64 `json:"message_id"`
}

func (DeletedMessage) EventType() string { return EventDeletedMessage }

type NewAccount struct {
	Account Account `json:"account"`
}

func (NewAccount) EventType() string { return EventNewAccount }

type UpdatedAccount struct {
	Account Account `json:"account"`
}

func (UpdatedAccount) EventType() string { return EventUpdatedAccount }

type DeletedAccount struct {
	AccountID int64 `json:"account_id"`
}

func (DeletedAccount) EventType() string { return EventDeletedAccount }

type NewChat struct {
	Chat Chat `json:"chat"`
}

func (NewChat) EventType() string { return EventNewChat }

type DeletedChat struct {
	ChatID int64 `json:"chat_id"`
}

func (DeletedChat) EventType() string { return EventDeletedChat }

// UpdatedGroupChat lists only what changed; nil fields are unchanged.
type UpdatedGroupChat struct {
	ChatID       int64   `json:"chat_id"`
	Title        *string `json:"title,omitempty"`
	Description  *string `json:"description,omitempty"`
	IsPublic     *bool   `json:"is_public,omitempty"`
	AddedMembers []int64 `json:"added_members,omitempty"`
	Admins       []int64 `json:"admins,omitempty"`
}

func (UpdatedGroupChat) EventType() string { return EventUpdatedGroupChat }

type ExitedUsers struct {
	ChatID  int64   `json:"chat_id"`
	UserIDs []int64 `json:"user_ids"`
}

func (ExitedUsers) EventType() string { return EventExitedUsers }

type TypingStatus struct {
	ChatID   int64 `json:"chat_id"`
	UserID   int64 `json:"user_id"`
	IsTyping bool  `json:"is_typing"`
}

func (TypingStatus) EventType() string { return EventTypingStatus }

type OnlineStatus struct {
	UserID     int64      `json:"user_id"`
	IsOnline   bool       `json:"is_online"`
	LastOnline *time.Time `json:"last_online,omitempty"`
}

func (OnlineStatus) EventType() string { return EventOnlineStatus }

// ---- Encoding ----

// TypedEvent is implemented by every event in this package.
type TypedEvent interface {
	EventType() string
}

// EncodeEvent marshals ev as a JSON object with the "__typename" discriminant first.
func EncodeEvent(ev TypedEvent) (json.RawMessage, error) {
	if ev == nil {
		return nil, errors.New("nil event")
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("event %s does not encode as an object", ev.EventType())
	}
	name, _ := json.Marshal(ev.EventType())

	var buf bytes.Buffer
	buf.Grow(len(body) + len(name) + 16)
	buf.WriteString(`{"` + TypenameField + `":`)
	buf.Write(name)
	if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// DecodeEvent reverses EncodeEvent.
func DecodeEvent(raw json.RawMessage) (TypedEvent, error) {
	var head struct {
		Typename string `json:"__typename"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}

	var ev TypedEvent
	switch head.Typename {
	case EventCreatedSubscription:
		return CreatedSubscription{}, nil
	case EventNewMessage:
		ev = &NewMessage{}
	case EventUpdatedMessage:
		ev = &UpdatedMessage{}
	case EventDeletedMessage:
		ev = &DeletedMessage{}
	case EventNewAccount:
		ev = &NewAccount{}
	case EventUpdatedAccount:
		ev = &UpdatedAccount{}
	case EventDeletedAccount:
		ev = &DeletedAccount{}
	case EventNewChat:
		ev = &NewChat{}
	case EventDeletedChat:
		ev = &DeletedChat{}
	case EventUpdatedGroupChat:
		ev = &UpdatedGroupChat{}
	case EventExitedUsers:
		ev = &ExitedUsers{}
	case EventTypingStatus:
		ev = &TypingStatus{}
	case EventOnlineStatus:
		ev = &OnlineStatus{}
	case "":
		return nil, fmt.Errorf("missing %s", TypenameField)
	default:
		return nil, fmt.Errorf("unknown event %q", head.Typename)
	}
	if err := json.Unmarshal(raw, ev); err != nil {
		return nil, err
	}
	return deref(ev), nil
}

func deref(ev TypedEvent) TypedEvent {
	switch e := ev.(type) {
	case *NewMessage:
		return *e
	case *UpdatedMessage:
		return *e
	case *DeletedMessage:
		return *e
	case *NewAccount:
		return *e
	case *UpdatedAccount:
		return *e
	case *DeletedAccount:
		return *e
	case *NewChat:
		return *e
	case *DeletedChat:
		return *e
	case *UpdatedGroupChat:
		return *e
	case *ExitedUsers:
		return *e
	case *TypingStatus:
		return *e
	case *OnlineStatus:
		return *e
	}
	return ev
}

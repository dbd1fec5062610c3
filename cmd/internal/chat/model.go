package chat

import (
	"slices"
	"strconv"
	"time"

	"parley/cmd/internal/pagination"
	v1 "parley/shared/contracts/realtime/v1"
)

// ChatKind distinguishes two-person chats from group chats.
type ChatKind string

const (
	KindPrivate ChatKind = "private"
	KindGroup   ChatKind = "group"
)

// Account is a registered user. Verified accounts may authenticate.
type Account struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Bio          string    `json:"bio"`
	Verified     bool      `json:"verified"`
	CreatedAt    time.Time `json:"created_at"`
}

// Chat is either a private chat between two accounts or a group chat.
type Chat struct {
	ID          int64     `json:"id"`
	Kind        ChatKind  `json:"kind"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	IsPublic    bool      `json:"is_public"`
	Members     []int64   `json:"members"`
	Admins      []int64   `json:"admins,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Message is a text message posted in a chat.
type Message struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chat_id"`
	SenderID  int64     `json:"sender_id"`
	Text      string    `json:"text"`
	Edited    bool      `json:"edited"`
	CreatedAt time.Time `json:"created_at"`
}

// OnlineStatus is the presence of one account.
type OnlineStatus struct {
	UserID     int64      `json:"user_id"`
	IsOnline   bool       `json:"is_online"`
	LastOnline *time.Time `json:"last_online,omitempty"`
}

func (c Chat) HasMember(id int64) bool { return slices.Contains(c.Members, id) }
func (c Chat) IsAdmin(id int64) bool   { return slices.Contains(c.Admins, id) }

// Other returns the counterpart of id in a private chat.
func (c Chat) Other(id int64) int64 {
	for _, m := range c.Members {
		if m != id {
			return m
		}
	}
	return 0
}

// ---- cursors ----

func accountCursor(a Account) pagination.Cursor     { return pagination.Cursor(a.ID) }
func chatCursor(c Chat) pagination.Cursor           { return pagination.Cursor(c.ID) }
func messageCursor(m Message) pagination.Cursor     { return pagination.Cursor(m.ID) }
func statusCursor(s OnlineStatus) pagination.Cursor { return pagination.Cursor(s.UserID) }

// ---- wire views ----

func (a Account) View() v1.Account {
	return v1.Account{
		ID:        a.ID,
		Username:  a.Username,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Bio:       a.Bio,
		CreatedAt: a.CreatedAt,
	}
}

func (c Chat) View() v1.Chat {
	return v1.Chat{
		ID:          c.ID,
		Kind:        string(c.Kind),
		Title:       c.Title,
		Description: c.Description,
		IsPublic:    c.IsPublic,
		Members:     slices.Clone(c.Members),
		Admins:      slices.Clone(c.Admins),
		CreatedAt:   c.CreatedAt,
	}
}

func (m Message) View() v1.Message {
	return v1.Message{
		ID:        m.ID,
		ChatID:    m.ChatID,
		SenderID:  m.SenderID,
		Text:      m.Text,
		Edited:    m.Edited,
		CreatedAt: m.CreatedAt,
	}
}

// RecipientID is the broker identity of an account.
func RecipientID(id int64) string { return strconv.FormatInt(id, 10) }

// ParseRecipientID reverses RecipientID.
func ParseRecipientID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, OpError{Op: "chat.ParseRecipientID", Kind: ErrInvalidArgument, Msg: "malformed account id"}
	}
	return id, nil
}

// ChatScope is the broker scope of chat-bound registrations.
func ChatScope(chatID int64) string { return "chat:" + strconv.FormatInt(chatID, 10) }

func recipients(ids []int64, exclude ...int64) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if slices.Contains(exclude, id) {
			continue
		}
		out = append(out, RecipientID(id))
	}
	return out
}

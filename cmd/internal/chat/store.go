package chat

import "context"

// Store persists accounts, chats and messages.
//
// Requirements for every implementation:
//   - IDs are assigned on create, strictly increasing per entity, never reused.
//   - Collection reads (Accounts, ChatsOf, Messages) return rows ascending by ID,
//     read from one consistent snapshot.
//   - Missing rows yield NotFoundError; uniqueness violations yield ConflictError.
//   - DeleteChat also deletes the chat's messages.
type Store interface {
	CreateAccount(ctx context.Context, a Account) (Account, error)
	UpdateAccount(ctx context.Context, a Account) error
	DeleteAccount(ctx context.Context, id int64) error
	Account(ctx context.Context, id int64) (Account, error)
	AccountByUsername(ctx context.Context, username string) (Account, error)
	Accounts(ctx context.Context) ([]Account, error)

	CreateChat(ctx context.Context, c Chat) (Chat, error)
	UpdateChat(ctx context.Context, c Chat) error
	DeleteChat(ctx context.Context, id int64) error
	Chat(ctx context.Context, id int64) (Chat, error)
	ChatsOf(ctx context.Context, memberID int64) ([]Chat, error)

	CreateMessage(ctx context.Context, m Message) (Message, error)
	UpdateMessage(ctx context.Context, m Message) error
	DeleteMessage(ctx context.Context, id int64) error
	Message(ctx context.Context, id int64) (Message, error)
	Messages(ctx context.Context, chatID int64) ([]Message, error)

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error
	Close() error
}

package chat

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

// MemoryStore is a Store held in process memory. It is the default backend
// for tests and for single-node development.
type MemoryStore struct {
	mu sync.RWMutex

	now func() time.Time

	accountSeq int64
	chatSeq    int64
	messageSeq int64

	accounts map[int64]Account
	chats    map[int64]Chat
	messages map[int64]Message
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      func() time.Time { return time.Now().UTC() },
		accounts: make(map[int64]Account),
		chats:    make(map[int64]Chat),
		messages: make(map[int64]Message),
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, a Account) (Account, error) {
	const op = "chat.MemoryStore.CreateAccount"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkUniqueLocked(op, 0, a); err != nil {
		return Account{}, err
	}
	s.accountSeq++
	a.ID = s.accountSeq
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	s.accounts[a.ID] = a
	return a, nil
}

func (s *MemoryStore) UpdateAccount(_ context.Context, a Account) error {
	const op = "chat.MemoryStore.UpdateAccount"

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.accounts[a.ID]
	if !ok {
		return NotFoundError{Op: op, Resource: "account", ID: a.ID}
	}
	if err := s.checkUniqueLocked(op, a.ID, a); err != nil {
		return err
	}
	a.CreatedAt = prev.CreatedAt
	s.accounts[a.ID] = a
	return nil
}

func (s *MemoryStore) checkUniqueLocked(op string, self int64, a Account) error {
	for id, other := range s.accounts {
		if id == self {
			continue
		}
		if other.Username == a.Username {
			return ConflictError{Op: op, Field: "username"}
		}
		if other.EmailAddress == a.EmailAddress {
			return ConflictError{Op: op, Field: "email_address"}
		}
	}
	return nil
}

func (s *MemoryStore) DeleteAccount(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[id]; !ok {
		return NotFoundError{Op: "chat.MemoryStore.DeleteAccount", Resource: "account", ID: id}
	}
	delete(s.accounts, id)
	return nil
}

func (s *MemoryStore) Account(_ context.Context, id int64) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return Account{}, NotFoundError{Op: "chat.MemoryStore.Account", Resource: "account", ID: id}
	}
	return a, nil
}

func (s *MemoryStore) AccountByUsername(_ context.Context, username string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.accounts {
		if a.Username == username {
			return a, nil
		}
	}
	return Account{}, NotFoundError{Op: "chat.MemoryStore.AccountByUsername", Resource: "account"}
}

func (s *MemoryStore) Accounts(_ context.Context) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return sortedByID(s.accounts, func(a Account) int64 { return a.ID }), nil
}

func (s *MemoryStore) CreateChat(_ context.Context, c Chat) (Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chatSeq++
	c.ID = s.chatSeq
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	c = cloneChat(c)
	s.chats[c.ID] = c
	return cloneChat(c), nil
}

func (s *MemoryStore) UpdateChat(_ context.Context, c Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.chats[c.ID]
	if !ok {
		return NotFoundError{Op: "chat.MemoryStore.UpdateChat", Resource: "chat", ID: c.ID}
	}
	c.Kind = prev.Kind
	c.CreatedAt = prev.CreatedAt
	s.chats[c.ID] = cloneChat(c)
	return nil
}

func (s *MemoryStore) DeleteChat(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[id]; !ok {
		return NotFoundError{Op: "chat.MemoryStore.DeleteChat", Resource: "chat", ID: id}
	}
	delete(s.chats, id)
	maps.DeleteFunc(s.messages, func(_ int64, m Message) bool { return m.ChatID == id })
	return nil
}

func (s *MemoryStore) Chat(_ context.Context, id int64) (Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chats[id]
	if !ok {
		return Chat{}, NotFoundError{Op: "chat.MemoryStore.Chat", Resource: "chat", ID: id}
	}
	return cloneChat(c), nil
}

func (s *MemoryStore) ChatsOf(_ context.Context, memberID int64) ([]Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Chat, 0)
	for _, c := range s.chats {
		if c.HasMember(memberID) {
			out = append(out, cloneChat(c))
		}
	}
	slices.SortFunc(out, func(a, b Chat) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, m Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[m.ChatID]; !ok {
		return Message{}, NotFoundError{Op: "chat.MemoryStore.CreateMessage", Resource: "chat", ID: m.ChatID}
	}
	s.messageSeq++
	m.ID = s.messageSeq
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	s.messages[m.ID] = m
	return m, nil
}

func (s *MemoryStore) UpdateMessage(_ context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.messages[m.ID]
	if !ok {
		return NotFoundError{Op: "chat.MemoryStore.UpdateMessage", Resource: "message", ID: m.ID}
	}
	prev.Text = m.Text
	prev.Edited = m.Edited
	s.messages[m.ID] = prev
	return nil
}

func (s *MemoryStore) DeleteMessage(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[id]; !ok {
		return NotFoundError{Op: "chat.MemoryStore.DeleteMessage", Resource: "message", ID: id}
	}
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) Message(_ context.Context, id int64) (Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return Message{}, NotFoundError{Op: "chat.MemoryStore.Message", Resource: "message", ID: id}
	}
	return m, nil
}

func (s *MemoryStore) Messages(_ context.Context, chatID int64) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, 0)
	for _, m := range s.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, func(a, b Message) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func sortedByID[T any](m map[int64]T, id func(T) int64) []T {
	out := slices.Collect(maps.Values(m))
	slices.SortFunc(out, func(a, b T) int { return cmp.Compare(id(a), id(b)) })
	if out == nil {
		out = []T{}
	}
	return out
}

func cloneChat(c Chat) Chat {
	c.Members = slices.Clone(c.Members)
	c.Admins = slices.Clone(c.Admins)
	return c
}

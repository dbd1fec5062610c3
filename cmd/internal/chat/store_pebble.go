package chat

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// Key layout (all integers big-endian so iteration is ascending by ID):
//
//	seq/<entity>                  -> last assigned id
//	a/<account>                   -> Account JSON
//	u/<username>                  -> account id
//	e/<email>                     -> account id
//	c/<chat>                      -> Chat JSON
//	mc/<member><chat>             -> empty (membership index)
//	m/<chat><message>             -> Message JSON
//	mi/<message>                  -> chat id
var (
	prefixAccount    = []byte("a/")
	prefixUsername   = []byte("u/")
	prefixEmail      = []byte("e/")
	prefixChat       = []byte("c/")
	prefixMembership = []byte("mc/")
	prefixMessage    = []byte("m/")
	prefixMessageIdx = []byte("mi/")

	seqAccount = []byte("seq/account")
	seqChat    = []byte("seq/chat")
	seqMessage = []byte("seq/message")
)

// PebbleStore is a Store on an embedded Pebble database.
type PebbleStore struct {
	db  *pebble.DB
	now func() time.Time

	// mu serializes writers; sequence allocation and index checks are read-modify-write.
	mu sync.Mutex
}

var _ Store = (*PebbleStore)(nil)

type PebbleOption func(*pebbleConfig) error

type pebbleConfig struct {
	fs vfs.FS
}

// WithFS overrides the filesystem (vfs.NewMem() in tests).
func WithFS(fs vfs.FS) PebbleOption {
	return func(c *pebbleConfig) error {
		if fs == nil {
			return errors.New("pebble fs is nil")
		}
		c.fs = fs
		return nil
	}
}

// OpenPebbleStore opens (or creates) the database at dir.
func OpenPebbleStore(dir string, opts ...PebbleOption) (*PebbleStore, error) {
	var cfg pebbleConfig
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if dir == "" {
		return nil, errors.New("pebble dir is required")
	}
	db, err := pebble.Open(dir, &pebble.Options{FS: cfg.fs})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &PebbleStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *PebbleStore) CreateAccount(_ context.Context, a Account) (Account, error) {
	const op = "chat.PebbleStore.CreateAccount"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkUniqueLocked(op, 0, a); err != nil {
		return Account{}, err
	}
	id, err := s.nextLocked(seqAccount)
	if err != nil {
		return Account{}, err
	}
	a.ID = id
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := s.putJSON(b, key(prefixAccount, id), a); err != nil {
		return Account{}, err
	}
	_ = b.Set(append(clone(prefixUsername), a.Username...), u64(id), nil)
	_ = b.Set(append(clone(prefixEmail), a.EmailAddress...), u64(id), nil)
	_ = b.Set(seqAccount, u64(id), nil)
	if err := b.Commit(pebble.Sync); err != nil {
		return Account{}, fmt.Errorf("%s: %w", op, err)
	}
	return a, nil
}

func (s *PebbleStore) UpdateAccount(_ context.Context, a Account) error {
	const op = "chat.PebbleStore.UpdateAccount"

	s.mu.Lock()
	defer s.mu.Unlock()

	var prev Account
	if err := s.getJSON(key(prefixAccount, a.ID), &prev); err != nil {
		return notFoundOr(err, NotFoundError{Op: op, Resource: "account", ID: a.ID})
	}
	if err := s.checkUniqueLocked(op, a.ID, a); err != nil {
		return err
	}
	a.CreatedAt = prev.CreatedAt

	b := s.db.NewBatch()
	defer b.Close()
	if prev.Username != a.Username {
		_ = b.Delete(append(clone(prefixUsername), prev.Username...), nil)
		_ = b.Set(append(clone(prefixUsername), a.Username...), u64(a.ID), nil)
	}
	if prev.EmailAddress != a.EmailAddress {
		_ = b.Delete(append(clone(prefixEmail), prev.EmailAddress...), nil)
		_ = b.Set(append(clone(prefixEmail), a.EmailAddress...), u64(a.ID), nil)
	}
	if err := s.putJSON(b, key(prefixAccount, a.ID), a); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *PebbleStore) checkUniqueLocked(op string, self int64, a Account) error {
	for _, idx := range []struct {
		prefix []byte
		value  string
		field  string
	}{
		{prefixUsername, a.Username, "username"},
		{prefixEmail, a.EmailAddress, "email_address"},
	} {
		raw, err := s.get(append(clone(idx.prefix), idx.value...))
		if errors.Is(err, pebble.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if owner := int64(binary.BigEndian.Uint64(raw)); owner != self {
			return ConflictError{Op: op, Field: idx.field}
		}
	}
	return nil
}

func (s *PebbleStore) DeleteAccount(_ context.Context, id int64) error {
	const op = "chat.PebbleStore.DeleteAccount"

	s.mu.Lock()
	defer s.mu.Unlock()

	var a Account
	if err := s.getJSON(key(prefixAccount, id), &a); err != nil {
		return notFoundOr(err, NotFoundError{Op: op, Resource: "account", ID: id})
	}
	b := s.db.NewBatch()
	defer b.Close()
	_ = b.Delete(key(prefixAccount, id), nil)
	_ = b.Delete(append(clone(prefixUsername), a.Username...), nil)
	_ = b.Delete(append(clone(prefixEmail), a.EmailAddress...), nil)
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *PebbleStore) Account(_ context.Context, id int64) (Account, error) {
	var a Account
	if err := s.getJSON(key(prefixAccount, id), &a); err != nil {
		return Account{}, notFoundOr(err, NotFoundError{Op: "chat.PebbleStore.Account", Resource: "account", ID: id})
	}
	return a, nil
}

func (s *PebbleStore) AccountByUsername(ctx context.Context, username string) (Account, error) {
	raw, err := s.get(append(clone(prefixUsername), username...))
	if err != nil {
		return Account{}, notFoundOr(err, NotFoundError{Op: "chat.PebbleStore.AccountByUsername", Resource: "account"})
	}
	return s.Account(ctx, int64(binary.BigEndian.Uint64(raw)))
}

func (s *PebbleStore) Accounts(_ context.Context) ([]Account, error) {
	out := make([]Account, 0)
	err := s.scan(prefixAccount, func(_, v []byte) error {
		var a Account
		if err := json.Unmarshal(v, &a); err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("chat.PebbleStore.Accounts: %w", err)
	}
	return out, nil
}

func (s *PebbleStore) CreateChat(_ context.Context, c Chat) (Chat, error) {
	const op = "chat.PebbleStore.CreateChat"

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.nextLocked(seqChat)
	if err != nil {
		return Chat{}, err
	}
	c.ID = id
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := s.putJSON(b, key(prefixChat, id), c); err != nil {
		return Chat{}, err
	}
	for _, m := range c.Members {
		_ = b.Set(membershipKey(m, id), nil, nil)
	}
	_ = b.Set(seqChat, u64(id), nil)
	if err := b.Commit(pebble.Sync); err != nil {
		return Chat{}, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

func (s *PebbleStore) UpdateChat(_ context.Context, c Chat) error {
	const op = "chat.PebbleStore.UpdateChat"

	s.mu.Lock()
	defer s.mu.Unlock()

	var prev Chat
	if err := s.getJSON(key(prefixChat, c.ID), &prev); err != nil {
		return notFoundOr(err, NotFoundError{Op: op, Resource: "chat", ID: c.ID})
	}
	c.Kind = prev.Kind
	c.CreatedAt = prev.CreatedAt

	b := s.db.NewBatch()
	defer b.Close()
	for _, m := range prev.Members {
		if !c.HasMember(m) {
			_ = b.Delete(membershipKey(m, c.ID), nil)
		}
	}
	for _, m := range c.Members {
		_ = b.Set(membershipKey(m, c.ID), nil, nil)
	}
	if err := s.putJSON(b, key(prefixChat, c.ID), c); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *PebbleStore) DeleteChat(_ context.Context, id int64) error {
	const op = "chat.PebbleStore.DeleteChat"

	s.mu.Lock()
	defer s.mu.Unlock()

	var c Chat
	if err := s.getJSON(key(prefixChat, id), &c); err != nil {
		return notFoundOr(err, NotFoundError{Op: op, Resource: "chat", ID: id})
	}

	b := s.db.NewBatch()
	defer b.Close()
	_ = b.Delete(key(prefixChat, id), nil)
	for _, m := range c.Members {
		_ = b.Delete(membershipKey(m, id), nil)
	}
	msgPrefix := key(prefixMessage, id)
	err := s.scan(msgPrefix, func(k, _ []byte) error {
		msgID := binary.BigEndian.Uint64(k[len(msgPrefix):])
		_ = b.Delete(key(prefixMessageIdx, int64(msgID)), nil)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	_ = b.DeleteRange(msgPrefix, upperBound(msgPrefix), nil)
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *PebbleStore) Chat(_ context.Context, id int64) (Chat, error) {
	var c Chat
	if err := s.getJSON(key(prefixChat, id), &c); err != nil {
		return Chat{}, notFoundOr(err, NotFoundError{Op: "chat.PebbleStore.Chat", Resource: "chat", ID: id})
	}
	return c, nil
}

func (s *PebbleStore) ChatsOf(_ context.Context, memberID int64) ([]Chat, error) {
	const op = "chat.PebbleStore.ChatsOf"

	snap := s.db.NewSnapshot()
	defer snap.Close()

	prefix := key(prefixMembership, memberID)
	var ids []int64
	if err := scanReader(snap, prefix, func(k, _ []byte) error {
		ids = append(ids, int64(binary.BigEndian.Uint64(k[len(prefix):])))
		return nil
	}); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out := make([]Chat, 0, len(ids))
	for _, id := range ids {
		raw, closer, err := snap.Get(key(prefixChat, id))
		if errors.Is(err, pebble.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		var c Chat
		err = json.Unmarshal(raw, &c)
		_ = closer.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *PebbleStore) CreateMessage(_ context.Context, m Message) (Message, error) {
	const op = "chat.PebbleStore.CreateMessage"

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.get(key(prefixChat, m.ChatID)); err != nil {
		return Message{}, notFoundOr(err, NotFoundError{Op: op, Resource: "chat", ID: m.ChatID})
	}
	id, err := s.nextLocked(seqMessage)
	if err != nil {
		return Message{}, err
	}
	m.ID = id
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := s.putJSON(b, messageKey(m.ChatID, id), m); err != nil {
		return Message{}, err
	}
	_ = b.Set(key(prefixMessageIdx, id), u64(m.ChatID), nil)
	_ = b.Set(seqMessage, u64(id), nil)
	if err := b.Commit(pebble.Sync); err != nil {
		return Message{}, fmt.Errorf("%s: %w", op, err)
	}
	return m, nil
}

func (s *PebbleStore) UpdateMessage(ctx context.Context, m Message) error {
	const op = "chat.PebbleStore.UpdateMessage"

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.Message(ctx, m.ID)
	if err != nil {
		return err
	}
	prev.Text = m.Text
	prev.Edited = m.Edited
	raw, err := json.Marshal(prev)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.db.Set(messageKey(prev.ChatID, prev.ID), raw, pebble.Sync); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *PebbleStore) DeleteMessage(ctx context.Context, id int64) error {
	const op = "chat.PebbleStore.DeleteMessage"

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.Message(ctx, id)
	if err != nil {
		return err
	}
	b := s.db.NewBatch()
	defer b.Close()
	_ = b.Delete(messageKey(m.ChatID, id), nil)
	_ = b.Delete(key(prefixMessageIdx, id), nil)
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *PebbleStore) Message(_ context.Context, id int64) (Message, error) {
	nf := NotFoundError{Op: "chat.PebbleStore.Message", Resource: "message", ID: id}

	raw, err := s.get(key(prefixMessageIdx, id))
	if err != nil {
		return Message{}, notFoundOr(err, nf)
	}
	var m Message
	if err := s.getJSON(messageKey(int64(binary.BigEndian.Uint64(raw)), id), &m); err != nil {
		return Message{}, notFoundOr(err, nf)
	}
	return m, nil
}

func (s *PebbleStore) Messages(_ context.Context, chatID int64) ([]Message, error) {
	out := make([]Message, 0)
	err := s.scan(key(prefixMessage, chatID), func(_, v []byte) error {
		var m Message
		if err := json.Unmarshal(v, &m); err != nil {
			return err
		}
		out = append(out, m)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("chat.PebbleStore.Messages: %w", err)
	}
	return out, nil
}

func (s *PebbleStore) Ping(context.Context) error {
	_, err := s.get(seqAccount)
	if err == nil || errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	return err
}

func (s *PebbleStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- helpers ----

func (s *PebbleStore) nextLocked(seqKey []byte) (int64, error) {
	raw, err := s.get(seqKey)
	switch {
	case errors.Is(err, pebble.ErrNotFound):
		return 1, nil
	case err != nil:
		return 0, fmt.Errorf("read sequence %s: %w", seqKey, err)
	}
	return int64(binary.BigEndian.Uint64(raw)) + 1, nil
}

// get returns a copy of the value; pebble's slice is only valid until the closer runs.
func (s *PebbleStore) get(k []byte) ([]byte, error) {
	v, closer, err := s.db.Get(k)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return clone(v), nil
}

func (s *PebbleStore) getJSON(k []byte, dst any) error {
	raw, err := s.get(k)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func (s *PebbleStore) putJSON(b *pebble.Batch, k []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Set(k, raw, nil)
}

func (s *PebbleStore) scan(prefix []byte, fn func(k, v []byte) error) error {
	return scanReader(s.db, prefix, fn)
}

type iterSource interface {
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

func scanReader(r iterSource, prefix []byte, fn func(k, v []byte) error) error {
	iter, err := r.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	if err != nil {
		return err
	}
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			_ = iter.Close()
			return err
		}
	}
	return iter.Close()
}

func notFoundOr(err error, nf NotFoundError) error {
	if errors.Is(err, pebble.ErrNotFound) {
		return nf
	}
	return fmt.Errorf("%s: %w", nf.Op, err)
}

func key(prefix []byte, id int64) []byte {
	return append(clone(prefix), u64(id)...)
}

func messageKey(chatID, msgID int64) []byte {
	return append(key(prefixMessage, chatID), u64(msgID)...)
}

func membershipKey(member, chatID int64) []byte {
	return append(key(prefixMembership, member), u64(chatID)...)
}

func u64(v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return b[:]
}

func clone(b []byte) []byte { return append([]byte(nil), b...) }

// upperBound returns the smallest key greater than every key with prefix.
func upperBound(prefix []byte) []byte {
	end := clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

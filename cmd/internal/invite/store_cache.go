package invite

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// CacheStore keeps invites in an expiring in-process cache. Entries vanish
// once ExpiresAt passes, so expired codes read as not found.
type CacheStore struct {
	mu    sync.Mutex
	items *cache.Cache
}

var _ Store = (*CacheStore)(nil)

// NewCacheStore returns a store whose janitor sweeps expired invites every cleanup.
func NewCacheStore(cleanup time.Duration) *CacheStore {
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	return &CacheStore{items: cache.New(cache.NoExpiration, cleanup)}
}

func (s *CacheStore) Create(_ context.Context, in CreateRecord) (Invite, error) {
	if in.CodeHash == "" || in.ChatID <= 0 {
		return Invite{}, ErrInvalidInput
	}
	ttl := in.ExpiresAt.Sub(in.CreatedAt)
	if ttl <= 0 {
		return Invite{}, ErrInvalidInput
	}
	inv := Invite{
		ID:        in.ID,
		ChatID:    in.ChatID,
		CreatedBy: in.CreatedBy,
		CreatedAt: in.CreatedAt,
		ExpiresAt: in.ExpiresAt,
		MaxUses:   in.MaxUses,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.items.Add(in.CodeHash, inv, ttl); err != nil {
		return Invite{}, ErrInvalidInput
	}
	return inv, nil
}

func (s *CacheStore) GetByCodeHash(_ context.Context, codeHash string) (Invite, error) {
	v, ok := s.items.Get(codeHash)
	if !ok {
		return Invite{}, ErrNotFound
	}
	return v.(Invite), nil
}

func (s *CacheStore) Consume(_ context.Context, in ConsumeRecord) (Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, exp, ok := s.items.GetWithExpiration(in.CodeHash)
	if !ok {
		return Invite{}, ErrNotFound
	}
	inv := v.(Invite)
	if !inv.activeAt(in.Now) {
		return Invite{}, ErrNotActive
	}
	if slices.Contains(inv.ConsumedBy, in.ConsumedBy) {
		return inv, nil
	}
	inv.UsedCount++
	inv.ConsumedBy = append(slices.Clone(inv.ConsumedBy), in.ConsumedBy)

	ttl := cache.NoExpiration
	if !exp.IsZero() {
		ttl = time.Until(exp)
		if ttl <= 0 {
			return Invite{}, ErrNotActive
		}
	}
	s.items.Set(in.CodeHash, inv, ttl)
	return inv, nil
}

// RevokeChat drops the chat's invites outright; a cache has no use for tombstones.
func (s *CacheStore) RevokeChat(_ context.Context, chatID int64, _ time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, item := range s.items.Items() {
		inv := item.Object.(Invite)
		if inv.ChatID != chatID {
			continue
		}
		s.items.Delete(k)
		n++
	}
	return n, nil
}

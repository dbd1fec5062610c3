package invite

import (
	"context"
	"errors"
	"strings"
	"time"

	"parley/cmd/identity/ids"
	"parley/cmd/security/token"
)

const (
	defaultCodeBytes = 24
	defaultTTL       = 7 * 24 * time.Hour
	maxTTL           = 30 * 24 * time.Hour
)

// Invite grants membership of one group chat to whoever redeems its code.
type Invite struct {
	ID         string
	ChatID     int64
	CreatedBy  int64
	CreatedAt  time.Time
	ExpiresAt  time.Time
	MaxUses    int
	UsedCount  int
	ConsumedBy []int64
}

func (inv Invite) activeAt(now time.Time) bool {
	if !inv.ExpiresAt.After(now) {
		return false
	}
	return inv.MaxUses <= 0 || inv.UsedCount < inv.MaxUses
}

// CreateInput describes invite creation.
type CreateInput struct {
	ChatID    int64
	CreatedBy int64
	TTL       time.Duration
	MaxUses   int
	Now       time.Time
}

// ConsumeInput describes code redemption.
type ConsumeInput struct {
	Code       string
	ConsumedBy int64
	Now        time.Time
}

// Service manages invite creation, validation, and consumption.
// Only code hashes reach the store.
type Service struct {
	store     Store
	hasher    token.Hasher
	ids       *ids.Generator
	codeBytes int
}

// Option configures the Service.
type Option func(*Service) error

// WithCodeBytes sets the entropy of generated invite codes in bytes.
func WithCodeBytes(n int) Option {
	return func(s *Service) error {
		if n < token.MinOpaqueBytes || n > token.MaxOpaqueBytes {
			return ErrInvalidInput
		}
		s.codeBytes = n
		return nil
	}
}

// WithHasher keys code hashes (HMAC) instead of plain SHA-256.
func WithHasher(h token.Hasher) Option {
	return func(s *Service) error {
		s.hasher = h
		return nil
	}
}

// NewService constructs a Service with safe defaults.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	s := &Service{store: store, ids: ids.NewGenerator(), codeBytes: defaultCodeBytes}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// CreateInvite creates a new invite and returns it plus its plain code.
// The plain code is never stored.
func (s *Service) CreateInvite(ctx context.Context, in CreateInput) (Invite, string, error) {
	if s == nil || s.store == nil {
		return Invite{}, "", ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Invite{}, "", err
	}
	if in.ChatID <= 0 {
		return Invite{}, "", ErrInvalidInput
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	ttl := in.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if ttl > maxTTL {
		return Invite{}, "", ErrInvalidInput
	}
	maxUses := in.MaxUses
	if maxUses < 0 {
		return Invite{}, "", ErrInvalidInput
	}

	code, err := token.NewOpaque(s.codeBytes)
	if err != nil {
		return Invite{}, "", err
	}

	inv, err := s.store.Create(ctx, CreateRecord{
		ID:        s.ids.Next(now),
		CodeHash:  s.hasher.Hash(code),
		ChatID:    in.ChatID,
		CreatedBy: in.CreatedBy,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		MaxUses:   maxUses,
	})
	if err != nil {
		return Invite{}, "", err
	}
	return inv, code, nil
}

// ValidateInvite reports whether code is redeemable at now.
func (s *Service) ValidateInvite(ctx context.Context, code string, now time.Time) (bool, Invite, error) {
	if s == nil || s.store == nil {
		return false, Invite{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return false, Invite{}, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return false, Invite{}, ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	inv, err := s.store.GetByCodeHash(ctx, s.hasher.Hash(code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, Invite{}, nil
		}
		return false, Invite{}, err
	}
	return inv.activeAt(now), inv, nil
}

// ConsumeInvite redeems code for ConsumedBy. Redeeming twice by the same
// account succeeds without using up another slot.
func (s *Service) ConsumeInvite(ctx context.Context, in ConsumeInput) (Invite, error) {
	if s == nil || s.store == nil {
		return Invite{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	code := strings.TrimSpace(in.Code)
	if code == "" || in.ConsumedBy <= 0 {
		return Invite{}, ErrInvalidInput
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return s.store.Consume(ctx, ConsumeRecord{
		CodeHash:   s.hasher.Hash(code),
		ConsumedBy: in.ConsumedBy,
		Now:        now,
	})
}

// RevokeChat revokes all invites into chatID (chat deleted or made private).
func (s *Service) RevokeChat(ctx context.Context, chatID int64) (int, error) {
	if s == nil || s.store == nil {
		return 0, ErrInvalidInput
	}
	return s.store.RevokeChat(ctx, chatID, time.Now().UTC())
}

package invite

import (
	"context"
	"time"
)

// CreateRecord is a normalized invite insert payload.
type CreateRecord struct {
	ID        string
	CodeHash  string
	ChatID    int64
	CreatedBy int64
	CreatedAt time.Time
	ExpiresAt time.Time
	MaxUses   int
}

// ConsumeRecord describes a code redemption.
type ConsumeRecord struct {
	CodeHash   string
	ConsumedBy int64
	Now        time.Time
}

// Store is the persistence boundary for invites.
type Store interface {
	Create(ctx context.Context, in CreateRecord) (Invite, error)
	GetByCodeHash(ctx context.Context, codeHash string) (Invite, error)
	// Consume atomically checks the invite is active and increments its use count.
	Consume(ctx context.Context, in ConsumeRecord) (Invite, error)
	// RevokeChat revokes every invite for chatID and returns how many were revoked.
	RevokeChat(ctx context.Context, chatID int64, now time.Time) (int, error)
}

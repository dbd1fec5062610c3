package api

import (
	"time"

	"parley/cmd/internal/invite"
)

type createAccountRequest struct {
	Username     string `json:"username"`
	EmailAddress string `json:"email_address"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Bio          string `json:"bio"`
}

type updateAccountRequest struct {
	Username  *string `json:"username"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Bio       *string `json:"bio"`
}

type createPrivateChatRequest struct {
	UserID int64 `json:"user_id"`
}

type createGroupChatRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	IsPublic    bool    `json:"is_public"`
	Members     []int64 `json:"members"`
}

type updateGroupChatRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	IsPublic    *bool   `json:"is_public"`
	Admins      []int64 `json:"admins"`
}

type addMembersRequest struct {
	UserIDs []int64 `json:"user_ids"`
}

type createInviteRequest struct {
	ExpiresInSeconds int64 `json:"expires_in_seconds"`
	MaxUses          int   `json:"max_uses"`
}

type joinInviteRequest struct {
	Code string `json:"code"`
}

type messageRequest struct {
	Text string `json:"text"`
}

type onlineRequest struct {
	Online bool `json:"online"`
}

type typingRequest struct {
	Typing bool `json:"typing"`
}

type devSessionRequest struct {
	AccountID int64 `json:"account_id"`
}

type inviteResponse struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	ChatID    int64     `json:"chat_id"`
	ExpiresAt time.Time `json:"expires_at"`
	MaxUses   int       `json:"max_uses"`
}

type sessionResponse struct {
	SessionID       string    `json:"session_id"`
	AccessToken     string    `json:"access_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
}

func toInviteResponse(inv invite.Invite, code string) inviteResponse {
	return inviteResponse{
		ID:        inv.ID,
		Code:      code,
		ChatID:    inv.ChatID,
		ExpiresAt: inv.ExpiresAt,
		MaxUses:   inv.MaxUses,
	}
}

package session

import (
	"context"
	"strings"
	"time"

	"parley/cmd/identity/ids"

	"github.com/patrickmn/go-cache"
)

// AccountStatus reports whether an account exists and is verified.
type AccountStatus interface {
	AccountStatus(ctx context.Context, userID string) (exists, verified bool, err error)
}

// Service authenticates access tokens against live account state.
type Service struct {
	tokens   AccessTokenManager
	accounts AccountStatus
	ids      *ids.Generator
	now      func() time.Time

	// revoked holds session IDs until their last token would have expired.
	revoked *cache.Cache
}

// Issued is a freshly minted access token.
type Issued struct {
	SessionID   string
	AccessToken string
	AccessExp   time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a Service.
func NewService(tokens AccessTokenManager, accounts AccountStatus, opts ...Option) (*Service, error) {
	if tokens == nil || accounts == nil {
		return nil, ErrConfig
	}
	s := &Service{
		tokens:   tokens,
		accounts: accounts,
		ids:      ids.NewGenerator(),
		now:      func() time.Time { return time.Now().UTC() },
		revoked:  cache.New(cache.NoExpiration, 5*time.Minute),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// IssueSession mints an access token for a verified account under a new session ID.
func (s *Service) IssueSession(ctx context.Context, userID string) (Issued, error) {
	if err := s.checkAccount(ctx, userID); err != nil {
		return Issued{}, err
	}
	now := s.now()
	sid := s.ids.Next(now)
	tok, exp, err := s.tokens.Issue(userID, sid, now)
	if err != nil {
		return Issued{}, err
	}
	return Issued{SessionID: sid, AccessToken: tok, AccessExp: exp}, nil
}

// Authenticate verifies token and the state of the account it names.
func (s *Service) Authenticate(ctx context.Context, token string) (AccessClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return AccessClaims{}, ErrInvalidToken
	}
	claims, err := s.tokens.Verify(token, s.now())
	if err != nil {
		return AccessClaims{}, err
	}
	if _, ok := s.revoked.Get(claims.SessionID); ok {
		return AccessClaims{}, ErrSessionRevoked
	}
	if err := s.checkAccount(ctx, claims.UserID); err != nil {
		return AccessClaims{}, err
	}
	return claims, nil
}

// Revoke denylists a session until until (normally the token's expiry).
func (s *Service) Revoke(sessionID string, until time.Time) {
	if sessionID == "" {
		return
	}
	ttl := until.Sub(s.now())
	if ttl <= 0 {
		return
	}
	s.revoked.Set(sessionID, struct{}{}, ttl)
}

func (s *Service) checkAccount(ctx context.Context, userID string) error {
	exists, verified, err := s.accounts.AccountStatus(ctx, userID)
	switch {
	case err != nil:
		return err
	case !exists:
		return ErrUnknownAccount
	case !verified:
		return ErrUnverifiedAccount
	}
	return nil
}

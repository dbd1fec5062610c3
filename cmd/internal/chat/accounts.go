package chat

import (
	"context"
	"strings"

	"parley/cmd/identity"
	"parley/cmd/internal/broker"
	"parley/cmd/internal/pagination"
	v1 "parley/shared/contracts/realtime/v1"
)

// NewAccountInput is the payload of CreateAccount.
type NewAccountInput struct {
	Username     string
	EmailAddress string
	FirstName    string
	LastName     string
	Bio          string
}

// AccountUpdate changes only the non-nil fields.
type AccountUpdate struct {
	Username  *string
	FirstName *string
	LastName  *string
	Bio       *string
}

func validateAccount(op string, a Account) error {
	for _, err := range []error{
		identity.ValidateUsername(a.Username),
		identity.ValidateEmail(a.EmailAddress),
		identity.ValidateName(a.FirstName),
		identity.ValidateName(a.LastName),
		identity.ValidateBio(a.Bio),
	} {
		if err != nil {
			return invalid(op, err.Error())
		}
	}
	return nil
}

// CreateAccount registers an unverified account.
func (s *Service) CreateAccount(ctx context.Context, in NewAccountInput) (Account, error) {
	const op = "chat.CreateAccount"

	a := Account{
		Username:     identity.NormalizeUsername(in.Username),
		EmailAddress: identity.NormalizeEmail(in.EmailAddress),
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Bio:          strings.TrimSpace(in.Bio),
	}
	if err := validateAccount(op, a); err != nil {
		return Account{}, err
	}

	a, err := s.store.CreateAccount(ctx, a)
	if err != nil {
		return Account{}, err
	}
	s.publish(broker.TopicAccounts, v1.NewAccount{Account: a.View()}, []string{RecipientID(a.ID)})
	s.log.Info("chat.account.create", "account_id", a.ID)
	return a, nil
}

// VerifyAccount marks an account verified so it may authenticate.
// Delivery of the verification code itself happens outside this service.
func (s *Service) VerifyAccount(ctx context.Context, id int64) (Account, error) {
	a, err := s.store.Account(ctx, id)
	if err != nil {
		return Account{}, err
	}
	if a.Verified {
		return a, nil
	}
	a.Verified = true
	if err := s.store.UpdateAccount(ctx, a); err != nil {
		return Account{}, err
	}
	s.publish(broker.TopicAccounts, v1.UpdatedAccount{Account: a.View()}, []string{RecipientID(a.ID)})
	s.log.Info("chat.account.verify", "account_id", a.ID)
	return a, nil
}

// UpdateAccount changes the actor's profile and tells the actor and its chat peers.
func (s *Service) UpdateAccount(ctx context.Context, actor int64, upd AccountUpdate) (Account, error) {
	const op = "chat.UpdateAccount"

	a, err := s.store.Account(ctx, actor)
	if err != nil {
		return Account{}, err
	}
	if upd.Username != nil {
		a.Username = identity.NormalizeUsername(*upd.Username)
	}
	if upd.FirstName != nil {
		a.FirstName = strings.TrimSpace(*upd.FirstName)
	}
	if upd.LastName != nil {
		a.LastName = strings.TrimSpace(*upd.LastName)
	}
	if upd.Bio != nil {
		a.Bio = strings.TrimSpace(*upd.Bio)
	}
	if err := validateAccount(op, a); err != nil {
		return Account{}, err
	}
	if err := s.store.UpdateAccount(ctx, a); err != nil {
		return Account{}, err
	}

	peers, err := s.peersOf(ctx, actor)
	if err != nil {
		return Account{}, err
	}
	to := append([]string{RecipientID(actor)}, recipients(peers)...)
	s.publish(broker.TopicAccounts, v1.UpdatedAccount{Account: a.View()}, to)
	return a, nil
}

// DeleteAccount removes the actor from every chat, deletes the account and
// completes every stream the account still has open.
//
// Private chats are deleted with it. In group chats the account exits; a
// group left without admins promotes its longest-standing member, and a
// group left empty is deleted.
func (s *Service) DeleteAccount(ctx context.Context, actor int64) error {
	peers, err := s.peersOf(ctx, actor)
	if err != nil {
		return err
	}
	chats, err := s.store.ChatsOf(ctx, actor)
	if err != nil {
		return err
	}
	for _, c := range chats {
		if c.Kind == KindPrivate {
			if err := s.deleteChat(ctx, c, ReasonChatDeleted); err != nil {
				return err
			}
			continue
		}
		if _, err := s.removeMember(ctx, c, actor); err != nil {
			return err
		}
	}

	if err := s.store.DeleteAccount(ctx, actor); err != nil {
		return err
	}
	s.presence.forget(actor)

	s.publish(broker.TopicAccounts, v1.DeletedAccount{AccountID: actor}, recipients(peers))
	n := s.broker.UnsubscribeRecipient(RecipientID(actor), ReasonAccountDeleted)
	s.log.Info("chat.account.delete", "account_id", actor, "streams_completed", n)
	return nil
}

// Account returns one account.
func (s *Service) Account(ctx context.Context, id int64) (Account, error) {
	return s.store.Account(ctx, id)
}

// SearchAccounts pages through accounts whose username or name contains
// query (case-insensitive). An empty query matches everyone.
func (s *Service) SearchAccounts(ctx context.Context, query string, args pagination.Args) (pagination.Connection[Account], error) {
	const op = "chat.SearchAccounts"

	req, err := request(op, args)
	if err != nil {
		return pagination.Connection[Account]{}, err
	}
	all, err := s.store.Accounts(ctx)
	if err != nil {
		return pagination.Connection[Account]{}, err
	}

	q := strings.ToLower(strings.TrimSpace(query))
	matched := all[:0:0]
	for _, a := range all {
		if !a.Verified {
			continue
		}
		if q == "" ||
			strings.Contains(a.Username, q) ||
			strings.Contains(strings.ToLower(a.FirstName), q) ||
			strings.Contains(strings.ToLower(a.LastName), q) {
			matched = append(matched, a)
		}
	}
	return pagination.Paginate(pagination.Collect(matched, accountCursor), req), nil
}

package chat

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"parley/cmd/internal/broker"
	"parley/cmd/internal/invite"
	"parley/cmd/internal/pagination"
	v1 "parley/shared/contracts/realtime/v1"
)

const (
	defaultOnlineTTL = 30 * time.Second
	defaultTypingTTL = 5 * time.Second

	ReasonAccountDeleted = "account deleted"
	ReasonLeftChat       = "left chat"
	ReasonChatDeleted    = "chat deleted"
	ReasonChatPrivate    = "chat is no longer public"
)

// Service owns every chat mutation and query. Mutations commit to the Store
// first, then publish to the Broker, so subscribers never observe an event
// for state that was not persisted.
type Service struct {
	store    Store
	broker   *broker.Broker
	invites  *invite.Service
	presence *presence
	log      *slog.Logger
	now      func() time.Time

	onlineTTL time.Duration
	typingTTL time.Duration
}

// Option configures the Service.
type Option func(*Service) error

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) error {
		if log != nil {
			s.log = log
		}
		return nil
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) error {
		if now != nil {
			s.now = now
		}
		return nil
	}
}

// WithInvites enables invite codes for group chats.
func WithInvites(inv *invite.Service) Option {
	return func(s *Service) error {
		s.invites = inv
		return nil
	}
}

// WithPresenceTTL sets how long an online heartbeat and a typing signal last.
func WithPresenceTTL(online, typing time.Duration) Option {
	return func(s *Service) error {
		if online <= 0 || typing <= 0 {
			return errors.New("chat: presence ttl must be positive")
		}
		s.onlineTTL = online
		s.typingTTL = typing
		return nil
	}
}

func NewService(store Store, b *broker.Broker, opts ...Option) (*Service, error) {
	if store == nil || b == nil {
		return nil, errors.New("chat: store and broker are required")
	}
	s := &Service{
		store:     store,
		broker:    b,
		log:       slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		onlineTTL: defaultOnlineTTL,
		typingTTL: defaultTypingTTL,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.presence = newPresence(s, s.onlineTTL, s.typingTTL)
	return s, nil
}

// Ping reports store health for readiness probes.
func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

// AccountStatus lets the session layer check that a token's account is usable.
func (s *Service) AccountStatus(ctx context.Context, userID string) (bool, bool, error) {
	id, err := ParseRecipientID(userID)
	if err != nil {
		return false, false, nil
	}
	a, err := s.store.Account(ctx, id)
	if IsNotFound(err) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return true, a.Verified, nil
}

// Subscribe authorizes viewerID (empty for anonymous) for topic and registers
// a broker channel. chatID narrows chat-bound topics to one chat; zero means
// every chat the viewer belongs to.
func (s *Service) Subscribe(ctx context.Context, viewerID string, topic broker.Topic, chatID int64) (*broker.Channel, error) {
	const op = "chat.Subscribe"

	if !topic.Valid() {
		return nil, invalid(op, "unknown topic")
	}
	if chatID < 0 {
		return nil, invalid(op, "chat id must be positive")
	}

	if viewerID == "" {
		if chatID == 0 || !AnonymousTopic(topic) {
			return nil, OpError{Op: op, Kind: ErrUnauthenticated, Msg: "sign in to subscribe"}
		}
		c, err := s.store.Chat(ctx, chatID)
		if err != nil {
			return nil, err
		}
		if c.Kind != KindGroup || !c.IsPublic {
			return nil, OpError{Op: op, Kind: ErrUnauthenticated, Msg: "chat is not public"}
		}
		return s.subscribeChat(topic, broker.PublicRecipient, chatID), nil
	}

	uid, err := ParseRecipientID(viewerID)
	if err != nil {
		return nil, err
	}

	if !chatBound(topic) {
		return s.broker.Subscribe(topic, viewerID), nil
	}
	if chatID == 0 {
		return s.broker.Subscribe(topic, viewerID), nil
	}

	c, err := s.store.Chat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	switch {
	case c.HasMember(uid):
		return s.subscribeChat(topic, viewerID, chatID), nil
	case AnonymousTopic(topic) && c.Kind == KindGroup && c.IsPublic:
		return s.subscribeChat(topic, broker.PublicRecipient, chatID, broker.WithViewer(viewerID)), nil
	}
	return nil, forbidden(op, "not a member of this chat")
}

func (s *Service) subscribeChat(topic broker.Topic, recipientID string, chatID int64, extra ...broker.SubscribeOption) *broker.Channel {
	opts := append([]broker.SubscribeOption{
		broker.WithScope(ChatScope(chatID)),
		broker.WithFilter(func(ev broker.Event) bool {
			id, ok := eventChatID(ev)
			return !ok || id == chatID
		}),
	}, extra...)
	return s.broker.Subscribe(topic, recipientID, opts...)
}

// AnonymousTopic reports whether topic may be streamed without signing in
// (public group chats only).
func AnonymousTopic(t broker.Topic) bool {
	return t == broker.TopicMessages || t == broker.TopicGroupChats
}

func chatBound(t broker.Topic) bool {
	switch t {
	case broker.TopicMessages, broker.TopicGroupChats, broker.TopicTypingStatuses:
		return true
	}
	return false
}

func eventChatID(ev broker.Event) (int64, bool) {
	switch e := ev.(type) {
	case v1.NewMessage:
		return e.Message.ChatID, true
	case v1.UpdatedMessage:
		return e.Message.ChatID, true
	case v1.DeletedMessage:
		return e.ChatID, true
	case v1.UpdatedGroupChat:
		return e.ChatID, true
	case v1.ExitedUsers:
		return e.ChatID, true
	case v1.TypingStatus:
		return e.ChatID, true
	case v1.NewChat:
		return e.Chat.ID, true
	case v1.DeletedChat:
		return e.ChatID, true
	}
	return 0, false
}

// ---- publishing ----

func (s *Service) publish(topic broker.Topic, ev broker.Event, to []string) {
	if len(to) == 0 {
		return
	}
	s.broker.Publish(topic, broker.To(ev, to...)...)
}

// audience is every recipient of a chat's content events.
func audience(c Chat) []string {
	to := recipients(c.Members)
	if c.Kind == KindGroup && c.IsPublic {
		to = append(to, broker.PublicRecipient)
	}
	return to
}

// completeChatStreams ends chat-scoped streams; recipientID "" with all=true
// matches every recipient.
func (s *Service) completeChatStreams(chatID int64, recipientID string, all bool, reason string) int {
	scope := ChatScope(chatID)
	return s.broker.Unsubscribe(reason, func(r broker.Registration) bool {
		return r.Scope == scope && (all || r.RecipientID == recipientID)
	})
}

// ---- reads shared by mutations ----

// peersOf returns every account sharing at least one chat with id, ascending.
func (s *Service) peersOf(ctx context.Context, id int64) ([]int64, error) {
	chats, err := s.store.ChatsOf(ctx, id)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]struct{})
	for _, c := range chats {
		for _, m := range c.Members {
			if m != id {
				seen[m] = struct{}{}
			}
		}
	}
	out := make([]int64, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	slices.Sort(out)
	return out, nil
}

func (s *Service) readableChat(ctx context.Context, op string, viewer, chatID int64) (Chat, error) {
	c, err := s.store.Chat(ctx, chatID)
	if err != nil {
		return Chat{}, err
	}
	if c.HasMember(viewer) || (c.Kind == KindGroup && c.IsPublic) {
		return c, nil
	}
	return Chat{}, forbidden(op, "not a member of this chat")
}

func (s *Service) memberChat(ctx context.Context, op string, actor, chatID int64) (Chat, error) {
	c, err := s.store.Chat(ctx, chatID)
	if err != nil {
		return Chat{}, err
	}
	if !c.HasMember(actor) {
		return Chat{}, forbidden(op, "not a member of this chat")
	}
	return c, nil
}

func (s *Service) adminChat(ctx context.Context, op string, actor, chatID int64) (Chat, error) {
	c, err := s.memberChat(ctx, op, actor, chatID)
	if err != nil {
		return Chat{}, err
	}
	if c.Kind != KindGroup {
		return Chat{}, invalid(op, "not a group chat")
	}
	if !c.IsAdmin(actor) {
		return Chat{}, forbidden(op, "admin only")
	}
	return c, nil
}

func request(op string, args pagination.Args) (pagination.Request, error) {
	req, err := args.Request()
	if err != nil {
		return pagination.Request{}, invalid(op, err.Error())
	}
	return req, nil
}

package chat

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"parley/cmd/internal/broker"
	"parley/cmd/internal/pagination"
	v1 "parley/shared/contracts/realtime/v1"

	"github.com/patrickmn/go-cache"
)

const presenceCallbackTimeout = 5 * time.Second

// presence tracks online heartbeats and typing signals as TTL cache entries.
// An entry leaving the cache (explicit delete or expiry sweep) publishes the
// offline / stopped-typing transition.
type presence struct {
	svc    *Service
	online *cache.Cache // RecipientID -> struct{}
	typing *cache.Cache // "<chat>:<account>" -> struct{}

	// transition serializes check-then-set so one heartbeat publishes "online" once.
	transition sync.Mutex

	lastMu     sync.Mutex
	lastOnline map[int64]time.Time
}

func newPresence(s *Service, onlineTTL, typingTTL time.Duration) *presence {
	p := &presence{
		svc:        s,
		online:     cache.New(onlineTTL, sweepInterval(onlineTTL)),
		typing:     cache.New(typingTTL, sweepInterval(typingTTL)),
		lastOnline: make(map[int64]time.Time),
	}
	p.online.OnEvicted(p.onlineEvicted)
	p.typing.OnEvicted(p.typingEvicted)
	return p
}

func sweepInterval(ttl time.Duration) time.Duration {
	if d := ttl / 4; d > 10*time.Millisecond {
		return d
	}
	return 10 * time.Millisecond
}

func typingKey(chatID, userID int64) string {
	return strconv.FormatInt(chatID, 10) + ":" + strconv.FormatInt(userID, 10)
}

func parseTypingKey(k string) (chatID, userID int64, err error) {
	c, u, ok := strings.Cut(k, ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed typing key %q", k)
	}
	if chatID, err = strconv.ParseInt(c, 10, 64); err != nil {
		return 0, 0, err
	}
	if userID, err = strconv.ParseInt(u, 10, 64); err != nil {
		return 0, 0, err
	}
	return chatID, userID, nil
}

func (p *presence) setOnline(ctx context.Context, id int64) {
	p.transition.Lock()
	_, was := p.online.Get(RecipientID(id))
	p.online.SetDefault(RecipientID(id), struct{}{})
	p.transition.Unlock()

	if !was {
		p.publishOnline(ctx, id, true, nil)
	}
}

func (p *presence) setOffline(id int64) {
	p.online.Delete(RecipientID(id))
}

func (p *presence) onlineEvicted(k string, _ interface{}) {
	id, err := ParseRecipientID(k)
	if err != nil {
		return
	}
	now := p.svc.now()
	p.lastMu.Lock()
	p.lastOnline[id] = now
	p.lastMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), presenceCallbackTimeout)
	defer cancel()
	p.publishOnline(ctx, id, false, &now)
}

func (p *presence) publishOnline(ctx context.Context, id int64, online bool, last *time.Time) {
	peers, err := p.svc.peersOf(ctx, id)
	if err != nil {
		p.svc.log.Warn("chat.presence.peers_failed", "account_id", id, "err", err)
		return
	}
	p.svc.publish(broker.TopicOnlineStatuses, v1.OnlineStatus{UserID: id, IsOnline: online, LastOnline: last}, recipients(peers))
}

func (p *presence) status(id int64) OnlineStatus {
	st := OnlineStatus{UserID: id}
	if _, ok := p.online.Get(RecipientID(id)); ok {
		st.IsOnline = true
		return st
	}
	p.lastMu.Lock()
	if t, ok := p.lastOnline[id]; ok {
		st.LastOnline = &t
	}
	p.lastMu.Unlock()
	return st
}

func (p *presence) startTyping(c Chat, userID int64) {
	k := typingKey(c.ID, userID)

	p.transition.Lock()
	_, was := p.typing.Get(k)
	p.typing.SetDefault(k, struct{}{})
	p.transition.Unlock()

	if !was {
		p.svc.publish(broker.TopicTypingStatuses,
			v1.TypingStatus{ChatID: c.ID, UserID: userID, IsTyping: true},
			recipients(c.Members, userID))
	}
}

func (p *presence) stopTyping(chatID, userID int64) {
	p.typing.Delete(typingKey(chatID, userID))
}

func (p *presence) typingEvicted(k string, _ interface{}) {
	chatID, userID, err := parseTypingKey(k)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceCallbackTimeout)
	defer cancel()

	c, err := p.svc.store.Chat(ctx, chatID)
	if err != nil {
		// Chat deleted in the meantime; nobody left to tell.
		return
	}
	p.svc.publish(broker.TopicTypingStatuses,
		v1.TypingStatus{ChatID: chatID, UserID: userID, IsTyping: false},
		recipients(c.Members, userID))
}

// forget drops all presence state of a deleted account.
func (p *presence) forget(id int64) {
	suffix := ":" + strconv.FormatInt(id, 10)
	for k := range p.typing.Items() {
		if strings.HasSuffix(k, suffix) {
			p.typing.Delete(k)
		}
	}
	p.online.Delete(RecipientID(id))

	p.lastMu.Lock()
	delete(p.lastOnline, id)
	p.lastMu.Unlock()
}

// ---- Service API ----

// SetOnline records a heartbeat (online=true) or an explicit sign-off.
// Heartbeats must repeat within the online TTL or the account goes offline.
func (s *Service) SetOnline(ctx context.Context, actor int64, online bool) error {
	if _, err := s.store.Account(ctx, actor); err != nil {
		return err
	}
	if online {
		s.presence.setOnline(ctx, actor)
	} else {
		s.presence.setOffline(actor)
	}
	return nil
}

// SetTyping signals that actor is (or stopped) typing in chatID. A typing
// signal lapses after the typing TTL unless repeated.
func (s *Service) SetTyping(ctx context.Context, actor, chatID int64, typing bool) error {
	c, err := s.memberChat(ctx, "chat.SetTyping", actor, chatID)
	if err != nil {
		return err
	}
	if typing {
		s.presence.startTyping(c, actor)
	} else {
		s.presence.stopTyping(c.ID, actor)
	}
	return nil
}

// OnlineStatus returns the presence of one account.
func (s *Service) OnlineStatus(ctx context.Context, id int64) (OnlineStatus, error) {
	if _, err := s.store.Account(ctx, id); err != nil {
		return OnlineStatus{}, err
	}
	return s.presence.status(id), nil
}

// ReadOnlineStatuses pages through the presence of the viewer's chat peers,
// ordered by account ID.
func (s *Service) ReadOnlineStatuses(ctx context.Context, viewer int64, args pagination.Args) (pagination.Connection[OnlineStatus], error) {
	req, err := request("chat.ReadOnlineStatuses", args)
	if err != nil {
		return pagination.Connection[OnlineStatus]{}, err
	}
	peers, err := s.peersOf(ctx, viewer)
	if err != nil {
		return pagination.Connection[OnlineStatus]{}, err
	}
	statuses := make([]OnlineStatus, 0, len(peers))
	for _, id := range peers {
		statuses = append(statuses, s.presence.status(id))
	}
	return pagination.Paginate(pagination.Collect(statuses, statusCursor), req), nil
}

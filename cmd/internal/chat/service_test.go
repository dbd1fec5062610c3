package chat

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"parley/cmd/internal/broker"
	"parley/cmd/internal/invite"
	"parley/cmd/internal/pagination"
	v1 "parley/shared/contracts/realtime/v1"
)

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()

	b := broker.New(broker.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	t.Cleanup(b.Close)

	inv, err := invite.NewService(invite.NewCacheStore(time.Minute))
	if err != nil {
		t.Fatalf("invite service: %v", err)
	}
	base := []Option{
		WithInvites(inv),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	svc, err := NewService(NewMemoryStore(), b, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func mustAccount(t *testing.T, svc *Service, username string) Account {
	t.Helper()

	ctx := context.Background()
	a, err := svc.CreateAccount(ctx, NewAccountInput{Username: username, EmailAddress: username + "@example.com"})
	if err != nil {
		t.Fatalf("create %s: %v", username, err)
	}
	a, err = svc.VerifyAccount(ctx, a.ID)
	if err != nil {
		t.Fatalf("verify %s: %v", username, err)
	}
	return a
}

func mustSubscribe(t *testing.T, svc *Service, viewer string, topic broker.Topic, chatID int64) *broker.Channel {
	t.Helper()

	ch, err := svc.Subscribe(context.Background(), viewer, topic, chatID)
	if err != nil {
		t.Fatalf("subscribe %s/%s/%d: %v", viewer, topic, chatID, err)
	}
	t.Cleanup(ch.Close)
	return ch
}

func nextOf[T broker.Event](t *testing.T, ch *broker.Channel) T {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ev, err := ch.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	got, ok := ev.(T)
	if !ok {
		var zero T
		t.Fatalf("event=%T want %T", ev, zero)
	}
	return got
}

func expectCompleted(t *testing.T, ch *broker.Channel, reason string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for {
		_, err := ch.Next(ctx)
		if err == nil {
			continue
		}
		if !errors.Is(err, broker.ErrCompleted) {
			t.Fatalf("expected completion, got %v", err)
		}
		if got := broker.CompletionReason(err); got != reason {
			t.Fatalf("completion reason=%q want %q", got, reason)
		}
		return
	}
}

func expectIdle(t *testing.T, ch *broker.Channel) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if ev, err := ch.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected no event, got %T err=%v", ev, err)
	}
}

func TestMessageFlow(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	ada := mustAccount(t, svc, "ada")
	bob := mustAccount(t, svc, "bob")
	cy := mustAccount(t, svc, "cy")

	g, err := svc.CreateGroupChat(ctx, ada.ID, GroupChatInput{Title: "Engines", Members: []int64{bob.ID}})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	bobMsgs := mustSubscribe(t, svc, RecipientID(bob.ID), broker.TopicMessages, g.ID)

	if _, err := svc.Subscribe(ctx, RecipientID(cy.ID), broker.TopicMessages, g.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-member subscribe: expected ErrForbidden, got %v", err)
	}

	m, err := svc.CreateMessage(ctx, ada.ID, g.ID, "  hello  ")
	if err != nil {
		t.Fatalf("create message: %v", err)
	}
	if m.Text != "hello" {
		t.Fatalf("text not trimmed: %q", m.Text)
	}
	if got := nextOf[v1.NewMessage](t, bobMsgs); got.Message.ID != m.ID || got.Message.Text != "hello" {
		t.Fatalf("unexpected event: %+v", got)
	}

	if _, err := svc.EditMessage(ctx, bob.ID, m.ID, "hijack"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("edit by non-sender: expected ErrForbidden, got %v", err)
	}
	if _, err := svc.EditMessage(ctx, ada.ID, m.ID, "hello!"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if got := nextOf[v1.UpdatedMessage](t, bobMsgs); !got.Message.Edited || got.Message.Text != "hello!" {
		t.Fatalf("unexpected update: %+v", got)
	}

	if err := svc.DeleteMessage(ctx, bob.ID, m.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("delete by non-admin non-sender: expected ErrForbidden, got %v", err)
	}
	if err := svc.DeleteMessage(ctx, ada.ID, m.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := nextOf[v1.DeletedMessage](t, bobMsgs); got.MessageID != m.ID || got.ChatID != g.ID {
		t.Fatalf("unexpected delete: %+v", got)
	}

	if _, err := svc.CreateMessage(ctx, cy.ID, g.ID, "let me in"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-member post: expected ErrForbidden, got %v", err)
	}
	if _, err := svc.CreateMessage(ctx, ada.ID, g.ID, "   "); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("blank post: expected ErrInvalidArgument, got %v", err)
	}
}

func TestChatScopedSubscriptionFiltersOtherChats(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	ada := mustAccount(t, svc, "ada")
	bob := mustAccount(t, svc, "bob")

	one, _ := svc.CreateGroupChat(ctx, ada.ID, GroupChatInput{Title: "one", Members: []int64{bob.ID}})
	two, _ := svc.CreateGroupChat(ctx, ada.ID, GroupChatInput{Title: "two", Members: []int64{bob.ID}})

	scoped := mustSubscribe(t, svc, RecipientID(bob.ID), broker.TopicMessages, one.ID)
	all := mustSubscribe(t, svc, RecipientID(bob.ID), broker.TopicMessages, 0)

	if _, err := svc.CreateMessage(ctx, ada.ID, two.ID, "in two"); err != nil {
		t.Fatalf("post: %v", err)
	}
	if got := nextOf[v1.NewMessage](t, all); got.Message.ChatID != two.ID {
		t.Fatalf("unscoped stream got chat %d", got.Message.ChatID)
	}
	expectIdle(t, scoped)
}

func TestLeaveChatCompletesOnlyThatChatsStreams(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	ada := mustAccount(t, svc, "ada")
	bob := mustAccount(t, svc, "bob")

	g, _ := svc.CreateGroupChat(ctx, ada.ID, GroupChatInput{Title: "g", Members: []int64{bob.ID}})
	other, _ := svc.CreateGroupChat(ctx, ada.ID, GroupChatInput{Title: "other", Members: []int64{bob.ID}})

	bobMsgs := mustSubscribe(t, svc, RecipientID(bob.ID), broker.TopicMessages, g.ID)
	bobOther := mustSubscribe(t, svc, RecipientID(bob.ID), broker.TopicMessages, other.ID)
	bobChats := mustSubscribe(t, svc, RecipientID(bob.ID), broker.TopicChats, 0)
	adaMeta := mustSubscribe(t, svc, RecipientID(ada.ID), broker.TopicGroupChats, g.ID)

	if err := svc.LeaveChat(ctx, bob.ID, g.ID); err != nil {
		t.Fatalf("leave: %v", err)
	}

	expectCompleted(t, bobMsgs, ReasonLeftChat)
	if got := nextOf[v1.DeletedChat](t, bobChats); got.ChatID != g.ID {
		t.Fatalf("leaver should see DeletedChat for %d, got %+v", g.ID, got)
	}
	if got := nextOf[v1.ExitedUsers](t, adaMeta); len(got.UserIDs) != 1 || got.UserIDs[0] != bob.ID {
		t.Fatalf("unexpected ExitedUsers: %+v", got)
	}
	if bobOther.Err() != nil || bobChats.Err() != nil {
		t.Fatalf("unrelated streams were terminated")
	}

	c, err := svc.Chat(ctx, ada.ID, g.ID)
	if err != nil || c.HasMember(bob.ID) {
		t.Fatalf("bob still a member: %+v err=%v", c, err)
	}
}

func TestLastAdminLeavingPromotesMember(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	ada := mustAccount(t, svc, "ada")
	bob := mustAccount(t, svc, "bob")

	g, _ := svc.CreateGroupChat(ctx, ada.ID, GroupChatInput{Title: "g", Members: []int64{bob.ID}})
	if err := svc.LeaveChat(ctx, ada.ID, g.ID); err != nil {
		t.Fatalf("leave: %v", err)
	}
	c, err := svc.Chat(ctx, bob.ID, g.ID)
	if err != nil || !c.IsAdmin(bob.ID) {
		t.Fatalf("bob should be promoted: %+v err=%v", c, err)
	}

	if err := svc.LeaveChat(ctx, bob.ID, g.ID); err != nil {
		t.Fatalf("last leave: %v", err)
	}
	if _, err := svc.Chat(ctx, bob.ID, g.ID); !IsNotFound(err) {
		t.Fatalf("empty group should be deleted, got %v", err)
	}
}

func TestDeleteAccountCompletesEveryStream(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	ada := mustAccount(t, svc, "ada")
	bob := mustAccount(t, svc, "bob")

	p, err := svc.CreatePrivateChat(ctx, ada.ID, bob.ID)
	if err != nil {
		t.Fatalf("private chat: %v", err)
	}
	g, _ := svc.CreateGroupChat(ctx, ada.ID, GroupChatInput{Title: "g", Members: []int64{bob.ID}})

	bobAccounts := mustSubscribe(t, svc, RecipientID(bob.ID), broker.TopicAccounts, 0)
	bobChats := mustSubscribe(t, svc, RecipientID(bob.ID), broker.TopicChats, 0)
	bobMsgs := mustSubscribe(t, svc, RecipientID(bob.ID), broker.TopicMessages, g.ID)
	adaAccounts := mustSubscribe(t, svc, RecipientID(ada.ID), broker.TopicAccounts, 0)
	adaChats := mustSubscribe(t, svc, RecipientID(ada.ID), broker.TopicChats, 0)
	adaMeta := mustSubscribe(t, svc, RecipientID(ada.ID), broker.TopicGroupChats, g.ID)

	if err := svc.DeleteAccount(ctx, bob.ID); err != nil {
		t.Fatalf("delete account: %v", err)
	}

	expectCompleted(t, bobAccounts, ReasonAccountDeleted)
	expectCompleted(t, bobChats, ReasonAccountDeleted)
	expectCompleted(t, bobMsgs, ReasonLeftChat)

	if got := nextOf[v1.DeletedChat](t, adaChats); got.ChatID != p.ID {
		t.Fatalf("ada should see private chat %d deleted, got %+v", p.ID, got)
	}
	if got := nextOf[v1.ExitedUsers](t, adaMeta); got.UserIDs[0] != bob.ID {
		t.Fatalf("unexpected ExitedUsers: %+v", got)
	}
	if got := nextOf[v1.DeletedAccount](t, adaAccounts); got.AccountID != bob.ID {
		t.Fatalf("unexpected DeletedAccount: %+v", got)
	}

	exists, _, err := svc.AccountStatus(ctx, RecipientID(bob.ID))
	if err != nil || exists {
		t.Fatalf("account should be gone: exists=%v err=%v", exists, err)
	}
}

func TestDeleteAccountCompletesPublicChatViewing(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	ada := mustAccount(t, svc, "ada")
	cy := mustAccount(t, svc, "cy")

	pub, err := svc.CreateGroupChat(ctx, ada.ID, GroupChatInput{Title: "lobby", IsPublic: true})
	if err != nil {
		t.Fatalf("group: %v", err)
	}

	cyMsgs := mustSubscribe(t, svc, RecipientID(cy.ID), broker.TopicMessages, pub.ID)
	cyMeta := mustSubscribe(t, svc, RecipientID(cy.ID), broker.TopicGroupChats, pub.ID)
	anonMsgs := mustSubscribe(t, svc, "", broker.TopicMessages, pub.ID)

	if reg := cyMsgs.Registration(); reg.RecipientID != broker.PublicRecipient || reg.ViewerID != RecipientID(cy.ID) {
		t.Fatalf("non-member registration=%+v", reg)
	}

	if err := svc.DeleteAccount(ctx, cy.ID); err != nil {
		t.Fatalf("delete account: %v", err)
	}
	expectCompleted(t, cyMsgs, ReasonAccountDeleted)
	expectCompleted(t, cyMeta, ReasonAccountDeleted)

	// Other public viewers keep streaming.
	if _, err := svc.CreateMessage(ctx, ada.ID, pub.ID, "still here"); err != nil {
		t.Fatalf("post: %v", err)
	}
	if got := nextOf[v1.NewMessage](t, anonMsgs); got.Message.Text != "still here" {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestAnonymousSubscriptions(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	ada := mustAccount(t, svc, "ada")
	bob := mustAccount(t, svc, "bob")

	pub, _ := svc.CreateGroupChat(ctx, ada.ID, GroupChatInput{Title: "public", IsPublic: true})
	priv, _ := svc.CreatePrivateChat(ctx, ada.ID, bob.ID)

	anonMsgs := mustSubscribe(t, svc, "", broker.TopicMessages, pub.ID)
	anonMeta := mustSubscribe(t, svc, "", broker.TopicGroupChats, pub.ID)

	cases := []struct {
		topic  broker.Topic
		chatID int64
	}{
		{broker.TopicMessages, priv.ID},
		{broker.TopicMessages, 0},
		{broker.TopicAccounts, 0},
		{broker.TopicTypingStatuses, pub.ID},
	}
	for _, tc := range cases {
		if _, err := svc.Subscribe(ctx, "", tc.topic, tc.chatID); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("anonymous %s/%d: expected ErrUnauthenticated, got %v", tc.topic, tc.chatID, err)
		}
	}

	if _, err := svc.CreateMessage(ctx, ada.ID, pub.ID, "hello world"); err != nil {
		t.Fatalf("post: %v", err)
	}
	if got := nextOf[v1.NewMessage](t, anonMsgs); got.Message.Text != "hello world" {
		t.Fatalf("unexpected event: %+v", got)
	}

	// Going private tells public watchers once, then ends their streams.
	private := false
	if _, err := svc.UpdateGroupChat(ctx, ada.ID, pub.ID, GroupChatUpdate{IsPublic: &private}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := nextOf[v1.UpdatedGroupChat](t, anonMeta); got.IsPublic == nil || *got.IsPublic {
		t.Fatalf("unexpected update: %+v", got)
	}
	expectCompleted(t, anonMeta, ReasonChatPrivate)
	expectCompleted(t, anonMsgs, ReasonChatPrivate)
}

func TestReadMessagesPagination(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	ada := mustAccount(t, svc, "ada")
	bob := mustAccount(t, svc, "bob")
	cy := mustAccount(t, svc, "cy")

	c, _ := svc.CreatePrivateChat(ctx, ada.ID, bob.ID)
	var ids []int64
	for _, text := range []string{"a", "b", "c", "d", "e"} {
		m, err := svc.CreateMessage(ctx, ada.ID, c.ID, text)
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		ids = append(ids, m.ID)
	}

	page, err := svc.ReadMessages(ctx, bob.ID, c.ID, pagination.Args{First: pagination.Int(2)})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(page.Edges) != 2 || page.Edges[0].Node.Text != "a" || !page.PageInfo.HasNextPage || page.PageInfo.HasPreviousPage {
		t.Fatalf("unexpected first page: %+v", page)
	}

	page, err = svc.ReadMessages(ctx, bob.ID, c.ID, pagination.Args{First: pagination.Int(2), After: page.PageInfo.EndCursor})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(page.Edges) != 2 || page.Edges[0].Node.ID != ids[2] || !page.PageInfo.HasPreviousPage {
		t.Fatalf("unexpected second page: %+v", page)
	}

	page, err = svc.ReadMessages(ctx, bob.ID, c.ID, pagination.Args{Last: pagination.Int(1)})
	if err != nil || len(page.Edges) != 1 || page.Edges[0].Node.Text != "e" {
		t.Fatalf("unexpected last page: %+v err=%v", page, err)
	}

	_, err = svc.ReadMessages(ctx, bob.ID, c.ID, pagination.Args{First: pagination.Int(1), Last: pagination.Int(1)})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("mixed args: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := svc.ReadMessages(ctx, cy.ID, c.ID, pagination.Args{}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("outsider read: expected ErrForbidden, got %v", err)
	}
}

func TestTypingStatusExpires(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, WithPresenceTTL(time.Minute, 40*time.Millisecond))
	ctx := context.Background()
	ada := mustAccount(t, svc, "ada")
	bob := mustAccount(t, svc, "bob")
	c, _ := svc.CreatePrivateChat(ctx, ada.ID, bob.ID)

	bobTyping := mustSubscribe(t, svc, RecipientID(bob.ID), broker.TopicTypingStatuses, c.ID)
	adaTyping := mustSubscribe(t, svc, RecipientID(ada.ID), broker.TopicTypingStatuses, c.ID)

	if err := svc.SetTyping(ctx, ada.ID, c.ID, true); err != nil {
		t.Fatalf("typing: %v", err)
	}
	// A repeated signal inside the TTL is not a new transition.
	_ = svc.SetTyping(ctx, ada.ID, c.ID, true)

	if got := nextOf[v1.TypingStatus](t, bobTyping); !got.IsTyping || got.UserID != ada.ID {
		t.Fatalf("unexpected typing event: %+v", got)
	}
	if got := nextOf[v1.TypingStatus](t, bobTyping); got.IsTyping {
		t.Fatalf("expected typing to lapse, got %+v", got)
	}
	expectIdle(t, adaTyping)
}

func TestOnlineStatus(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	ada := mustAccount(t, svc, "ada")
	bob := mustAccount(t, svc, "bob")
	_, _ = svc.CreatePrivateChat(ctx, ada.ID, bob.ID)

	bobOnline := mustSubscribe(t, svc, RecipientID(bob.ID), broker.TopicOnlineStatuses, 0)

	if err := svc.SetOnline(ctx, ada.ID, true); err != nil {
		t.Fatalf("online: %v", err)
	}
	if got := nextOf[v1.OnlineStatus](t, bobOnline); !got.IsOnline || got.UserID != ada.ID {
		t.Fatalf("unexpected status: %+v", got)
	}

	page, err := svc.ReadOnlineStatuses(ctx, bob.ID, pagination.Args{})
	if err != nil || len(page.Edges) != 1 || !page.Edges[0].Node.IsOnline {
		t.Fatalf("statuses: %+v err=%v", page, err)
	}

	if err := svc.SetOnline(ctx, ada.ID, false); err != nil {
		t.Fatalf("offline: %v", err)
	}
	if got := nextOf[v1.OnlineStatus](t, bobOnline); got.IsOnline || got.LastOnline == nil {
		t.Fatalf("unexpected status: %+v", got)
	}
	st, err := svc.OnlineStatus(ctx, ada.ID)
	if err != nil || st.IsOnline || st.LastOnline == nil {
		t.Fatalf("status after sign-off: %+v err=%v", st, err)
	}
}

func TestInviteJoin(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	ada := mustAccount(t, svc, "ada")
	bob := mustAccount(t, svc, "bob")
	cy := mustAccount(t, svc, "cy")

	g, _ := svc.CreateGroupChat(ctx, ada.ID, GroupChatInput{Title: "g", Members: []int64{bob.ID}})

	if _, _, err := svc.CreateInvite(ctx, bob.ID, g.ID, 0, 0); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-admin invite: expected ErrForbidden, got %v", err)
	}
	_, code, err := svc.CreateInvite(ctx, ada.ID, g.ID, time.Hour, 1)
	if err != nil {
		t.Fatalf("invite: %v", err)
	}

	cyChats := mustSubscribe(t, svc, RecipientID(cy.ID), broker.TopicChats, 0)
	bobMeta := mustSubscribe(t, svc, RecipientID(bob.ID), broker.TopicGroupChats, g.ID)

	c, err := svc.JoinWithInvite(ctx, cy.ID, code)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if !c.HasMember(cy.ID) {
		t.Fatalf("cy not added: %+v", c)
	}
	if got := nextOf[v1.NewChat](t, cyChats); got.Chat.ID != g.ID {
		t.Fatalf("unexpected NewChat: %+v", got)
	}
	if got := nextOf[v1.UpdatedGroupChat](t, bobMeta); len(got.AddedMembers) != 1 || got.AddedMembers[0] != cy.ID {
		t.Fatalf("unexpected UpdatedGroupChat: %+v", got)
	}

	if _, err := svc.JoinWithInvite(ctx, bob.ID, "not-a-code"); !IsNotFound(err) {
		t.Fatalf("bad code: expected not found, got %v", err)
	}
}

type revokeFailingStore struct {
	*invite.CacheStore
}

func (revokeFailingStore) RevokeChat(context.Context, int64, time.Time) (int, error) {
	return 0, errors.New("invite store unavailable")
}

func TestDeleteChatLogsInviteRevokeFailure(t *testing.T) {
	t.Parallel()

	inv, err := invite.NewService(revokeFailingStore{invite.NewCacheStore(time.Minute)})
	if err != nil {
		t.Fatalf("invite service: %v", err)
	}
	var logs bytes.Buffer
	svc := newTestService(t, WithInvites(inv), WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	ctx := context.Background()
	ada := mustAccount(t, svc, "ada")
	bob := mustAccount(t, svc, "bob")

	p, err := svc.CreatePrivateChat(ctx, ada.ID, bob.ID)
	if err != nil {
		t.Fatalf("private chat: %v", err)
	}
	if err := svc.DeletePrivateChat(ctx, ada.ID, p.ID); err != nil {
		t.Fatalf("delete should not fail on invite cleanup: %v", err)
	}
	out := logs.String()
	if !strings.Contains(out, "chat.invites.revoke_failed") || !strings.Contains(out, "invite store unavailable") {
		t.Fatalf("expected revoke failure to be logged, got:\n%s", out)
	}
	if _, err := svc.store.Chat(ctx, p.ID); !IsNotFound(err) {
		t.Fatalf("chat should be gone, got %v", err)
	}
}

func TestCreatePrivateChatRules(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	ada := mustAccount(t, svc, "ada")
	bob := mustAccount(t, svc, "bob")

	if _, err := svc.CreatePrivateChat(ctx, ada.ID, ada.ID); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("self chat: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := svc.CreatePrivateChat(ctx, ada.ID, 999); !IsNotFound(err) {
		t.Fatalf("missing account: expected not found, got %v", err)
	}
	if _, err := svc.CreatePrivateChat(ctx, ada.ID, bob.ID); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.CreatePrivateChat(ctx, bob.ID, ada.ID); !IsConflict(err) {
		t.Fatalf("duplicate: expected conflict, got %v", err)
	}
}

func TestCreateAccountValidation(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	_ = mustAccount(t, svc, "ada")

	cases := []NewAccountInput{
		{Username: "x", EmailAddress: "x@example.com"},
		{Username: "valid_name", EmailAddress: "not-an-email"},
		{Username: "has space", EmailAddress: "s@example.com"},
	}
	for _, in := range cases {
		if _, err := svc.CreateAccount(ctx, in); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("input %+v: expected ErrInvalidArgument, got %v", in, err)
		}
	}
	if _, err := svc.CreateAccount(ctx, NewAccountInput{Username: "ADA", EmailAddress: "other@example.com"}); !IsConflict(err) {
		t.Fatalf("normalized duplicate: expected conflict, got %v", err)
	}
}

func TestSearchAccountsSkipsUnverified(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	ada := mustAccount(t, svc, "ada")
	_ = mustAccount(t, svc, "adam")
	if _, err := svc.CreateAccount(ctx, NewAccountInput{Username: "adalynn", EmailAddress: "adalynn@example.com"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	page, err := svc.SearchAccounts(ctx, "ADA", pagination.Args{First: pagination.Int(1)})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(page.Edges) != 1 || page.Edges[0].Node.ID != ada.ID || !page.PageInfo.HasNextPage {
		t.Fatalf("unexpected page: %+v", page)
	}
	page, _ = svc.SearchAccounts(ctx, "ada", pagination.Args{})
	if len(page.Edges) != 2 {
		t.Fatalf("unverified account leaked into search: %+v", page)
	}
}

func TestUpdateAccountNotifiesPeers(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	ada := mustAccount(t, svc, "ada")
	bob := mustAccount(t, svc, "bob")
	cy := mustAccount(t, svc, "cy")
	_, _ = svc.CreatePrivateChat(ctx, ada.ID, bob.ID)

	bobAccounts := mustSubscribe(t, svc, RecipientID(bob.ID), broker.TopicAccounts, 0)
	cyAccounts := mustSubscribe(t, svc, RecipientID(cy.ID), broker.TopicAccounts, 0)

	bio := "engines"
	if _, err := svc.UpdateAccount(ctx, ada.ID, AccountUpdate{Bio: &bio}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := nextOf[v1.UpdatedAccount](t, bobAccounts); got.Account.Bio != "engines" {
		t.Fatalf("unexpected update: %+v", got)
	}
	expectIdle(t, cyAccounts)
}

package realtime

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"parley/cmd/internal/broker"
	v1 "parley/shared/contracts/realtime/v1"
)

func TestParseOperation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		in      v1.SubscribePayload
		want    Operation
		wantErr error
	}{
		{
			name: "literal chat id",
			in:   v1.SubscribePayload{Query: `subscription { subscribeToMessages(chatId: 7) { __typename } }`},
			want: Operation{Field: "subscribeToMessages", Topic: broker.TopicMessages, ChatID: 7},
		},
		{
			name: "string id literal",
			in:   v1.SubscribePayload{Query: `subscription Meta { subscribeToGroupChatMetadata(chatId: "12") }`},
			want: Operation{Name: "Meta", Field: "subscribeToGroupChatMetadata", Topic: broker.TopicGroupChats, ChatID: 12},
		},
		{
			name: "variable",
			in: v1.SubscribePayload{
				Query:     `subscription S($chat: ID!) { subscribeToTypingStatuses(chatId: $chat) }`,
				Variables: map[string]any{"chat": float64(3)},
			},
			want: Operation{Name: "S", Field: "subscribeToTypingStatuses", Topic: broker.TopicTypingStatuses, ChatID: 3},
		},
		{
			name: "variable default",
			in:   v1.SubscribePayload{Query: `subscription S($chat: Int = 5) { subscribeToMessages(chatId: $chat) }`},
			want: Operation{Name: "S", Field: "subscribeToMessages", Topic: broker.TopicMessages, ChatID: 5},
		},
		{
			name: "no arguments",
			in:   v1.SubscribePayload{Query: `subscription { subscribeToAccounts }`},
			want: Operation{Field: "subscribeToAccounts", Topic: broker.TopicAccounts},
		},
		{
			name: "named among several",
			in: v1.SubscribePayload{
				Query:         `subscription A { subscribeToChats } subscription B { subscribeToOnlineStatuses }`,
				OperationName: "B",
			},
			want: Operation{Name: "B", Field: "subscribeToOnlineStatuses", Topic: broker.TopicOnlineStatuses},
		},
		{
			name:    "several without a name",
			in:      v1.SubscribePayload{Query: `subscription A { subscribeToChats } subscription B { subscribeToAccounts }`},
			wantErr: ErrAmbiguousOperation,
		},
		{
			name:    "unknown operation name",
			in:      v1.SubscribePayload{Query: `subscription A { subscribeToChats }`, OperationName: "Z"},
			wantErr: ErrAmbiguousOperation,
		},
		{name: "empty", in: v1.SubscribePayload{Query: "  "}, wantErr: ErrInvalidOperation},
		{name: "syntax error", in: v1.SubscribePayload{Query: `subscription {`}, wantErr: ErrInvalidOperation},
		{name: "query not subscription", in: v1.SubscribePayload{Query: `query { subscribeToChats }`}, wantErr: ErrInvalidOperation},
		{name: "two root fields", in: v1.SubscribePayload{Query: `subscription { subscribeToChats subscribeToAccounts }`}, wantErr: ErrInvalidOperation},
		{name: "unknown field", in: v1.SubscribePayload{Query: `subscription { subscribeToEverything }`}, wantErr: ErrInvalidOperation},
		{name: "unknown argument", in: v1.SubscribePayload{Query: `subscription { subscribeToAccounts(chatId: 1) }`}, wantErr: ErrInvalidOperation},
		{name: "negative chat", in: v1.SubscribePayload{Query: `subscription { subscribeToMessages(chatId: -1) }`}, wantErr: ErrInvalidOperation},
		{name: "fractional chat", in: v1.SubscribePayload{
			Query:     `subscription S($c: ID) { subscribeToMessages(chatId: $c) }`,
			Variables: map[string]any{"c": 1.5},
		}, wantErr: ErrInvalidOperation},
		{name: "chat id at 2^63", in: v1.SubscribePayload{
			Query:     `subscription S($c: ID) { subscribeToMessages(chatId: $c) }`,
			Variables: map[string]any{"c": float64(1 << 63)},
		}, wantErr: ErrInvalidOperation},
		{name: "fragment root", in: v1.SubscribePayload{Query: `subscription { ... on Subscription { subscribeToChats } }`}, wantErr: ErrInvalidOperation},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseOperation(tc.in)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got op=%+v err=%v", tc.wantErr, got, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseOperation: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %+v want %+v", got, tc.want)
			}
		})
	}
}

func TestParseOperation_JSONNumberVariable(t *testing.T) {
	t.Parallel()

	var p v1.SubscribePayload
	dec := json.NewDecoder(strings.NewReader(`{"query":"subscription($c: ID){ subscribeToMessages(chatId: $c) }","variables":{"c":9}}`))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	op, err := ParseOperation(p)
	if err != nil || op.ChatID != 9 {
		t.Fatalf("op=%+v err=%v", op, err)
	}
}

func TestOperation_AllowsAnonymous(t *testing.T) {
	t.Parallel()

	cases := []struct {
		op   Operation
		want bool
	}{
		{Operation{Field: "subscribeToMessages", ChatID: 1}, true},
		{Operation{Field: "subscribeToGroupChatMetadata", ChatID: 1}, true},
		{Operation{Field: "subscribeToMessages"}, false},
		{Operation{Field: "subscribeToTypingStatuses", ChatID: 1}, false},
		{Operation{Field: "subscribeToAccounts"}, false},
	}
	for _, tc := range cases {
		if got := tc.op.AllowsAnonymous(); got != tc.want {
			t.Fatalf("%+v: got %v want %v", tc.op, got, tc.want)
		}
	}
}

package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"parley/cmd/internal/broker"
	"parley/cmd/internal/chat"
	v1 "parley/shared/contracts/realtime/v1"

	"aidanwoods.dev/go-paseto"
	"github.com/coder/websocket"
)

func TestRuntimeBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "explicit localhost", in: "127.0.0.1:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v4", in: "0.0.0.0:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v6", in: "[::]:9090", want: "http://127.0.0.1:9090"},
		{name: "ipv6 host", in: "[2001:db8::1]:9090", want: "http://[2001:db8::1]:9090"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := runtimeBaseURL(tc.in)
			if got != tc.want {
				t.Fatalf("runtimeBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
			}
		})
	}
}

func TestWSBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
		{in: "https://chat.example.com", want: "wss://chat.example.com"},
		{in: "127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
	}

	for _, tc := range cases {
		got := wsBaseURL(tc.in)
		if got != tc.want {
			t.Fatalf("wsBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestApp builds an App with a fresh signing key. Tests using it must not be parallel.
func newTestApp(t *testing.T, cfg Config) *App {
	t.Helper()

	t.Setenv("PARLEY_PASETO_V4_SECRET_KEY_HEX", paseto.NewV4AsymmetricSecretKey().ExportHex())
	a, err := New(cfg, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func verifiedAccount(t *testing.T, a *App, username string) (chat.Account, string) {
	t.Helper()

	ctx := context.Background()
	acc, err := a.Chat().CreateAccount(ctx, chat.NewAccountInput{Username: username, EmailAddress: username + "@example.com"})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if acc, err = a.Chat().VerifyAccount(ctx, acc.ID); err != nil {
		t.Fatalf("VerifyAccount: %v", err)
	}
	issued, err := a.Sessions().IssueSession(ctx, chat.RecipientID(acc.ID))
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	return acc, issued.AccessToken
}

func TestNew_RequiresSigningKey(t *testing.T) {
	t.Setenv("PARLEY_PASETO_V4_SECRET_KEY_HEX", "")

	if _, err := New(DefaultConfig(), discardLogger()); err == nil {
		t.Fatalf("expected error without a signing key")
	}
}

func TestApp_Endpoints(t *testing.T) {
	a := newTestApp(t, DefaultConfig())
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	_, token := verifiedAccount(t, a, "ada")

	get := func(path, token string) (*http.Response, string) {
		t.Helper()
		req, _ := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer res.Body.Close()
		b, _ := io.ReadAll(res.Body)
		return res, string(b)
	}

	if res, body := get("/healthz", ""); res.StatusCode != http.StatusOK || body != "ok\n" {
		t.Fatalf("healthz: %d %q", res.StatusCode, body)
	}
	if res, body := get("/readyz", ""); res.StatusCode != http.StatusOK || body != "ready\n" {
		t.Fatalf("readyz: %d %q", res.StatusCode, body)
	}
	res, body := get("/metrics", "")
	if res.StatusCode != http.StatusOK || !strings.Contains(body, "go_goroutines") {
		t.Fatalf("metrics: %d", res.StatusCode)
	}
	if got := res.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("security headers missing: %q", got)
	}

	res, body = get("/v1/accounts/me", token)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", res.StatusCode, body)
	}
	var me chat.Account
	if err := json.Unmarshal([]byte(body), &me); err != nil || me.Username != "ada" {
		t.Fatalf("me=%+v err=%v", me, err)
	}

	if res, _ := get("/v1/accounts/me", ""); res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous me: %d", res.StatusCode)
	}
}

func TestApp_PebbleStorePersists(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store = StorePebble
	cfg.PebbleDir = t.TempDir()

	a := newTestApp(t, cfg)
	acc, _ := verifiedAccount(t, a, "grace")
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	b := newTestApp(t, cfg)
	got, err := b.Chat().Account(context.Background(), acc.ID)
	if err != nil {
		t.Fatalf("Account after reopen: %v", err)
	}
	if got.Username != "grace" || !got.Verified {
		t.Fatalf("account=%+v", got)
	}
}

func TestApp_ServeShutdownCompletesStreams(t *testing.T) {
	a := newTestApp(t, DefaultConfig())
	_, token := verifiedAccount(t, a, "linus")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	conn, _, err := websocket.Dial(dialCtx, "ws://"+ln.Addr().String()+"/subscriptions", &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   http.Header{"Origin": []string{"http://127.0.0.1"}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	writeFrame(t, conn, v1.TypeConnectionInit, v1.ConnectionInitPayload{Token: token})
	if env := readFrame(t, conn); env.Type != v1.TypeConnectionAck {
		t.Fatalf("expected ack, got %s", env.Type)
	}
	writeFrame(t, conn, v1.TypeSubscribe, v1.SubscribePayload{Query: `subscription { subscribeToChats }`})
	if env := readFrame(t, conn); env.Type != v1.TypeNext {
		t.Fatalf("expected CreatedSubscription, got %s", env.Type)
	}

	cancel()

	readCtx, readCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer readCancel()
	_, _, err = conn.Read(readCtx)
	var ce websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.StatusNormalClosure || ce.Reason != broker.ReasonShutdown {
		t.Fatalf("expected normal close %q, got %v", broker.ReasonShutdown, err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("Serve did not return")
	}
}

func writeFrame(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()

	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	b, err := json.Marshal(v1.Envelope{V: v1.Version, Type: typ, TS: time.Now().UTC(), Payload: raw})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) v1.Envelope {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, b, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env v1.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return env
}

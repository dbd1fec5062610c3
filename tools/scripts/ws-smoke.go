// Package main provides a CI-friendly WebSocket smoke test for parley subscriptions.
//
// It validates:
//   - handshake + subprotocol selection
//   - connection_init/connection_ack (anonymous when -token is empty)
//   - ping/pong keep-alive
//   - subscribe, with CreatedSubscription as the first event
//   - client complete closes with 1000 "complete"
//
// With -events N it also waits for N further events and prints them.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "parley/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	conn  *websocket.Conn
	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/subscriptions", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		token   = flag.String("token", "", "Access token (empty connects anonymously)")
		query   = flag.String("query", "subscription { subscribeToChats }", "Subscription document")
		events  = flag.Int("events", 0, "Events to wait for after CreatedSubscription")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	c, ack := mustConnect(root, *wsURL, *origin, *token, *timeout)
	defer closeWS(c.conn)

	if *verbose {
		fmt.Printf("connected: conn_id=%s anonymous=%v keep_alive=%dms\n", ack.ConnectionID, ack.Anonymous, ack.KeepAliveMS)
	}

	mustWriteWithTimeout(root, c.conn, envelope(v1.TypePing, nil), *timeout)
	c.mustReadUntilType(root, v1.TypePong, *timeout)

	mustWriteWithTimeout(root, c.conn, envelope(v1.TypeSubscribe, v1.SubscribePayload{Query: *query}), *timeout)

	topic, first := c.mustReadEvent(root, *timeout)
	if first.EventType() != v1.EventCreatedSubscription {
		fatalf("first event must be %s, got %s", v1.EventCreatedSubscription, first.EventType())
	}
	if *verbose {
		fmt.Printf("subscribed: topic=%s\n", topic)
	}

	for i := 0; i < *events; i++ {
		topic, ev := c.mustReadEvent(root, *timeout)
		b, _ := json.Marshal(ev)
		fmt.Printf("event %d: topic=%s type=%s %s\n", i+1, topic, ev.EventType(), b)
	}

	mustWriteWithTimeout(root, c.conn, envelope(v1.TypeComplete, nil), *timeout)
	mustClose(root, c, websocket.StatusNormalClosure, v1.CloseReasonClientComplete, *timeout)

	fmt.Printf("OK: conn_id=%s topic=%s events=%d\n", ack.ConnectionID, topic, *events)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, wsURL, origin, token string, stepTimeout time.Duration) (*smokeClient, v1.ConnectionAckPayload) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect: %v", err)
	}

	assertSubprotocol(resp, v1.Subprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	mustWriteWithTimeout(parent, conn, envelope(v1.TypeConnectionInit, v1.ConnectionInitPayload{Token: token}), stepTimeout)

	env := c.mustReadUntilType(parent, v1.TypeConnectionAck, stepTimeout)

	var ack v1.ConnectionAckPayload
	if err := json.Unmarshal(env.Payload, &ack); err != nil {
		fatalf("unmarshal connection_ack payload: %v", err)
	}
	if strings.TrimSpace(ack.ConnectionID) == "" {
		fatalf("connection_ack missing connection_id")
	}
	return c, ack
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func (c *smokeClient) mustReadEvent(parent context.Context, stepTimeout time.Duration) (string, v1.TypedEvent) {
	env := c.mustReadUntilType(parent, v1.TypeNext, stepTimeout)

	var p v1.NextPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal next payload: %v", err)
	}
	ev, err := v1.DecodeEvent(p.Event)
	if err != nil {
		fatalf("decode event: %v", err)
	}
	return p.Topic, ev
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q: %v", wantType, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection closed while waiting for %q: %v", wantType, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q", wantType)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error: code=%q msg=%q", ep.Code, ep.Message)
			}
			fatalf("unexpected envelope type: got=%q want=%q", env.Type, wantType)
		}
	}
}

// mustClose waits for the server's close frame.
func mustClose(parent context.Context, c *smokeClient, code websocket.StatusCode, reason string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for close: %v", ctx.Err())
		case env, ok := <-c.inbox:
			if ok {
				fatalf("unexpected %q before close", env.Type)
			}
		case err := <-c.errCh:
			var ce websocket.CloseError
			if !errors.As(err, &ce) {
				fatalf("expected close frame, got %v", err)
			}
			if ce.Code != code || ce.Reason != reason {
				fatalf("close mismatch: got=%d %q want=%d %q", ce.Code, ce.Reason, code, reason)
			}
			return
		}
	}
}

func envelope(typ string, payload any) v1.Envelope {
	env := v1.Envelope{V: v1.Version, Type: typ, TS: time.Now().UTC()}
	if payload != nil {
		env.Payload = mustJSON(payload)
	}
	return env
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}

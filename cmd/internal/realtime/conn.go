package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"parley/cmd/internal/auth/session"
	"parley/cmd/internal/broker"
	"parley/cmd/internal/chat"
	v1 "parley/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"
)

const (
	reasonPeerClosed          = "peer closed"
	reasonGoingAway           = "going away"
	reasonCompleted           = "completed"
	reasonSubprotocolRequired = "subprotocol required"
)

// errBadFrame marks a frame that arrived intact but is not a valid envelope.
var errBadFrame = errors.New("bad frame")

type frameResult struct {
	env v1.Envelope
	err error
}

// outcome is how a connection ends. err is server-side detail and is only logged.
type outcome struct {
	state  State
	reason string
	err    error
}

func policy(reason string) outcome { return outcome{state: StatePolicyClosed, reason: reason} }

func internal(err error) outcome {
	return outcome{state: StateErrored, reason: v1.CloseReasonInternal, err: err}
}

// conn is one subscription connection. Only the serving goroutine advances
// the state machine; the reader goroutine hands frames over c.frames.
type conn struct {
	g       *Gateway
	ws      *websocket.Conn
	id      string
	log     *slog.Logger
	sm      *machine
	limiter *rate.Limiter

	frames     chan frameResult
	readerDone chan struct{} // nil until the reader starts

	userID string // empty for anonymous connections
}

func newConn(g *Gateway, ws *websocket.Conn) *conn {
	id := g.ids.Next(g.now())
	return &conn{
		g:       g,
		ws:      ws,
		id:      id,
		log:     g.log.With("conn_id", id),
		sm:      newMachine(g.metrics),
		limiter: g.cfg.limiter(),
		frames:  make(chan frameResult),
	}
}

func (c *conn) serve(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	out := c.run(ctx)
	if err := c.sm.advance(out.state); err != nil {
		c.log.Error("ws.state.illegal", "err", err)
	}

	switch out.state {
	case StateErrored:
		c.log.Error("ws.close", "state", out.state.String(), "reason", out.reason, "user_id", c.userID, "err", out.err)
	default:
		c.log.Info("ws.close", "state", out.state.String(), "reason", out.reason, "user_id", c.userID)
	}

	_ = c.ws.Close(out.state.CloseCode(), out.reason)
	cancel()

	if c.readerDone != nil {
		select {
		case <-c.readerDone:
		case <-time.After(closeGrace):
		}
	}
}

// run drives the connection to a terminal outcome. Any registration made on
// the way is closed before run returns.
func (c *conn) run(ctx context.Context) outcome {
	if sp := c.ws.Subprotocol(); sp != v1.Subprotocol {
		c.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		return policy(reasonSubprotocolRequired)
	}

	c.readerDone = make(chan struct{})
	go c.readLoop(ctx)

	_ = c.sm.advance(StateAuthenticating)
	fr, out, ok := c.next(ctx, c.g.cfg.InitTimeout, v1.CloseReasonInitTimeout)
	if !ok {
		return out
	}
	if fr.err != nil || fr.env.Type != v1.TypeConnectionInit {
		return policy(v1.CloseReasonProtocol)
	}
	if out, ok := c.authenticate(ctx, fr.env); !ok {
		return out
	}
	ack := v1.ConnectionAckPayload{
		ConnectionID: c.id,
		KeepAliveMS:  c.g.cfg.KeepAliveTimeout.Milliseconds(),
		Anonymous:    c.userID == "",
	}
	if err := c.write(ctx, v1.TypeConnectionAck, ack); err != nil {
		return c.writeFailed(err)
	}

	_ = c.sm.advance(StateSubscribed)
	op, out, ok := c.awaitSubscribe(ctx)
	if !ok {
		return out
	}
	ch, out, ok := c.subscribe(ctx, op)
	if !ok {
		return out
	}
	defer ch.Close()

	_ = c.sm.advance(StateStreaming)
	c.log.Info("ws.subscribe", "user_id", c.userID, "topic", op.Topic.String(), "chat_id", op.ChatID, "registration_id", ch.ID())
	return c.stream(ctx, op, ch)
}

func (c *conn) authenticate(ctx context.Context, env v1.Envelope) (outcome, bool) {
	var p v1.ConnectionInitPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return policy(v1.CloseReasonProtocol), false
		}
	}
	if p.Token == "" {
		return outcome{}, true
	}
	if c.g.auth == nil {
		return outcome{state: StateRejected, reason: v1.CloseReasonUnauthorized}, false
	}

	claims, err := c.g.auth.Authenticate(ctx, p.Token)
	if session.IsUnauthenticated(err) {
		c.log.Info("ws.reject.auth", "err", err)
		return outcome{state: StateRejected, reason: v1.CloseReasonUnauthorized}, false
	}
	if err != nil {
		return internal(fmt.Errorf("authenticate: %w", err)), false
	}
	c.userID = claims.UserID
	return outcome{}, true
}

// awaitSubscribe answers pings until the subscribe frame arrives.
func (c *conn) awaitSubscribe(ctx context.Context) (Operation, outcome, bool) {
	for {
		fr, out, ok := c.next(ctx, c.g.cfg.KeepAliveTimeout, v1.CloseReasonKeepAliveTimeout)
		if !ok {
			return Operation{}, out, false
		}
		if fr.err != nil {
			return Operation{}, policy(v1.CloseReasonProtocol), false
		}

		switch fr.env.Type {
		case v1.TypePing:
			if err := c.write(ctx, v1.TypePong, nil); err != nil {
				return Operation{}, c.writeFailed(err), false
			}
			continue
		case v1.TypeComplete:
			return Operation{}, outcome{state: StateCompleted, reason: v1.CloseReasonClientComplete}, false
		case v1.TypeSubscribe:
		default:
			return Operation{}, policy(v1.CloseReasonProtocol), false
		}

		var p v1.SubscribePayload
		if err := json.Unmarshal(fr.env.Payload, &p); err != nil {
			return Operation{}, policy(v1.CloseReasonInvalidOperation), false
		}
		op, err := ParseOperation(p)
		switch {
		case errors.Is(err, ErrAmbiguousOperation):
			return Operation{}, policy(v1.CloseReasonAmbiguousDocument), false
		case err != nil:
			c.log.Info("ws.reject.operation", "err", err)
			return Operation{}, policy(v1.CloseReasonInvalidOperation), false
		}
		if c.userID == "" && !op.AllowsAnonymous() {
			return Operation{}, policy(v1.CloseReasonUnauthorized), false
		}
		return op, outcome{}, true
	}
}

func (c *conn) subscribe(ctx context.Context, op Operation) (*broker.Channel, outcome, bool) {
	ch, err := c.g.subs.Subscribe(ctx, c.userID, op.Topic, op.ChatID)
	switch {
	case err == nil:
	case errors.Is(err, chat.ErrUnauthenticated):
		return nil, policy(v1.CloseReasonUnauthorized), false
	case errors.Is(err, chat.ErrForbidden), errors.Is(err, chat.ErrNotFound):
		return nil, policy(v1.CloseReasonForbidden), false
	case errors.Is(err, chat.ErrInvalidArgument):
		return nil, policy(v1.CloseReasonInvalidOperation), false
	default:
		return nil, internal(fmt.Errorf("subscribe: %w", err)), false
	}

	if err := c.writeEvent(ctx, op.Topic, v1.CreatedSubscription{}); err != nil {
		ch.Close()
		return nil, c.writeFailed(err), false
	}
	return ch, outcome{}, true
}

// stream writes channel events in delivery order while a control goroutine
// serves inbound frames. Whichever side ends first decides the outcome.
func (c *conn) stream(ctx context.Context, op Operation, ch *broker.Channel) outcome {
	streamCtx, stop := context.WithCancel(ctx)
	defer stop()

	ctrl := make(chan outcome, 1)
	go func() {
		ctrl <- c.control(streamCtx, ctx)
		stop()
	}()

	for {
		if streamCtx.Err() != nil {
			return <-ctrl
		}
		ev, err := ch.Next(streamCtx)
		switch {
		case err == nil:
		case streamCtx.Err() != nil && !errors.Is(err, broker.ErrCompleted):
			return <-ctrl
		case errors.Is(err, broker.ErrCompleted):
			reason := broker.CompletionReason(err)
			if reason == "" {
				reason = reasonCompleted
			}
			return outcome{state: StateCompleted, reason: reason}
		default:
			return internal(fmt.Errorf("channel: %w", err))
		}

		if err := c.writeEvent(ctx, op.Topic, ev); err != nil {
			return c.writeFailed(err)
		}
	}
}

// control consumes client frames during streaming. Writes use connCtx so a
// cancelled stream never tears the socket down mid-write.
func (c *conn) control(streamCtx, connCtx context.Context) outcome {
	for {
		fr, out, ok := c.next(streamCtx, c.g.cfg.KeepAliveTimeout, v1.CloseReasonKeepAliveTimeout)
		if !ok {
			return out
		}
		if fr.err != nil {
			c.sendError(connCtx, "bad_frame", fr.err.Error())
			continue
		}
		switch fr.env.Type {
		case v1.TypePing:
			if err := c.write(connCtx, v1.TypePong, nil); err != nil {
				return c.writeFailed(err)
			}
		case v1.TypeComplete:
			return outcome{state: StateCompleted, reason: v1.CloseReasonClientComplete}
		default:
			c.sendError(connCtx, "unexpected_frame", "unexpected frame: "+fr.env.Type)
		}
	}
}

// next waits up to window for the next client frame. ok=false means the
// connection is over and out says how. A malformed frame is returned with
// fr.err set; the caller decides whether it is fatal.
func (c *conn) next(ctx context.Context, window time.Duration, lapse string) (fr frameResult, out outcome, ok bool) {
	t := time.NewTimer(window)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return frameResult{}, outcome{state: StateCompleted, reason: reasonGoingAway}, false
	case <-t.C:
		return frameResult{}, policy(lapse), false
	case fr = <-c.frames:
	}

	if fr.err != nil && !errors.Is(fr.err, errBadFrame) {
		return frameResult{}, c.readFailed(fr.err), false
	}
	if !c.limiter.Allow() {
		return frameResult{}, policy(v1.CloseReasonRateLimited), false
	}
	return fr, outcome{}, true
}

func (c *conn) readLoop(ctx context.Context) {
	defer close(c.readerDone)

	for {
		env, err := readFrame(ctx, c.ws)
		select {
		case c.frames <- frameResult{env: env, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil && !errors.Is(err, errBadFrame) {
			return
		}
	}
}

func readFrame(ctx context.Context, ws *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := ws.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText {
		return v1.Envelope{}, fmt.Errorf("%w: text frames only", errBadFrame)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, fmt.Errorf("%w: invalid JSON", errBadFrame)
	}
	if err := env.Validate(); err != nil {
		return v1.Envelope{}, fmt.Errorf("%w: %v", errBadFrame, err)
	}
	if !v1.IsClientType(env.Type) {
		return v1.Envelope{}, fmt.Errorf("%w: %s is not a client frame", errBadFrame, env.Type)
	}
	return env, nil
}

func (c *conn) readFailed(err error) outcome {
	if peerGone(err) {
		return outcome{state: StateCompleted, reason: reasonPeerClosed}
	}
	return internal(fmt.Errorf("read: %w", err))
}

func (c *conn) writeFailed(err error) outcome {
	if peerGone(err) {
		return outcome{state: StateCompleted, reason: reasonPeerClosed}
	}
	return internal(fmt.Errorf("write: %w", err))
}

func peerGone(err error) bool {
	return websocket.CloseStatus(err) != -1 || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

// ---- writes ----

func (c *conn) writeEvent(ctx context.Context, topic broker.Topic, ev broker.Event) error {
	raw, err := v1.EncodeEvent(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.EventType(), err)
	}
	if err := c.write(ctx, v1.TypeNext, v1.NextPayload{Topic: topic.String(), Event: raw}); err != nil {
		return err
	}
	c.g.metrics.sent(topic.String())
	return nil
}

func (c *conn) sendError(ctx context.Context, code, msg string) {
	if err := c.write(ctx, v1.TypeError, v1.ErrorPayload{Code: code, Message: msg}); err != nil {
		c.log.Debug("ws.write.error_frame.fail", "err", err)
	}
}

func (c *conn) write(ctx context.Context, typ string, payload any) error {
	now := c.g.now()
	env := v1.Envelope{V: v1.Version, Type: typ, ID: c.g.ids.Next(now), TS: now}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		env.Payload = raw
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, c.g.cfg.WriteTimeout)
	defer cancel()
	return c.ws.Write(wctx, websocket.MessageText, b)
}

// Package broker is the in-process publish/subscribe registry connecting
// mutation handlers to live subscription streams.
//
// A Broker maps (topic, recipient) to any number of registrations. Publish
// never blocks on subscribers: every registration owns a bounded buffer and a
// full buffer sheds events according to the Overflow policy.
package broker

import (
	"log/slog"
	"sync"
	"time"

	"parley/cmd/identity/ids"
)

const (
	// DefaultBufferSize is the per-registration event buffer.
	DefaultBufferSize = 256

	// ReasonShutdown completes registrations still live when the broker closes.
	ReasonShutdown = "server shutting down"
)

// Option configures a Broker.
type Option func(*Broker)

// WithBufferSize sets the per-registration buffer (values < 1 are ignored).
func WithBufferSize(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithOverflow sets the policy applied when a registration's buffer is full.
func WithOverflow(o Overflow) Option {
	return func(b *Broker) { b.overflow = o }
}

// WithLogger sets the logger used for drop and teardown diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(b *Broker) {
		if log != nil {
			b.log = log
		}
	}
}

// WithMetrics attaches prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(b *Broker) { b.metrics = m }
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(b *Broker) {
		if now != nil {
			b.now = now
		}
	}
}

// SubscribeOption configures a single registration.
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	scope  string
	viewer string
	filter func(Event) bool
}

// WithScope tags the registration with an opaque scope key.
func WithScope(scope string) SubscribeOption {
	return func(c *subscribeConfig) { c.scope = scope }
}

// WithViewer records the signed-in identity behind a registration held under
// a shared recipient such as PublicRecipient.
func WithViewer(id string) SubscribeOption {
	return func(c *subscribeConfig) { c.viewer = id }
}

// WithFilter narrows delivery to events for which keep returns true.
// keep runs on the publisher's goroutine and must not block.
func WithFilter(keep func(Event) bool) SubscribeOption {
	return func(c *subscribeConfig) { c.filter = keep }
}

type topicState struct {
	// publishMu serializes deliveries for the topic so that every registration
	// observes notifications in publish-call order.
	publishMu  sync.Mutex
	recipients map[string]map[string]*Channel
}

// Broker is the registration registry. Construct it with New; the zero value
// is not usable.
type Broker struct {
	log        *slog.Logger
	metrics    *Metrics
	bufferSize int
	overflow   Overflow
	now        func() time.Time
	ids        *ids.Generator

	mu     sync.RWMutex
	topics map[Topic]*topicState
	byID   map[string]*Channel
	closed bool
}

// New constructs a Broker.
func New(opts ...Option) *Broker {
	b := &Broker{
		log:        slog.Default(),
		bufferSize: DefaultBufferSize,
		overflow:   DropOldest,
		now:        func() time.Time { return time.Now().UTC() },
		ids:        ids.NewGenerator(),
		topics:     make(map[Topic]*topicState, len(allTopics)),
		byID:       make(map[string]*Channel),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	for _, t := range allTopics {
		b.topics[t] = &topicState{recipients: make(map[string]map[string]*Channel)}
	}
	return b
}

// Subscribe registers a new channel for (topic, recipientID). It always
// succeeds; after Close the returned channel is already completed.
func (b *Broker) Subscribe(topic Topic, recipientID string, opts ...SubscribeOption) *Channel {
	var cfg subscribeConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	now := b.now()
	reg := Registration{
		ID:          b.ids.Next(now),
		Topic:       topic,
		RecipientID: recipientID,
		ViewerID:    cfg.viewer,
		Scope:       cfg.scope,
		CreatedAt:   now,
	}
	ch := newChannel(b, reg, b.bufferSize, b.overflow, cfg.filter)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		ch.finish(&CompletedError{Reason: ReasonShutdown})
		return ch
	}
	ts := b.topics[topic]
	if ts == nil {
		ts = &topicState{recipients: make(map[string]map[string]*Channel)}
		b.topics[topic] = ts
	}
	regs := ts.recipients[recipientID]
	if regs == nil {
		regs = make(map[string]*Channel)
		ts.recipients[recipientID] = regs
	}
	regs[reg.ID] = ch
	b.byID[reg.ID] = ch
	b.mu.Unlock()

	b.metrics.registered(topic)
	b.log.Debug("broker.subscribe", "registration_id", reg.ID, "topic", topic, "recipient_id", recipientID, "scope", reg.Scope)
	return ch
}

type delivery struct {
	ch *Channel
	ev Event
}

// Publish delivers every notification to the registrations of its recipient
// that exist when Publish is called. It never blocks on subscribers and never
// fails because of them: channels found terminated are removed afterwards.
func (b *Broker) Publish(topic Topic, notifications ...Notification) {
	if len(notifications) == 0 {
		return
	}

	b.mu.RLock()
	ts := b.topics[topic]
	b.mu.RUnlock()
	if ts == nil {
		return
	}

	ts.publishMu.Lock()
	defer ts.publishMu.Unlock()

	// Snapshot under the read lock; deliver outside it.
	b.mu.RLock()
	plan := make([]delivery, 0, len(notifications))
	for _, n := range notifications {
		if n.Event == nil {
			continue
		}
		for _, ch := range ts.recipients[n.RecipientID] {
			plan = append(plan, delivery{ch: ch, ev: n.Event})
		}
	}
	b.mu.RUnlock()

	b.metrics.published(topic, len(notifications))

	var gone []string
	for _, d := range plan {
		if !d.ch.wants(d.ev) {
			continue
		}
		switch d.ch.deliver(d.ev) {
		case delivered:
			b.metrics.delivered(topic)
		case deliveredAfterEvict:
			b.metrics.delivered(topic)
			b.metrics.dropped(topic, "overflow")
			b.log.Debug("broker.drop", "registration_id", d.ch.reg.ID, "topic", topic, "policy", d.ch.overflow.String())
		case droppedFull:
			b.metrics.dropped(topic, "overflow")
			b.log.Debug("broker.drop", "registration_id", d.ch.reg.ID, "topic", topic, "policy", d.ch.overflow.String())
		case deliveryGone:
			b.metrics.dropped(topic, "gone")
			gone = append(gone, d.ch.reg.ID)
		}
	}

	for _, id := range gone {
		b.remove(id)
	}
}

// Unsubscribe completes and removes every registration matching match.
// It returns the number of registrations completed.
func (b *Broker) Unsubscribe(reason string, match func(Registration) bool) int {
	if match == nil {
		return 0
	}
	victims := b.detach(match)
	for _, ch := range victims {
		ch.finish(&CompletedError{Reason: reason})
	}
	if len(victims) > 0 {
		b.log.Info("broker.unsubscribe", "count", len(victims), "reason", reason)
	}
	return len(victims)
}

// UnsubscribeRecipient completes every registration of recipientID on every
// topic, including shared registrations it holds as viewer.
func (b *Broker) UnsubscribeRecipient(recipientID, reason string) int {
	return b.Unsubscribe(reason, func(r Registration) bool {
		return r.RecipientID == recipientID || (recipientID != "" && r.ViewerID == recipientID)
	})
}

// Abort terminates matching registrations with err instead of a completion.
func (b *Broker) Abort(err error, match func(Registration) bool) int {
	if match == nil || err == nil {
		return 0
	}
	victims := b.detach(match)
	for _, ch := range victims {
		ch.finish(err)
	}
	if len(victims) > 0 {
		b.log.Warn("broker.abort", "count", len(victims), "err", err)
	}
	return len(victims)
}

// Close completes every live registration. Later subscriptions are returned
// already completed.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	n := b.Unsubscribe(ReasonShutdown, func(Registration) bool { return true })
	b.log.Info("broker.closed", "completed", n)
}

// Count returns the number of live registrations on topic.
func (b *Broker) Count(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ts := b.topics[topic]
	if ts == nil {
		return 0
	}
	n := 0
	for _, regs := range ts.recipients {
		n += len(regs)
	}
	return n
}

// Registrations returns the metadata of every live registration matching match
// (all of them when match is nil).
func (b *Broker) Registrations(match func(Registration) bool) []Registration {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Registration, 0, len(b.byID))
	for _, ch := range b.byID {
		if match == nil || match(ch.reg) {
			out = append(out, ch.reg)
		}
	}
	return out
}

// detach removes matching registrations from the maps and returns them.
func (b *Broker) detach(match func(Registration) bool) []*Channel {
	b.mu.Lock()
	defer b.mu.Unlock()

	var victims []*Channel
	for id, ch := range b.byID {
		if !match(ch.reg) {
			continue
		}
		b.unlink(id, ch)
		victims = append(victims, ch)
	}
	return victims
}

func (b *Broker) remove(id string) {
	b.mu.Lock()
	ch, ok := b.byID[id]
	if ok {
		b.unlink(id, ch)
	}
	b.mu.Unlock()

	if ok {
		b.log.Debug("broker.remove", "registration_id", id, "topic", ch.reg.Topic)
	}
}

// unlink must be called with b.mu held for writing.
func (b *Broker) unlink(id string, ch *Channel) {
	delete(b.byID, id)
	if ts := b.topics[ch.reg.Topic]; ts != nil {
		if regs := ts.recipients[ch.reg.RecipientID]; regs != nil {
			delete(regs, id)
			if len(regs) == 0 {
				delete(ts.recipients, ch.reg.RecipientID)
			}
		}
	}
	b.metrics.unregistered(ch.reg.Topic)
}

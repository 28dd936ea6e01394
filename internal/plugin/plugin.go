// Package plugin runs a hub plugin: it connects, subscribes its handlers,
// polls its delivery queues, dispatches each message to the matching
// handler and posts the handler's reply as the response. It also routes
// responses to messages the plugin itself sent back to the callbacks
// registered for them.
package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/alfredjeanlab/hpit/internal/client"
	"github.com/alfredjeanlab/hpit/internal/events"
	"github.com/alfredjeanlab/hpit/internal/model"
	"github.com/alfredjeanlab/hpit/internal/wire"
)

// Message is one delivered message.
type Message struct {
	ID        string
	EventName string
	SenderID  string
	Payload   json.RawMessage
}

// Get returns the payload field at path.
func (m *Message) Get(path string) gjson.Result {
	return gjson.GetBytes(m.Payload, path)
}

// Handler answers a message. A nil reply with a nil error posts nothing;
// the handler then owns replying later through Runtime.Respond.
type Handler func(ctx context.Context, msg *Message) (any, error)

// Callback receives one response to a message the plugin sent.
type Callback func(ctx context.Context, response json.RawMessage)

// UnexpectedPrefix starts the reply posted when a handler fails.
const UnexpectedPrefix = "Unexpected error; please consult the docs. "

// Runtime is a running plugin.
type Runtime struct {
	hub      client.HubClient
	name     string
	interval time.Duration
	logger   *slog.Logger
	wakeSub  events.Subscriber
	sem      chan struct{}

	handlers   map[string]Handler
	txHandler  Handler
	inflight   sync.WaitGroup
	callbackMu sync.Mutex
	callbacks  map[string]Callback
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithPollInterval sets how often the queues are polled.
func WithPollInterval(d time.Duration) Option {
	return func(r *Runtime) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithLogger sets the runtime logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// WithConcurrency bounds the number of handlers running at once.
func WithConcurrency(n int) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.sem = make(chan struct{}, n)
		}
	}
}

// WithWakeups polls as soon as the hub announces queued deliveries or posted
// responses, instead of waiting for the next tick.
func WithWakeups(sub events.Subscriber) Option {
	return func(r *Runtime) { r.wakeSub = sub }
}

// New returns a Runtime for the plugin called name.
func New(hub client.HubClient, name string, opts ...Option) *Runtime {
	r := &Runtime{
		hub:       hub,
		name:      name,
		interval:  time.Second,
		logger:    slog.Default(),
		sem:       make(chan struct{}, 16),
		handlers:  make(map[string]Handler),
		callbacks: make(map[string]Callback),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Name returns the plugin name.
func (r *Runtime) Name() string { return r.name }

// Handle registers h for event. Register handlers before Run.
func (r *Runtime) Handle(event string, h Handler) {
	r.handlers[event] = h
}

// HandleTransactions registers the handler for the transaction channel.
func (r *Runtime) HandleTransactions(h Handler) {
	r.txHandler = h
}

// Connect registers the plugin with the hub and subscribes every handler.
func (r *Runtime) Connect(ctx context.Context) error {
	reply, err := r.hub.Connect(ctx, model.KindPlugin, r.name)
	if err != nil {
		return fmt.Errorf("connecting plugin %s: %w", r.name, err)
	}
	r.logger.Info("plugin connected", "plugin", r.name, "entity_id", reply.EntityID)

	subscribe := func(event string) error {
		status, err := r.hub.Subscribe(ctx, r.name, event)
		if err != nil {
			return fmt.Errorf("subscribing %s to %s: %w", r.name, event, err)
		}
		r.logger.Debug("plugin subscribed", "plugin", r.name, "event", event, "status", status)
		return nil
	}
	for event := range r.handlers {
		if err := subscribe(event); err != nil {
			return err
		}
	}
	if r.txHandler != nil {
		if err := subscribe(model.TransactionEvent); err != nil {
			return err
		}
	}
	return nil
}

// Run connects, then polls until ctx is done. On return every running
// handler has finished and the plugin is disconnected.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		r.inflight.Wait()
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.hub.Disconnect(dctx); err != nil {
			r.logger.Warn("plugin disconnect failed", "plugin", r.name, "err", err)
		}
	}()

	wake, stopWake := r.wakeups()
	defer stopWake()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.Poll(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-wake:
		}
	}
}

// Poll runs one pass over both delivery queues and the response queue.
// Handlers are started in the background.
func (r *Runtime) Poll(ctx context.Context) {
	r.pollResponses(ctx)
	r.pollChannel(ctx, model.ChannelMessages)
	if r.txHandler != nil {
		r.pollChannel(ctx, model.ChannelTransactions)
	}
}

// Wait blocks until every started handler has returned.
func (r *Runtime) Wait() { r.inflight.Wait() }

func (r *Runtime) pollChannel(ctx context.Context, channel model.Channel) {
	envelopes, err := r.hub.Messages(ctx, r.name, channel, wire.ModeList)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("polling deliveries failed", "plugin", r.name, "channel", channel, "err", err)
		}
		return
	}
	for _, env := range envelopes {
		msg := &Message{
			ID:        gjson.GetBytes(env.Message, "message_id").String(),
			EventName: env.EventName,
			SenderID:  gjson.GetBytes(env.Message, "sender_entity_id").String(),
			Payload:   env.Message,
		}
		h := r.handlerFor(msg.EventName)
		if h == nil {
			r.logger.Warn("no handler for delivered event", "plugin", r.name, "event", msg.EventName)
			continue
		}

		// The slot is taken inside the goroutine: a handler waiting on a
		// Request must never stall the loop that delivers its response.
		r.inflight.Add(1)
		go func() {
			defer r.inflight.Done()
			select {
			case r.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-r.sem }()
			r.dispatch(ctx, h, msg)
		}()
	}
}

func (r *Runtime) handlerFor(event string) Handler {
	if event == model.TransactionEvent {
		return r.txHandler
	}
	return r.handlers[event]
}

// dispatch runs h and posts its reply. A failing or panicking handler
// answers with an error payload so the sender is never left waiting.
func (r *Runtime) dispatch(ctx context.Context, h Handler, msg *Message) {
	reply, err := r.invoke(ctx, h, msg)
	if err != nil {
		r.logger.Error("plugin handler failed", "plugin", r.name, "event", msg.EventName, "message_id", msg.ID, "err", err)
		reply = map[string]string{"error": UnexpectedPrefix + err.Error()}
	}
	if reply == nil {
		return
	}
	if err := r.Respond(ctx, msg.ID, reply); err != nil {
		r.logger.Warn("posting response failed", "plugin", r.name, "message_id", msg.ID, "err", err)
	}
}

func (r *Runtime) invoke(ctx context.Context, h Handler, msg *Message) (reply any, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("panic recovered in plugin handler",
				"plugin", r.name,
				"event", msg.EventName,
				"panic", fmt.Sprintf("%v", p),
				"stack", string(debug.Stack()),
			)
			reply, err = nil, fmt.Errorf("%v", p)
		}
	}()
	return h(ctx, msg)
}

// Respond posts payload as the response to messageID.
func (r *Runtime) Respond(ctx context.Context, messageID string, payload any) error {
	_, err := r.hub.Respond(ctx, messageID, payload)
	return err
}

// Send publishes event and routes every response to it to cb until Forget
// is called with the returned message id. A nil cb sends without listening.
func (r *Runtime) Send(ctx context.Context, event string, payload any, cb Callback) (string, error) {
	if cb == nil {
		return r.hub.Publish(ctx, event, payload)
	}
	// Held across the publish so a response polled right away still finds cb.
	r.callbackMu.Lock()
	defer r.callbackMu.Unlock()
	id, err := r.hub.Publish(ctx, event, payload)
	if err != nil {
		return "", err
	}
	r.callbacks[id] = cb
	return id, nil
}

// Forget stops routing responses for messageID.
func (r *Runtime) Forget(messageID string) {
	r.callbackMu.Lock()
	delete(r.callbacks, messageID)
	r.callbackMu.Unlock()
}

// Listening returns the number of sent messages whose responses are still
// routed to a callback.
func (r *Runtime) Listening() int {
	r.callbackMu.Lock()
	defer r.callbackMu.Unlock()
	return len(r.callbacks)
}

// ErrNoResponse is returned by Request when ctx ends before a response.
var ErrNoResponse = errors.New("plugin: no response before deadline")

// Request publishes event and waits for the first response. The response
// arrives through the poll loop, so Run must be active.
func (r *Runtime) Request(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	ch := make(chan json.RawMessage, 1)
	id, err := r.Send(ctx, event, payload, func(_ context.Context, resp json.RawMessage) {
		select {
		case ch <- resp:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	defer r.Forget(id)

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s (%v)", ErrNoResponse, event, ctx.Err())
	}
}

func (r *Runtime) pollResponses(ctx context.Context) {
	if r.hub.EntityID() == "" {
		return
	}
	responses, err := r.hub.Responses(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("polling responses failed", "plugin", r.name, "err", err)
		}
		return
	}
	for _, resp := range responses {
		r.callbackMu.Lock()
		cb := r.callbacks[resp.Message.MessageID]
		r.callbackMu.Unlock()
		if cb == nil {
			r.logger.Debug("response with no callback", "plugin", r.name, "message_id", resp.Message.MessageID)
			continue
		}
		cb(ctx, resp.Response)
	}
}

// wakeups merges hub notifications relevant to this plugin into one channel.
func (r *Runtime) wakeups() (<-chan struct{}, func()) {
	if r.wakeSub == nil {
		return nil, func() {}
	}
	wake := make(chan struct{}, 1)
	notify := func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	}

	var cancels []func()
	if ch, cancel, err := r.wakeSub.Subscribe(events.DeliveryTopic(r.name)); err != nil {
		r.logger.Warn("delivery wake-ups unavailable", "plugin", r.name, "err", err)
	} else {
		cancels = append(cancels, cancel)
		go func() {
			for range ch {
				notify()
			}
		}()
	}
	if ch, cancel, err := r.wakeSub.Subscribe(events.TopicResponsePosted); err != nil {
		r.logger.Warn("response wake-ups unavailable", "plugin", r.name, "err", err)
	} else {
		cancels = append(cancels, cancel)
		go func() {
			for data := range ch {
				var ev events.ResponsePosted
				if events.Decode(data, &ev) == nil && ev.EntityID == r.hub.EntityID() {
					notify()
				}
			}
		}()
	}
	return wake, func() {
		for _, c := range cancels {
			c()
		}
	}
}

package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

// drainTimeout bounds how long Close waits for pending notifications.
const drainTimeout = 5 * time.Second

// subscriberBuffer bounds the events queued for a slow reader. Events past
// the bound are dropped; every consumer treats them as wake-up hints.
const subscriberBuffer = 64

// connect dials NATS with reconnection enabled and connection state changes
// logged. Caller options are applied last.
func connect(url, name string, opts ...nats.Option) (*nats.Conn, error) {
	defaults := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "client", name, "err", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "client", name, "url", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NATSPublisher publishes broker notifications as JSON on NATS subjects
// named after their topic.
type NATSPublisher struct {
	conn   *nats.Conn
	closed chan struct{}
}

// NewNATSPublisher connects the hub's notification publisher.
func NewNATSPublisher(url string, opts ...nats.Option) (*NATSPublisher, error) {
	closed := make(chan struct{})
	onClosed := nats.ClosedHandler(func(*nats.Conn) { close(closed) })
	nc, err := connect(url, "hpit-hub", append(opts[:len(opts):len(opts)], onClosed)...)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: nc, closed: closed}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, topic string, event any) error {
	data, err := json.MarshalContext(ctx, event)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", topic, err)
	}
	if err := p.conn.Publish(topic, data); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}

// Close flushes pending notifications and returns once the connection is
// closed. A drain that outlasts drainTimeout is cut short.
func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return nil
	}
	select {
	case <-p.closed:
	case <-time.After(drainTimeout):
		slog.Warn("nats drain timed out", "client", "hpit-hub")
		p.conn.Close()
	}
	return nil
}

// NATSSubscriber receives broker notifications for plugin runtimes and
// other watchers.
type NATSSubscriber struct {
	conn *nats.Conn
}

// NewNATSSubscriber connects with unlimited reconnects. Extra options such
// as reconnect handlers are applied after the defaults.
func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	nc, err := connect(url, "hpit-subscriber", opts...)
	if err != nil {
		return nil, err
	}
	return &NATSSubscriber{conn: nc}, nil
}

// Subscribe forwards the raw payloads published on topic (NATS wildcards
// such as "hpit.>" allowed) to the returned channel. The cancel function
// unsubscribes; the channel is closed once the forwarder has stopped.
func (s *NATSSubscriber) Subscribe(topic string) (<-chan []byte, func(), error) {
	msgs := make(chan *nats.Msg, subscriberBuffer)
	sub, err := s.conn.ChanSubscribe(topic, msgs)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	// The subscription must be registered on the server before returning.
	if err := s.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, nil, fmt.Errorf("flushing subscription to %s: %w", topic, err)
	}

	out := make(chan []byte, subscriberBuffer)
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		defer close(out)
		for {
			select {
			case <-done:
				return
			case m := <-msgs:
				select {
				case out <- m.Data:
				case <-done:
					return
				default:
				}
			}
		}
	}()

	cancel := sync.OnceFunc(func() {
		_ = sub.Unsubscribe()
		close(done)
		<-stopped
	})
	return out, cancel, nil
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}

// Decode unmarshals a raw event payload received from a Subscriber.
func Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

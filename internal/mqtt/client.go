// Package mqtt mirrors hub events to an MQTT broker and takes device
// commands from it.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

var (
	ErrNotConnected = errors.New("mqtt: client not connected")
	ErrStopped      = errors.New("mqtt: client stopped")
)

const (
	qos            = 1
	publishTimeout = 5 * time.Second
)

// Options configures the broker connection.
type Options struct {
	Broker   string // e.g. "tcp://localhost:1883"
	ClientID string
	Username string
	Password string
}

// Handler receives messages for a subscription.
type Handler func(topic string, payload []byte)

// Client is a paho client with ctx-aware connect and subscriptions that
// survive reconnects.
type Client struct {
	client    paho.Client
	mu        sync.RWMutex
	connected bool
	subs      map[string]Handler

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewClient configures a client. It does not connect.
func NewClient(opts Options) *Client {
	c := &Client{
		subs:   make(map[string]Handler),
		stopCh: make(chan struct{}),
	}

	po := paho.NewClientOptions()
	po.AddBroker(opts.Broker)
	po.SetClientID(opts.ClientID)
	if opts.Username != "" {
		po.SetUsername(opts.Username)
		po.SetPassword(opts.Password)
	}

	po.SetCleanSession(true)
	po.SetAutoReconnect(true)
	po.SetConnectRetry(true)
	po.SetConnectRetryInterval(5 * time.Second)
	po.SetMaxReconnectInterval(60 * time.Second)
	po.SetKeepAlive(30 * time.Second)
	po.SetPingTimeout(10 * time.Second)

	po.SetOnConnectHandler(func(pc paho.Client) {
		c.setConnected(true)
		slog.Info("[MQTT] connected", "broker", opts.Broker)
		c.resubscribe(pc)
	})
	po.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.setConnected(false)
		slog.Warn("[MQTT] connection lost", "error", err)
	})

	c.client = paho.NewClient(po)
	return c
}

// Connect waits for the first connection, honouring ctx and Disconnect.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return ErrStopped
	default:
	}

	if c.IsConnected() {
		return nil
	}

	token := c.client.Connect()
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt: connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			c.client.Disconnect(0)
			return ctx.Err()
		case <-c.stopCh:
			return ErrStopped
		default:
		}
	}
}

// Publish sends payload at QoS 1.
func (c *Client) Publish(topic string, retained bool, payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt: publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish %s: %w", topic, err)
	}
	slog.Debug("[MQTT] published", "topic", topic, "retained", retained, "size", len(payload))
	return nil
}

// Subscribe registers h for topic. The subscription is renewed after every
// reconnect.
func (c *Client) Subscribe(topic string, h Handler) error {
	c.mu.Lock()
	c.subs[topic] = h
	c.mu.Unlock()

	if !c.IsConnected() {
		return nil
	}
	return c.subscribe(c.client, topic, h)
}

func (c *Client) subscribe(pc paho.Client, topic string, h Handler) error {
	token := pc.Subscribe(topic, qos, func(_ paho.Client, msg paho.Message) {
		h(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt: subscribe timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: subscribe %s: %w", topic, err)
	}
	slog.Info("[MQTT] subscribed", "topic", topic)
	return nil
}

func (c *Client) resubscribe(pc paho.Client) {
	c.mu.RLock()
	subs := make(map[string]Handler, len(c.subs))
	for t, h := range c.subs {
		subs[t] = h
	}
	c.mu.RUnlock()

	// Paho calls the connect handler on its own goroutine; waiting on the
	// tokens here is allowed.
	for t, h := range subs {
		if err := c.subscribe(pc, t, h); err != nil {
			slog.Warn("[MQTT] resubscribe failed", "topic", t, "error", err)
		}
	}
}

// IsConnected reports whether the broker link is up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect stops the client. It is safe to call more than once.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	if c.client != nil {
		c.client.Disconnect(250)
	}
	c.setConnected(false)
	slog.Info("[MQTT] disconnected")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

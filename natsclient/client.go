package natsclient

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/fabula/errors"
)

// Client manages a NATS connection with reconnect handling and lazy
// JetStream setup
type Client struct {
	url    string
	logger *slog.Logger

	name          string
	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration
	username      string
	password      string
	token         string

	onDisconnect func(error)
	onReconnect  func()

	mu        sync.Mutex
	conn      *nats.Conn
	jetstream jetstream.JetStream
}

// NewClient builds an unconnected client; call Connect before use
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("empty NATS URL"),
			"Client", "NewClient", "url is required")
	}

	client := &Client{
		url:           url,
		logger:        slog.Default(),
		name:          "fabula",
		maxReconnects: -1, // retry forever
		reconnectWait: 2 * time.Second,
		timeout:       5 * time.Second,
	}
	for _, opt := range opts {
		if err := opt(client); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	client.logger = client.logger.With("component", "natsclient")
	return client, nil
}

// URL returns the configured server URL
func (c *Client) URL() string {
	return c.url
}

func (c *Client) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.Name(c.name),
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.Timeout(c.timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.logger.Warn("NATS disconnected", "error", err)
			if c.onDisconnect != nil {
				c.onDisconnect(err)
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			c.logger.Info("NATS reconnected", "url", conn.ConnectedUrl())
			if c.onReconnect != nil {
				c.onReconnect()
			}
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.logger.Info("NATS connection closed")
		}),
	}
	if c.username != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	return opts
}

// Connect establishes the connection; calling Connect on a connected client
// is a no-op
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && c.conn.IsConnected() {
		return nil
	}

	conn, err := nats.Connect(c.url, c.connectionOptions()...)
	if err != nil {
		return errors.WrapTransient(err, "Client", "Connect",
			fmt.Sprintf("connect to %s", c.url))
	}
	c.conn = conn
	c.logger.Info("NATS connected", "url", conn.ConnectedUrl())

	select {
	case <-ctx.Done():
		conn.Close()
		c.conn = nil
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "context cancelled")
	default:
	}
	return nil
}

// Close drains and closes the connection
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() {
		done <- c.conn.Drain()
	}()
	select {
	case err := <-done:
		c.conn = nil
		c.jetstream = nil
		if err != nil {
			return errors.WrapTransient(err, "Client", "Close", "drain connection")
		}
		return nil
	case <-ctx.Done():
		c.conn.Close()
		c.conn = nil
		c.jetstream = nil
		return errors.WrapTransient(ctx.Err(), "Client", "Close", "drain timed out")
	}
}

// IsHealthy reports whether the connection is currently established
func (c *Client) IsHealthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.conn.IsConnected()
}

func (c *Client) connection() (*nats.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, errors.WrapTransient(errors.ErrNoConnection,
			"Client", "connection", "not connected")
	}
	return c.conn, nil
}

// Publish sends a message on a core NATS subject
func (c *Client) Publish(subject string, data []byte) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}
	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "Publish",
			fmt.Sprintf("publish to %s", subject))
	}
	return nil
}

// Subscribe delivers messages on a subject to the handler until the context
// ends
func (c *Client) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}
	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(ctx, msg.Data)
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "Subscribe",
			fmt.Sprintf("subscribe to %s", subject))
	}
	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Warn("unsubscribe failed", "subject", subject, "error", err)
		}
	}()
	return nil
}

// JetStream returns the lazily created JetStream context
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, errors.WrapTransient(errors.ErrNoConnection,
			"Client", "JetStream", "not connected")
	}
	if c.jetstream != nil {
		return c.jetstream, nil
	}
	js, err := jetstream.New(c.conn)
	if err != nil {
		return nil, errors.WrapFatal(err, "Client", "JetStream", "create context")
	}
	c.jetstream = js
	return js, nil
}

// CreateKeyValueBucket creates a KV bucket, returning the existing one when
// it is already there
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}
	bucket, err := js.CreateKeyValue(ctx, cfg)
	if err != nil {
		if isAlreadyExistsError(err) {
			return js.KeyValue(ctx, cfg.Bucket)
		}
		return nil, errors.WrapTransient(err, "Client", "CreateKeyValueBucket",
			fmt.Sprintf("create bucket %s", cfg.Bucket))
	}
	return bucket, nil
}

// GetKeyValueBucket binds to an existing KV bucket
func (c *Client) GetKeyValueBucket(ctx context.Context, name string) (jetstream.KeyValue, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}
	bucket, err := js.KeyValue(ctx, name)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "GetKeyValueBucket",
			fmt.Sprintf("bind bucket %s", name))
	}
	return bucket, nil
}

func isAlreadyExistsError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "already exists")
}

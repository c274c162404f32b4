// Package moduleclient is the MQTT transport of an edge module: telemetry
// outputs, twin desired/reported properties, direct methods and inputs.
package moduleclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/edge-simulators/pkg/dedup"
	"github.com/LeonardoBeccarini/edge-simulators/pkg/logging"
)

const (
	qosAtLeastOnce byte = 1

	stateOnline  = "online"
	stateOffline = "offline"
)

type Options struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	ModuleID    string

	ConnectTimeout    time.Duration
	ConnectMaxElapsed time.Duration
	ConnectMaxRetries int
	// TwinTimeout bounds how long GetTwin waits for the retained desired document.
	TwinTimeout time.Duration
	// MethodDedupTTL is how long a method request id is remembered.
	MethodDedupTTL time.Duration
}

func (o *Options) setDefaults() {
	if o.ClientID == "" {
		o.ClientID = o.ModuleID
	}
	if o.TopicPrefix == "" {
		o.TopicPrefix = "modules"
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	if o.ConnectMaxElapsed <= 0 {
		o.ConnectMaxElapsed = 30 * time.Second
	}
	if o.ConnectMaxRetries <= 0 {
		o.ConnectMaxRetries = 5
	}
	if o.TwinTimeout <= 0 {
		o.TwinTimeout = 2 * time.Second
	}
	if o.MethodDedupTTL <= 0 {
		o.MethodDedupTTL = 2 * time.Minute
	}
}

// Client is a connected module. Handlers may be registered before or after
// Connect returns; they are (re)subscribed on every connection.
type Client struct {
	opts   Options
	topics Topics
	client mqtt.Client
	l      *slog.Logger

	// ctx is handed to handlers and cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	desired  DesiredPropertyHandler
	methods  map[string]MethodHandler
	inputs   map[string]InputHandler
	closing  bool

	// Desired patches and each input are handled in arrival order.
	desiredQ *serialQueue
	inputQs  map[string]*serialQueue

	inflight sync.WaitGroup

	reportedMu sync.Mutex
	reported   map[string]any

	methodSeen *dedup.Deduper
	closed     atomic.Bool
}

// Connect dials the broker, retrying with exponential backoff, and announces
// the module online.
func Connect(ctx context.Context, opts Options, l *slog.Logger) (*Client, error) {
	if opts.BrokerURL == "" {
		return nil, errors.New("broker URL is required")
	}
	if opts.ModuleID == "" {
		return nil, errors.New("module ID is required")
	}
	opts.setDefaults()

	l = l.With(slog.String("component", "module-client"), slog.String("module", opts.ModuleID))

	c := &Client{
		opts:       opts,
		topics:     NewTopics(opts.TopicPrefix, opts.ModuleID),
		l:          l,
		methods:    make(map[string]MethodHandler),
		inputs:     make(map[string]InputHandler),
		desiredQ:   newSerialQueue(),
		inputQs:    make(map[string]*serialQueue),
		reported:   make(map[string]any),
		methodSeen: dedup.New(opts.MethodDedupTTL, 0),
	}
	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	go c.desiredQ.run(c.ctx)

	co := mqtt.NewClientOptions()
	co.AddBroker(opts.BrokerURL)
	co.SetClientID(opts.ClientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		co.SetPassword(opts.Password)
	}
	co.SetCleanSession(true)
	co.SetOrderMatters(true)
	co.SetAutoReconnect(true)
	co.SetConnectTimeout(opts.ConnectTimeout)
	co.SetMaxReconnectInterval(15 * time.Second)
	co.SetKeepAlive(30 * time.Second)
	co.SetWill(c.topics.State(), stateOffline, qosAtLeastOnce, true)
	co.SetOnConnectHandler(c.onConnect)
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.l.Warn("connection to broker lost", logging.ErrAttr(err))
	})
	co.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		c.l.Info("reconnecting to broker", slog.String("broker", opts.BrokerURL))
	})

	c.client = mqtt.NewClient(co)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = opts.ConnectMaxElapsed

	err := backoff.Retry(func() error {
		tok := c.client.Connect()
		if !tok.WaitTimeout(opts.ConnectTimeout + time.Second) {
			return fmt.Errorf("connect to %s: timed out", opts.BrokerURL)
		}
		if err := tok.Error(); err != nil {
			c.l.Warn("failed to connect to broker", slog.String("broker", opts.BrokerURL), logging.ErrAttr(err))
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(opts.ConnectMaxRetries-1)), ctx))
	if err != nil {
		c.cancel()
		return nil, fmt.Errorf("could not connect to broker %s after retries: %w", opts.BrokerURL, err)
	}

	if err := c.publish(ctx, c.topics.State(), true, []byte(stateOnline)); err != nil {
		c.l.Warn("failed to announce online state", logging.ErrAttr(err))
	}

	c.l.Info("connected to broker", slog.String("broker", opts.BrokerURL), slog.String("topics", c.topics.Base()))
	return c, nil
}

// Topics returns the module's topic layout.
func (c *Client) Topics() Topics { return c.topics }

// IsConnected reports whether the broker connection is currently up.
func (c *Client) IsConnected() bool {
	return !c.closed.Load() && c.client.IsConnectionOpen()
}

// SendEvent publishes msg on output with QoS 1.
func (c *Client) SendEvent(ctx context.Context, output string, msg Message) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	return c.publish(ctx, c.topics.Output(output, msg.Properties), false, msg.Body)
}

// Close stops dispatching new callbacks, waits for in-flight ones until ctx
// is done, announces offline and disconnects.
func (c *Client) Close(ctx context.Context) error {
	if c.closed.Swap(true) {
		return nil
	}

	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("waiting for in-flight callbacks: %w", ctx.Err())
		c.l.Warn("closing with callbacks still running", logging.ErrAttr(ctx.Err()))
	}
	c.cancel()

	if c.client.IsConnectionOpen() {
		offCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		if perr := c.publish(offCtx, c.topics.State(), true, []byte(stateOffline)); perr != nil {
			c.l.Warn("failed to announce offline state", logging.ErrAttr(perr))
		}
		cancel()
	}
	c.client.Disconnect(250)
	c.l.Info("disconnected from broker")
	return err
}

func (c *Client) publish(ctx context.Context, topic string, retained bool, payload []byte) error {
	tok := c.client.Publish(topic, qosAtLeastOnce, retained, payload)
	if err := waitToken(ctx, tok); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func waitToken(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// onConnect is called on every (re)connection and restores subscriptions.
func (c *Client) onConnect(client mqtt.Client) {
	c.mu.Lock()
	filters := map[string]mqtt.MessageHandler{
		c.topics.MethodRequestFilter(): c.onMethod,
	}
	if c.desired != nil {
		filters[c.topics.TwinDesiredPatch()] = c.onDesired
	}
	for name := range c.inputs {
		filters[c.topics.Input(name)] = c.inputCallback(name)
	}
	c.mu.Unlock()

	c.l.Info("subscribing", slog.Int("subscriptionCount", len(filters)))
	for topic, h := range filters {
		c.subscribe(client, topic, h)
	}
}

func (c *Client) subscribe(client mqtt.Client, topic string, h mqtt.MessageHandler) {
	tok := client.Subscribe(topic, qosAtLeastOnce, h)
	if !tok.WaitTimeout(c.opts.ConnectTimeout) {
		c.l.Error("subscribe timed out", slog.String("topic", topic))
		return
	}
	if err := tok.Error(); err != nil {
		c.l.Error("failed to subscribe", slog.String("topic", topic), logging.ErrAttr(err))
		return
	}
	c.l.Debug("subscribed", slog.String("topic", topic))
}

// subscribeNow subscribes right away when a handler is registered on an
// open connection; otherwise onConnect will do it.
func (c *Client) subscribeNow(topic string, h mqtt.MessageHandler) {
	if c.client != nil && c.client.IsConnectionOpen() {
		c.subscribe(c.client, topic, h)
	}
}

// inputQueue returns the queue serializing messages on input, starting its
// worker on first use.
func (c *Client) inputQueue(input string) *serialQueue {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.inputQs[input]
	if !ok {
		q = newSerialQueue()
		c.inputQs[input] = q
		go q.run(c.ctx)
	}
	return q
}

// dispatch schedules fn as a tracked callback guarded against panics: on q
// when given, otherwise on its own goroutine. Paho delivers messages on a
// single router goroutine, so fn must never run inline. It returns false
// once Close has started.
func (c *Client) dispatch(q *serialQueue, ec logging.ErrorContext, fn func(ctx context.Context)) bool {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return false
	}
	c.inflight.Add(1)
	c.mu.Unlock()

	job := func() {
		defer c.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				ec.Log(c.l, "handler panicked", panicError(r))
			}
		}()
		fn(c.ctx)
	}
	if q == nil {
		go job()
		return true
	}
	q.push(job)
	return true
}

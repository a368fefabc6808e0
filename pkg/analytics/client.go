// Package analytics is a client-side event pipeline. Events are queued, persisted into batches and
// uploaded to a data plane in the background, surviving restarts when disk storage is used.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/Sokol111/analytics-pipeline/pkg/http/client"
	"github.com/Sokol111/analytics-pipeline/pkg/policy/backoff"
	"github.com/Sokol111/analytics-pipeline/pkg/policy/flush"
	"github.com/Sokol111/analytics-pipeline/pkg/storage/eventstore"
	"github.com/Sokol111/analytics-pipeline/pkg/storage/kv"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	kvDirName      = "kv"
	batchesDirName = "batches"
)

type clientOptions struct {
	log            *zap.Logger
	kv             kv.Store
	events         eventstore.Store
	sender         Sender
	policies       []flush.Policy
	backoff        *backoff.Handler
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	plugins        []Plugin
}

// Option customizes a Client.
type Option func(*clientOptions)

func WithLogger(log *zap.Logger) Option {
	return func(o *clientOptions) {
		o.log = log
	}
}

// WithKeyValueStore replaces the store derived from the storage mode. The client does not close it.
func WithKeyValueStore(store kv.Store) Option {
	return func(o *clientOptions) {
		o.kv = store
	}
}

// WithEventStore replaces the event store derived from the storage mode.
func WithEventStore(store eventstore.Store) Option {
	return func(o *clientOptions) {
		o.events = store
	}
}

// WithSender replaces the HTTP batch sender. The client does not close it.
func WithSender(sender Sender) Option {
	return func(o *clientOptions) {
		o.sender = sender
	}
}

// WithFlushPolicies replaces the policies built from the configuration.
func WithFlushPolicies(policies ...Policy) Option {
	return func(o *clientOptions) {
		o.policies = policies
	}
}

func WithBackoffHandler(h *backoff.Handler) Option {
	return func(o *clientOptions) {
		o.backoff = h
	}
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *clientOptions) {
		o.meterProvider = mp
	}
}

// WithTracerProvider traces upload cycles and outgoing requests. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *clientOptions) {
		o.tracerProvider = tp
	}
}

func WithPlugins(plugins ...Plugin) Option {
	return func(o *clientOptions) {
		o.plugins = append(o.plugins, plugins...)
	}
}

// Policy is re-exported so callers can pass flush policies without importing the flush package.
type Policy = flush.Policy

// Client is the entry point of the pipeline. All methods are safe for concurrent use.
type Client struct {
	cfg      Config
	log      *zap.Logger
	kv       kv.Store
	events   eventstore.Store
	manager  *Manager
	identity *identity
	closers  []io.Closer

	pluginsMu sync.RWMutex
	plugins   []Plugin

	shutdownOnce sync.Once
	shutdownErr  error
}

// New builds a client for cfg and starts its pipeline.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := clientOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("writeKey", maskWriteKey(cfg.WriteKey)))

	c := &Client{cfg: cfg, log: log}
	if err := c.initStorage(o); err != nil {
		_ = c.closeAll()
		return nil, err
	}

	sender := o.sender
	if sender == nil {
		bs, err := client.NewBatchSender(cfg.senderConfig(), log,
			client.WithInstrumentation(o.tracerProvider, o.meterProvider))
		if err != nil {
			_ = c.closeAll()
			return nil, fmt.Errorf("failed to create batch sender: %w", err)
		}
		sender = bs
		c.closers = append(c.closers, bs)
	}

	handler := o.backoff
	if handler == nil {
		handler = backoff.NewHandler(
			backoff.NewExponentialPolicy(cfg.Backoff.MinDelay),
			log,
			backoff.WithMaxAttempts(cfg.Backoff.MaxAttempts),
			backoff.WithCoolOff(cfg.Backoff.CoolOff),
		)
	}

	policies := o.policies
	if policies == nil {
		policies = cfg.FlushPolicies()
	}

	manager, err := NewManager(ManagerConfig{
		Store:          c.events,
		Sender:         sender,
		KV:             c.kv,
		Flush:          flush.NewFacade(log, policies...),
		Backoff:        handler,
		MaxEventSize:   cfg.MaxEventSize,
		Logger:         log,
		MeterProvider:  o.meterProvider,
		TracerProvider: o.tracerProvider,
	})
	if err != nil {
		_ = c.closeAll()
		return nil, err
	}
	c.manager = manager
	c.identity = loadIdentity(c.kv, log)

	for _, p := range o.plugins {
		c.AddPlugin(p)
	}
	c.manager.Start()
	return c, nil
}

func (c *Client) initStorage(o clientOptions) error {
	c.kv = o.kv
	if c.kv == nil {
		switch c.cfg.StorageMode {
		case StorageDisk:
			store, err := kv.OpenBadgerStore(filepath.Join(c.cfg.StorageDir, kvDirName), c.cfg.WriteKey)
			if err != nil {
				return fmt.Errorf("failed to open key-value store: %w", err)
			}
			c.kv = store
			c.closers = append(c.closers, store)
		default:
			c.kv = kv.NewMemoryStore()
		}
	}

	c.events = o.events
	if c.events != nil {
		return nil
	}
	storeOpts := []eventstore.Option{
		eventstore.WithMaxBatchSize(c.cfg.MaxBatchSize),
		eventstore.WithMaxStoredBatches(c.cfg.MaxStoredBatches),
		eventstore.WithLogger(c.log),
	}
	switch c.cfg.StorageMode {
	case StorageDisk:
		store, err := eventstore.NewDiskStore(filepath.Join(c.cfg.StorageDir, batchesDirName), c.cfg.WriteKey, c.kv, storeOpts...)
		if err != nil {
			return fmt.Errorf("failed to open event store: %w", err)
		}
		c.events = store
	default:
		c.events = eventstore.NewMemoryStore(storeOpts...)
	}
	return nil
}

// AddPlugin registers p and calls its Setup hook.
func (c *Client) AddPlugin(p Plugin) {
	if p == nil {
		return
	}
	p.Setup(c)
	c.pluginsMu.Lock()
	c.plugins = append(c.plugins, p)
	c.pluginsMu.Unlock()
	c.log.Debug("plugin added", zap.String("plugin", p.Name()))
}

func (c *Client) snapshotPlugins() []Plugin {
	c.pluginsMu.RLock()
	defer c.pluginsMu.RUnlock()
	return append([]Plugin(nil), c.plugins...)
}

// Track records an action the user performed.
func (c *Client) Track(name string, properties Properties) {
	c.enqueue(NewTrack(name, properties))
}

// Screen records a screen view.
func (c *Client) Screen(name string, properties Properties) {
	c.enqueue(NewScreen(name, properties))
}

// Group associates the user with a group.
func (c *Client) Group(groupID string, traits Properties) {
	c.enqueue(NewGroup(groupID, traits))
}

// Identify sets the user id and merges traits into the stored ones. An empty userID keeps the current user.
func (c *Client) Identify(userID string, traits Properties) {
	c.identity.identify(userID, traits)
	c.enqueue(NewIdentify(c.identity.UserID(), traits))
}

// Alias links the current identity to newID and makes newID the user id.
func (c *Client) Alias(newID string) {
	previousID := c.identity.alias(newID)
	c.enqueue(NewAlias(newID, previousID))
}

// Reset forgets the user and starts a new anonymous identity.
func (c *Client) Reset() {
	c.identity.reset()
	for _, p := range c.snapshotPlugins() {
		p.Reset()
	}
}

// Flush uploads every event tracked before this call.
func (c *Client) Flush() {
	for _, p := range c.snapshotPlugins() {
		p.Flush()
	}
	c.manager.Flush()
}

// FlushAndWait is Flush that returns once the events tracked before this call are in closed batches,
// so Pending counts them.
func (c *Client) FlushAndWait(ctx context.Context) error {
	for _, p := range c.snapshotPlugins() {
		p.Flush()
	}
	return c.manager.FlushAndWait(ctx)
}

// Clear discards every stored batch.
func (c *Client) Clear() {
	c.manager.Clear()
}

// EnableSource resumes uploads paused by a disabled source.
func (c *Client) EnableSource() {
	c.manager.Source().Dispatch(EnableSource)
}

// Errors reports failures that require the caller to stop sending events, such as an invalid write key.
func (c *Client) Errors() <-chan error {
	return c.manager.Errors()
}

func (c *Client) AnonymousID() string {
	return c.identity.AnonymousID()
}

func (c *Client) UserID() string {
	return c.identity.UserID()
}

// Pending returns the number of closed batches waiting for upload.
func (c *Client) Pending() (int, error) {
	items, err := c.events.Read()
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

func (c *Client) enqueue(e Event) {
	c.identity.stamp(e)
	for _, p := range c.snapshotPlugins() {
		if e = p.Process(e); e == nil {
			c.log.Debug("event dropped by plugin", zap.String("plugin", p.Name()))
			return
		}
	}
	c.manager.Put(e)
}

// Shutdown stops the pipeline and releases the stores it opened. Events still queued are persisted
// unless ctx ends first. Subsequent calls return the first result.
func (c *Client) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		for _, p := range c.snapshotPlugins() {
			p.Shutdown(ctx)
		}
		c.manager.Stop(ctx)
		c.shutdownErr = c.closeAll()
	})
	return c.shutdownErr
}

func (c *Client) closeAll() error {
	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	for _, closer := range c.closers {
		g.Go(func() error {
			if err := closer.Close(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	c.closers = nil
	return errors.Join(errs...)
}

func maskWriteKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "****"
}

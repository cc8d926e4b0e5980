package gateway

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/mqtt-gateway/internal/device"
	"github.com/nerrad567/mqtt-gateway/internal/discovery"
	"github.com/nerrad567/mqtt-gateway/internal/dispatch"
	"github.com/nerrad567/mqtt-gateway/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqtt-gateway/internal/node"
	"github.com/nerrad567/mqtt-gateway/internal/nodes"
	"github.com/nerrad567/mqtt-gateway/internal/notice"
	"github.com/nerrad567/mqtt-gateway/internal/topics"
)

// Logger defines the logging interface used by the gateway and handed to
// every component it creates. *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Broker is the connection manager as the gateway uses it. *mqtt.Client
// satisfies it.
type Broker interface {
	Connect(ctx context.Context) error
	WaitConnected(ctx context.Context, interval time.Duration, onWaiting func()) error
	IsConnected() bool
	SetOnConnect(callback func())
	SetOnDisconnect(callback func(err error))
	SubscribeAll(topics []string, handler mqtt.MessageHandler) []mqtt.SubscribeResult
	Unsubscribe(topics ...string) error
	HasSubscription(topic string) bool
	SubscriptionCount() int
	PublishDefault(topic string, payload []byte) error
	PublishRetained(topic string, payload []byte) error
}

// Options configures a Gateway.
type Options struct {
	Config *config.Config
	Broker Broker

	// Nodes is the node registry, normally backed by SQLite. If nil an
	// in-memory registry is used.
	Nodes *nodes.Registry

	// Notices receives the start-up notices. If nil a private board is used.
	Notices *notice.Board

	Logger  Logger
	Version string
}

// Gateway owns the device store, topic table, reconciler and dispatch engine
// and ties them to the broker.
type Gateway struct {
	cfg     *config.Config
	broker  Broker
	logger  Logger
	version string

	store      *device.Store
	topics     *topics.Registry
	nodes      *nodes.Registry
	notices    *notice.Board
	controller *node.Controller
	reconciler *discovery.Reconciler
	engine     *dispatch.Engine
	heartbeat  *Heartbeat
	watcher    *device.Watcher

	// passMu serialises reloads so a pass and its subscription changes are
	// applied together.
	passMu     sync.Mutex
	lastResult discovery.Result
	lastRun    time.Time

	runMu   sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool

	// ready is set once the first discovery pass has run.
	ready atomic.Bool
}

// New creates a gateway. Nothing runs until Start.
func New(opts Options) (*Gateway, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Broker == nil {
		return nil, fmt.Errorf("broker is required")
	}

	g := &Gateway{
		cfg:     opts.Config,
		broker:  opts.Broker,
		logger:  opts.Logger,
		version: opts.Version,
		store:   device.NewStore(opts.Config.Gateway.ControllerAddress),
		topics:  topics.NewRegistry(),
		nodes:   opts.Nodes,
		notices: opts.Notices,
	}
	if g.logger == nil {
		g.logger = noopLogger{}
	}
	if g.nodes == nil {
		g.nodes = nodes.NewRegistry(nil)
	}
	if g.notices == nil {
		g.notices = notice.NewBoard()
	}
	g.store.SetLogger(g.logger)
	g.topics.SetLogger(g.logger)
	g.nodes.SetLogger(g.logger)

	reconciler, err := discovery.New(discovery.Options{
		Descriptors:       g.store,
		Nodes:             g.nodes,
		Topics:            g.topics,
		Build:             g.build,
		ControllerAddress: g.cfg.Gateway.ControllerAddress,
		CreateTimeout:     g.cfg.CreateTimeout(),
		Logger:            g.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating reconciler: %w", err)
	}
	g.reconciler = reconciler

	engine, err := dispatch.New(dispatch.Options{
		Topics:  g.topics,
		Sensors: g.store,
		Nodes:   g.nodes,
		Guard:   reconciler.Guard(),
		Logger:  g.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating dispatch engine: %w", err)
	}
	g.engine = engine

	g.nodes.AddListener(func(e nodes.Event) {
		if e.Type == nodes.EventAdded && g.reconciler.Confirm(e.Address) {
			// Adopted after its pass timed out. The listener runs on the
			// registry worker, which a pass may be waiting on.
			go g.subscribeAdopted(e.Address)
		}
	})

	g.controller = node.NewController(g.cfg.Gateway.ControllerAddress, "", controllerActions{g}, g.deps())

	g.heartbeat = NewHeartbeat(HeartbeatConfig{
		GatewayID: g.cfg.MQTT.Broker.ClientID,
		Version:   g.version,
		Interval:  g.cfg.HeartbeatInterval(),
		Topic:     g.cfg.StatusTopic() + "/health",
		Publisher: g.broker,
		Beater:    g.controller,
		Stats:     g.statistics,
	})
	g.heartbeat.SetLogger(g.logger)

	return g, nil
}

// build creates the node for a descriptor with the gateway's publisher.
func (g *Gateway) build(desc device.Descriptor) (node.Node, error) {
	return node.New(desc, g.deps())
}

func (g *Gateway) deps() node.Deps {
	return node.Deps{
		Publisher: publisher{broker: g.broker},
		Reporter:  g.nodes,
		Logger:    g.logger,
	}
}

// Start runs the start-up sequence and the first discovery pass. It blocks
// while waiting for a device list and for the broker, and returns early
// only when ctx is cancelled or the node registry cannot be restored.
func (g *Gateway) Start(ctx context.Context) error {
	g.runMu.Lock()
	if g.started {
		g.runMu.Unlock()
		return nil
	}
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.started = true
	runCtx := g.ctx
	g.runMu.Unlock()

	g.notices.Set(notice.KeyHello, "MQTT gateway starting")

	if err := g.waitForDevices(runCtx); err != nil {
		return err
	}

	g.nodes.Start(runCtx)
	restored, err := g.nodes.Restore(runCtx, g.build)
	if err != nil {
		return fmt.Errorf("restoring nodes: %w", err)
	}
	g.nodes.Attach(g.controller)
	g.logger.Info("node registry ready", "restored", restored)

	g.broker.SetOnConnect(g.onConnect)
	g.broker.SetOnDisconnect(g.onDisconnect)
	interval := time.Duration(g.cfg.MQTT.Reconnect.InitialDelay) * time.Second
	if err := g.broker.Connect(runCtx); err != nil {
		g.logger.Error("MQTT connection failed", "error", err)
		g.notices.Set(notice.KeyMQTT, "Error on MQTT broker connection")
	}
	err = g.broker.WaitConnected(runCtx, interval, func() {
		g.logger.Warn("waiting on MQTT broker connection")
		g.notices.Set(notice.KeyMQTT, "Waiting on MQTT broker connection")
	})
	if err != nil {
		return fmt.Errorf("waiting for broker: %w", err)
	}

	g.notices.Clear()
	g.controller.SetOnline(true)

	if _, err := g.Discover(runCtx); err != nil {
		return fmt.Errorf("initial discovery: %w", err)
	}
	g.ready.Store(true)
	g.queryNodes()

	if g.cfg.HeartbeatInterval() > 0 {
		g.heartbeat.Start(runCtx)
	}
	g.startWatcher(runCtx)

	g.logger.Info("gateway started", "nodes", g.nodes.Len(), "topics", g.topics.Len())
	return nil
}

// Stop halts the background work. The broker is closed by its owner.
func (g *Gateway) Stop() {
	g.runMu.Lock()
	if !g.started {
		g.runMu.Unlock()
		return
	}
	g.started = false
	cancel := g.cancel
	g.runMu.Unlock()
	g.ready.Store(false)

	if g.watcher != nil {
		g.watcher.Stop()
	}
	g.heartbeat.Stop()
	g.controller.SetOnline(false)
	g.nodes.Stop()
	cancel()
	g.logger.Info("gateway stopped")
}

// waitForDevices loads the device list, polling until one is valid.
func (g *Gateway) waitForDevices(ctx context.Context) error {
	interval := g.cfg.ConfigWaitInterval()
	for {
		err := g.loadDevices()
		if err == nil {
			g.notices.Remove(notice.KeyWaiting)
			return nil
		}
		g.logger.Warn("waiting on valid configuration", "error", err)
		g.notices.Set(notice.KeyWaiting, "Waiting on valid configuration")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// loadDevices reads the configured device source into the store. A
// failed load keeps the previous list.
func (g *Gateway) loadDevices() error {
	var (
		res device.LoadResult
		err error
	)
	switch {
	case g.cfg.Devices.File != "":
		res, err = g.store.LoadFile(g.cfg.Devices.File)
	case g.cfg.Devices.List != "":
		res, err = g.store.LoadInline(g.cfg.Devices.List)
	default:
		return ErrNoDeviceSource
	}
	if err != nil {
		return err
	}
	g.logger.Debug("device source loaded", "devices", len(res.Descriptors), "skipped", len(res.Skipped))
	return nil
}

func (g *Gateway) startWatcher(ctx context.Context) {
	if g.cfg.Devices.File == "" || !g.cfg.Devices.Watch {
		return
	}
	w, err := device.NewWatcher(g.cfg.Devices.File, 0, func() {
		if _, err := g.Reload(ctx); err != nil {
			g.logger.Error("reload after device file change failed", "error", err)
		}
	})
	if err != nil {
		g.logger.Warn("device file watch disabled", "path", g.cfg.Devices.File, "error", err)
		return
	}
	w.SetLogger(g.logger)
	w.Start(ctx)
	g.watcher = w
}

// Reload re-reads the device source and runs a discovery pass. A device
// source that fails to load keeps the current nodes.
func (g *Gateway) Reload(ctx context.Context) (discovery.Result, error) {
	if err := g.loadDevices(); err != nil {
		g.logger.Error("device list reload failed", "error", err)
		return discovery.Result{}, err
	}
	return g.Discover(ctx)
}

// ReplaceDevices installs raw as the device list and runs a discovery pass.
// With devices.file configured the list is written there as well so it
// survives a restart.
func (g *Gateway) ReplaceDevices(ctx context.Context, raw []map[string]any) (device.LoadResult, discovery.Result, error) {
	if path := g.cfg.Devices.File; path != "" {
		if err := writeDeviceFile(path, raw); err != nil {
			return device.LoadResult{}, discovery.Result{}, err
		}
	}
	loaded := g.store.Replace(raw)
	res, err := g.Discover(ctx)
	return loaded, res, err
}

// writeDeviceFile replaces path with raw as a YAML devices document.
func writeDeviceFile(path string, raw []map[string]any) error {
	data, err := yaml.Marshal(map[string]any{"devices": raw})
	if err != nil {
		return fmt.Errorf("encoding device file: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".devices-*.yaml")
	if err != nil {
		return fmt.Errorf("writing device file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing device file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing device file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing device file: %w", err)
	}
	return nil
}

// Discover runs one reconciliation pass and applies its subscription
// changes. Passes are serialised.
func (g *Gateway) Discover(ctx context.Context) (discovery.Result, error) {
	if !g.store.Valid() {
		return discovery.Result{}, ErrNoDeviceSource
	}

	g.passMu.Lock()
	defer g.passMu.Unlock()

	res, err := g.reconciler.Run(ctx)
	g.applySubscriptions(res)

	g.lastResult = res
	g.lastRun = time.Now().UTC()

	if err != nil {
		return res, err
	}
	if perr := res.Errors(); perr != nil {
		g.logger.Warn("discovery finished with device errors", "error", perr)
	}
	return res, nil
}

// applySubscriptions brings the broker in line with a pass. Topics the
// broker does not know yet are subscribed even if the pass did not add
// them, which covers passes run while disconnected.
func (g *Gateway) applySubscriptions(res discovery.Result) {
	if len(res.Unsubscribe) > 0 && g.broker.IsConnected() {
		if err := g.broker.Unsubscribe(res.Unsubscribe...); err != nil {
			g.logger.Warn("MQTT unsubscribe failed", "topics", len(res.Unsubscribe), "error", err)
		}
	}
	g.subscribeMissing()
}

// subscribeMissing subscribes every registered topic the broker is not
// subscribed to.
func (g *Gateway) subscribeMissing() {
	if !g.broker.IsConnected() {
		return
	}
	var missing []string
	for _, topic := range g.topics.Topics() {
		if !g.broker.HasSubscription(topic) {
			missing = append(missing, topic)
		}
	}
	if len(missing) == 0 {
		return
	}
	failed := 0
	for _, r := range g.broker.SubscribeAll(missing, g.engine.OnMessage) {
		if r.Err != nil {
			failed++
		}
	}
	g.logger.Info("topics subscribed", "requested", len(missing), "failed", failed)
}

// subscribeAdopted subscribes the topics of a node adopted outside a pass
// and asks it for its state.
func (g *Gateway) subscribeAdopted(address string) {
	g.passMu.Lock()
	g.subscribeMissing()
	g.passMu.Unlock()

	if n, ok := g.nodes.Get(address); ok && g.ready.Load() {
		if err := n.Query(); err != nil {
			g.logger.Warn("node query failed", "address", address, "error", err)
		}
	}
}

// onConnect runs on every broker (re)connection.
func (g *Gateway) onConnect() {
	if !g.ready.Load() {
		return
	}

	g.notices.Remove(notice.KeyMQTT)
	g.subscribeMissing()
	g.queryNodes()
}

// onDisconnect runs when an established session drops. The connection
// manager keeps retrying; the notice stays up until onConnect clears it.
func (g *Gateway) onDisconnect(err error) {
	g.logger.Warn("MQTT connection lost", "error", err)
	g.notices.Set(notice.KeyMQTT, "Waiting on MQTT broker connection")
}

// queryNodes asks every device node for its current state.
func (g *Gateway) queryNodes() {
	for _, n := range g.nodes.List() {
		if n.Address() == g.controller.Address() {
			continue
		}
		if err := n.Query(); err != nil {
			g.logger.Warn("node query failed", "address", n.Address(), "error", err)
		}
	}
}

// Command runs cmd on the node at address.
func (g *Gateway) Command(address string, cmd node.Command) error {
	n, ok := g.nodes.Get(address)
	if !ok {
		return fmt.Errorf("%w: %s", nodes.ErrNodeNotFound, address)
	}
	return n.Command(cmd)
}

// statistics feeds the heartbeat.
func (g *Gateway) statistics() Statistics {
	return Statistics{
		Nodes:         g.nodes.Len(),
		Devices:       len(g.store.List()),
		Topics:        g.topics.Len(),
		Subscriptions: g.broker.SubscriptionCount(),
		Dispatch:      g.engine.Stats(),
	}
}

// Status is a point-in-time view of the gateway for the API.
type Status struct {
	Version      string            `json:"version"`
	Connected    bool              `json:"connected"`
	DevicesValid bool              `json:"devices_valid"`
	Statistics   Statistics        `json:"statistics"`
	LastPass     *discovery.Result `json:"last_discovery,omitempty"`
	LastPassAt   *time.Time        `json:"last_discovery_at,omitempty"`
}

// Status returns the current gateway status.
func (g *Gateway) Status() Status {
	s := Status{
		Version:      g.version,
		Connected:    g.broker.IsConnected(),
		DevicesValid: g.store.Valid(),
		Statistics:   g.statistics(),
	}
	// TryLock so a status request never waits behind a running pass.
	if g.passMu.TryLock() {
		if !g.lastRun.IsZero() {
			res, at := g.lastResult, g.lastRun
			s.LastPass, s.LastPassAt = &res, &at
		}
		g.passMu.Unlock()
	}
	return s
}

// Store returns the device descriptor store.
func (g *Gateway) Store() *device.Store { return g.store }

// Nodes returns the node registry.
func (g *Gateway) Nodes() *nodes.Registry { return g.nodes }

// Topics returns the topic table.
func (g *Gateway) Topics() *topics.Registry { return g.topics }

// Notices returns the notice board.
func (g *Gateway) Notices() *notice.Board { return g.notices }

// Reconciler returns the lifecycle reconciler.
func (g *Gateway) Reconciler() *discovery.Reconciler { return g.reconciler }

// Dispatcher returns the dispatch engine.
func (g *Gateway) Dispatcher() *dispatch.Engine { return g.engine }

// Controller returns the controller node.
func (g *Gateway) Controller() *node.Controller { return g.controller }

// runContext returns the context of the running gateway.
func (g *Gateway) runContext() (context.Context, error) {
	g.runMu.RLock()
	defer g.runMu.RUnlock()
	if !g.started {
		return nil, ErrNotStarted
	}
	return g.ctx, nil
}

// controllerActions exposes the gateway to the controller node.
type controllerActions struct {
	g *Gateway
}

func (a controllerActions) Discover() error {
	ctx, err := a.g.runContext()
	if err != nil {
		return err
	}
	_, err = a.g.Discover(ctx)
	return err
}

func (a controllerActions) QueryAll() error {
	return a.g.nodes.QueryAll()
}

// publisher adapts the broker to node.Publisher.
type publisher struct {
	broker Broker
}

func (p publisher) Publish(topic string, payload []byte, retained bool) error {
	if retained {
		return p.broker.PublishRetained(topic, payload)
	}
	return p.broker.PublishDefault(topic, payload)
}

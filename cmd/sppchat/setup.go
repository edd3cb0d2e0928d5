package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/sppchat/internal/discovery"
	"github.com/srg/sppchat/internal/session"
	"github.com/srg/sppchat/internal/transport"
	"github.com/srg/sppchat/internal/transport/bluez"
	"github.com/srg/sppchat/internal/transport/memory"
	"github.com/srg/sppchat/internal/transport/rfcomm"
	"github.com/srg/sppchat/pkg/config"
)

// app is the per-command runtime: configuration, logger and link backend.
type app struct {
	cfg       *config.Config
	logger    *logrus.Logger
	factory   transport.Factory
	discovery *discovery.Controller
	network   *memory.Network
	closers   []func() error
}

// loadConfig reads --config (if any) and applies the global flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	fallbackLevel := logrus.PanicLevel

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
		fallbackLevel = cfg.LogLevel
	}

	levelStr, _ := cmd.Flags().GetString("log-level")
	level, err := parseLogLevel(levelStr, fallbackLevel)
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = level

	if cmd.Flags().Changed("transport") {
		cfg.Transport, _ = cmd.Flags().GetString("transport")
	}
	if cmd.Flags().Changed("adapter") {
		cfg.Adapter, _ = cmd.Flags().GetString("adapter")
	}
	if cmd.Flags().Changed("channel") {
		cfg.RFCOMMChannel, _ = cmd.Flags().GetUint8("channel")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newApp builds the configured link backend.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := cfg.NewLogger()

	a := &app{cfg: cfg, logger: logger}
	switch cfg.Transport {
	case config.TransportMemory:
		a.network = memory.NewNetwork(0, logger)
		a.factory = a.network
	case config.TransportBlueZ:
		f := bluez.NewFactory(cfg.Adapter, logger)
		a.factory = f
		a.closers = append(a.closers, f.Close)
		a.discovery = discovery.NewController(cfg.Adapter, logger)
		a.closers = append(a.closers, a.discovery.Close)
	default:
		a.factory = rfcomm.NewFactory(rfcomm.Options{
			Channel:      cfg.RFCOMMChannel,
			PollInterval: cfg.PollInterval,
		}, logger)
		a.discovery = discovery.NewController(cfg.Adapter, logger)
		a.closers = append(a.closers, a.discovery.Close)
	}

	logger.WithFields(logrus.Fields{
		"transport": cfg.Transport,
		"adapter":   cfg.Adapter,
	}).Debug("Transport configured")
	return a, nil
}

// newManager creates a session manager on the app's backend.
func (a *app) newManager(observer session.Observer) (*session.Manager, error) {
	opts := &session.Options{
		Factory:        a.factory,
		Observer:       observer,
		ReadBufferSize: a.cfg.ReadBufferSize,
		Logger:         a.logger,
	}
	if a.discovery != nil {
		opts.Discovery = a.discovery
		opts.CanConnect = adapterPresent(a.cfg.Adapter)
	}
	return session.NewManager(opts)
}

// Close releases the backend in reverse creation order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.WithError(err).Debug("Cleanup failed")
		}
	}
}

// adapterPresent reports whether the kernel exposes the HCI adapter. Without
// it (no controller, rfkill, missing permissions on sysfs) a connect cannot work.
func adapterPresent(adapter string) session.CapabilityCheck {
	return func() bool {
		_, err := os.Stat(filepath.Join("/sys/class/bluetooth", adapter))
		return err == nil
	}
}

// linkWatcher turns lifecycle events into channel signals for the commands.
// Each signal is kept until consumed; reset drops stale ones before a new
// connect attempt.
type linkWatcher struct {
	connected chan struct{}
	ended     chan string
}

func newLinkWatcher() *linkWatcher {
	return &linkWatcher{
		connected: make(chan struct{}, 1),
		ended:     make(chan string, 1),
	}
}

func (w *linkWatcher) end(reason string) {
	select {
	case w.ended <- reason:
	default:
	}
}

func (w *linkWatcher) reset() {
	for {
		select {
		case <-w.connected:
		case <-w.ended:
		default:
			return
		}
	}
}

func (w *linkWatcher) ConnectionStarted(string) {}

func (w *linkWatcher) ConnectionSucceeded(string) {
	select {
	case w.connected <- struct{}{}:
	default:
	}
}

func (w *linkWatcher) ConnectionFailed(_, reason string) { w.end(reason) }
func (w *linkWatcher) Disconnected(string)               { w.end("") }
func (w *linkWatcher) DataReceived(string, string)       {}

// wait blocks until the link is up, fails, or wait/ctx expire.
func (w *linkWatcher) wait(ctx context.Context, wait time.Duration) error {
	var timeout <-chan time.Time
	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-w.connected:
		return nil
	case reason := <-w.ended:
		if reason == "" {
			return ErrConnectionLost
		}
		return fmt.Errorf("connection failed: %s", reason)
	case <-timeout:
		return ErrConnectTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fanout delivers every event to each observer in order, keeping the full
// event for observers that handle them.
type fanout []session.Observer

func (f fanout) HandleEvent(e session.Event) {
	for _, o := range f {
		session.Deliver(o, e)
	}
}

func (f fanout) observer() session.Observer {
	return session.EventHandlerFunc(f.HandleEvent)
}

// device validates a device argument. Radio transports need a Bluetooth
// address; the memory transport accepts any identifier and registers an
// echoing peer for it so the whole stack can be tried without a radio.
func (a *app) device(arg string) (string, error) {
	if a.network != nil {
		a.network.AddPeer(arg, memory.WithEcho())
		return arg, nil
	}
	addr, err := transport.ParseAddress(arg)
	if err != nil {
		return "", fmt.Errorf("invalid device address %q: %w", arg, err)
	}
	return addr, nil
}

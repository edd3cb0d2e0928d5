//go:build linux

package bluez

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	dbus "github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/sppchat/internal/transport"
	"golang.org/x/sys/unix"
)

const (
	bluezService         = "org.bluez"
	profileInterfaceName = "org.bluez.Profile1"
	profileManagerIface  = "org.bluez.ProfileManager1"
	deviceIface          = "org.bluez.Device1"
	propsIface           = "org.freedesktop.DBus.Properties"
)

var pathCounter uint64

// Factory creates handles that connect through BlueZ.
type Factory struct {
	adapter string
	logger  *logrus.Logger

	mu          sync.Mutex
	bus         *dbus.Conn
	prof        *profile
	profilePath dbus.ObjectPath
	closed      bool
}

// NewFactory returns a factory for adapter ("" selects DefaultAdapter).
// The system bus is connected lazily on the first Create.
func NewFactory(adapter string, logger *logrus.Logger) *Factory {
	if adapter == "" {
		adapter = DefaultAdapter
	}
	return &Factory{adapter: adapter, logger: discardLogger(logger)}
}

// Create implements transport.Factory.
func (f *Factory) Create(deviceID string) (transport.Handle, error) {
	path, err := DevicePath(f.adapter, deviceID)
	if err != nil {
		return nil, err
	}
	if err := f.ensureProfile(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	bus, prof := f.bus, f.prof
	f.mu.Unlock()

	return &handle{
		deviceID: deviceID,
		path:     dbus.ObjectPath(path),
		bus:      bus,
		prof:     prof,
		logger:   f.logger,
		closed:   make(chan struct{}),
	}, nil
}

func (f *Factory) ensureProfile() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("bluez: factory closed")
	}
	if f.prof != nil {
		return nil
	}

	bus, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("bluez: connect system bus: %w", err)
	}

	prof := newProfile(f.logger)
	id := atomic.AddUint64(&pathCounter, 1)
	path := dbus.ObjectPath("/org/srg/sppchat/client/p" + strconv.FormatUint(id, 10))
	if err := bus.Export(prof, path, profileInterfaceName); err != nil {
		return fmt.Errorf("bluez: export client profile: %w", err)
	}

	opts := map[string]dbus.Variant{
		"Role": dbus.MakeVariant("client"),
	}
	pm := bus.Object(bluezService, dbus.ObjectPath("/org/bluez"))
	if call := pm.Call(profileManagerIface+".RegisterProfile", 0, path, transport.SPPUUID, opts); call.Err != nil {
		_ = bus.Export(nil, path, profileInterfaceName)
		return fmt.Errorf("bluez: RegisterProfile(client): %w", call.Err)
	}

	f.bus = bus
	f.prof = prof
	f.profilePath = path
	f.logger.WithField("path", path).Debug("Registered SPP client profile")
	return nil
}

// Close unregisters the profile. Handles already connected stay usable.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if f.prof == nil {
		return nil
	}
	pm := f.bus.Object(bluezService, dbus.ObjectPath("/org/bluez"))
	if err := pm.Call(profileManagerIface+".UnregisterProfile", 0, f.profilePath).Err; err != nil {
		f.logger.WithError(err).Warn("Failed to unregister SPP profile")
	}
	_ = f.bus.Export(nil, f.profilePath, profileInterfaceName)
	return nil
}

// profile implements org.bluez.Profile1 and routes new connections to the
// handle waiting on that device path.
type profile struct {
	pending *hashmap.Map[dbus.ObjectPath, *waiter]
	logger  *logrus.Logger

	claimMu sync.Mutex // orders claim and release; lookups stay lock-free
}

// waiter is one handle's pending connect on a device path.
type waiter struct {
	owner *handle
	ch    chan *os.File
}

func newProfile(logger *logrus.Logger) *profile {
	return &profile{
		pending: hashmap.New[dbus.ObjectPath, *waiter](),
		logger:  discardLogger(logger),
	}
}

// claim registers w for path. It fails while another handle waits there.
func (p *profile) claim(path dbus.ObjectPath, w *waiter) bool {
	p.claimMu.Lock()
	defer p.claimMu.Unlock()
	return p.pending.Insert(path, w)
}

// release drops the entry for path if owner still holds it, so a late
// release from a replaced handle never removes its successor's entry.
func (p *profile) release(path dbus.ObjectPath, owner *handle) {
	p.claimMu.Lock()
	defer p.claimMu.Unlock()
	if w, ok := p.pending.Get(path); ok && w.owner == owner {
		p.pending.Del(path)
	}
}

func (p *profile) Release() *dbus.Error { return nil }

func (p *profile) Cancel() *dbus.Error { return nil }

func (p *profile) RequestDisconnection(_ dbus.ObjectPath) *dbus.Error { return nil }

func (p *profile) NewConnection(dev dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	w, ok := p.pending.Get(dev)
	if !ok {
		_ = unix.Close(int(fd))
		return &dbus.Error{Name: "org.bluez.Error.Rejected", Body: []interface{}{"no pending connect"}}
	}

	// Non-blocking so the runtime poller serves Read/Write and Close interrupts them.
	if err := unix.SetNonblock(int(fd), true); err != nil {
		p.logger.WithError(err).Warn("Failed to set RFCOMM fd non-blocking")
	}
	file := os.NewFile(uintptr(fd), "rfcomm:"+AddressFromPath(string(dev)))

	select {
	case w.ch <- file:
		return nil
	default:
		_ = file.Close()
		return &dbus.Error{Name: "org.bluez.Error.Rejected", Body: []interface{}{"already connected"}}
	}
}

type handle struct {
	deviceID string
	path     dbus.ObjectPath
	bus      *dbus.Conn
	prof     *profile
	logger   *logrus.Logger

	mu        sync.Mutex
	file      *os.File
	closed    chan struct{}
	closeOnce sync.Once
	requested bool
}

func (h *handle) Connect(ctx context.Context) error {
	ch := make(chan *os.File, 1)
	if !h.prof.claim(h.path, &waiter{owner: h, ch: ch}) {
		return fmt.Errorf("bluez: connect to %s already pending", h.deviceID)
	}
	defer h.prof.release(h.path, h)
	if h.isClosed() {
		return transport.ErrClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-h.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	dev := h.bus.Object(bluezService, h.path)
	h.ensurePaired(ctx, dev)

	h.mu.Lock()
	h.requested = true
	h.mu.Unlock()

	h.logger.WithField("device", h.deviceID).Debug("ConnectProfile")
	if call := dev.CallWithContext(ctx, deviceIface+".ConnectProfile", 0, transport.SPPUUID); call.Err != nil {
		if errors.Is(ctx.Err(), context.Canceled) && h.isClosed() {
			return transport.ErrClosed
		}
		return fmt.Errorf("bluez: ConnectProfile %s: %w", h.deviceID, call.Err)
	}

	select {
	case file := <-ch:
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.isClosed() {
			_ = file.Close()
			return transport.ErrClosed
		}
		h.file = file
		return nil
	case <-ctx.Done():
		if h.isClosed() {
			return transport.ErrClosed
		}
		return ctx.Err()
	}
}

// ensurePaired attempts Pair when the device reports Paired=false.
// Failures are left for ConnectProfile to report.
func (h *handle) ensurePaired(ctx context.Context, dev dbus.BusObject) {
	var paired dbus.Variant
	call := dev.CallWithContext(ctx, propsIface+".Get", 0, deviceIface, "Paired")
	if call.Err != nil || call.Store(&paired) != nil {
		return
	}
	if b, ok := paired.Value().(bool); ok && !b {
		if err := dev.CallWithContext(ctx, deviceIface+".Pair", 0).Err; err != nil {
			h.logger.WithError(err).WithField("device", h.deviceID).Warn("Pair failed")
		}
	}
}

func (h *handle) isClosed() bool {
	select {
	case <-h.closed:
		return true
	default:
		return false
	}
}

func (h *handle) current() (*os.File, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file == nil || h.isClosed() {
		return nil, transport.ErrClosed
	}
	return h.file, nil
}

func (h *handle) Read(p []byte) (int, error) {
	f, err := h.current()
	if err != nil {
		return 0, err
	}
	return f.Read(p)
}

func (h *handle) Write(p []byte) (int, error) {
	f, err := h.current()
	if err != nil {
		return 0, err
	}
	return f.Write(p)
}

// Close closes the socket and asks BlueZ to drop the profile connection.
// The handle's pending entry is gone when Close returns, so a new handle for
// the same device can connect right away.
func (h *handle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		h.mu.Lock()
		close(h.closed)
		file, requested := h.file, h.requested
		h.file = nil
		h.mu.Unlock()

		h.prof.release(h.path, h)

		if file != nil {
			err = file.Close()
		}
		if requested {
			if derr := h.bus.Object(bluezService, h.path).Call(deviceIface+".DisconnectProfile", 0, transport.SPPUUID).Err; derr != nil {
				h.logger.WithError(derr).WithField("device", h.deviceID).Debug("DisconnectProfile")
			}
		}
	})
	return err
}

// Package discovery drives BlueZ device discovery over the system D-Bus.
//
// The session manager only needs PauseDiscovery (inquiry slows down RFCOMM
// connects). Scan is used by the CLI to list nearby Classic devices.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/cornelk/hashmap"
	dbus "github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/sppchat/internal/device"
	"github.com/srg/sppchat/internal/transport"
)

const (
	bluezService    = "org.bluez"
	adapterIface    = "org.bluez.Adapter1"
	deviceIface     = "org.bluez.Device1"
	objManagerIface = "org.freedesktop.DBus.ObjectManager"
	propsIface      = "org.freedesktop.DBus.Properties"

	errNotReady = "org.bluez.Error.NotReady"
	errFailed   = "org.bluez.Error.Failed"
)

// ScanOptions configures Scan.
type ScanOptions struct {
	// SPPOnly keeps only devices whose known service UUIDs include transport.SPPUUID.
	SPPOnly bool
}

// Controller starts, stops and observes discovery on one adapter.
type Controller struct {
	adapter string
	logger  *logrus.Logger

	mu  sync.Mutex
	bus *dbus.Conn

	devices    *hashmap.Map[string, device.Info]
	sppDevices *hashmap.Map[string, bool]
}

// NewController returns a controller for adapter ("" selects hci0).
// The system bus is connected on first use.
func NewController(adapter string, logger *logrus.Logger) *Controller {
	if adapter == "" {
		adapter = "hci0"
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Controller{
		adapter:    adapter,
		logger:     logger,
		devices:    hashmap.New[string, device.Info](),
		sppDevices: hashmap.New[string, bool](),
	}
}

func (c *Controller) adapterPath() dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + c.adapter)
}

func (c *Controller) conn() (*dbus.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bus != nil {
		return c.bus, nil
	}
	bus, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("discovery: connect system bus: %w", err)
	}
	c.bus = bus
	return bus, nil
}

// PauseDiscovery stops an ongoing inquiry. Not having one running is not an error.
func (c *Controller) PauseDiscovery() error {
	bus, err := c.conn()
	if err != nil {
		return err
	}
	err = bus.Object(bluezService, c.adapterPath()).Call(adapterIface+".StopDiscovery", 0).Err
	if err == nil || isNotDiscovering(err) {
		return nil
	}
	return fmt.Errorf("discovery: StopDiscovery on %s: %w", c.adapter, err)
}

func isNotDiscovering(err error) bool {
	var derr dbus.Error
	if errors.As(err, &derr) {
		return derr.Name == errNotReady || derr.Name == errFailed
	}
	var pderr *dbus.Error
	if errors.As(err, &pderr) {
		return pderr.Name == errNotReady || pderr.Name == errFailed
	}
	return false
}

// Scan runs BR/EDR discovery until ctx is done and returns the devices seen,
// strongest signal first. Devices BlueZ already knows are included.
func (c *Controller) Scan(ctx context.Context, opts *ScanOptions) ([]device.Info, error) {
	if opts == nil {
		opts = &ScanOptions{}
	}
	bus, err := c.conn()
	if err != nil {
		return nil, err
	}

	sigCh := make(chan *dbus.Signal, 32)
	bus.Signal(sigCh)
	defer bus.RemoveSignal(sigCh)

	matches := [][]dbus.MatchOption{
		{dbus.WithMatchInterface(objManagerIface), dbus.WithMatchMember("InterfacesAdded")},
		{dbus.WithMatchInterface(propsIface), dbus.WithMatchMember("PropertiesChanged"), dbus.WithMatchPathNamespace(c.adapterPath())},
	}
	for _, m := range matches {
		if err := bus.AddMatchSignal(m...); err != nil {
			return nil, fmt.Errorf("discovery: AddMatchSignal: %w", err)
		}
		defer func(m []dbus.MatchOption) { _ = bus.RemoveMatchSignal(m...) }(m)
	}

	adapter := bus.Object(bluezService, c.adapterPath())
	filter := map[string]dbus.Variant{"Transport": dbus.MakeVariant("bredr")}
	if err := adapter.Call(adapterIface+".SetDiscoveryFilter", 0, filter).Err; err != nil {
		c.logger.WithError(err).Debug("SetDiscoveryFilter not applied")
	}
	if err := adapter.Call(adapterIface+".StartDiscovery", 0).Err; err != nil {
		return nil, fmt.Errorf("discovery: StartDiscovery on %s: %w", c.adapter, err)
	}
	defer func() {
		if err := c.PauseDiscovery(); err != nil {
			c.logger.WithError(err).Warn("Failed to stop discovery")
		}
	}()

	c.logger.WithField("adapter", c.adapter).Info("Discovery started")

	if err := c.snapshot(bus); err != nil {
		return nil, err
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case sig, ok := <-sigCh:
			if !ok {
				break loop
			}
			c.handleSignal(sig)
		}
	}

	c.logger.WithField("device_count", c.devices.Len()).Info("Discovery finished")
	return c.Devices(opts), nil
}

// Devices returns the devices seen so far, strongest signal first.
func (c *Controller) Devices(opts *ScanOptions) []device.Info {
	var out []device.Info
	c.devices.Range(func(_ string, info device.Info) bool {
		if opts != nil && opts.SPPOnly && !c.hasSPP(info.Address) {
			return true
		}
		out = append(out, info)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].RSSI != out[j].RSSI {
			return out[i].RSSI > out[j].RSSI
		}
		return out[i].Address < out[j].Address
	})
	return out
}

func (c *Controller) hasSPP(addr string) bool {
	ok, _ := c.sppDevices.Get(addr)
	return ok
}

func (c *Controller) snapshot(bus *dbus.Conn) error {
	var objs map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call := bus.Object(bluezService, dbus.ObjectPath("/")).Call(objManagerIface+".GetManagedObjects", 0)
	if call.Err != nil {
		return fmt.Errorf("discovery: GetManagedObjects: %w", call.Err)
	}
	if err := call.Store(&objs); err != nil {
		return fmt.Errorf("discovery: decode GetManagedObjects: %w", err)
	}
	for path, ifaces := range objs {
		if props, ok := ifaces[deviceIface]; ok {
			c.update(path, props)
		}
	}
	return nil
}

func (c *Controller) handleSignal(sig *dbus.Signal) {
	if sig == nil {
		return
	}
	switch sig.Name {
	case objManagerIface + ".InterfacesAdded":
		if len(sig.Body) < 2 {
			return
		}
		path, _ := sig.Body[0].(dbus.ObjectPath)
		ifaces, _ := sig.Body[1].(map[string]map[string]dbus.Variant)
		if props, ok := ifaces[deviceIface]; ok {
			c.update(path, props)
		}
	case propsIface + ".PropertiesChanged":
		if len(sig.Body) < 2 {
			return
		}
		iface, _ := sig.Body[0].(string)
		changed, _ := sig.Body[1].(map[string]dbus.Variant)
		if iface == deviceIface {
			c.update(sig.Path, changed)
		}
	}
}

// update merges props into the registry entry for the device at path.
func (c *Controller) update(path dbus.ObjectPath, props map[string]dbus.Variant) {
	if !strings.HasPrefix(string(path), string(c.adapterPath())+"/") {
		return
	}
	addr := addressFromPath(path)
	if addr == "" {
		return
	}
	info, _ := c.devices.Get(addr)
	info = mergeProps(info, props)
	if info.Address == "" {
		info.Address = addr
	}
	if uuids, ok := props["UUIDs"]; ok {
		if list, ok := uuids.Value().([]string); ok && containsUUID(list, transport.SPPUUID) {
			c.sppDevices.Set(addr, true)
		}
	}
	c.devices.Set(addr, info)
	c.logger.WithFields(logrus.Fields{
		"address": info.Address,
		"name":    info.Name,
		"rssi":    info.RSSI,
	}).Debug("Device updated")
}

// Close releases the bus connection.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bus == nil {
		return nil
	}
	err := c.bus.Close()
	c.bus = nil
	return err
}

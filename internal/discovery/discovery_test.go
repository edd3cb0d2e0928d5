package discovery

import (
	"testing"

	dbus "github.com/godbus/dbus/v5"
	"github.com/srg/sppchat/internal/device"
	"github.com/srg/sppchat/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeProps(t *testing.T) {
	// GOAL: Verify Device1 properties are decoded and partial updates keep earlier values
	//
	// TEST SCENARIO: Full property set, then an RSSI-only update -> name and class survive

	info := mergeProps(device.Info{}, map[string]dbus.Variant{
		"Address":   dbus.MakeVariant("aa:bb:cc:dd:ee:ff"),
		"Name":      dbus.MakeVariant("HC-05"),
		"Alias":     dbus.MakeVariant("Workbench"),
		"RSSI":      dbus.MakeVariant(int16(-67)),
		"Class":     dbus.MakeVariant(uint32(0x1F00)),
		"Paired":    dbus.MakeVariant(true),
		"Connected": dbus.MakeVariant(false),
	})
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", info.Address, "address MUST be upper-cased")
	assert.Equal(t, "HC-05", info.Name)
	assert.Equal(t, "Workbench", info.Alias)
	assert.Equal(t, -67, info.RSSI)
	assert.Equal(t, uint32(0x1F00), info.Class)
	assert.True(t, info.Paired)

	info = mergeProps(info, map[string]dbus.Variant{"RSSI": dbus.MakeVariant(int16(-40))})
	assert.Equal(t, -40, info.RSSI, "RSSI MUST follow the update")
	assert.Equal(t, "HC-05", info.Name, "name MUST survive a partial update")

	info = mergeProps(info, map[string]dbus.Variant{"Name": dbus.MakeVariant(42)})
	assert.Equal(t, "HC-05", info.Name, "mistyped values MUST be ignored")
}

func TestControllerUpdate(t *testing.T) {
	// GOAL: Verify the registry keys devices by address, ignores other adapters and filters SPP devices
	//
	// TEST SCENARIO: Feed updates for three paths -> two devices registered, sorted by RSSI

	c := NewController("hci0", nil)
	c.update("/org/bluez/hci0/dev_00_11_22_33_44_55", map[string]dbus.Variant{
		"RSSI":  dbus.MakeVariant(int16(-80)),
		"UUIDs": dbus.MakeVariant([]string{transport.SPPUUID}),
	})
	c.update("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF", map[string]dbus.Variant{
		"Name": dbus.MakeVariant("Phone"),
		"RSSI": dbus.MakeVariant(int16(-50)),
	})
	c.update("/org/bluez/hci1/dev_11_11_11_11_11_11", map[string]dbus.Variant{
		"RSSI": dbus.MakeVariant(int16(-30)),
	})
	c.update("/org/bluez/hci0", map[string]dbus.Variant{"Powered": dbus.MakeVariant(true)})

	all := c.Devices(nil)
	require.Len(t, all, 2, "only hci0 devices MUST be registered")
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", all[0].Address, "strongest signal MUST come first")
	assert.Equal(t, "00:11:22:33:44:55", all[1].Address)

	spp := c.Devices(&ScanOptions{SPPOnly: true})
	require.Len(t, spp, 1)
	assert.Equal(t, "00:11:22:33:44:55", spp[0].Address)
}

func TestHandleSignal(t *testing.T) {
	// GOAL: Verify InterfacesAdded and PropertiesChanged signals update the registry
	//
	// TEST SCENARIO: Added signal registers a device, changed signal updates its RSSI, malformed signals are ignored

	c := NewController("", nil)
	path := dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")

	c.handleSignal(&dbus.Signal{
		Name: objManagerIface + ".InterfacesAdded",
		Body: []interface{}{path, map[string]map[string]dbus.Variant{
			deviceIface: {"Name": dbus.MakeVariant("Sensor"), "RSSI": dbus.MakeVariant(int16(-70))},
		}},
	})
	c.handleSignal(&dbus.Signal{
		Path: path,
		Name: propsIface + ".PropertiesChanged",
		Body: []interface{}{deviceIface, map[string]dbus.Variant{"RSSI": dbus.MakeVariant(int16(-55))}, []string{}},
	})
	c.handleSignal(&dbus.Signal{Name: propsIface + ".PropertiesChanged", Body: []interface{}{"x"}})
	c.handleSignal(nil)

	devices := c.Devices(nil)
	require.Len(t, devices, 1)
	assert.Equal(t, "Sensor", devices[0].Name)
	assert.Equal(t, -55, devices[0].RSSI)
}

func TestIsNotDiscovering(t *testing.T) {
	assert.True(t, isNotDiscovering(dbus.Error{Name: errFailed}))
	assert.True(t, isNotDiscovering(&dbus.Error{Name: errNotReady}))
	assert.False(t, isNotDiscovering(dbus.Error{Name: "org.bluez.Error.InProgress"}))
	assert.False(t, isNotDiscovering(assert.AnError))
}

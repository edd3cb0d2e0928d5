package discovery

import (
	"strings"

	dbus "github.com/godbus/dbus/v5"
	"github.com/srg/sppchat/internal/device"
	"github.com/srg/sppchat/internal/transport/bluez"
)

func addressFromPath(p dbus.ObjectPath) string {
	return strings.ToUpper(bluez.AddressFromPath(string(p)))
}

// mergeProps overlays the Device1 properties present in props onto info.
// Properties missing from props keep their previous value, which is how
// PropertiesChanged reports partial updates.
func mergeProps(info device.Info, props map[string]dbus.Variant) device.Info {
	for key, v := range props {
		switch key {
		case "Address":
			if s, ok := v.Value().(string); ok {
				info.Address = strings.ToUpper(s)
			}
		case "Name":
			if s, ok := v.Value().(string); ok {
				info.Name = s
			}
		case "Alias":
			if s, ok := v.Value().(string); ok {
				info.Alias = s
			}
		case "RSSI":
			switch n := v.Value().(type) {
			case int16:
				info.RSSI = int(n)
			case int32:
				info.RSSI = int(n)
			}
		case "Class":
			if n, ok := v.Value().(uint32); ok {
				info.Class = n
			}
		case "Paired":
			if b, ok := v.Value().(bool); ok {
				info.Paired = b
			}
		case "Connected":
			if b, ok := v.Value().(bool); ok {
				info.Connected = b
			}
		}
	}
	return info
}

func containsUUID(uuids []string, want string) bool {
	for _, u := range uuids {
		if strings.EqualFold(u, want) {
			return true
		}
	}
	return false
}

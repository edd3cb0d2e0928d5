package device

import (
	"strings"
)

// UnknownName is shown for devices that did not report a name.
const UnknownName = "Unknown device"

// Major device classes from the Bluetooth Class of Device field (bits 8-12).
const (
	MajorComputer   = 0x0100
	MajorPhone      = 0x0200
	MajorAudio      = 0x0400
	MajorPeripheral = 0x0500
	MajorImaging    = 0x0600
	MajorWearable   = 0x0700
	MajorToy        = 0x0800
	MajorHealth     = 0x0900

	majorClassMask = 0x1F00
)

// Signal indicator colors.
const (
	ColorGood   = "#4CAF50"
	ColorMedium = "#FF9800"
	ColorWeak   = "#F44336"
)

// Info describes a discovered Bluetooth Classic device.
// Two Infos are the same device when their addresses match.
type Info struct {
	Address   string `json:"address"`
	Name      string `json:"name,omitempty"`
	Alias     string `json:"alias,omitempty"`
	RSSI      int    `json:"rssi"`
	Class     uint32 `json:"class,omitempty"`
	Paired    bool   `json:"paired"`
	Connected bool   `json:"connected"`
}

// DisplayName returns the alias, then the name, then UnknownName.
func (i Info) DisplayName() string {
	if i.Alias != "" && !strings.EqualFold(strings.ReplaceAll(i.Alias, "-", ":"), i.Address) {
		return i.Alias
	}
	if i.Name != "" {
		return i.Name
	}
	return UnknownName
}

// SignalStrengthPercentage maps RSSI (dBm, roughly -100 to -30) onto a coarse 10-100 scale.
func (i Info) SignalStrengthPercentage() int {
	switch {
	case i.RSSI >= -50:
		return 100
	case i.RSSI >= -60:
		return 80
	case i.RSSI >= -70:
		return 60
	case i.RSSI >= -80:
		return 40
	case i.RSSI >= -90:
		return 20
	default:
		return 10
	}
}

// SignalColor returns the indicator color for the RSSI.
func (i Info) SignalColor() string {
	switch {
	case i.RSSI >= -60:
		return ColorGood
	case i.RSSI >= -75:
		return ColorMedium
	default:
		return ColorWeak
	}
}

// DeviceType names the major device class.
func (i Info) DeviceType() string {
	switch i.Class & majorClassMask {
	case MajorComputer:
		return "Computer"
	case MajorPhone:
		return "Phone"
	case MajorAudio:
		return "Audio"
	case MajorPeripheral:
		return "Peripheral"
	case MajorImaging:
		return "Imaging"
	case MajorWearable:
		return "Wearable"
	case MajorToy:
		return "Toy"
	case MajorHealth:
		return "Health"
	default:
		return "Unknown"
	}
}

// Equal reports whether both describe the same device.
func (i Info) Equal(other Info) bool {
	return strings.EqualFold(i.Address, other.Address)
}

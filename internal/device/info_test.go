package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo_SignalStrengthPercentage(t *testing.T) {
	tests := []struct {
		rssi int
		want int
	}{
		{rssi: -30, want: 100},
		{rssi: -50, want: 100},
		{rssi: -51, want: 80},
		{rssi: -60, want: 80},
		{rssi: -70, want: 60},
		{rssi: -80, want: 40},
		{rssi: -90, want: 20},
		{rssi: -91, want: 10},
		{rssi: -120, want: 10},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Info{RSSI: tt.rssi}.SignalStrengthPercentage(), "rssi %d", tt.rssi)
	}
}

func TestInfo_SignalColor(t *testing.T) {
	assert.Equal(t, ColorGood, Info{RSSI: -40}.SignalColor())
	assert.Equal(t, ColorGood, Info{RSSI: -60}.SignalColor())
	assert.Equal(t, ColorMedium, Info{RSSI: -61}.SignalColor())
	assert.Equal(t, ColorMedium, Info{RSSI: -75}.SignalColor())
	assert.Equal(t, ColorWeak, Info{RSSI: -76}.SignalColor())
}

func TestInfo_DeviceType(t *testing.T) {
	tests := []struct {
		name  string
		class uint32
		want  string
	}{
		{name: "computer", class: 0x0100, want: "Computer"},
		{name: "smartphone with service bits", class: 0x5A020C, want: "Phone"},
		{name: "audio", class: 0x240404, want: "Audio"},
		{name: "peripheral", class: 0x0540, want: "Peripheral"},
		{name: "imaging", class: 0x0600, want: "Imaging"},
		{name: "wearable", class: 0x0704, want: "Wearable"},
		{name: "toy", class: 0x0800, want: "Toy"},
		{name: "health", class: 0x0900, want: "Health"},
		{name: "uncategorized", class: 0x1F00, want: "Unknown"},
		{name: "zero", class: 0, want: "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Info{Class: tt.class}.DeviceType())
		})
	}
}

func TestInfo_DisplayName(t *testing.T) {
	assert.Equal(t, "Kitchen", Info{Address: "AA:BB:CC:DD:EE:FF", Name: "HC-05", Alias: "Kitchen"}.DisplayName())
	assert.Equal(t, "HC-05", Info{Address: "AA:BB:CC:DD:EE:FF", Name: "HC-05", Alias: "AA-BB-CC-DD-EE-FF"}.DisplayName(),
		"address-shaped alias MUST fall back to the name")
	assert.Equal(t, UnknownName, Info{Address: "AA:BB:CC:DD:EE:FF"}.DisplayName())
}

func TestInfo_Equal(t *testing.T) {
	a := Info{Address: "AA:BB:CC:DD:EE:FF", RSSI: -40}
	b := Info{Address: "aa:bb:cc:dd:ee:ff", RSSI: -90}
	c := Info{Address: "11:22:33:44:55:66"}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

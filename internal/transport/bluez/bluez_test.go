package bluez

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevicePath(t *testing.T) {
	p, err := DevicePath("hci1", "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	assert.Equal(t, "/org/bluez/hci1/dev_AA_BB_CC_DD_EE_FF", p)

	p, err = DevicePath("", "01:02:03:04:05:06")
	require.NoError(t, err)
	assert.Equal(t, "/org/bluez/hci0/dev_01_02_03_04_05_06", p, "empty adapter MUST default to hci0")

	_, err = DevicePath("hci0", "bogus")
	assert.Error(t, err)
}

func TestAddressFromPath(t *testing.T) {
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", AddressFromPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"))
	assert.Equal(t, "", AddressFromPath("/org/bluez/hci0"))
}

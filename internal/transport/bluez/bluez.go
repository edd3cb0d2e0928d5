// Package bluez opens SPP links through the BlueZ daemon over D-Bus.
//
// The factory registers one client-role org.bluez.Profile1 for
// transport.SPPUUID on the system bus. Each handle asks BlueZ to connect that
// profile on its device; BlueZ resolves the RFCOMM channel via SDP and hands the
// connected socket back through Profile1.NewConnection. Unpaired devices are
// paired first; PIN or passkey entry is left to an agent registered elsewhere.
package bluez

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/srg/sppchat/internal/transport"
)

// DefaultAdapter is the HCI adapter used when none is configured.
const DefaultAdapter = "hci0"

// DevicePath returns the BlueZ object path of a device on an adapter,
// e.g. /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF.
func DevicePath(adapter, address string) (string, error) {
	addr, err := transport.ParseAddress(address)
	if err != nil {
		return "", err
	}
	if adapter == "" {
		adapter = DefaultAdapter
	}
	return fmt.Sprintf("/org/bluez/%s/dev_%s", adapter, strings.ReplaceAll(addr, ":", "_")), nil
}

// AddressFromPath extracts the device address from a BlueZ device object path.
// It returns "" when the path does not name a device.
func AddressFromPath(p string) string {
	idx := strings.LastIndex(p, "/dev_")
	if idx < 0 {
		return ""
	}
	return strings.ReplaceAll(p[idx+5:], "_", ":")
}

func discardLogger(logger *logrus.Logger) *logrus.Logger {
	if logger != nil {
		return logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

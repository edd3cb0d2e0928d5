//go:build !linux

package rfcomm

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/sppchat/internal/transport"
)

func newHandle(string, Options, *logrus.Logger) (transport.Handle, error) {
	return nil, transport.ErrUnsupported
}

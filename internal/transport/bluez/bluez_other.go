//go:build !linux

package bluez

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/sppchat/internal/transport"
)

// Factory is unavailable outside Linux; Create always fails.
type Factory struct{}

// NewFactory returns a factory whose Create reports transport.ErrUnsupported.
func NewFactory(string, *logrus.Logger) *Factory { return &Factory{} }

// Create implements transport.Factory.
func (f *Factory) Create(string) (transport.Handle, error) {
	return nil, transport.ErrUnsupported
}

// Close is a no-op.
func (f *Factory) Close() error { return nil }

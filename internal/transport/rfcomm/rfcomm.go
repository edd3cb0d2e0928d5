// Package rfcomm connects to SPP peers with raw Linux RFCOMM sockets.
//
// SDP channel lookup is not performed: the peer's RFCOMM channel is fixed by
// configuration (Android's listenUsingRfcommWithServiceRecord normally lands
// on channel 1). Use the bluez transport when the channel must be resolved
// from transport.SPPUUID.
package rfcomm

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/sppchat/internal/transport"
)

const (
	// DefaultChannel is the RFCOMM channel used when none is configured.
	DefaultChannel uint8 = 1

	// DefaultPollInterval bounds how long a pending connect waits between
	// checks for Close or context cancellation.
	DefaultPollInterval = 50 * time.Millisecond
)

// Options configures the RFCOMM factory.
type Options struct {
	Channel      uint8
	PollInterval time.Duration
}

// Factory creates RFCOMM socket handles.
type Factory struct {
	opts   Options
	logger *logrus.Logger
}

// NewFactory returns a factory; zero option values select the defaults.
func NewFactory(opts Options, logger *logrus.Logger) *Factory {
	if opts.Channel == 0 {
		opts.Channel = DefaultChannel
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Factory{opts: opts, logger: logger}
}

// Create opens an unconnected RFCOMM socket for deviceID.
func (f *Factory) Create(deviceID string) (transport.Handle, error) {
	return newHandle(deviceID, f.opts, f.logger)
}

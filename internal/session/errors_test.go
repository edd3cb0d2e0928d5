package session

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Is(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{
			name:   "same kind matches",
			err:    newError(KindTransportOpen, "AA:BB:CC:DD:EE:FF", io.ErrUnexpectedEOF),
			target: ErrTransportOpen,
			want:   true,
		},
		{
			name:   "different kind does not match",
			err:    newError(KindTransportOpen, "AA:BB:CC:DD:EE:FF", nil),
			target: ErrTransportRead,
			want:   false,
		},
		{
			name:   "wrapped error matches",
			err:    fmt.Errorf("chat: %w", newError(KindNotConnected, "", nil)),
			target: ErrNotConnected,
			want:   true,
		},
		{
			name:   "cause stays reachable",
			err:    newError(KindTransportWrite, "AA:BB:CC:DD:EE:FF", io.ErrClosedPipe),
			target: io.ErrClosedPipe,
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestError_Error(t *testing.T) {
	assert.Equal(t, "permission_denied", ErrPermissionDenied.Error())
	assert.Equal(t, "AA:BB:CC:DD:EE:FF transport_read_failed: EOF",
		newError(KindTransportRead, "AA:BB:CC:DD:EE:FF", io.EOF).Error())

	var nilErr *Error
	assert.Equal(t, "<nil>", nilErr.Error())
	assert.False(t, nilErr.Is(ErrCancelled))
}

func TestStateAndEventKindStrings(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "disconnecting", StateDisconnecting.String())
	assert.Equal(t, "state(9)", State(9).String())

	assert.Equal(t, "data_received", EventDataReceived.String())
	assert.True(t, EventDisconnected.Terminal())
	assert.True(t, EventConnectionFailed.Terminal())
	assert.False(t, EventConnectionSucceeded.Terminal())
}

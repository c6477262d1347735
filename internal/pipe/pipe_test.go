package pipe

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/tabcon/internal/metrics"
	"github.com/standardbeagle/tabcon/internal/protocol"
	"github.com/standardbeagle/tabcon/internal/value"
)

func TestName(t *testing.T) {
	got := Name("tabcon", 12, 34)
	assert.Equal(t, pipeRoot+"tabcon.{D770A8BC-A238-4D90-B906-840EFF3918DA}.12.34", got)
	assert.Equal(t, got, Name("", 12, 34), "empty prefix uses the default")
	assert.NotEqual(t, Name("tabcon", 12, 34), Name("tabcon", 34, 12), "pid order matters")
}

func TestCodec_RoundTrip(t *testing.T) {
	msg := protocol.NewMessage(protocol.CommandSetState)
	msg.SetString(protocol.KeyTitle, "ünïcode ✓")
	msg.Set(protocol.KeyID, value.IntValue(7))

	data, err := EncodeMessage(msg)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(data), 2)
	assert.Equal(t, []byte{0, 0}, data[len(data)-2:], "message is NUL terminated")
	assert.Zero(t, len(data)%2)

	got, err := DecodeMessage(data)
	require.NoError(t, err)
	assert.True(t, msg.Equal(got))
}

func TestCodec_DecodeWithoutTerminator(t *testing.T) {
	data, err := protocol.EncodeUTF16(`{"Command":"GetState"}`)
	require.NoError(t, err)

	got, err := DecodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, protocol.CommandGetState, protocol.CommandOf(got))
}

func TestCodec_DecodeRejectsGarbage(t *testing.T) {
	_, err := DecodeMessage([]byte{'A'})
	assert.Error(t, err)

	data, err := protocol.EncodeUTF16(`{"Command":`)
	require.NoError(t, err)
	_, err = DecodeMessage(data)
	assert.Error(t, err)
}

func TestResultLabel(t *testing.T) {
	assert.Equal(t, metrics.ResultOK, resultLabel(nil))
	assert.Equal(t, metrics.ResultCancelled, resultLabel(ErrShutdown))
	assert.Equal(t, metrics.ResultCancelled, resultLabel(ErrPeerExited))
	assert.Equal(t, metrics.ResultError, resultLabel(errors.New("boom")))
}

package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/standardbeagle/tabcon/internal/value"
)

func TestParseCommand_KnownAndUnknown(t *testing.T) {
	for c, name := range commandNames {
		assert.Equal(t, c, ParseCommand(name))
		assert.Equal(t, name, c.String())
	}
	assert.Equal(t, CommandUnknown, ParseCommand("getstate"))
	assert.Equal(t, CommandUnknown, ParseCommand(""))
	assert.Equal(t, "", CommandUnknown.String())
}

func TestReply_EchoesCommandAndID(t *testing.T) {
	req := NewMessage(CommandGetState)
	req.Set(KeyID, value.IntValue(9))

	body := value.NewObject()
	body.SetString(KeyTitle, "cmd")
	resp := Reply(req, body)

	assert.Equal(t, "GetState", resp.GetString(KeyCommand))
	id, ok := IDOf(resp)
	assert.True(t, ok)
	assert.Equal(t, int64(9), id)
	assert.True(t, Matches(req, resp))
	assert.False(t, body.Has(KeyCommand), "Reply must not mutate the handler result")
}

func TestReply_ClearsIDWhenRequestHasNone(t *testing.T) {
	body := value.NewObject()
	body.Set(KeyID, value.IntValue(5))
	resp := Reply(NewMessage(CommandDetach), body)
	assert.False(t, resp.Has(KeyID))
}

func TestHandlers_UnknownCommandGetsEmptyResponse(t *testing.T) {
	h := Handlers{
		CommandGetState: func(value.Object) value.Object {
			out := value.NewObject()
			out.SetString(KeyTitle, "t")
			return out
		},
	}

	msg := value.NewObject()
	msg.SetString(KeyCommand, "Bogus")
	assert.Equal(t, 0, h.Serve(msg).Len())
	assert.Equal(t, 0, h.Serve(NewMessage(CommandSetState)).Len())
	assert.Equal(t, "t", h.Serve(NewMessage(CommandGetState)).GetString(KeyTitle))
}

func TestHWND_RoundTrip(t *testing.T) {
	assert.Equal(t, "133742", FormatHWND(133742))
	assert.Equal(t, uintptr(133742), ParseHWND("133742"))
	assert.Equal(t, uintptr(0), ParseHWND("0x10"))
	assert.Equal(t, uintptr(0), ParseHWND(""))
}

func TestSeedState(t *testing.T) {
	info := value.NewObject()
	info.SetString(KeyExecutable, `C:\Windows\System32\cmd.exe`)
	info.SetString(KeyArguments, "/k")
	info.SetString(KeyDirectory, `C:\`)
	info.Set(KeyEnvironment, value.ObjectValue(value.FromStringMap(map[string]string{"A": "1"})))

	_, ok := SeedState(info)
	assert.False(t, ok)

	info.SetString(KeyTitle, "Build")
	seed, ok := SeedState(info)
	assert.True(t, ok)
	assert.Equal(t, CommandSetState, CommandOf(seed))
	assert.Equal(t, "Build", seed.GetString(KeyTitle))
	assert.False(t, seed.Has(KeyExecutable))
	assert.True(t, info.Has(KeyExecutable), "SeedState must not mutate its input")
}

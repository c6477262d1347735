package protocol

import (
	"strconv"

	"github.com/standardbeagle/tabcon/internal/value"
)

// NewMessage returns a message carrying only the command name.
func NewMessage(c Command) value.Object {
	msg := value.NewObject()
	msg.SetString(KeyCommand, c.String())
	return msg
}

// CommandOf reports the command named by msg.
func CommandOf(msg value.Object) Command {
	return ParseCommand(msg.GetString(KeyCommand))
}

// CommandName returns the raw command string of msg, known or not.
func CommandName(msg value.Object) string {
	return msg.GetString(KeyCommand)
}

// IDOf returns the correlation ID of msg, if it has one.
func IDOf(msg value.Object) (int64, bool) {
	return msg.Get(KeyID).Int()
}

// Reply stamps the request's command name and ID onto resp. An absent
// request ID clears any ID the handler set.
func Reply(req, resp value.Object) value.Object {
	out := resp.Clone()
	out.Set(KeyID, req.Get(KeyID))
	out.Set(KeyCommand, req.Get(KeyCommand))
	return out
}

// Matches reports whether resp echoes the command name and ID of req.
func Matches(req, resp value.Object) bool {
	return req.Get(KeyCommand).Equal(resp.Get(KeyCommand)) &&
		req.Get(KeyID).Equal(resp.Get(KeyID))
}

// FormatHWND encodes a native window handle the way it travels on the
// wire: as a decimal string.
func FormatHWND(hwnd uintptr) string {
	return strconv.FormatUint(uint64(hwnd), 10)
}

// ParseHWND decodes a window handle. Malformed input yields 0.
func ParseHWND(s string) uintptr {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return uintptr(n)
}

// SeedState derives the SetState message sent to a freshly started
// process from its start request. It reports false when nothing but
// start-only properties were present.
func SeedState(info value.Object) (value.Object, bool) {
	seed := info.Clone()
	for _, k := range StartOnlyKeys {
		seed.Delete(k)
	}
	seed.Delete(KeyCommand)
	seed.Delete(KeyID)
	if seed.Len() == 0 {
		return value.Object{}, false
	}
	seed.SetString(KeyCommand, CommandSetState.String())
	return seed, true
}

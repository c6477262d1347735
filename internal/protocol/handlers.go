package protocol

import "github.com/standardbeagle/tabcon/internal/value"

// HandlerFunc answers one request. The returned object is the response
// body; the transport stamps the command name and ID on it.
type HandlerFunc func(msg value.Object) value.Object

// Handlers maps commands to their handlers.
type Handlers map[Command]HandlerFunc

// Serve dispatches msg to the handler for its command. Unknown commands,
// and commands without a handler, get an empty response.
func (h Handlers) Serve(msg value.Object) value.Object {
	fn, ok := h[CommandOf(msg)]
	if !ok || fn == nil {
		return value.NewObject()
	}
	return fn(msg)
}

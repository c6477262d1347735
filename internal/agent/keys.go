package agent

// Window messages and virtual keys examined by the key filter.
const (
	wmKeyDown    = 0x0100
	wmKeyUp      = 0x0101
	wmChar       = 0x0102
	wmSysKeyDown = 0x0104
	wmSysKeyUp   = 0x0105
	wmSysChar    = 0x0106

	vkTab     = 0x09
	vkControl = 0x11
	vkF4      = 0x73
)

// Route is where a console window message goes.
type Route int

const (
	// RouteHere leaves the message to the console.
	RouteHere Route = iota
	// RouteParent forwards the message to the owner window only.
	RouteParent
	// RouteBoth forwards the message and lets the console see it too.
	RouteBoth
)

// KeyEvent is one window message.
type KeyEvent struct {
	Msg    uint32
	WParam uintptr
	LParam uintptr
}

// RouteKey decides whether a keyboard message received by an embedded
// console belongs to the owner window. The owner's accelerators are
// Ctrl+1..9, Ctrl+Tab, Ctrl+F4, Ctrl+K, Ctrl+T and anything with Alt.
// The returned event is what to post to the owner.
func RouteKey(ev KeyEvent, ctrlDown bool) (Route, KeyEvent) {
	switch ev.Msg {
	case wmChar:
		// Ctrl+K and Ctrl+T arrive as control characters.
		if ev.WParam == 11 || ev.WParam == 20 {
			out := ev
			out.Msg = wmKeyDown
			if ev.LParam&0x80000000 != 0 {
				out.Msg = wmKeyUp
			}
			out.WParam = 'A' + ev.WParam - 1
			return RouteParent, out
		}

	case wmKeyDown, wmKeyUp:
		switch {
		case ev.WParam == vkControl:
			return RouteBoth, ev
		case (ev.WParam >= '1' && ev.WParam <= '9') || ev.WParam == vkF4 || ev.WParam == vkTab:
			if ctrlDown {
				return RouteParent, ev
			}
		}

	case wmSysKeyDown, wmSysKeyUp, wmSysChar:
		return RouteParent, ev
	}
	return RouteHere, ev
}

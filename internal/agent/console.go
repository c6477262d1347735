package agent

import (
	"strconv"

	"github.com/standardbeagle/tabcon/internal/protocol"
	"github.com/standardbeagle/tabcon/internal/value"
)

// Console is the hosting process's console as seen from inside it.
// Methods are called from several goroutines.
type Console interface {
	// Window returns the console window handle, or 0 while none exists.
	Window() uintptr
	Title() string
	SetTitle(title string) error
	Directory() (string, error)
	SetDirectory(dir string) error
	// EnvironmentBlock returns the raw environment block: NUL separated
	// name=value entries followed by an extra NUL.
	EnvironmentBlock() string
	Setenv(name, value string) error
	Executable() string
	// Aliases returns alias definitions keyed by owning executable.
	Aliases() map[string]map[string]string
	AddAlias(exe, name, target string) error
	Palette() (Palette, bool)
	SetPalette(p Palette) error
	// FitToParent sizes the console window to its parent's client area.
	// With visibleOnly set a hidden window is left alone.
	FitToParent(visibleOnly bool)
	// DpiChanged re-sends a DPI change notification to the window.
	DpiChanged()
	// Terminate ends the hosting process immediately.
	Terminate()
}

// Palette is the screen buffer color state.
type Palette struct {
	// Attributes holds the current foreground/background indexes in its
	// low byte.
	Attributes uint16
	Colors     [protocol.ColorCount]uint32
}

// paletteObject renders p the way it travels on the wire: every entry is
// a decimal string.
func paletteObject(p Palette) value.Object {
	o := value.NewObject()
	o.SetString(protocol.ColorIndexesKey, strconv.Itoa(int(p.Attributes&0xFF)))
	for i, c := range p.Colors {
		o.SetString(strconv.Itoa(i), strconv.FormatUint(uint64(c), 10))
	}
	return o
}

// applyPalette overlays the entries of o onto p. Missing, malformed and
// zero entries leave the current value.
func applyPalette(p Palette, o value.Object) Palette {
	if n := parseColor(o.Get(protocol.ColorIndexesKey)); n != 0 {
		p.Attributes = p.Attributes&0xFF00 | uint16(n&0xFF)
	}
	for i := range p.Colors {
		if n := parseColor(o.Get(strconv.Itoa(i))); n != 0 {
			p.Colors[i] = n
		}
	}
	return p
}

func parseColor(v value.Value) uint32 {
	if v.Kind() == value.KindInt {
		n, _ := v.Int()
		return uint32(n)
	}
	n, err := strconv.ParseUint(v.Str(), 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

func aliasesObject(aliases map[string]map[string]string) value.Object {
	o := value.NewObject()
	for exe, defs := range aliases {
		o.Set(exe, value.ObjectValue(value.FromStringMap(defs)))
	}
	return o
}

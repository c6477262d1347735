// Package protocol defines the command vocabulary spoken between the
// controller and the agents it injects, plus the legacy flat frame codec.
//
// A rich message is a value.Object whose "Command" key names one of the
// commands below. A request may carry a numeric "ID"; the response echoes
// both the command name and the ID.
package protocol

// Command identifies a protocol command. The set is closed: names that
// do not map to a known Command decode as CommandUnknown.
type Command int

// Commands
const (
	CommandUnknown Command = iota

	// Controller -> agent
	CommandGetState
	CommandSetState
	CommandCheckWindowSize
	CommandCheckWindowDpi
	CommandActivated
	CommandDeactivated
	CommandClosed
	CommandDetach

	// Agent -> controller
	CommandPipeCreated
	CommandWindowCreated
	CommandStateChanged
	CommandConhostInjected
)

var commandNames = map[Command]string{
	CommandGetState:        "GetState",
	CommandSetState:        "SetState",
	CommandCheckWindowSize: "CheckWindowSize",
	CommandCheckWindowDpi:  "CheckWindowDpi",
	CommandActivated:       "Activated",
	CommandDeactivated:     "Deactivated",
	CommandClosed:          "Closed",
	CommandDetach:          "Detach",
	CommandPipeCreated:     "PipeCreated",
	CommandWindowCreated:   "WindowCreated",
	CommandStateChanged:    "StateChanged",
	CommandConhostInjected: "ConhostInjected",
}

var commandsByName = func() map[string]Command {
	m := make(map[string]Command, len(commandNames))
	for c, name := range commandNames {
		m[name] = c
	}
	return m
}()

// String returns the wire name of c, or "" for CommandUnknown.
func (c Command) String() string {
	return commandNames[c]
}

// ParseCommand maps a wire name to its Command. Matching is exact.
func ParseCommand(name string) Command {
	return commandsByName[name]
}

// Property keys
const (
	KeyAliases     = "Aliases"
	KeyArguments   = "Arguments"
	KeyColors      = "Colors"
	KeyCommand     = "Command"
	KeyDirectory   = "Directory"
	KeyEnvironment = "Environment"
	KeyExecutable  = "Executable"
	KeyHWND        = "HWND"
	KeyID          = "ID"
	KeyTitle       = "Title"
)

// ColorIndexesKey is the entry of a Colors object holding the console's
// current attribute byte. The palette itself lives under "0".."15".
const ColorIndexesKey = "indexes"

// ColorCount is the size of the console palette.
const ColorCount = 16

// StartOnlyKeys are the properties of a start request that only matter
// when the process is created; they are stripped before seeding state.
var StartOnlyKeys = []string{KeyArguments, KeyEnvironment, KeyExecutable, KeyDirectory}

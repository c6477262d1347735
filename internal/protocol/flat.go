package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"

	"github.com/standardbeagle/tabcon/internal/value"
)

// Reserved keys of the legacy flat protocol. Every key starting with
// FlatReservedPrefix is metadata and hidden from VisibleNames.
const (
	FlatReservedPrefix = "[!"
	FlatKeyCommand     = "[!!Command!!]"
	FlatKeyResponse    = "[!!Response!!]"
	FlatKeyID          = "[!!ID!!]"
)

// ErrTruncatedFrame is returned when a flat frame ends inside a length
// prefix or a payload.
var ErrTruncatedFrame = errors.New("truncated flat frame")

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// EncodeUTF16 converts s to little-endian UTF-16 without a terminator.
func EncodeUTF16(s string) ([]byte, error) {
	return utf16le.NewEncoder().Bytes([]byte(s))
}

// DecodeUTF16 converts little-endian UTF-16 to a string. A trailing odd
// byte is an error.
func DecodeUTF16(b []byte) (string, error) {
	if len(b)%2 != 0 {
		return "", fmt.Errorf("odd UTF-16 byte count %d", len(b))
	}
	out, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// FlatMessage is the legacy name -> string message. It travels as a
// sequence of (uint32 code-unit count, UTF-16 payload) pairs: one pair
// for each key followed by one pair for its value.
type FlatMessage struct {
	values map[string]string
}

// NewFlatMessage returns a request for command. A zero id is omitted.
func NewFlatMessage(command string, id uint32) *FlatMessage {
	m := &FlatMessage{values: make(map[string]string)}
	m.Set(FlatKeyCommand, command)
	if id != 0 {
		m.SetID(id)
	}
	return m
}

// NewResponse returns the response skeleton for m: same command name
// under the response key, same ID.
func (m *FlatMessage) NewResponse() *FlatMessage {
	r := &FlatMessage{values: make(map[string]string)}
	r.Set(FlatKeyResponse, m.Command())
	if id := m.ID(); id != 0 {
		r.SetID(id)
	}
	return r
}

// Get returns the value for name, or "".
func (m *FlatMessage) Get(name string) string { return m.values[name] }

// Set stores value under name. Empty names or values remove the entry,
// matching what a decoder would keep.
func (m *FlatMessage) Set(name, value string) {
	if m.values == nil {
		m.values = make(map[string]string)
	}
	if name == "" || value == "" {
		delete(m.values, name)
		return
	}
	m.values[name] = value
}

// Command returns the request command name.
func (m *FlatMessage) Command() string { return m.values[FlatKeyCommand] }

// Response returns the response command name.
func (m *FlatMessage) Response() string { return m.values[FlatKeyResponse] }

// ID returns the correlation ID, or 0.
func (m *FlatMessage) ID() uint32 {
	n, err := strconv.ParseUint(m.values[FlatKeyID], 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

// SetID stores the correlation ID.
func (m *FlatMessage) SetID(id uint32) { m.Set(FlatKeyID, strconv.FormatUint(uint64(id), 10)) }

// Len returns the number of entries, metadata included.
func (m *FlatMessage) Len() int { return len(m.values) }

// VisibleNames returns the sorted non-metadata keys.
func (m *FlatMessage) VisibleNames() []string {
	names := make([]string, 0, len(m.values))
	for k := range m.values {
		if !strings.HasPrefix(k, FlatReservedPrefix) {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

// Object converts m to a rich message: the command name (or, for a
// response, the response name) under Command, a nonzero ID under ID, and
// every visible entry as a string.
func (m *FlatMessage) Object() value.Object {
	out := value.NewObject()
	name := m.Command()
	if name == "" {
		name = m.Response()
	}
	if name != "" {
		out.SetString(KeyCommand, name)
	}
	if id := m.ID(); id != 0 {
		out.Set(KeyID, value.IntValue(int64(id)))
	}
	for _, k := range m.VisibleNames() {
		out.SetString(k, m.values[k])
	}
	return out
}

// MarshalBinary encodes m as a flat frame. Keys are written in sorted
// order so equal messages produce equal frames.
func (m *FlatMessage) MarshalBinary() ([]byte, error) {
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []byte
	for _, k := range keys {
		for _, s := range [2]string{k, m.values[k]} {
			payload, err := EncodeUTF16(s)
			if err != nil {
				return nil, fmt.Errorf("failed to encode %q: %w", s, err)
			}
			out = binary.LittleEndian.AppendUint32(out, uint32(len(payload)/2))
			out = append(out, payload...)
		}
	}
	return out, nil
}

// UnmarshalBinary decodes a flat frame into m, replacing its contents.
// Pairs with an empty key or value are skipped. A truncated frame leaves
// m empty and returns ErrTruncatedFrame.
func (m *FlatMessage) UnmarshalBinary(data []byte) error {
	values := make(map[string]string)
	m.values = make(map[string]string)
	for len(data) > 0 {
		key, rest, err := readFlatString(data)
		if err != nil {
			return err
		}
		val, rest, err := readFlatString(rest)
		if err != nil {
			return err
		}
		data = rest
		if key != "" && val != "" {
			values[key] = val
		}
	}
	m.values = values
	return nil
}

// ParseFlatMessage decodes a frame. Malformed input yields an empty
// message alongside the error.
func ParseFlatMessage(data []byte) (*FlatMessage, error) {
	m := &FlatMessage{}
	err := m.UnmarshalBinary(data)
	return m, err
}

func readFlatString(data []byte) (string, []byte, error) {
	if len(data) < 4 {
		return "", nil, ErrTruncatedFrame
	}
	units := binary.LittleEndian.Uint32(data)
	data = data[4:]
	if uint64(len(data)) < uint64(units)*2 {
		return "", nil, ErrTruncatedFrame
	}
	size := int(units) * 2
	s, err := DecodeUTF16(data[:size])
	if err != nil {
		return "", nil, err
	}
	return s, data[size:], nil
}

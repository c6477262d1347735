package pipe

import (
	"github.com/standardbeagle/tabcon/internal/protocol"
	"github.com/standardbeagle/tabcon/internal/value"
)

// EncodeMessage renders msg as one frame: UTF-16LE text followed by a
// NUL code unit.
func EncodeMessage(msg value.Object) ([]byte, error) {
	data, err := protocol.EncodeUTF16(value.WriteObject(msg))
	if err != nil {
		return nil, err
	}
	return append(data, 0, 0), nil
}

// DecodeMessage parses one received message. Exactly one trailing NUL
// code unit is stripped when present.
func DecodeMessage(data []byte) (value.Object, error) {
	if n := len(data); n >= 2 && data[n-2] == 0 && data[n-1] == 0 {
		data = data[:n-2]
	}
	text, err := protocol.DecodeUTF16(data)
	if err != nil {
		return value.Object{}, err
	}
	return value.Parse(text)
}

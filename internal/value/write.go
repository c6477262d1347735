package value

import (
	"math"
	"strconv"
	"strings"
)

// Write encodes v compactly. Object keys are emitted in sorted order so
// equal values always encode identically.
func Write(v Value) string {
	var w writer
	w.value(v, 0)
	return w.b.String()
}

// WriteObject is Write for an Object.
func WriteObject(o Object) string {
	return Write(Value{kind: KindObject, obj: o})
}

// WriteIndent encodes v with each nesting level prefixed by indent.
func WriteIndent(v Value, indent string) string {
	w := writer{indent: indent}
	w.value(v, 0)
	return w.b.String()
}

type writer struct {
	b      strings.Builder
	indent string
}

func (w *writer) newline(depth int) {
	if w.indent == "" {
		return
	}
	w.b.WriteByte('\n')
	for range depth {
		w.b.WriteString(w.indent)
	}
}

func (w *writer) value(v Value, depth int) {
	switch v.kind {
	case KindUnset, KindNull:
		w.b.WriteString("null")
	case KindBool:
		w.b.WriteString(strconv.FormatBool(v.b))
	case KindInt:
		w.b.WriteString(strconv.FormatInt(v.i, 10))
	case KindDouble:
		w.double(v.d)
	case KindString:
		writeString(&w.b, v.s)
	case KindArray:
		w.b.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				w.b.WriteByte(',')
			}
			w.newline(depth + 1)
			w.value(item, depth+1)
		}
		if len(v.arr) > 0 {
			w.newline(depth)
		}
		w.b.WriteByte(']')
	case KindObject:
		w.b.WriteByte('{')
		keys := v.obj.Keys()
		for i, k := range keys {
			if i > 0 {
				w.b.WriteByte(',')
			}
			w.newline(depth + 1)
			writeString(&w.b, k)
			w.b.WriteByte(':')
			if w.indent != "" {
				w.b.WriteByte(' ')
			}
			w.value(v.obj.m[k], depth+1)
		}
		if len(keys) > 0 {
			w.newline(depth)
		}
		w.b.WriteByte('}')
	}
}

// double keeps a fractional marker on integral floats so they decode back
// as doubles rather than ints.
func (w *writer) double(d float64) {
	if math.IsNaN(d) || math.IsInf(d, 0) {
		w.b.WriteString("null")
		return
	}
	s := strconv.FormatFloat(d, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	w.b.WriteString(s)
}

const hexDigits = "0123456789abcdef"

func writeString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if c < 0x20 {
				b.WriteString(`\u00`)
				b.WriteByte(hexDigits[c>>4])
				b.WriteByte(hexDigits[c&0xF])
			} else {
				b.WriteByte(c)
			}
		}
	}
	b.WriteByte('"')
}

package value

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// SyntaxError describes the first malformed token found while decoding.
// Offset is a byte offset into the decoded text; truncated input reports
// the length of the text.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d: %s", e.Offset, e.Msg)
}

// Parse decodes text whose root is an object. On failure it returns an
// empty Object together with a *SyntaxError, so callers that treat bad
// input as "no data" can ignore the error.
func Parse(text string) (Object, error) {
	v, err := ParseValue(text)
	if err != nil {
		return Object{}, err
	}
	if v.kind != KindObject {
		return Object{}, &SyntaxError{Offset: 0, Msg: "root is not an object"}
	}
	return v.obj, nil
}

// ParseValue decodes text holding any single value. Line comments
// ("//") and block comments ("/* */") are skipped wherever whitespace
// is allowed. Trailing commas are rejected.
func ParseValue(text string) (Value, error) {
	p := &parser{text: text}
	if err := p.skipSpace(); err != nil {
		return Value{}, err
	}
	v, err := p.value()
	if err != nil {
		return Value{}, err
	}
	if err := p.skipSpace(); err != nil {
		return Value{}, err
	}
	if p.pos != len(p.text) {
		return Value{}, p.fail("unexpected data after value")
	}
	return v, nil
}

type parser struct {
	text string
	pos  int
}

func (p *parser) fail(msg string) *SyntaxError {
	return &SyntaxError{Offset: p.pos, Msg: msg}
}

func (p *parser) eof() bool { return p.pos >= len(p.text) }

// skipSpace advances past whitespace and comments.
func (p *parser) skipSpace() error {
	for !p.eof() {
		switch c := p.text[p.pos]; {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			p.pos++
		case c == '/' && p.pos+1 < len(p.text) && p.text[p.pos+1] == '/':
			end := strings.IndexByte(p.text[p.pos:], '\n')
			if end < 0 {
				p.pos = len(p.text)
			} else {
				p.pos += end + 1
			}
		case c == '/' && p.pos+1 < len(p.text) && p.text[p.pos+1] == '*':
			end := strings.Index(p.text[p.pos+2:], "*/")
			if end < 0 {
				p.pos = len(p.text)
				return p.fail("unterminated comment")
			}
			p.pos += end + 4
		default:
			return nil
		}
	}
	return nil
}

func (p *parser) value() (Value, error) {
	if p.eof() {
		return Value{}, p.fail("unexpected end of input")
	}
	switch c := p.text[p.pos]; {
	case c == '{':
		return p.object()
	case c == '[':
		return p.array()
	case c == '"':
		s, err := p.str()
		if err != nil {
			return Value{}, err
		}
		return StringValue(s), nil
	case c == '-' || (c >= '0' && c <= '9'):
		return p.number()
	case strings.HasPrefix(p.text[p.pos:], "true"):
		p.pos += 4
		return BoolValue(true), nil
	case strings.HasPrefix(p.text[p.pos:], "false"):
		p.pos += 5
		return BoolValue(false), nil
	case strings.HasPrefix(p.text[p.pos:], "null"):
		p.pos += 4
		return NullValue(), nil
	}
	return Value{}, p.fail("invalid character " + strconv.QuoteRune(rune(p.text[p.pos])))
}

func (p *parser) object() (Value, error) {
	p.pos++ // '{'
	obj := NewObject()
	if err := p.skipSpace(); err != nil {
		return Value{}, err
	}
	if !p.eof() && p.text[p.pos] == '}' {
		p.pos++
		return Value{kind: KindObject, obj: obj}, nil
	}
	for {
		if p.eof() {
			return Value{}, p.fail("unexpected end of input")
		}
		if p.text[p.pos] != '"' {
			return Value{}, p.fail("expected string key")
		}
		key, err := p.str()
		if err != nil {
			return Value{}, err
		}
		if err := p.skipSpace(); err != nil {
			return Value{}, err
		}
		if p.eof() {
			return Value{}, p.fail("unexpected end of input")
		}
		if p.text[p.pos] != ':' {
			return Value{}, p.fail("expected ':'")
		}
		p.pos++
		if err := p.skipSpace(); err != nil {
			return Value{}, err
		}
		v, err := p.value()
		if err != nil {
			return Value{}, err
		}
		obj.Set(key, v)
		if err := p.skipSpace(); err != nil {
			return Value{}, err
		}
		if p.eof() {
			return Value{}, p.fail("unexpected end of input")
		}
		switch p.text[p.pos] {
		case '}':
			p.pos++
			return Value{kind: KindObject, obj: obj}, nil
		case ',':
			p.pos++
			if err := p.skipSpace(); err != nil {
				return Value{}, err
			}
		default:
			return Value{}, p.fail("expected ',' or '}'")
		}
	}
}

func (p *parser) array() (Value, error) {
	p.pos++ // '['
	var items []Value
	if err := p.skipSpace(); err != nil {
		return Value{}, err
	}
	if !p.eof() && p.text[p.pos] == ']' {
		p.pos++
		return Value{kind: KindArray, arr: items}, nil
	}
	for {
		if !p.eof() && p.text[p.pos] == ']' {
			return Value{}, p.fail("trailing comma")
		}
		v, err := p.value()
		if err != nil {
			return Value{}, err
		}
		items = append(items, v)
		if err := p.skipSpace(); err != nil {
			return Value{}, err
		}
		if p.eof() {
			return Value{}, p.fail("unexpected end of input")
		}
		switch p.text[p.pos] {
		case ']':
			p.pos++
			return Value{kind: KindArray, arr: items}, nil
		case ',':
			p.pos++
			if err := p.skipSpace(); err != nil {
				return Value{}, err
			}
		default:
			return Value{}, p.fail("expected ',' or ']'")
		}
	}
}

func (p *parser) str() (string, error) {
	p.pos++ // opening quote
	var b strings.Builder
	for {
		if p.eof() {
			return "", p.fail("unterminated string")
		}
		c := p.text[p.pos]
		switch {
		case c == '"':
			p.pos++
			return b.String(), nil
		case c == '\\':
			if err := p.escape(&b); err != nil {
				return "", err
			}
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
}

func (p *parser) escape(b *strings.Builder) error {
	p.pos++ // backslash
	if p.eof() {
		return p.fail("unterminated string")
	}
	c := p.text[p.pos]
	p.pos++
	switch c {
	case '"', '\\', '/':
		b.WriteByte(c)
	case 'b':
		b.WriteByte('\b')
	case 'f':
		b.WriteByte('\f')
	case 'n':
		b.WriteByte('\n')
	case 'r':
		b.WriteByte('\r')
	case 't':
		b.WriteByte('\t')
	case 'u':
		r, err := p.hex4()
		if err != nil {
			return err
		}
		if utf16.IsSurrogate(r) {
			if strings.HasPrefix(p.text[p.pos:], `\u`) {
				save := p.pos
				p.pos += 2
				r2, err := p.hex4()
				if err != nil {
					return err
				}
				if dec := utf16.DecodeRune(r, r2); dec != utf8.RuneError {
					r = dec
				} else {
					p.pos = save
					r = utf8.RuneError
				}
			} else {
				r = utf8.RuneError
			}
		}
		b.WriteRune(r)
	default:
		p.pos--
		return p.fail("invalid escape " + strconv.QuoteRune(rune(c)))
	}
	return nil
}

func (p *parser) hex4() (rune, error) {
	if p.pos+4 > len(p.text) {
		p.pos = len(p.text)
		return 0, p.fail("truncated unicode escape")
	}
	n, err := strconv.ParseUint(p.text[p.pos:p.pos+4], 16, 32)
	if err != nil {
		return 0, p.fail("invalid unicode escape")
	}
	p.pos += 4
	return rune(n), nil
}

func (p *parser) number() (Value, error) {
	start := p.pos
	integral := true
	if p.text[p.pos] == '-' {
		p.pos++
	}
	if !p.digits() {
		return Value{}, p.fail("invalid number")
	}
	if !p.eof() && p.text[p.pos] == '.' {
		integral = false
		p.pos++
		if !p.digits() {
			return Value{}, p.fail("invalid number")
		}
	}
	if !p.eof() && (p.text[p.pos] == 'e' || p.text[p.pos] == 'E') {
		integral = false
		p.pos++
		if !p.eof() && (p.text[p.pos] == '+' || p.text[p.pos] == '-') {
			p.pos++
		}
		if !p.digits() {
			return Value{}, p.fail("invalid number")
		}
	}
	lit := p.text[start:p.pos]
	if integral {
		if i, err := strconv.ParseInt(lit, 10, 64); err == nil {
			return IntValue(i), nil
		}
	}
	d, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		p.pos = start
		return Value{}, p.fail("number out of range")
	}
	return DoubleValue(d), nil
}

func (p *parser) digits() bool {
	start := p.pos
	for !p.eof() && p.text[p.pos] >= '0' && p.text[p.pos] <= '9' {
		p.pos++
	}
	return p.pos > start
}

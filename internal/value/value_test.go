package value

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObject_SetUnsetDeletes(t *testing.T) {
	var o Object
	o.SetString("Title", "cmd")
	require.True(t, o.Has("Title"))

	o.Set("Title", Value{})
	assert.False(t, o.Has("Title"))
	assert.Equal(t, 0, o.Len())
}

func TestObject_LastWriteWins(t *testing.T) {
	o := NewObject()
	o.SetString("k", "first")
	o.SetString("k", "second")
	assert.Equal(t, "second", o.GetString("k"))
	assert.Equal(t, 1, o.Len())
}

func TestValue_NoAliasing(t *testing.T) {
	inner := NewObject()
	inner.SetString("a", "1")
	v := ObjectValue(inner)

	inner.SetString("a", "changed")
	assert.Equal(t, "1", v.Object().GetString("a"))

	out := v.Object()
	out.SetString("a", "mutated")
	assert.Equal(t, "1", v.Object().GetString("a"))

	items := []Value{IntValue(1)}
	arr := ArrayValue(items...)
	items[0] = IntValue(2)
	n, _ := arr.Array()[0].Int()
	assert.Equal(t, int64(1), n)
}

func TestValue_Equal(t *testing.T) {
	a := NewObject()
	a.Set("list", ArrayValue(IntValue(1), StringValue("x"), NullValue()))
	b := a.Clone()
	assert.True(t, ObjectValue(a).Equal(ObjectValue(b)))

	b.Set("list", ArrayValue(IntValue(1), StringValue("y"), NullValue()))
	assert.False(t, ObjectValue(a).Equal(ObjectValue(b)))

	assert.False(t, IntValue(1).Equal(DoubleValue(1)))
}

func TestParse_RoundTrip(t *testing.T) {
	env := NewObject()
	env.SetString("PATH", `C:\Windows;C:\Tools`)
	env.SetString("PROMPT", "$P$G")

	colors := NewObject()
	colors.SetString("indexes", "7")
	colors.SetString("0", "0")
	colors.SetString("15", "16777215")

	root := NewObject()
	root.SetString("Command", "GetState")
	root.Set("ID", IntValue(42))
	root.Set("Environment", ObjectValue(env))
	root.Set("Colors", ObjectValue(colors))
	root.Set("Ratio", DoubleValue(2))
	root.Set("Small", DoubleValue(-0.125))
	root.Set("Big", IntValue(math.MaxInt64))
	root.Set("Flags", ArrayValue(BoolValue(true), BoolValue(false), NullValue()))
	root.Set("Nested", ArrayValue(ArrayValue(), ObjectValue(NewObject())))
	root.SetString("Control", "bell\a tab\t nul\x00 quote\" slash\\ é ✓")

	for _, indent := range []string{"", "  ", "\t"} {
		text := WriteIndent(ObjectValue(root), indent)
		got, err := Parse(text)
		require.NoError(t, err, "indent %q: %s", indent, text)
		assert.True(t, root.Equal(got), "indent %q: %s", indent, text)
	}
}

func TestParse_Comments(t *testing.T) {
	text := `// leading
	{
		/* block */ "Command": "SetState", // trailing
		"Title": "a /* not a comment */ b"
	}
	/* after */`
	got, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, "SetState", got.GetString("Command"))
	assert.Equal(t, "a /* not a comment */ b", got.GetString("Title"))
}

func TestParse_Numbers(t *testing.T) {
	tests := []struct {
		text string
		kind Kind
	}{
		{"0", KindInt},
		{"-17", KindInt},
		{"9223372036854775807", KindInt},
		{"9223372036854775808", KindDouble},
		{"1.5", KindDouble},
		{"2.0", KindDouble},
		{"1e3", KindDouble},
		{"-2.5E-3", KindDouble},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			v, err := ParseValue(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, v.Kind())
		})
	}
}

func TestParse_UnicodeEscapes(t *testing.T) {
	v, err := ParseValue(`"\u0041\u00e9\ud83d\ude00\ud800x"`)
	require.NoError(t, err)
	assert.Equal(t, "Aé😀\uFFFDx", v.Str())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		offset int
	}{
		{"truncated command", `{"Command":`, 11},
		{"truncated string", `{"Command":"Get`, 15},
		{"empty", ``, 0},
		{"trailing comma object", `{"a":1,}`, 7},
		{"trailing comma array", `[1,2,]`, 5},
		{"missing colon", `{"a" 1}`, 5},
		{"unquoted key", `{a:1}`, 1},
		{"bad literal", `{"a":tru}`, 5},
		{"bad escape", `"\q"`, 2},
		{"garbage after root", `{} x`, 3},
		{"unterminated comment", `{} /* open`, 10},
		{"lone minus", `-`, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseValue(tt.text)
			require.Error(t, err)
			var syn *SyntaxError
			require.True(t, errors.As(err, &syn), "got %T", err)
			assert.Equal(t, tt.offset, syn.Offset, syn.Msg)
		})
	}
}

func TestParse_NonObjectRoot(t *testing.T) {
	got, err := Parse(`[1,2]`)
	require.Error(t, err)
	assert.Equal(t, 0, got.Len())
}

func TestParse_MalformedYieldsEmptyObject(t *testing.T) {
	got, err := Parse(`{"Command":`)
	require.Error(t, err)
	assert.Equal(t, 0, got.Len())
}

func TestWrite_ControlCharacters(t *testing.T) {
	assert.Equal(t, `"a\u0001b\n"`, Write(StringValue("a\x01b\n")))
}

func TestWrite_NonFiniteDouble(t *testing.T) {
	assert.Equal(t, "null", Write(DoubleValue(math.NaN())))
	assert.Equal(t, "null", Write(DoubleValue(math.Inf(1))))
}

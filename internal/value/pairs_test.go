package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseNameValuePairs_EnvironmentBlock(t *testing.T) {
	block := "=C:=C:\\src\x00Path=C:\\Windows\x00EMPTY=\x00=\x00NOEQUALS\x00PROMPT=$P$G\x00\x00"
	got := ParseNameValuePairs(block, 0)

	want := FromStringMap(map[string]string{
		"=C:":    `C:\src`,
		"Path":   `C:\Windows`,
		"PROMPT": "$P$G",
	})
	assert.True(t, want.Equal(got), "got %v", got.StringMap())
}

func TestParseNameValuePairs_ValueKeepsEquals(t *testing.T) {
	got := ParseNameValuePairs("OPTS=a=b=c\n", '\n')
	assert.Equal(t, "a=b=c", got.GetString("OPTS"))
}

func TestWriteNameValuePairs_SortedAndTerminated(t *testing.T) {
	o := FromStringMap(map[string]string{
		"windir":          `C:\Windows`,
		"Path":            `C:\bin`,
		"ALLUSERSPROFILE": `C:\ProgramData`,
	})
	got := WriteNameValuePairs(o, 0)
	assert.Equal(t, "ALLUSERSPROFILE=C:\\ProgramData\x00Path=C:\\bin\x00windir=C:\\Windows\x00\x00", got)
}

func TestWriteNameValuePairs_Empty(t *testing.T) {
	assert.Equal(t, "\n", WriteNameValuePairs(Object{}, '\n'))
}

func TestNameValuePairs_RoundTrip(t *testing.T) {
	maps := []map[string]string{
		{"A": "1"},
		{"HOME": "/home/u", "SHELL": "/bin/sh", "lower": "x y z"},
		{"0": "0", "1": "8388608", "15": "16777215", "indexes": "7"},
	}
	for _, m := range maps {
		o := FromStringMap(m)
		for _, sep := range []rune{0, '\n'} {
			got := ParseNameValuePairs(WriteNameValuePairs(o, sep), sep)
			assert.True(t, o.Equal(got), "sep %q: %v", sep, got.StringMap())
		}
	}
}

package value

import (
	"sort"
	"strings"
)

// ParseNameValuePairs decodes a block of sep-terminated "name=value"
// entries, the layout of an OS environment block when sep is NUL.
//
// Each entry splits at the first '=' after position 0, so drive entries
// such as "=C:=C:\src" keep their leading '='. Entries with an empty name
// or an empty value are dropped.
func ParseNameValuePairs(block string, sep rune) Object {
	o := NewObject()
	for _, entry := range strings.Split(block, string(sep)) {
		if len(entry) < 2 {
			continue
		}
		eq := strings.IndexByte(entry[1:], '=')
		if eq < 0 {
			continue
		}
		eq++
		name, val := entry[:eq], entry[eq+1:]
		if name == "" || val == "" {
			continue
		}
		o.SetString(name, val)
	}
	return o
}

// WriteNameValuePairs encodes the string entries of o as a block readable
// by ParseNameValuePairs. Entries are sorted case-insensitively by name,
// each terminated by sep, and the block ends with an extra sep.
func WriteNameValuePairs(o Object, sep rune) string {
	names := make([]string, 0, o.Len())
	for _, k := range o.Keys() {
		if o.Get(k).Kind() == KindString {
			names = append(names, k)
		}
	}
	sort.SliceStable(names, func(i, j int) bool {
		return strings.ToUpper(names[i]) < strings.ToUpper(names[j])
	})

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(o.GetString(name))
		b.WriteRune(sep)
	}
	b.WriteRune(sep)
	return b.String()
}

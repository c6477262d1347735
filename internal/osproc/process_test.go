package osproc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasImageSuffix(t *testing.T) {
	owners := []string{"tabcon.exe", "tabcon"}
	tests := []struct {
		path string
		want bool
	}{
		{`C:\Tools\tabcon.exe`, true},
		{`C:\TOOLS\TABCON.EXE`, true},
		{`/usr/local/bin/tabcon`, true},
		{`C:\Tools\mytabcon.exe`, false},
		{`C:\Windows\System32\cmd.exe`, false},
		{``, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HasImageSuffix(tt.path, owners), tt.path)
	}
}

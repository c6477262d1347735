//go:build windows

package inject

import (
	"context"
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/windows"

	"github.com/standardbeagle/tabcon/internal/osproc"
)

func TestLoadRemote_FreesPathBuffer(t *testing.T) {
	self, err := osproc.Current()
	require.NoError(t, err)
	defer self.Close()

	var freed []uintptr
	testHookFreed = func(remote uintptr) { freed = append(freed, remote) }
	t.Cleanup(func() { testHookFreed = nil })

	missing := filepath.Join(t.TempDir(), "missing.dll")
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	for _, ctx := range []context.Context{context.Background(), cancelled} {
		assert.Error(t, loadRemote(ctx, self, missing))
	}

	require.Len(t, freed, 2)
	for _, remote := range freed {
		var info windows.MemoryBasicInformation
		require.NoError(t, windows.VirtualQuery(remote, &info, unsafe.Sizeof(info)))
		assert.Equal(t, uint32(windows.MEM_FREE), info.State, "buffer at %#x still allocated", remote)
	}
}

package inject

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChooseStrategy(t *testing.T) {
	tests := []struct {
		name        string
		self64      bool
		os64        bool
		targetWow64 bool
		allowCross  bool
		want        Strategy
	}{
		{"64 on 64 native target", true, true, false, false, StrategySameBitness},
		{"64 on 64 wow target refused", true, true, true, false, StrategyRefuse},
		{"64 on 64 wow target helper", true, true, true, true, StrategyHelper},
		{"32 on 32 os", false, false, false, false, StrategySameBitness},
		{"32 on 64 wow target", false, true, true, false, StrategySameBitness},
		{"32 on 64 native target refused", false, true, false, false, StrategyRefuse},
		{"32 on 64 native target helper", false, true, false, true, StrategyHelper},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChooseStrategy(tt.self64, tt.os64, tt.targetWow64, tt.allowCross)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNames(t *testing.T) {
	assert.Equal(t, "tabcon-agent64.dll", AgentName(true))
	assert.Equal(t, "tabcon-agent32.dll", AgentName(false))
	assert.Equal(t, "tabcon-injector64.exe", HelperName(true))
	assert.Equal(t, "tabcon-injector32.exe", HelperName(false))
	assert.Equal(t, "helper", StrategyHelper.String())
}

func TestHelperArgs_RoundTrip(t *testing.T) {
	line := HelperCommandLine(`C:\Program Files\tabcon\tabcon-injector32.exe`, 4120, 0x2a8)
	assert.Equal(t, `"C:\Program Files\tabcon\tabcon-injector32.exe" 4120 680`, line)

	pid, handle, err := ParseHelperArgs([]string{"4120", "680"})
	require.NoError(t, err)
	assert.Equal(t, uint32(4120), pid)
	assert.Equal(t, uintptr(680), handle)
}

func TestParseHelperArgs_Invalid(t *testing.T) {
	for _, args := range [][]string{
		nil,
		{"12"},
		{"12", "34", "56"},
		{"0", "34"},
		{"12", "0"},
		{"x", "34"},
		{"12", "-1"},
		{"99999999999", "34"},
	} {
		_, _, err := ParseHelperArgs(args)
		assert.ErrorIs(t, err, ErrInvalidHelperArgs, "%q", args)
	}
}

func TestInjector_HelperPath(t *testing.T) {
	dir := t.TempDir()
	inj := &Injector{HelperDir: dir}

	_, err := inj.helperPath(false)
	assert.ErrorIs(t, err, ErrHelperNotFound)

	want := filepath.Join(dir, HelperName(false))
	require.NoError(t, os.WriteFile(want, []byte("MZ"), 0o755))
	got, err := inj.helperPath(false)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestInjector_AgentPath(t *testing.T) {
	inj := &Injector{HelperDir: "/opt/tabcon"}
	got, err := inj.agentPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/opt/tabcon", AgentName(is64Bit)), got)

	inj.AgentPath = "/elsewhere/agent.dll"
	got, err = inj.agentPath()
	require.NoError(t, err)
	assert.Equal(t, "/elsewhere/agent.dll", got)
}

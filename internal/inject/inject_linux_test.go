//go:build linux

package inject

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/tabcon/internal/metrics"
	"github.com/standardbeagle/tabcon/internal/osproc"
)

func TestInjector_UnsupportedPlatform(t *testing.T) {
	target, err := osproc.Current()
	require.NoError(t, err)
	defer target.Close()

	log, _ := test.NewNullLogger()
	counter := metrics.Get().Injections.WithLabelValues(StrategyRefuse.String(), metrics.ResultError)
	before := testutil.ToFloat64(counter)

	inj := &Injector{HelperDir: t.TempDir(), Logger: log}
	err = inj.Inject(context.Background(), target, true)
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))

	assert.ErrorIs(t, inj.LoadInto(context.Background(), target), ErrUnsupported)
}

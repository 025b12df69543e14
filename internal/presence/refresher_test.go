package presence

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestRefresher_TicksUntilStopped(t *testing.T) {
	src := &floatSource{floats: []float64{0.5}}
	reg := NewRegistry(WithRandom(src))
	reg.Initialize()

	r, err := NewRefresher(reg, 20*time.Millisecond, clockwork.NewRealClock())
	require.NoError(t, err)
	require.NoError(t, r.Start())

	// three peers draw once per tick
	require.Eventually(t, func() bool {
		return src.calls.Load() >= 6
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, r.Stop())
	stopped := src.calls.Load()
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, stopped, src.calls.Load(), "no refresh after Stop")
}

func TestNewRefresher_NilRegistry(t *testing.T) {
	_, err := NewRefresher(nil, time.Second, nil)
	require.Error(t, err)
}

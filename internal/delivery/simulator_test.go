package delivery

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/comigor/localnet-go/internal/history"
	"github.com/comigor/localnet-go/internal/presence"
)

// fixedSource always draws the same offset for the reply delay.
type fixedSource struct{ offset int64 }

func (fixedSource) Float64() float64       { return 0 }
func (fixedSource) IntN(int) int           { return 0 }
func (s fixedSource) Int64N(n int64) int64 { return s.offset % n }

type fixture struct {
	clock *clockwork.FakeClock
	reg   *presence.Registry
	log   *history.Log
	sim   *Simulator
}

func newFixture(t *testing.T, policy Policy) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClock()
	reg := presence.NewRegistry(presence.WithClock(clock))
	reg.Initialize()
	log := history.NewLog(history.WithClock(clock))
	sim := New(reg, log,
		WithClock(clock),
		WithRandom(fixedSource{offset: int64(500 * time.Millisecond)}),
		WithPolicy(policy),
	)
	t.Cleanup(sim.Close)
	return &fixture{clock: clock, reg: reg, log: log, sim: sim}
}

func (f *fixture) waitSettled(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return f.sim.Pending() == 0 }, time.Second, time.Millisecond)
}

func TestSchedule_EchoAfterDelay(t *testing.T) {
	f := newFixture(t, PolicyRecheckAtFire)

	_, ok := f.sim.Schedule("hi", "1")
	require.True(t, ok)
	require.Equal(t, 1, f.sim.Pending())

	// 1s minimum + 500ms drawn offset
	f.clock.Advance(1400 * time.Millisecond)
	require.Never(t, func() bool { return f.log.Len() > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	f.clock.Advance(100 * time.Millisecond)
	f.waitSettled(t)

	msgs := f.log.Snapshot()
	require.Len(t, msgs, 1)
	require.Equal(t, "Echo: hi", msgs[0].Body)
	require.Equal(t, "Alice", msgs[0].SenderName)
	require.Equal(t, "1", msgs[0].PeerID)
	require.Equal(t, history.Received, msgs[0].Direction)
}

func TestSchedule_UnknownRecipient(t *testing.T) {
	for _, policy := range []Policy{PolicyRecheckAtFire, PolicyCaptureAtSchedule} {
		f := newFixture(t, policy)
		h, ok := f.sim.Schedule("hi", "99")
		require.False(t, ok)
		require.Empty(t, h)
		require.Equal(t, 0, f.sim.Pending())
	}
}

func TestRecheckAtFire_OfflineBeforeFire(t *testing.T) {
	f := newFixture(t, PolicyRecheckAtFire)

	_, ok := f.sim.Schedule("hi Bob", "2")
	require.True(t, ok)
	require.True(t, f.reg.SetPresence("2", presence.Offline))

	f.clock.Advance(3 * time.Second)
	f.waitSettled(t)
	require.Zero(t, f.log.Len())
}

func TestRecheckAtFire_OfflineAtScheduleButOnlineAtFire(t *testing.T) {
	f := newFixture(t, PolicyRecheckAtFire)

	// Charlie starts Offline
	_, ok := f.sim.Schedule("wake up", "3")
	require.True(t, ok)
	require.True(t, f.reg.SetPresence("3", presence.Online))

	f.clock.Advance(3 * time.Second)
	f.waitSettled(t)
	msgs := f.log.Snapshot()
	require.Len(t, msgs, 1)
	require.Equal(t, "Charlie", msgs[0].SenderName)
}

func TestCaptureAtSchedule(t *testing.T) {
	f := newFixture(t, PolicyCaptureAtSchedule)

	_, ok := f.sim.Schedule("wake up", "3")
	require.False(t, ok, "offline at schedule time")

	_, ok = f.sim.Schedule("hi Bob", "2")
	require.True(t, ok)
	require.True(t, f.reg.SetPresence("2", presence.Offline))

	f.clock.Advance(3 * time.Second)
	f.waitSettled(t)
	msgs := f.log.Snapshot()
	require.Len(t, msgs, 1)
	require.Equal(t, "Echo: hi Bob", msgs[0].Body)
	require.Equal(t, "Bob", msgs[0].SenderName)
}

func TestCancel(t *testing.T) {
	f := newFixture(t, PolicyRecheckAtFire)

	h, ok := f.sim.Schedule("hi", "1")
	require.True(t, ok)
	require.True(t, f.sim.Cancel(h))
	require.False(t, f.sim.Cancel(h))

	f.clock.Advance(5 * time.Second)
	require.Never(t, func() bool { return f.log.Len() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestClose_CancelsOutstanding(t *testing.T) {
	f := newFixture(t, PolicyRecheckAtFire)

	_, ok := f.sim.Schedule("one", "1")
	require.True(t, ok)
	_, ok = f.sim.Schedule("two", "2")
	require.True(t, ok)

	f.sim.Close()
	require.Zero(t, f.sim.Pending())
	_, ok = f.sim.Schedule("three", "1")
	require.False(t, ok)

	f.clock.Advance(5 * time.Second)
	require.Never(t, func() bool { return f.log.Len() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestDelay_Bounds(t *testing.T) {
	sim := New(nil, nil, WithRandom(fixedSource{offset: 1<<62 - 1}), WithDelay(time.Second, 3*time.Second))
	d := sim.delay()
	require.GreaterOrEqual(t, d, time.Second)
	require.Less(t, d, 3*time.Second)

	fixed := New(nil, nil, WithDelay(2*time.Second, time.Second))
	require.Equal(t, 2*time.Second, fixed.delay())
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("schedule")
	require.NoError(t, err)
	require.Equal(t, PolicyCaptureAtSchedule, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	require.Equal(t, PolicyRecheckAtFire, p)

	_, err = ParsePolicy("later")
	require.Error(t, err)
}

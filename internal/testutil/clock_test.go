package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock_FiresOnlyWhenDue(t *testing.T) {
	clock := NewFakeClock()
	fired := 0
	clock.AfterFunc(100*time.Millisecond, func() { fired++ })

	clock.Advance(99 * time.Millisecond)
	assert.Equal(t, 0, fired)
	assert.Equal(t, 1, clock.Pending())

	clock.Advance(time.Millisecond)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 0, clock.Pending())

	// Fired timers do not fire again.
	clock.Advance(time.Second)
	assert.Equal(t, 1, fired)
}

func TestFakeClock_StopCancels(t *testing.T) {
	clock := NewFakeClock()
	fired := false
	timer := clock.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "second Stop reports already stopped")

	clock.Advance(time.Hour)
	assert.False(t, fired)
}

func TestFakeClock_StopAfterFire(t *testing.T) {
	clock := NewFakeClock()
	timer := clock.AfterFunc(time.Millisecond, func() {})
	clock.Advance(time.Millisecond)
	assert.False(t, timer.Stop())
}

func TestFakeClock_DeadlineOrder(t *testing.T) {
	clock := NewFakeClock()
	var order []string
	clock.AfterFunc(30*time.Millisecond, func() { order = append(order, "c") })
	clock.AfterFunc(10*time.Millisecond, func() { order = append(order, "a") })
	clock.AfterFunc(10*time.Millisecond, func() { order = append(order, "b") })

	clock.Advance(time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, time.Second, clock.Now())
}

func TestFakeClock_CallbackCanSchedule(t *testing.T) {
	clock := NewFakeClock()
	fired := 0
	clock.AfterFunc(10*time.Millisecond, func() {
		fired++
		clock.AfterFunc(10*time.Millisecond, func() { fired++ })
	})

	clock.Advance(15 * time.Millisecond)
	assert.Equal(t, 1, fired)

	clock.Advance(5 * time.Millisecond)
	assert.Equal(t, 2, fired)
}

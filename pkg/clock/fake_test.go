package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestFakeClock_AfterFunc(t *testing.T) {
	c := Fake(epoch)
	fired := 0
	c.AfterFunc(time.Minute, func() { fired++ })

	c.Advance(59 * time.Second)
	assert.Equal(t, 0, fired)
	assert.Equal(t, 1, c.Pending())

	c.Advance(time.Second)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 0, c.Pending())

	c.Advance(time.Hour)
	assert.Equal(t, 1, fired, "one-shot timers fire once")
}

func TestFakeClock_Stop(t *testing.T) {
	c := Fake(epoch)
	fired := false
	timer := c.AfterFunc(time.Minute, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "second stop reports already stopped")

	c.Advance(time.Hour)
	assert.False(t, fired)
	assert.Equal(t, 0, c.Pending())
}

func TestFakeClock_CallbackCanRearm(t *testing.T) {
	c := Fake(epoch)
	count := 0
	var arm func()
	arm = func() {
		c.AfterFunc(time.Minute, func() {
			count++
			if count < 3 {
				arm()
			}
		})
	}
	arm()

	c.Advance(time.Minute)
	c.Advance(time.Minute)
	c.Advance(time.Minute)
	assert.Equal(t, 3, count)
}

func TestFakeClock_Ticker(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(10 * time.Second)

	c.Advance(10 * time.Second)
	select {
	case <-ticker.C:
	default:
		t.Fatal("expected tick")
	}

	ticker.Stop()
	c.Advance(time.Minute)
	select {
	case <-ticker.C:
		t.Fatal("unexpected tick after Stop")
	default:
	}
}

func TestFakeClock_NonPositiveAfterFuncRunsImmediately(t *testing.T) {
	c := Fake(epoch)
	fired := false
	c.AfterFunc(0, func() { fired = true })
	assert.True(t, fired)
	assert.Equal(t, epoch, c.Now())
}

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMock_AdvanceFiresDueTimers(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewMock(start)

	var fired []string
	c.AfterFunc(100*time.Millisecond, func() { fired = append(fired, "b") })
	c.AfterFunc(50*time.Millisecond, func() { fired = append(fired, "a") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "c") })

	c.Advance(150 * time.Millisecond)

	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, 1, c.Pending())
	assert.Equal(t, start.Add(150*time.Millisecond), c.Now())
}

func TestMock_RearmInsideCallback(t *testing.T) {
	c := NewMock(time.Unix(0, 0))

	count := 0
	var arm func()
	arm = func() {
		c.AfterFunc(10*time.Millisecond, func() {
			count++
			arm()
		})
	}
	arm()

	c.Advance(35 * time.Millisecond)
	assert.Equal(t, 3, count)
	assert.Equal(t, 1, c.Pending())
}

func TestMock_Stop(t *testing.T) {
	c := NewMock(time.Unix(0, 0))

	called := false
	timer := c.AfterFunc(time.Second, func() { called = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	c.Advance(2 * time.Second)
	assert.False(t, called)
	assert.Equal(t, 0, c.Pending())
}

func TestMock_After(t *testing.T) {
	c := NewMock(time.Unix(0, 0))
	ch := c.After(time.Minute)

	select {
	case <-ch:
		t.Fatal("fired before advance")
	default:
	}

	c.Advance(time.Minute)

	select {
	case got := <-ch:
		assert.Equal(t, time.Unix(60, 0), got)
	default:
		t.Fatal("expected timer to fire")
	}
}

func TestMock_SetBackwards(t *testing.T) {
	c := NewMock(time.Unix(100, 0))
	c.Set(time.Unix(50, 0))
	assert.Equal(t, time.Unix(50, 0), c.Now())
	assert.Equal(t, 10*time.Second, c.Since(time.Unix(40, 0)))
}

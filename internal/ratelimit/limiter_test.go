package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestShouldSendByInterval(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		interval time.Duration
		elapsed  time.Duration
		record   bool
		want     bool
	}{
		{name: "inside interval", interval: time.Minute, elapsed: 30 * time.Second, record: true, want: false},
		{name: "past interval", interval: time.Minute, elapsed: 90 * time.Second, record: true, want: true},
		{name: "exactly interval", interval: time.Minute, elapsed: time.Minute, record: true, want: true},
		{name: "disabled", interval: 0, elapsed: time.Second, record: true, want: true},
		{name: "never delivered", interval: time.Minute, elapsed: 0, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			clk := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
			l := New(WithClock(clk.now))
			if tt.record {
				l.RecordCompletion("com.chat", false)
			}
			clk.advance(tt.elapsed)
			assert.Equal(t, tt.want, l.ShouldSendByInterval("com.chat", tt.interval))
		})
	}
}

func TestShouldVibrate(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	l := New(WithClock(clk.now))

	assert.True(t, l.ShouldVibrate("com.chat", time.Minute))

	l.RecordCompletion("com.chat", false)
	assert.True(t, l.ShouldVibrate("com.chat", time.Minute), "silent delivery must not charge vibration")

	l.RecordCompletion("com.chat", true)
	clk.advance(time.Minute)
	assert.False(t, l.ShouldVibrate("com.chat", time.Minute))
	clk.advance(time.Second)
	assert.True(t, l.ShouldVibrate("com.chat", time.Minute))

	assert.True(t, l.ShouldVibrate("com.chat", 0))
	assert.True(t, l.ShouldVibrate("com.mail", time.Hour))
}

func TestLastDeliveryPerApp(t *testing.T) {
	t.Parallel()
	l := New()
	_, ok := l.LastDelivery("a")
	assert.False(t, ok)
	l.RecordCompletion("a", true)
	_, ok = l.LastDelivery("a")
	assert.True(t, ok)
	_, ok = l.LastDelivery("b")
	assert.False(t, ok)
}

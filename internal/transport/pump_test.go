package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	logx "wristrelay/pkg/logx"
)

type countingScheduler struct {
	mu        sync.Mutex
	remaining int
	calls     int
}

func (s *countingScheduler) NextMessage() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.remaining == 0 {
		return false
	}
	s.remaining--
	return true
}

func (s *countingScheduler) left() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

func TestPumpOnePacketInFlight(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	p := NewPump(logx.Nop())
	s := &countingScheduler{remaining: 3}
	p.Bind(s)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()

	p.Kick()
	require.Eventually(t, func() bool { return p.InFlight() }, time.Second, time.Millisecond)

	// Kicks while a packet is in flight do not pull another one.
	p.Kick()
	p.Kick()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, s.left())

	p.Ack()
	require.Eventually(t, func() bool { return s.left() == 1 }, time.Second, time.Millisecond)
	p.Reset()
	require.Eventually(t, func() bool { return s.left() == 0 }, time.Second, time.Millisecond)
	p.Ack()
	require.Eventually(t, func() bool { return !p.InFlight() }, time.Second, time.Millisecond)
	assert.Equal(t, uint64(3), p.Sent())

	cancel()
	<-done
}

func TestParseFirmware(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Firmware{Major: 3, Minor: 12}, ParseFirmware("v3.12.1"))
	assert.Equal(t, Firmware{Major: 2, Minor: 9}, ParseFirmware("2.9"))
	assert.Equal(t, Firmware{Major: 4}, ParseFirmware("4"))
	assert.Equal(t, Firmware{}, ParseFirmware("beta"))

	assert.True(t, Firmware{Major: 2, Minor: 9}.Newer(2, 8))
	assert.False(t, Firmware{Major: 2, Minor: 8}.Newer(2, 8))
	assert.True(t, Firmware{Major: 3}.Newer(2, 8))
}

type rewindingScheduler struct {
	countingScheduler
	rewinds int
}

func (s *rewindingScheduler) AppOpened() {
	s.mu.Lock()
	s.rewinds++
	s.mu.Unlock()
}

func TestPumpResetRewindsScheduler(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	p := NewPump(logx.Nop())
	s := &rewindingScheduler{countingScheduler: countingScheduler{remaining: 5}}
	p.Bind(s)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()

	p.Kick()
	require.Eventually(t, func() bool { return s.left() == 4 }, time.Second, time.Millisecond)
	p.Reset()
	require.Eventually(t, func() bool { return s.left() == 3 }, time.Second, time.Millisecond)

	s.mu.Lock()
	assert.Equal(t, 1, s.rewinds)
	s.mu.Unlock()

	cancel()
	<-done
}

func TestPumpIgnoresAcksRaisedBeforeReset(t *testing.T) {
	t.Parallel()
	p := NewPump(logx.Nop())
	s := &rewindingScheduler{countingScheduler: countingScheduler{remaining: 5}}
	p.Bind(s)

	// Driven without Run so the interleaving is fixed.
	p.pull()
	require.True(t, p.InFlight())

	late := p.gen.Load()
	p.Ack()
	p.Reset()
	p.onReset()
	assert.Empty(t, p.ack, "ack buffered before the reset is discarded")
	assert.Equal(t, 2, s.calls)
	assert.Equal(t, 1, s.rewinds)

	p.onAck(late)
	assert.Equal(t, 2, s.calls, "ack for the discarded packet pulls nothing")
	assert.True(t, p.InFlight())

	p.Ack()
	p.onAck(<-p.ack)
	assert.Equal(t, 3, s.calls)
	assert.Equal(t, uint64(3), p.Sent())
}

package systemd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "wristrelay/pkg/logx"
)

func TestNoopWithoutSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")

	sent, err := Ready("ok")
	require.NoError(t, err)
	assert.False(t, sent)

	sent, err = Stopping()
	require.NoError(t, err)
	assert.False(t, sent)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, Watchdog(ctx, logx.Nop()))
}

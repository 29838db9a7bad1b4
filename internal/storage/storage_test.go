package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "wristrelay/pkg/logx"
)

func openBoth(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{}
	for _, driver := range []string{"file", "sqlite"} {
		st, err := Open(Config{Driver: driver, Path: filepath.Join(dir, driver, "relay.db")}, logx.Nop())
		require.NoError(t, err, driver)
		t.Cleanup(func() { _ = st.Close() })
		out[driver] = st
	}
	return out
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	assert.NoError(t, err)
	assert.Nil(t, st)

	_, err = Open(Config{Driver: "redis"}, logx.Nop())
	assert.Error(t, err)
}

func TestHistoryRoundTrip(t *testing.T) {
	t.Parallel()
	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	for name, st := range openBoth(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i, title := range []string{"first", "second", "third"} {
				require.NoError(t, st.AppendHistory(ctx, HistoryEntry{
					At:    base.Add(time.Duration(i) * time.Hour),
					App:   "com.chat",
					Title: title,
					Text:  "body " + title,
				}))
			}

			got, err := st.ListHistory(ctx, 2)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "third", got[0].Title)
			assert.Equal(t, "second", got[1].Title)
			assert.Equal(t, "body third", got[0].Text)
			assert.True(t, got[0].At.Equal(base.Add(2*time.Hour)))

			n, err := st.PruneHistory(ctx, base.Add(90*time.Minute))
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			all, err := st.ListHistory(ctx, 0)
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, "third", all[0].Title)

			require.NoError(t, st.AppendHistory(ctx, HistoryEntry{At: base.Add(3 * time.Hour), App: "com.mail", Title: "after prune"}))
			all, err = st.ListHistory(ctx, 0)
			require.NoError(t, err)
			assert.Len(t, all, 2)
		})
	}
}

func TestFileStoreSkipsTornLines(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "relay.json")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.AppendHistory(ctx, HistoryEntry{App: "a", Title: "ok"}))

	f, err := os.OpenFile(filepath.Join(dir, "relay.history.jsonl"), os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("{\"app\":\"b\",\"ti")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := st.ListHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ok", got[0].Title)
}

func TestRetention(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "h.db")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	now := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()
	require.NoError(t, st.AppendHistory(ctx, HistoryEntry{At: now.Add(-10 * 24 * time.Hour), App: "a", Title: "old"}))
	require.NoError(t, st.AppendHistory(ctx, HistoryEntry{At: now.Add(-time.Hour), App: "a", Title: "new"}))

	r := NewRetention(st, logx.Nop())
	r.now = func() time.Time { return now }
	assert.Error(t, r.Apply(RetentionConfig{Keep: time.Hour, Schedule: "every tuesday"}))
	require.NoError(t, r.Apply(RetentionConfig{Keep: 7 * 24 * time.Hour, Schedule: "0 3 * * *"}))
	defer r.Stop()

	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, r.Apply(RetentionConfig{}))
	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

package loader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"qmtrader/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadPublishesTradingLimits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api: {base_url: \"http://x\"}\ntrading: {max_trade_amount: 1000}\n"), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	w, err := NewWatcher(path, cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(1), w.Snapshot().Version)

	got := make(chan Snapshot, 4)
	w.Subscribe(func(s Snapshot) { got <- s })
	select {
	case s := <-got:
		assert.Equal(t, 1000.0, s.Trading.MaxTradeAmount)
	case <-time.After(time.Second):
		t.Fatal("initial snapshot not delivered")
	}

	require.NoError(t, os.WriteFile(path, []byte("api: {base_url: \"http://x\"}\ntrading: {max_trade_amount: 2000}\n"), 0o644))
	require.NoError(t, w.reload())
	w.notify()

	assert.Eventually(t, func() bool {
		select {
		case s := <-got:
			return s.Trading.MaxTradeAmount == 2000 && s.Version >= 2
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcherKeepsSnapshotOnInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api: {base_url: \"http://x\"}\n"), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	w, err := NewWatcher(path, cfg)
	require.NoError(t, err)

	w.loadFn = func(string) (*config.Config, error) { return config.Load(filepath.Join(dir, "missing.yaml")) }
	assert.Error(t, w.reload())
	assert.Equal(t, int64(1), w.Snapshot().Version)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadReturnsDefaultsWhenFileAbsent(t *testing.T) {
	w, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, Defaults(), w.Current())
}

func TestLoadReadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence-server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("save_dir: /tmp/evidence\naddr: 127.0.0.1:9000\n"), 0o644))

	w, err := Load(path)
	require.NoError(t, err)
	cfg := w.Current()
	require.Equal(t, "/tmp/evidence", cfg.SaveDir)
	require.Equal(t, "127.0.0.1:9000", cfg.Addr)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestWatchReloadsOnFileChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence-server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: 127.0.0.1:9000\n"), 0o644))

	w, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, w.Watch())
	t.Cleanup(w.Stop)

	require.NoError(t, os.WriteFile(path, []byte("addr: 127.0.0.1:9999\n"), 0o644))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.Current().Addr == "127.0.0.1:9999" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("config did not reload in time, got %q", w.Current().Addr)
}

package index

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegisterStartedThenSealedRoundTrips(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	err = db.RegisterStarted("Evidence_20260101_000000", "linux", "1.0.0", "2026-01-01T00:00:00Z", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	rec, err := db.Get("Evidence_20260101_000000")
	require.NoError(t, err)
	require.False(t, rec.Sealed)
	require.Equal(t, "linux", rec.Platform)

	err = db.RegisterSealed("Evidence_20260101_000000", "2026-01-01T01:00:00Z", "deadbeef", 5)
	require.NoError(t, err)

	rec, err = db.Get("Evidence_20260101_000000")
	require.NoError(t, err)
	require.True(t, rec.Sealed)
	require.Equal(t, "deadbeef", rec.FinalHash)
	require.Equal(t, 5, rec.EventCount)
}

func TestRegisterSealedFailsForUnknownBundle(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	err = db.RegisterSealed("does-not-exist", "2026-01-01T01:00:00Z", "deadbeef", 1)
	require.Error(t, err)
}

func TestListOrdersByStartedAtDescending(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.RegisterStarted("Evidence_20260101_000000", "linux", "1.0.0", "2026-01-01T00:00:00Z", time.Now()))
	require.NoError(t, db.RegisterStarted("Evidence_20260201_000000", "linux", "1.0.0", "2026-02-01T00:00:00Z", time.Now()))

	records, err := db.List()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "Evidence_20260201_000000", records[0].BundleDir)
	require.Equal(t, "Evidence_20260101_000000", records[1].BundleDir)
}

func TestGetReturnsErrorForMissingBundle(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Get("missing")
	require.Error(t, err)
}

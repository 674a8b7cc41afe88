package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetor-io/watchtower/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	s := New(mr.Addr(), 0, "test_run")
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_KeyShape(t *testing.T) {
	s := newTestStore(t)
	assert.Equal(t, "test_run:system:system_1:system_cpu_usage",
		s.Key(types.KindSystem, "system_1", "system_cpu_usage"))
}

func TestStore_SystemStateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	state := &types.SystemState{
		SystemCPUUsage:      types.Float(54.5),
		OpenFileDescriptors: types.Float(120),
		WentDownAt:          types.Float(1120),
		LastMonitored:       types.Float(1060),
	}
	require.NoError(t, s.PersistSystemState(ctx, "system_1", state))

	got, err := s.HydrateSystemState(ctx, "system_1")
	require.NoError(t, err)
	assert.Equal(t, 54.5, *got.SystemCPUUsage)
	assert.Equal(t, 120.0, *got.OpenFileDescriptors)
	assert.Equal(t, 1120.0, *got.WentDownAt)
	assert.Equal(t, 1060.0, *got.LastMonitored)
	assert.Nil(t, got.SystemRAMUsage)
}

func TestStore_NilFieldDeletesKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PersistSystemState(ctx, "system_1", &types.SystemState{
		WentDownAt: types.Float(1120),
	}))
	// A later round with the system back up clears went_down_at.
	require.NoError(t, s.PersistSystemState(ctx, "system_1", &types.SystemState{
		SystemCPUUsage: types.Float(40),
	}))

	got, err := s.HydrateSystemState(ctx, "system_1")
	require.NoError(t, err)
	assert.Nil(t, got.WentDownAt)
	assert.Equal(t, 40.0, *got.SystemCPUUsage)
}

func TestStore_HydrateNeverWritten(t *testing.T) {
	s := newTestStore(t)

	got, err := s.HydrateSystemState(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, &types.SystemState{}, got)
}

func TestStore_RepoStateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PersistRepoState(ctx, types.KindGithub, "repo_1", &types.RepoState{
		NoOfReleases:  types.Float(8),
		LastMonitored: types.Float(900),
	}))

	got, err := s.HydrateRepoState(ctx, types.KindGithub, "repo_1")
	require.NoError(t, err)
	assert.Equal(t, 8.0, *got.NoOfReleases)
	assert.Equal(t, 900.0, *got.LastMonitored)
}

func TestStore_PurgeEntity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PersistSystemState(ctx, "system_1", &types.SystemState{
		SystemCPUUsage: types.Float(10),
		LastMonitored:  types.Float(100),
	}))
	require.NoError(t, s.PersistSystemState(ctx, "system_2", &types.SystemState{
		SystemCPUUsage: types.Float(20),
	}))

	require.NoError(t, s.PurgeEntity(ctx, types.KindSystem, "system_1"))

	gone, err := s.HydrateSystemState(ctx, "system_1")
	require.NoError(t, err)
	assert.Equal(t, &types.SystemState{}, gone)

	kept, err := s.HydrateSystemState(ctx, "system_2")
	require.NoError(t, err)
	assert.Equal(t, 20.0, *kept.SystemCPUUsage)
}

func TestStore_RecentlyFailed(t *testing.T) {
	mr := miniredis.RunT(t)
	s := New(mr.Addr(), 0, "test_run")
	t.Cleanup(func() { s.Close() })

	assert.False(t, s.RecentlyFailed())

	mr.Close()
	_, err := s.GetFloat(context.Background(), types.KindSystem, "system_1", "system_cpu_usage")
	require.Error(t, err)
	assert.True(t, s.RecentlyFailed())
}

func TestStore_StringFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	missing, err := s.GetString(ctx, types.KindChainlinkContracts, "0xabc", "last_round_observed")
	require.NoError(t, err)
	assert.Empty(t, missing)

	require.NoError(t, s.SetString(ctx, types.KindChainlinkContracts, "0xabc", "last_round_observed", "41"))
	got, err := s.GetString(ctx, types.KindChainlinkContracts, "0xabc", "last_round_observed")
	require.NoError(t, err)
	assert.Equal(t, "41", got)
}

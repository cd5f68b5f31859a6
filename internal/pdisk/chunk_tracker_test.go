package pdisk

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkTrackerResetUserOwners(t *testing.T) {
	t.Parallel()

	const (
		u1 = BeginUser
		u2 = BeginUser + 1
		u3 = BeginUser + 2
	)

	c := NewChunkTracker()
	err := c.Reset(KeeperParams{
		TotalChunks:        1000,
		SysLogSize:         50,
		CommonLogSize:      200,
		ExpectedOwnerCount: 4,
		Owners: map[OwnerID]OwnerInfo{
			u1: {ChunksOwned: 100},
			u2: {ChunksOwned: 50},
			u3: {ChunksOwned: 0},
		},
	})
	require.NoError(t, err)

	// (1000 - 50 - 5 - 0 - 200) / 4 == 186
	require.EqualValues(t, 186, c.OwnerHardLimit(u1))
	require.EqualValues(t, 186, c.OwnerHardLimit(u2))
	require.EqualValues(t, 186, c.OwnerHardLimit(u3))
	require.EqualValues(t, 150, c.TotalUsed())
}

func TestChunkTrackerResetIsIdempotent(t *testing.T) {
	t.Parallel()

	params := KeeperParams{
		TotalChunks:        1000,
		SysLogSize:         50,
		CommonLogSize:      200,
		HasStaticGroups:    true,
		ExpectedOwnerCount: 4,
		ColorBorder:        Yellow,
		Owners: map[OwnerID]OwnerInfo{
			BeginUser:     {ChunksOwned: 100},
			BeginUser + 1: {ChunksOwned: 50},
			BeginUser + 2: {ChunksOwned: 0},
		},
	}

	a := NewChunkTracker()
	require.NoError(t, a.Reset(params))
	b := NewChunkTracker()
	require.NoError(t, b.Reset(params))

	require.Equal(t, a.Snapshot(), b.Snapshot())

	// Resetting the same tracker twice with the same params must also
	// converge to the same observable state.
	require.NoError(t, a.Reset(params))
	require.Equal(t, b.Snapshot(), a.Snapshot())
}

func TestChunkTrackerResetFailsWhenOwnersExceedPool(t *testing.T) {
	t.Parallel()

	c := NewChunkTracker()
	err := c.Reset(KeeperParams{
		TotalChunks:        1000,
		SysLogSize:         50,
		CommonLogSize:      200,
		ExpectedOwnerCount: 1,
		Owners: map[OwnerID]OwnerInfo{
			BeginUser: {ChunksOwned: 1000},
		},
	})
	require.Error(t, err)
}

func TestChunkTrackerColorCombineSeverestWins(t *testing.T) {
	t.Parallel()

	c := NewChunkTracker()
	require.NoError(t, c.Reset(KeeperParams{
		TotalChunks:        1000,
		CommonLogSize:      200,
		ExpectedOwnerCount: 1,
		ColorBorder:        Yellow,
		Owners: map[OwnerID]OwnerInfo{
			BeginUser: {},
		},
	}))

	// Drive the per-owner pool to Cyan, then push the shared pool to
	// Orange. Every user allocation lands in both pools, so the
	// per-owner pool ends at Orange too, but the Yellow border caps it;
	// confirm the combined colour is the more severe of the two.
	ownerLimit := c.OwnerHardLimit(BeginUser)
	ownerLimits := ChunkLimits()
	cyanUsed := ownerLimit - ownerLimits.Cyan
	require.True(t, cyanUsed >= 0)

	ok, _ := c.TryAllocate(BeginUser, cyanUsed)
	require.True(t, ok)
	require.Equal(t, Cyan, c.ownerQuota.EstimateColor(BeginUser, 0))

	sharedLimit := c.sharedQuota.HardLimit()
	orangeFree := ownerLimits.Orange
	extra := sharedLimit - orangeFree - c.sharedQuota.Used()
	ok, _ = c.TryAllocate(BeginUser, extra)
	require.True(t, ok)
	require.Equal(t, Orange, c.sharedQuota.EstimateColor(0))

	require.Equal(t, Orange, c.SpaceColor(BeginUser))
}

func TestChunkTrackerCommonStaticLogRouting(t *testing.T) {
	t.Parallel()

	c := NewChunkTracker()
	require.NoError(t, c.Reset(KeeperParams{
		TotalChunks:     1000,
		HasStaticGroups: true,
	}))

	commonFree := c.globalQuota.Free(OwnerSystem)
	ok, _ := c.TryAllocate(OwnerCommonStaticLog, commonFree)
	require.True(t, ok)
	require.EqualValues(t, commonFree, c.globalQuota.Used(OwnerSystem))
	require.EqualValues(t, 0, c.globalQuota.Used(OwnerCommonStaticLog), "common pool is tried first")

	ok, _ = c.TryAllocate(OwnerCommonStaticLog, 5)
	require.True(t, ok)
	require.EqualValues(t, 5, c.globalQuota.Used(OwnerCommonStaticLog), "overflow spills into the bonus pool")

	c.Release(OwnerCommonStaticLog, 5)
	require.EqualValues(t, 0, c.globalQuota.Used(OwnerCommonStaticLog), "release fills the bonus pool's own usage first")
}

func TestChunkTrackerOwnerFreeUsesSharedQuota(t *testing.T) {
	t.Parallel()

	c := NewChunkTracker()
	require.NoError(t, c.Reset(KeeperParams{
		TotalChunks:        1000,
		CommonLogSize:      200,
		ExpectedOwnerCount: 2,
		Owners: map[OwnerID]OwnerInfo{
			BeginUser:     {ChunksOwned: 0},
			BeginUser + 1: {ChunksOwned: 0},
		},
	}))

	ok, _ := c.TryAllocate(BeginUser+1, 100)
	require.True(t, ok)

	// OwnerFree for a user owner is SharedQuota's free count, not the
	// owner's own (smaller, unaffected) per-record free count --
	// CLOUDINC-1822, preserved verbatim.
	require.Equal(t, c.sharedQuota.Free(), c.OwnerFree(BeginUser))
	require.NotEqual(t, c.ownerQuota.Free(BeginUser), c.OwnerFree(BeginUser))
}

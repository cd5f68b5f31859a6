package pdisk

import (
	"fmt"
	"sort"

	"golang.org/x/xerrors"
)

// sortedOwnerIDs returns owners' keys in ascending order so that
// Reset is deterministic (and therefore idempotent, spec §8) even
// though Go map iteration order is randomized.
func sortedOwnerIDs(owners map[OwnerID]OwnerInfo) []OwnerID {
	ids := make([]OwnerID, 0, len(owners))
	for id := range owners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Fixed sizes from the original PDisk keeper (blobstorage_pdisk_chunk_tracker.h).
const (
	sysReserveSize      = 5
	commonStaticLogSize = 70
	minCommonLogSize    = 200
)

// OwnerInfo describes one user owner's initial chunk grant, supplied
// at Reset time via KeeperParams.
type OwnerInfo struct {
	ChunksOwned int64
	VDiskID     string
}

// KeeperParams are the tunables fixed at ChunkTracker.Reset (spec §6).
type KeeperParams struct {
	TotalChunks        int64
	SysLogSize         int64
	CommonLogSize      int64
	HasStaticGroups    bool
	ExpectedOwnerCount int
	ColorBorder        Color
	Owners             map[OwnerID]OwnerInfo
}

// ChunkTracker composes GlobalQuota (system-owner tracker),
// SharedQuota (a single QuotaRecord sized to the user pool),
// OwnerQuota (per-user tracker), and a current ColorBorder, routing
// allocate/release/colour requests through the correct pool for each
// owner class (spec §4.3).
type ChunkTracker struct {
	globalQuota *PerOwnerQuotaTracker
	sharedQuota *QuotaRecord
	ownerQuota  *PerOwnerQuotaTracker

	params      KeeperParams
	colorBorder Color
}

// NewChunkTracker returns a tracker with zeroed pools; call Reset to
// configure it before use.
func NewChunkTracker() *ChunkTracker {
	return &ChunkTracker{
		globalQuota: NewPerOwnerQuotaTracker(),
		sharedQuota: NewQuotaRecord("SharedQuota", ChunkLimits()),
		ownerQuota:  NewPerOwnerQuotaTracker(),
	}
}

// Reset rebuilds the pool from an "unappropriated" running total
// initialised to params.TotalChunks, following the exact sequence of
// the original: SystemLog, SystemReserve, CommonStaticLog bonus,
// CommonLog, then the remainder to the user pool. Any step that would
// drive unappropriated below zero fails the reset with a precise
// diagnostic, leaving the tracker in its prior state. Two successive
// Reset calls with the same params yield identical observable state
// (spec §8 idempotence).
func (c *ChunkTracker) Reset(params KeeperParams) error {
	next := NewChunkTracker()

	next.globalQuota.Reset(params.TotalChunks, LogLimits())
	unappropriated := params.TotalChunks

	unappropriated -= next.globalQuota.AddSystemOwner(OwnerSystemLog, params.SysLogSize, "SysLog")
	if unappropriated < 0 {
		return fmt.Errorf("error adding OwnerSystemLog quota, size=%d total_chunks=%d", params.SysLogSize, params.TotalChunks)
	}

	unappropriated -= next.globalQuota.AddSystemOwner(OwnerSystemReserve, sysReserveSize, "System Reserve")
	if unappropriated < 0 {
		return fmt.Errorf("error adding OwnerSystemReserve quota, size=%d total_chunks=%d", sysReserveSize, params.TotalChunks)
	}

	staticLog := int64(0)
	if params.HasStaticGroups {
		staticLog = commonStaticLogSize
	}
	unappropriated -= next.globalQuota.AddSystemOwner(OwnerCommonStaticLog, staticLog, "Common Log Static Group Bonus")
	if unappropriated < 0 {
		return fmt.Errorf("error adding OwnerCommonStaticLog quota, size=%d total_chunks=%d", staticLog, params.TotalChunks)
	}

	commonLog := minCommonLogSize
	if int64(commonLog)+staticLog < params.CommonLogSize {
		commonLog = int(params.CommonLogSize - staticLog)
	}
	unappropriated -= next.globalQuota.AddSystemOwner(OwnerSystem, int64(commonLog), "Common Log")
	if unappropriated < 0 {
		return fmt.Errorf("error adding OwnerSystem (common log) quota, size=%d total_chunks=%d", commonLog, params.TotalChunks)
	}

	var chunksOwned int64
	for _, info := range params.Owners {
		chunksOwned += info.ChunksOwned
	}
	if chunksOwned > unappropriated {
		return fmt.Errorf("error adding OwnerBeginUser quota, chunks_owned=%d unappropriated=%d total_chunks=%d", chunksOwned, unappropriated, params.TotalChunks)
	}
	unappropriated -= next.globalQuota.AddSystemOwner(BeginUser, unappropriated, "Per Owner Chunk Pool")
	if unappropriated < 0 {
		return fmt.Errorf("error adding OwnerBeginUser quota, size=%d total_chunks=%d", unappropriated, params.TotalChunks)
	}

	userPoolSize := next.globalQuota.HardLimit(BeginUser)
	next.sharedQuota = NewQuotaRecord("SharedQuota", ChunkLimits())
	next.sharedQuota.ForceHardLimit(userPoolSize)
	next.ownerQuota.Reset(userPoolSize, ChunkLimits())
	next.ownerQuota.SetExpectedOwnerCount(params.ExpectedOwnerCount)

	for _, id := range sortedOwnerIDs(params.Owners) {
		info := params.Owners[id]
		next.ownerQuota.AddOwner(id, info.VDiskID)
		if info.ChunksOwned != 0 {
			next.ownerQuota.InitialAllocate(id, info.ChunksOwned)
			if ok := next.sharedQuota.ForceAllocate(info.ChunksOwned); !ok {
				return fmt.Errorf("error restoring owner %d initial allocation", id)
			}
		}
	}

	if params.CommonLogSize != 0 {
		if ok := next.globalQuota.ForceAllocate(OwnerSystem, params.CommonLogSize); !ok {
			return fmt.Errorf("error restoring common log initial allocation")
		}
	}

	next.colorBorder = params.ColorBorder
	next.params = params

	*c = *next
	return nil
}

func (c *ChunkTracker) AddOwner(owner OwnerID, vdiskID string) {
	if !IsUser(owner) {
		panic(xerrors.Errorf("AddOwner: owner %d is not a user owner", owner))
	}
	c.ownerQuota.AddOwner(owner, vdiskID)
}

func (c *ChunkTracker) RemoveOwner(owner OwnerID) {
	if !IsUser(owner) {
		panic(xerrors.Errorf("RemoveOwner: owner %d is not a user owner", owner))
	}
	c.ownerQuota.RemoveOwner(owner)
}

// OwnerHardLimit returns owner's hard limit, routed per spec §4.3:
// user owners read OwnerQuota; CommonStaticLog sums its two pools;
// every other owner delegates to GlobalQuota directly.
func (c *ChunkTracker) OwnerHardLimit(owner OwnerID) int64 {
	if IsUser(owner) {
		return c.ownerQuota.HardLimit(owner)
	}
	if owner == OwnerCommonStaticLog {
		return c.globalQuota.HardLimit(OwnerCommonStaticLog) + c.globalQuota.HardLimit(OwnerSystem)
	}
	return c.globalQuota.HardLimit(owner)
}

func (c *ChunkTracker) OwnerUsed(owner OwnerID) int64 {
	return c.ownerQuota.Used(owner)
}

// OwnerFree returns owner's free chunk count. For user owners this
// deliberately returns SharedQuota.Free(), not OwnerQuota.Free(owner)
// -- a fix noted in the source as CLOUDINC-1822, because exposing the
// per-owner free count broke a downstream group balancer. The exact
// downstream is external to this tracker; the behaviour is preserved
// verbatim (spec §9 Open Questions).
func (c *ChunkTracker) OwnerFree(owner OwnerID) int64 {
	if IsUser(owner) {
		return c.sharedQuota.Free()
	}
	if owner == OwnerCommonStaticLog {
		return c.globalQuota.Free(OwnerCommonStaticLog) + c.globalQuota.Free(OwnerSystem)
	}
	return c.globalQuota.Free(owner)
}

func (c *ChunkTracker) TotalUsed() int64      { return c.sharedQuota.Used() }
func (c *ChunkTracker) TotalHardLimit() int64 { return c.sharedQuota.HardLimit() }

// SpaceColor returns owner's current colour (no pending allocation).
func (c *ChunkTracker) SpaceColor(owner OwnerID) Color {
	return c.EstimateSpaceColor(owner, 0)
}

// EstimateSpaceColor estimates owner's colour after allocating an
// additional allocationSize chunks, per the routing rules in spec
// §4.3: user owners combine OwnerQuota (capped by ColorBorder) with
// SharedQuota, taking the more severe; CommonStaticLog falls back to
// the common pool's colour when its bonus pool is zero-sized; every
// other owner delegates directly.
func (c *ChunkTracker) EstimateSpaceColor(owner OwnerID, allocationSize int64) Color {
	if IsUser(owner) {
		ret := minColor(c.colorBorder, c.ownerQuota.EstimateColor(owner, allocationSize))
		ret = combine(ret, c.sharedQuota.EstimateColor(allocationSize))
		return ret
	}
	if owner == OwnerCommonStaticLog && c.globalQuota.HardLimit(OwnerCommonStaticLog) == 0 {
		owner = OwnerSystem
	}
	return c.globalQuota.EstimateColor(owner, allocationSize)
}

// TryAllocate routes an allocation request through the correct pool
// for owner's class (spec §4.3).
func (c *ChunkTracker) TryAllocate(owner OwnerID, count int64) (ok bool, reason string) {
	if IsUser(owner) {
		c.ownerQuota.ForceAllocate(owner, count)
		return c.sharedQuota.TryAllocate(count)
	}
	if owner == OwnerCommonStaticLog {
		if ok, _ := c.globalQuota.TryAllocate(OwnerSystem, count); ok {
			return true, ""
		}
		return c.globalQuota.TryAllocate(OwnerCommonStaticLog, count)
	}
	return c.globalQuota.TryAllocate(owner, count)
}

// Release routes a release through the correct pool for owner's
// class. CommonStaticLog/CommonLog release fills the bonus pool
// first (up to its current used), spilling the remainder into the
// common pool.
func (c *ChunkTracker) Release(owner OwnerID, count int64) {
	if IsUser(owner) {
		c.ownerQuota.Release(owner, count)
		c.sharedQuota.Release(count)
		return
	}
	if owner == OwnerCommonStaticLog || owner == OwnerSystem {
		usedBonus := c.globalQuota.Used(OwnerCommonStaticLog)
		releaseBonus := count
		if usedBonus < releaseBonus {
			releaseBonus = usedBonus
		}
		if releaseBonus != 0 {
			c.globalQuota.Release(OwnerCommonStaticLog, releaseBonus)
		}
		releaseCommon := count - releaseBonus
		if releaseCommon != 0 {
			c.globalQuota.Release(OwnerSystem, releaseCommon)
		}
		return
	}
	c.globalQuota.Release(owner, count)
}

// Snapshot returns a structured, JSON-serializable view of the
// tracker's pools, replacing the original's HTML monitoring table
// (TChunkTracker::PrintHTML).
func (c *ChunkTracker) Snapshot() Snapshot {
	return Snapshot{
		GlobalQuota: c.globalQuota.Snapshot(),
		OwnerQuota:  c.ownerQuota.Snapshot(),
		SharedQuota: snapshotOf(0, c.sharedQuota),
		ColorBorder: c.colorBorder.String(),
	}
}

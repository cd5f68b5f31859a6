package pdisk

import (
	"fmt"

	"go.uber.org/atomic"
	"golang.org/x/xerrors"
)

// QuotaRecord is a single-owner numeric accounting cell with colour
// thresholds. HardLimit and Used are atomic so that monitoring code
// running outside the Agent's single-threaded execution context can
// read them without a lock; a stale read is acceptable because
// colour is advisory (see spec §5).
type QuotaRecord struct {
	name    string
	vdiskID string // empty when this owner has no VDisk bound

	hardLimit atomic.Int64
	used      atomic.Int64

	limits ColorLimits
}

// NewQuotaRecord returns an empty record (HardLimit == 0, Used == 0)
// named for diagnostics, using the given colour thresholds.
func NewQuotaRecord(name string, limits ColorLimits) *QuotaRecord {
	return &QuotaRecord{name: name, limits: limits}
}

func (r *QuotaRecord) Name() string { return r.name }

func (r *QuotaRecord) SetVDiskID(id string) { r.vdiskID = id }
func (r *QuotaRecord) VDiskID() string      { return r.vdiskID }

func (r *QuotaRecord) HardLimit() int64 { return r.hardLimit.Load() }
func (r *QuotaRecord) Used() int64      { return r.used.Load() }
func (r *QuotaRecord) Free() int64      { return r.hardLimit.Load() - r.used.Load() }

// ForceHardLimit sets HardLimit unconditionally and returns the
// signed delta (newLimit - oldLimit), used by callers to rebalance an
// "unappropriated" running total. It does not touch Used, and may
// leave Used > HardLimit transiently -- callers must rebalance
// upward or treat the colour as Black until they do.
func (r *QuotaRecord) ForceHardLimit(newLimit int64) int64 {
	old := r.hardLimit.Swap(newLimit)
	return newLimit - old
}

// TryAllocate increments Used by n if that would not exceed
// HardLimit, and reports ok. On refusal it returns a human reason,
// never an error value -- spec §7 is explicit that quota refusals are
// not errors.
func (r *QuotaRecord) TryAllocate(n int64) (ok bool, reason string) {
	used := r.used.Load()
	limit := r.hardLimit.Load()
	if used+n > limit {
		return false, fmt.Sprintf("%s: quota exceeded, used=%d requested=%d hard_limit=%d", r.name, used, n, limit)
	}
	r.used.Store(used + n)
	return true, ""
}

// ForceAllocate unconditionally increments Used. It always succeeds;
// it exists for initial state restore and user-pool bookkeeping where
// the hard wall is enforced elsewhere (e.g. SharedQuota).
func (r *QuotaRecord) ForceAllocate(n int64) bool {
	r.used.Add(n)
	return true
}

// Release decrements Used by n. n must not exceed Used; violating
// this is a programmer error (spec §7) and panics.
func (r *QuotaRecord) Release(n int64) {
	used := r.used.Load()
	if n > used {
		panic(xerrors.Errorf("%s: release %d exceeds used %d", r.name, n, used))
	}
	r.used.Store(used - n)
}

// EstimateColor returns the coarsest colour whose threshold is
// crossed by Used+alloc.
func (r *QuotaRecord) EstimateColor(alloc int64) Color {
	free := r.Free() - alloc
	return estimateColor(r.limits, free)
}

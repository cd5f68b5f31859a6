package pdisk

import (
	"fmt"

	"golang.org/x/xerrors"
)

// PerOwnerQuotaTracker distributes a declared Total across a variable
// set of active owners using an equal-split rule, with a tunable
// ExpectedOwnerCount acting as a floor on the divisor. The record
// array is densely allocated over the full OwnerID space so that
// reads are lock-free single-word loads from any goroutine; writers
// (Redistribute, AddOwner, RemoveOwner, AddSystemOwner) run from the
// single-threaded Agent execution context only (spec §5).
type PerOwnerQuotaTracker struct {
	limits             ColorLimits
	total              int64
	expectedOwnerCount int // 0 means "add and remove owners as you go"

	active  []OwnerID // ordered set, can only change from the owning goroutine
	records [ownerTableSize]*QuotaRecord
}

// NewPerOwnerQuotaTracker returns a tracker with Total == 0 and no
// active owners; call Reset to configure it.
func NewPerOwnerQuotaTracker() *PerOwnerQuotaTracker {
	t := &PerOwnerQuotaTracker{}
	t.Reset(0, ColorLimits{})
	return t
}

// Reset reinitializes the tracker: clears every record, the active
// set, and ExpectedOwnerCount, and installs new Total/limits.
func (t *PerOwnerQuotaTracker) Reset(total int64, limits ColorLimits) {
	t.limits = limits
	t.total = total
	t.expectedOwnerCount = 0
	t.active = nil
	for i := range t.records {
		t.records[i] = nil
	}
}

func (t *PerOwnerQuotaTracker) record(id OwnerID) *QuotaRecord {
	r := t.records[id]
	if r == nil {
		r = NewQuotaRecord(fmt.Sprintf("Owner#%d", id), t.limits)
		t.records[id] = r
	}
	return r
}

// SetExpectedOwnerCount changes the floor on the redistribution
// divisor and, if the value actually changes, redistributes at once
// (see Redistribute). Only reducing the count is fair to
// already-active owners: raising it shrinks every active owner's
// share immediately, possibly below what that owner already uses.
func (t *PerOwnerQuotaTracker) SetExpectedOwnerCount(n int) {
	if n != t.expectedOwnerCount {
		t.expectedOwnerCount = n
		t.Redistribute()
	}
}

func (t *PerOwnerQuotaTracker) ExpectedOwnerCount() int { return t.expectedOwnerCount }

// Redistribute splits Total equally across max(ExpectedOwnerCount,
// |active|) parts and force-sets every active owner's hard limit to
// that share. No rounding compensation is performed -- any leftover
// from integer division is simply unallocated.
func (t *PerOwnerQuotaTracker) Redistribute() {
	parts := len(t.active)
	if t.expectedOwnerCount > parts {
		parts = t.expectedOwnerCount
	}
	if parts == 0 {
		return
	}
	share := t.total / int64(parts)
	for _, id := range t.active {
		t.record(id).ForceHardLimit(share)
	}
}

// AddOwner appends id to the active set. The record must be empty
// (HardLimit == 0 and Used == 0, i.e. Free == 0) -- adding an owner
// twice is a programmer error and panics. Redistribution only runs
// when the active set is still within ExpectedOwnerCount (or the
// expected count is the "unbounded" zero); otherwise the new joiner
// gets zero until ExpectedOwnerCount grows -- an explicit unfairness
// preserved from the source.
func (t *PerOwnerQuotaTracker) AddOwner(id OwnerID, vdiskID string) {
	r := t.record(id)
	if r.HardLimit() != 0 || r.Free() != 0 {
		panic(xerrors.Errorf("AddOwner: owner %d already active", id))
	}
	r.SetVDiskID(vdiskID)
	t.active = append(t.active, id)
	if len(t.active) <= t.expectedOwnerCount || t.expectedOwnerCount == 0 {
		t.Redistribute()
	}
}

// RemoveOwner swap-removes id from the active set and force-sets its
// hard limit to zero. The freed share is not redistributed to the
// remaining owners -- that is policy, not an oversight: shrinking
// ExpectedOwnerCount is fair, growing it is not, and removal alone
// should not silently hand out a windfall.
func (t *PerOwnerQuotaTracker) RemoveOwner(id OwnerID) {
	idx := -1
	for i, a := range t.active {
		if a == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		panic(xerrors.Errorf("RemoveOwner: owner %d not active", id))
	}
	last := len(t.active) - 1
	t.active[idx] = t.active[last]
	t.active = t.active[:last]
	t.record(id).ForceHardLimit(0)
}

// AddSystemOwner assigns id a fixed quota that is not subject to
// redistribution and returns the signed delta for the caller's
// "unappropriated" running total. A zero quota is treated as a
// no-op that still appends to the active set -- whether that belongs
// there is ambiguous in the source; this preserves the observed
// behaviour verbatim.
func (t *PerOwnerQuotaTracker) AddSystemOwner(id OwnerID, quota int64, name string) int64 {
	r := t.record(id)
	if r.HardLimit() != 0 || r.Free() != 0 {
		panic(xerrors.Errorf("AddSystemOwner: owner %d already active", id))
	}
	r.name = name
	delta := r.ForceHardLimit(quota)
	t.active = append(t.active, id)
	return delta
}

func (t *PerOwnerQuotaTracker) HardLimit(id OwnerID) int64 { return t.record(id).HardLimit() }
func (t *PerOwnerQuotaTracker) Free(id OwnerID) int64      { return t.record(id).Free() }
func (t *PerOwnerQuotaTracker) Used(id OwnerID) int64      { return t.record(id).Used() }

// EstimateColor is a thread-safe point read of owner id's projected
// colour after allocating alloc additional chunks.
func (t *PerOwnerQuotaTracker) EstimateColor(id OwnerID, alloc int64) Color {
	return t.record(id).EstimateColor(alloc)
}

func (t *PerOwnerQuotaTracker) TryAllocate(id OwnerID, n int64) (ok bool, reason string) {
	return t.record(id).TryAllocate(n)
}

func (t *PerOwnerQuotaTracker) ForceAllocate(id OwnerID, n int64) bool {
	return t.record(id).ForceAllocate(n)
}

// InitialAllocate restores used-chunk bookkeeping during Reset; n
// must be non-negative.
func (t *PerOwnerQuotaTracker) InitialAllocate(id OwnerID, n int64) bool {
	if n < 0 {
		panic(xerrors.Errorf("InitialAllocate: negative count %d", n))
	}
	return t.record(id).ForceAllocate(n)
}

func (t *PerOwnerQuotaTracker) Release(id OwnerID, n int64) {
	t.record(id).Release(n)
}

func (t *PerOwnerQuotaTracker) ForceHardLimit(id OwnerID, limit int64) int64 {
	if limit < 0 {
		panic(xerrors.Errorf("ForceHardLimit: negative limit %d", limit))
	}
	return t.record(id).ForceHardLimit(limit)
}

// ActiveOwners returns a copy of the active owner set in insertion
// (redistribution) order.
func (t *PerOwnerQuotaTracker) ActiveOwners() []OwnerID {
	out := make([]OwnerID, len(t.active))
	copy(out, t.active)
	return out
}

// Snapshot returns a point-in-time view of every active owner's
// record, in active order, for the structured monitoring endpoint
// (spec §6).
func (t *PerOwnerQuotaTracker) Snapshot() []OwnerSnapshot {
	out := make([]OwnerSnapshot, 0, len(t.active))
	for _, id := range t.active {
		out = append(out, snapshotOf(id, t.record(id)))
	}
	return out
}

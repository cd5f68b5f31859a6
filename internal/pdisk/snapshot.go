package pdisk

// OwnerSnapshot is a point-in-time, JSON-serializable view of one
// QuotaRecord, replacing the original's HTML monitoring table with a
// structured form (spec §6).
type OwnerSnapshot struct {
	OwnerID   OwnerID `json:"owner_id"`
	Name      string  `json:"name"`
	VDiskID   string  `json:"vdisk_id,omitempty"`
	HardLimit int64   `json:"hard_limit"`
	Free      int64   `json:"free"`
	Used      int64   `json:"used"`
	Color     string  `json:"color"`
	Limits    ColorLimits `json:"limits"`
}

func snapshotOf(id OwnerID, r *QuotaRecord) OwnerSnapshot {
	return OwnerSnapshot{
		OwnerID:   id,
		Name:      r.Name(),
		VDiskID:   r.VDiskID(),
		HardLimit: r.HardLimit(),
		Free:      r.Free(),
		Used:      r.Used(),
		Color:     r.EstimateColor(0).String(),
		Limits:    r.limits,
	}
}

// Snapshot is the full chunk-tracker view returned by
// ChunkTracker.Snapshot, mirroring TChunkTracker::PrintHTML's two
// sections plus the shared quota and colour border.
type Snapshot struct {
	GlobalQuota []OwnerSnapshot `json:"global_quota"`
	OwnerQuota  []OwnerSnapshot `json:"owner_quota"`
	SharedQuota OwnerSnapshot   `json:"shared_quota"`
	ColorBorder string          `json:"color_border"`
}

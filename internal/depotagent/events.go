package depotagent

// Status is the reply status surfaced to a client, one of the small
// closed set spec §6 names. Every error kind in §7 (Overflow,
// Timeout, GroupError, Disconnect, Protocol) maps to StatusError; the
// taxonomy lives in the reason string, not the code, because
// downstream loggers grep on the string.
type Status int

const (
	StatusOK Status = iota
	StatusError
	StatusDeadline
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusError:
		return "ERROR"
	case StatusDeadline:
		return "DEADLINE"
	default:
		return "UNKNOWN"
	}
}

// Kind is the closed enumeration of client request types a Query can
// be constructed from (spec §4.6, §6).
type Kind int

const (
	KindGet Kind = iota
	KindPut
	KindBlock
	KindDiscover
	KindRange
	KindCollectGarbage
	KindStatus
	KindPatch
	KindAssimilate
)

func (k Kind) String() string {
	switch k {
	case KindGet:
		return "Get"
	case KindPut:
		return "Put"
	case KindBlock:
		return "Block"
	case KindDiscover:
		return "Discover"
	case KindRange:
		return "Range"
	case KindCollectGarbage:
		return "CollectGarbage"
	case KindStatus:
		return "Status"
	case KindPatch:
		return "Patch"
	case KindAssimilate:
		return "Assimilate"
	default:
		return "Unknown"
	}
}

// Reply is the single reply event type sent back to a client, one
// per request, per spec §6.
type Reply struct {
	Status Status
	Reason string
	Value  any // populated on success by the concrete Query variant

	// VirtualGroupID identifies the Agent that produced this reply,
	// mirroring the Agent.VirtualGroupId argument MakeErrorResponse
	// takes in query.cpp. Empty on success replies, which the original
	// builds from the executor's own response rather than through
	// MakeErrorResponse.
	VirtualGroupID string
}

// Event is the closed enumeration of client->Agent requests. Every
// concrete event carries sender identity, a cookie opaque to the
// core, a byte-size estimate used for pending-queue admission, and an
// error-response constructor (spec §6).
type Event interface {
	Kind() Kind
	Sender() ClientID
	Cookie() uint64
	CalculateSize() int64
	MakeErrorResponse(status Status, reason string, virtualGroupID string) Reply
	// Decommission reports whether a Get/Range event should bypass
	// the agent entirely and be forwarded to the proxy (spec §4.6).
	Decommission() bool
}

// ClientID identifies the sender of an Event, opaque to the core.
type ClientID uint64

// baseEvent carries the fields every concrete event shares.
type baseEvent struct {
	sender ClientID
	cookie uint64
	size   int64
}

func (b baseEvent) Sender() ClientID    { return b.sender }
func (b baseEvent) Cookie() uint64      { return b.cookie }
func (b baseEvent) CalculateSize() int64 { return b.size }
func (b baseEvent) Decommission() bool  { return false }

func errorReply(status Status, reason string, virtualGroupID string) Reply {
	return Reply{Status: status, Reason: reason, VirtualGroupID: virtualGroupID}
}

// GetEvent is a read-by-key request, optionally carrying the
// decommission bypass flag (spec §4.6 step 1).
type GetEvent struct {
	baseEvent
	Key              string
	DecommissionFlag bool
}

func (e *GetEvent) Kind() Kind         { return KindGet }
func (e *GetEvent) Decommission() bool { return e.DecommissionFlag }
func (e *GetEvent) MakeErrorResponse(status Status, reason string, virtualGroupID string) Reply {
	return errorReply(status, reason, virtualGroupID)
}

// PutEvent is a write-by-key request.
type PutEvent struct {
	baseEvent
	Key   string
	Value []byte
}

func (e *PutEvent) Kind() Kind { return KindPut }
func (e *PutEvent) MakeErrorResponse(status Status, reason string, virtualGroupID string) Reply {
	return errorReply(status, reason, virtualGroupID)
}

// BlockEvent requests a VDisk generation block.
type BlockEvent struct {
	baseEvent
	Generation uint32
}

func (e *BlockEvent) Kind() Kind { return KindBlock }
func (e *BlockEvent) MakeErrorResponse(status Status, reason string, virtualGroupID string) Reply {
	return errorReply(status, reason, virtualGroupID)
}

// DiscoverEvent asks for the current VDisk state.
type DiscoverEvent struct {
	baseEvent
}

func (e *DiscoverEvent) Kind() Kind { return KindDiscover }
func (e *DiscoverEvent) MakeErrorResponse(status Status, reason string, virtualGroupID string) Reply {
	return errorReply(status, reason, virtualGroupID)
}

// RangeEvent is a key-range scan, optionally carrying the
// decommission bypass flag (spec §4.6 step 1).
type RangeEvent struct {
	baseEvent
	From, To         string
	DecommissionFlag bool
}

func (e *RangeEvent) Kind() Kind         { return KindRange }
func (e *RangeEvent) Decommission() bool { return e.DecommissionFlag }
func (e *RangeEvent) MakeErrorResponse(status Status, reason string, virtualGroupID string) Reply {
	return errorReply(status, reason, virtualGroupID)
}

// CollectGarbageEvent requests garbage collection up to a barrier.
type CollectGarbageEvent struct {
	baseEvent
	CollectGeneration uint32
}

func (e *CollectGarbageEvent) Kind() Kind { return KindCollectGarbage }
func (e *CollectGarbageEvent) MakeErrorResponse(status Status, reason string, virtualGroupID string) Reply {
	return errorReply(status, reason, virtualGroupID)
}

// StatusEvent asks for VDisk status.
type StatusEvent struct {
	baseEvent
}

func (e *StatusEvent) Kind() Kind { return KindStatus }
func (e *StatusEvent) MakeErrorResponse(status Status, reason string, virtualGroupID string) Reply {
	return errorReply(status, reason, virtualGroupID)
}

// PatchEvent applies a partial update to an existing blob.
type PatchEvent struct {
	baseEvent
	Key   string
	Patch []byte
}

func (e *PatchEvent) Kind() Kind { return KindPatch }
func (e *PatchEvent) MakeErrorResponse(status Status, reason string, virtualGroupID string) Reply {
	return errorReply(status, reason, virtualGroupID)
}

// AssimilateEvent is always forwarded raw to the proxy (spec §4.6),
// never queued or dispatched through a Query.
type AssimilateEvent struct {
	baseEvent
}

func (e *AssimilateEvent) Kind() Kind { return KindAssimilate }
func (e *AssimilateEvent) MakeErrorResponse(status Status, reason string, virtualGroupID string) Reply {
	return errorReply(status, reason, virtualGroupID)
}

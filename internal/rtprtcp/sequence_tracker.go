package rtprtcp

// maxDropout and maxMisorder bound what counts as forward progress and reordering
// (RFC 3550 A.1).
const (
	maxDropout  = 3000
	maxMisorder = 100
)

// sequenceTracker follows the RTP sequence space of one source. It is not safe for
// concurrent use; ReceiveStatistics guards it.
type sequenceTracker struct {
	initialized bool
	baseSeq     uint16
	highestSeq  uint16
	cycles      uint32

	received   uint64
	duplicates uint64
	reordered  uint64
	resets     uint64
}

// process records a sequence number and reports whether it advanced the highest
// sequence number seen.
func (t *sequenceTracker) process(seq uint16) bool {
	if !t.initialized {
		t.initialized = true
		t.baseSeq = seq
		t.highestSeq = seq
		t.received = 1
		return true
	}

	distance := sequenceDistance(seq, t.highestSeq)

	switch {
	case distance == 0:
		t.duplicates++
		return false

	case distance > 0 && distance < maxDropout:
		if seq < t.highestSeq {
			t.cycles++
		}
		t.highestSeq = seq
		t.received++
		return true

	case distance < 0 && distance > -maxMisorder:
		t.reordered++
		t.received++
		return false

	default:
		// The source restarted its sequence space.
		t.resets++
		t.baseSeq = seq
		t.highestSeq = seq
		t.cycles = 0
		t.received = 1
		return true
	}
}

// extendedHighest returns the cycle-extended highest sequence number.
func (t *sequenceTracker) extendedHighest() uint32 {
	return t.cycles<<16 | uint32(t.highestSeq)
}

// expected returns how many packets the sequence span implies.
func (t *sequenceTracker) expected() uint64 {
	if !t.initialized {
		return 0
	}
	return uint64(t.extendedHighest()) - uint64(t.baseSeq) + 1
}

// lost returns the cumulative loss. It may go negative after a reset.
func (t *sequenceTracker) lost() int64 {
	return int64(t.expected()) - int64(t.received)
}

// sequenceDistance handles 16-bit wraparound according to RFC 1982.
func sequenceDistance(s1, s2 uint16) int {
	return int(int16(s1 - s2))
}

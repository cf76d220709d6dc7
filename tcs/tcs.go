// Package tcs implements the transaction control sublayer: per-priority
// transaction ID allocation with destination-keyed collision avoidance,
// grounded on the original lcs_tcs NewTrans/TransDone/ValidateTrans state
// machine.
package tcs

import (
	"errors"

	"github.com/enocean-oss/lon-core/npdu"
	"github.com/enocean-oss/lon-core/queue"
)

// Priority selects one of the two independent allocator instances a node
// carries — normal and priority traffic never share a TID sequence.
type Priority uint8

const (
	Normal Priority = iota
	High
)

// MinTableTime is the minimum age a destination-table entry must reach
// before it is eligible for eviction, chosen because it exceeds the
// longest receive-record timeout any peer on the network can run, so a
// reused (destination, tid) pair can never collide with a still-live
// receive record.
const MinTableTime = 24000 // milliseconds

// TableSize bounds the number of distinct destinations an allocator
// remembers at once.
const TableSize = 16

// ErrBusy is returned by NewTrans when the priority's in-flight slot
// already holds an unfinished transaction.
var ErrBusy = errors.New("tcs: in-flight slot busy")

// ErrTableFull is returned by NewTrans when the destination table has no
// free slot and no entry old enough to evict.
var ErrTableFull = errors.New("tcs: destination table full")

// Status is the result of ValidateTrans.
type Status uint8

const (
	NotCurrent Status = iota
	Current
)

// addrKey is the comparable projection of a destination used to find its
// table entry, per the address-mode-specific comparisons in section 4.C:
// subnet-node by (subnet, node); unique-id by UID; multicast by group;
// broadcast by subnet.
type addrKey struct {
	domain npdu.DomainID
	format npdu.AddrFormat
	subnet uint8
	node   uint8
	group  uint8
	uid    [6]byte
}

func keyOf(domain npdu.DomainID, d npdu.Dest) addrKey {
	k := addrKey{domain: domain, format: d.Format}
	switch d.Format {
	case npdu.FmtBroadcast:
		k.subnet = d.Subnet
	case npdu.FmtMulticast:
		k.group = d.Group
	case npdu.FmtSubnetNode:
		k.subnet, k.node = d.Subnet, d.Node
	case npdu.FmtUniqueID:
		k.uid = d.UID
	}
	return k
}

type tableEntry struct {
	inUse   bool
	key     addrKey
	lastTID uint16
	age     queue.Timer
}

// Allocator is one priority's TID sequencer: a single in-flight slot plus
// a destination-keyed table of recently used transaction IDs.
type Allocator struct {
	maxTID  uint16 // 15 for legacy, 4095 for enhanced
	nextTID uint16

	busy      bool
	activeTID uint16

	table [TableSize]tableEntry
}

// NewAllocator constructs an allocator for the given wire width. enhanced
// selects the 12-bit (1..4095) transaction ID space; otherwise the legacy
// 4-bit (1..15) space is used.
func NewAllocator(enhanced bool) *Allocator {
	a := &Allocator{nextTID: 1}
	if enhanced {
		a.maxTID = 4095
	} else {
		a.maxTID = 15
	}
	return a
}

func (a *Allocator) advance() {
	a.nextTID++
	if a.nextTID > a.maxTID {
		a.nextTID = 1
	}
}

// NewTrans allocates a transaction ID for a new outbound transaction
// addressed to dest on the given domain, following the section 4.C
// algorithm exactly: tentative selection, destination-table collision
// check, table maintenance, and in-flight-slot claim.
func (a *Allocator) NewTrans(now int64, domain npdu.DomainID, dest npdu.Dest) (uint16, error) {
	if a.busy {
		return 0, ErrBusy
	}

	tid := a.nextTID
	key := keyOf(domain, dest)

	idx := a.find(key)
	if idx >= 0 {
		e := &a.table[idx]
		if e.lastTID == tid {
			a.advance()
			tid = a.nextTID
		}
		e.lastTID = tid
		e.age.Set(now, MinTableTime)
	} else {
		slot, err := a.claimSlot(now)
		if err != nil {
			return 0, err
		}
		a.table[slot] = tableEntry{inUse: true, key: key, lastTID: tid}
		a.table[slot].age.Set(now, MinTableTime)
	}

	a.busy = true
	a.activeTID = tid
	return tid, nil
}

func (a *Allocator) find(key addrKey) int {
	for i := range a.table {
		if a.table[i].inUse && a.table[i].key == key {
			return i
		}
	}
	return -1
}

// claimSlot returns a free table index, evicting the first entry whose age
// timer has elapsed MinTableTime if none are free outright.
func (a *Allocator) claimSlot(now int64) (int, error) {
	for i := range a.table {
		if !a.table[i].inUse {
			return i, nil
		}
	}
	for i := range a.table {
		if a.table[i].age.Expired(now) {
			return i, nil
		}
	}
	return 0, ErrTableFull
}

// TransDone clears the in-flight slot and advances the sequence counter,
// ready for the next transaction on this priority.
func (a *Allocator) TransDone() {
	a.busy = false
	a.advance()
}

// OverrideTrans forcibly sets the in-flight transaction ID and marks the
// slot busy without consulting the destination table or advancing the
// sequence counter. No other package in this module calls it.
func (a *Allocator) OverrideTrans(tid uint16) {
	a.busy = true
	a.activeTID = tid
}

// ValidateTrans reports whether tid is the currently in-flight transaction
// for this priority.
func (a *Allocator) ValidateTrans(tid uint16) Status {
	if a.busy && a.activeTID == tid {
		return Current
	}
	return NotCurrent
}

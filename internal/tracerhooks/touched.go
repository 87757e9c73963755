package tracerhooks

import "github.com/ethereum/go-ethereum/common"

// touchedSet accumulates the accounts and storage slots (both persistent
// and transient) observed during a transaction, ready to be resolved
// against a StateReader at transaction end into facts.AccountTouch values
// for fingerprinting (spec §3).
type touchedSet struct {
	order   []common.Address
	seen    map[common.Address]struct{}
	slots   map[common.Address]map[common.Hash]struct{}
	slotOrd map[common.Address][]common.Hash

	tslots   map[common.Address]map[common.Hash]struct{}
	tslotOrd map[common.Address][]common.Hash
}

func newTouchedSet() *touchedSet {
	return &touchedSet{
		seen:     make(map[common.Address]struct{}),
		slots:    make(map[common.Address]map[common.Hash]struct{}),
		slotOrd:  make(map[common.Address][]common.Hash),
		tslots:   make(map[common.Address]map[common.Hash]struct{}),
		tslotOrd: make(map[common.Address][]common.Hash),
	}
}

func (t *touchedSet) touchAccount(addr common.Address) {
	if _, ok := t.seen[addr]; ok {
		return
	}
	t.seen[addr] = struct{}{}
	t.order = append(t.order, addr)
}

func (t *touchedSet) touchSlot(addr common.Address, slot common.Hash) {
	t.touchAccount(addr)
	if t.slots[addr] == nil {
		t.slots[addr] = make(map[common.Hash]struct{})
	}
	if _, ok := t.slots[addr][slot]; ok {
		return
	}
	t.slots[addr][slot] = struct{}{}
	t.slotOrd[addr] = append(t.slotOrd[addr], slot)
}

// touchTransientSlot records a TLOAD/TSTORE access, kept separate from
// touchSlot's persistent-storage set so the fingerprint can include or
// exclude it independently (spec §9 Open Question #2).
func (t *touchedSet) touchTransientSlot(addr common.Address, slot common.Hash) {
	t.touchAccount(addr)
	if t.tslots[addr] == nil {
		t.tslots[addr] = make(map[common.Hash]struct{})
	}
	if _, ok := t.tslots[addr][slot]; ok {
		return
	}
	t.tslots[addr][slot] = struct{}{}
	t.tslotOrd[addr] = append(t.tslotOrd[addr], slot)
}

func (t *touchedSet) addresses() []common.Address {
	return t.order
}

func (t *touchedSet) slotsFor(addr common.Address) []common.Hash {
	return t.slotOrd[addr]
}

func (t *touchedSet) transientSlotsFor(addr common.Address) []common.Hash {
	return t.tslotOrd[addr]
}

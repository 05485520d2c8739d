package auction

import (
	"sort"

	"github.com/google/uuid"
)

// bid is a single entry in the ledger. User is a snapshot of the
// participant's display name at bid time.
type bid struct {
	connID uuid.UUID
	user   string
	amount int
}

// ledger holds the bids of the active round only. At most one bid per
// connection: a new bid from the same connection overwrites the old one
// in place, keeping its original insertion position so that ties among
// equal amounts resolve to the first-inserted bid. Not safe for
// concurrent use on its own; the session lock guards it.
type ledger struct {
	bids  map[uuid.UUID]*bid
	order []uuid.UUID
}

func newLedger() *ledger {
	return &ledger{
		bids: make(map[uuid.UUID]*bid),
	}
}

// record inserts or overwrites the bid for a connection. The amount is
// absolute, not an increment; no comparison against previous bids.
func (l *ledger) record(connID uuid.UUID, user string, amount int) {
	if existing, exists := l.bids[connID]; exists {
		existing.user = user
		existing.amount = amount
		return
	}
	l.bids[connID] = &bid{connID: connID, user: user, amount: amount}
	l.order = append(l.order, connID)
}

// remove deletes a connection's bid if present.
func (l *ledger) remove(connID uuid.UUID) bool {
	if _, exists := l.bids[connID]; !exists {
		return false
	}
	delete(l.bids, connID)
	for i, id := range l.order {
		if id == connID {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return true
}

// clear empties the ledger. Called on round start and settlement.
func (l *ledger) clear() {
	l.bids = make(map[uuid.UUID]*bid)
	l.order = nil
}

// ranked returns up to limit bids ordered by amount descending. Ties
// keep insertion order.
func (l *ledger) ranked(limit int) []BidEntry {
	entries := make([]*bid, 0, len(l.order))
	for _, id := range l.order {
		entries = append(entries, l.bids[id])
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].amount > entries[j].amount
	})
	if limit >= 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	ranked := make([]BidEntry, len(entries))
	for i, b := range entries {
		ranked[i] = BidEntry{User: b.user, Amount: b.amount}
	}
	return ranked
}

// winner returns the highest bid, or nil if the ledger is empty. Among
// equal maxima the first-inserted bid wins, matching ranked.
func (l *ledger) winner() *BidEntry {
	top := l.ranked(1)
	if len(top) == 0 {
		return nil
	}
	return &top[0]
}

func (l *ledger) len() int {
	return len(l.bids)
}

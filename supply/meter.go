package supply

import (
	"sync"

	"github.com/xraph/passledger/types"
)

// Meter is an in-process supply counter. It is the reservation primitive of
// the memory store; SQL and document stores express the same reservation
// inside their mutating statements against a counter row.
type Meter struct {
	mu       sync.Mutex
	capacity types.Amount
	minted   types.Amount
}

// NewMeter creates a meter with the given immutable cap.
func NewMeter(capacity types.Amount) *Meter {
	return &Meter{capacity: capacity}
}

// TryReserve grants min(amount, remaining) and adds the grant to minted.
func (m *Meter) TryReserve(amount types.Amount) types.Amount {
	m.mu.Lock()
	defer m.mu.Unlock()

	granted := Admit(amount, m.capacity, m.minted)
	m.minted += granted
	return granted
}

// ReserveExact reserves amount only if all of it fits.
func (m *Meter) ReserveExact(amount types.Amount) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !amount.IsPositive() || Remaining(m.capacity, m.minted) < amount {
		return false
	}
	m.minted += amount
	return true
}

// Cap returns the configured cap.
func (m *Meter) Cap() types.Amount {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capacity
}

// Stats returns a snapshot of the counter.
func (m *Meter) Stats() *Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return NewStats(m.capacity, m.minted)
}

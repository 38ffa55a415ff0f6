package escrow

import (
	"math/big"
	"sync"

	"github.com/clearhold/clearhold/internal/amount"
)

// Aggregates maintains the factory-wide bookkeeping: how many escrows exist,
// how much volume entered custody, how the population is distributed across
// statuses, and how many escrows each principal participates in.
//
// Counters change only here, and only when a state change has been committed
// to the store, so the status counts always sum to the total created.
type Aggregates struct {
	mu           sync.RWMutex
	totalCreated int64
	totalVolume  *big.Int
	statusCounts map[Status]int64
	participants map[string]int64
}

// NewAggregates creates zeroed counters.
func NewAggregates() *Aggregates {
	return &Aggregates{
		totalVolume:  new(big.Int),
		statusCounts: make(map[Status]int64),
		participants: make(map[string]int64),
	}
}

// RecordCreated accounts for a newly funded escrow. Volume counts the gross
// amount placed in custody and is never decremented.
func (a *Aggregates) RecordCreated(payer, payee string, gross *big.Int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalCreated++
	a.totalVolume.Add(a.totalVolume, gross)
	a.statusCounts[StatusFunded]++
	a.participants[payer]++
	if payee != payer {
		a.participants[payee]++
	}
}

// RecordTransition moves one escrow between status buckets. The from bucket
// never goes negative.
func (a *Aggregates) RecordTransition(from, to Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.statusCounts[from] > 0 {
		a.statusCounts[from]--
	}
	a.statusCounts[to]++
}

// TotalCreated returns the number of escrows ever created.
func (a *Aggregates) TotalCreated() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.totalCreated
}

// TotalVolume returns the cumulative gross amount placed in custody.
func (a *Aggregates) TotalVolume() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return amount.Format(a.totalVolume)
}

// StatusCounts returns a copy of the per-status population.
func (a *Aggregates) StatusCounts() map[Status]int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[Status]int64, len(a.statusCounts))
	for s, n := range a.statusCounts {
		out[s] = n
	}
	return out
}

// ParticipantCount returns how many escrows a principal is a party to.
func (a *Aggregates) ParticipantCount(principal string) int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.participants[principal]
}

// Rebuild recomputes every counter from the full escrow population. Called
// at startup when the store outlives the process.
func (a *Aggregates) Rebuild(escrows []*Escrow) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalCreated = 0
	a.totalVolume = new(big.Int)
	a.statusCounts = make(map[Status]int64)
	a.participants = make(map[string]int64)

	for _, e := range escrows {
		a.totalCreated++
		if v, ok := amount.Parse(e.Amount); ok {
			a.totalVolume.Add(a.totalVolume, v)
		}
		a.statusCounts[e.Status]++
		a.participants[e.Payer]++
		if e.Payee != e.Payer {
			a.participants[e.Payee]++
		}
	}
}

package escrow

import (
	"math/big"
	"testing"
	"time"
)

func TestAggregates_RecordCreated(t *testing.T) {
	a := NewAggregates()
	a.RecordCreated("alice", "bob", big.NewInt(100_000_000))
	a.RecordCreated("alice", "carol", big.NewInt(50_000_000))

	if got := a.TotalCreated(); got != 2 {
		t.Errorf("TotalCreated = %d, want 2", got)
	}
	if got := a.TotalVolume(); got != "150.000000" {
		t.Errorf("TotalVolume = %s, want 150.000000", got)
	}
	if got := a.StatusCounts()[StatusFunded]; got != 2 {
		t.Errorf("funded count = %d, want 2", got)
	}
	if got := a.ParticipantCount("alice"); got != 2 {
		t.Errorf("alice count = %d, want 2", got)
	}
	if got := a.ParticipantCount("bob"); got != 1 {
		t.Errorf("bob count = %d, want 1", got)
	}
}

func TestAggregates_SelfDealCountsOnce(t *testing.T) {
	a := NewAggregates()
	a.RecordCreated("alice", "alice", big.NewInt(1))
	if got := a.ParticipantCount("alice"); got != 1 {
		t.Errorf("self-deal participant count = %d, want 1", got)
	}
}

func TestAggregates_RecordTransition(t *testing.T) {
	a := NewAggregates()
	a.RecordCreated("alice", "bob", big.NewInt(1))
	a.RecordTransition(StatusFunded, StatusDisputed)
	a.RecordTransition(StatusDisputed, StatusResolved)

	counts := a.StatusCounts()
	if counts[StatusFunded] != 0 || counts[StatusDisputed] != 0 || counts[StatusResolved] != 1 {
		t.Errorf("counts after transitions = %v", counts)
	}

	// Buckets sum to the total after any transition sequence.
	var sum int64
	for _, n := range counts {
		sum += n
	}
	if sum != a.TotalCreated() {
		t.Errorf("sum = %d, total = %d", sum, a.TotalCreated())
	}
}

func TestAggregates_TransitionNeverUnderflows(t *testing.T) {
	a := NewAggregates()
	a.RecordTransition(StatusFunded, StatusReleased)
	if got := a.StatusCounts()[StatusFunded]; got != 0 {
		t.Errorf("funded bucket = %d, want 0", got)
	}
	if got := a.StatusCounts()[StatusReleased]; got != 1 {
		t.Errorf("released bucket = %d, want 1", got)
	}
}

func TestAggregates_Rebuild(t *testing.T) {
	a := NewAggregates()
	a.RecordCreated("stale", "stale2", big.NewInt(999))

	now := time.Now()
	a.Rebuild([]*Escrow{
		{Payer: "alice", Payee: "bob", Amount: "100", Status: StatusFunded, CreatedAt: now},
		{Payer: "alice", Payee: "carol", Amount: "50", Status: StatusReleased, CreatedAt: now},
	})

	if got := a.TotalCreated(); got != 2 {
		t.Errorf("TotalCreated = %d, want 2", got)
	}
	if got := a.TotalVolume(); got != "150.000000" {
		t.Errorf("TotalVolume = %s, want 150.000000", got)
	}
	if got := a.ParticipantCount("stale"); got != 0 {
		t.Errorf("stale participant survived rebuild: %d", got)
	}
	if got := a.StatusCounts()[StatusReleased]; got != 1 {
		t.Errorf("released = %d, want 1", got)
	}
}

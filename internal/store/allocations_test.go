package store

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/ordermanager/ordermanager/pkg/types"
)

func TestAllocationSaveAndList(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()
	ctx := context.Background()

	lotID := uuid.New()
	claimID := uuid.New()
	subStrategy := "sub2"
	owner, err := types.NewStrategyOwner("beta", &subStrategy)
	if err != nil {
		t.Fatalf("new owner: %v", err)
	}

	a := types.NewAllocation(owner, &claimID, lotID, "AAPL", d("2.5"), d("250"))
	if err := s.SaveAllocation(ctx, a); err != nil {
		t.Fatalf("save: %v", err)
	}

	all, err := s.ListAllocations(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("len = %d, want 1", len(all))
	}
	got := all[0]
	if got.Owner.Strategy != "beta" || got.Owner.SubStrategy == nil || *got.Owner.SubStrategy != "sub2" {
		t.Fatalf("owner mismatch: %+v", got.Owner)
	}
	if got.ClaimID == nil || *got.ClaimID != claimID {
		t.Fatalf("claim id mismatch: %+v", got.ClaimID)
	}
	if !got.Shares.Equal(d("2.5")) || !got.Basis.Equal(d("250")) {
		t.Fatalf("shares/basis mismatch: %+v", got)
	}
}

func TestAllocationSaveWithHouseOwnerAndNoClaim(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()
	ctx := context.Background()

	lotID := uuid.New()
	a := types.NewAllocation(types.HouseOwner, nil, lotID, "AAPL", d("3.5"), d("350"))
	if err := s.SaveAllocation(ctx, a); err != nil {
		t.Fatalf("save: %v", err)
	}

	all, err := s.ListAllocations(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("len = %d, want 1", len(all))
	}
	if !all[0].Owner.IsHouse() {
		t.Fatalf("owner should be House: %+v", all[0].Owner)
	}
	if all[0].ClaimID != nil {
		t.Fatalf("claim id should be nil: %+v", all[0].ClaimID)
	}
}

package domain

import (
	"math/big"
	"testing"
	"time"
)

func TestListingActive(t *testing.T) {
	l := Listing{}
	if !l.Active() {
		t.Error("fresh listing not active")
	}
	if (Listing{Sold: true}).Active() {
		t.Error("sold listing reported active")
	}
	if (Listing{Canceled: true}).Active() {
		t.Error("canceled listing reported active")
	}
}

func TestListingClone(t *testing.T) {
	resolved := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	orig := Listing{
		ID:         1,
		Price:      big.NewInt(100),
		ResolvedAt: &resolved,
	}

	c := orig.Clone()
	c.Price.SetInt64(-1)
	*c.ResolvedAt = c.ResolvedAt.Add(time.Hour)

	if orig.Price.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("original price mutated: %s", orig.Price)
	}
	if !orig.ResolvedAt.Equal(resolved) {
		t.Errorf("original resolved time mutated: %s", orig.ResolvedAt)
	}

	// Nil pointer fields survive cloning.
	bare := Listing{ID: 2}
	c = bare.Clone()
	if c.Price != nil || c.ResolvedAt != nil {
		t.Error("clone invented pointer fields")
	}
}

func TestRoleString(t *testing.T) {
	tests := []struct {
		role Role
		want string
	}{
		{RoleSeller, "seller"},
		{RoleOwner, "owner"},
		{Role(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.role.String(); got != tt.want {
			t.Errorf("Role(%d).String() = %q, want %q", tt.role, got, tt.want)
		}
	}
}

func TestEventTypeChannel(t *testing.T) {
	tests := []struct {
		typ  ListingEventType
		want string
	}{
		{EventListingCreated, ChannelListingCreated},
		{EventListingSold, ChannelListingSold},
		{EventListingCanceled, ChannelListingCanceled},
	}
	for _, tt := range tests {
		if got := tt.typ.Channel(); got != tt.want {
			t.Errorf("%s channel = %q, want %q", tt.typ, got, tt.want)
		}
	}
}

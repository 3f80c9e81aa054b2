package permission

import (
	"testing"

	"github.com/NicolasHaas/govox/pkg/model"
)

func TestPredicateThresholds(t *testing.T) {
	tests := []struct {
		name      string
		predicate func(model.Level, bool) bool
		threshold model.Level
	}{
		{"IsMember", IsMember, model.LevelMember},
		{"IsChannelMod", IsChannelMod, model.LevelChannelMod},
		{"IsChannelAdmin", IsChannelAdmin, model.LevelChannelAdmin},
		{"IsServerAdmin", IsServerAdmin, model.LevelServerAdmin},
		{"IsServerOwner", IsServerOwner, model.LevelServerOwner},
		{"IsStaff", IsStaff, model.LevelStaff},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for l := model.MinLevel; l <= model.MaxLevel; l++ {
				// orHigher: true at and above threshold, false below
				want := l >= tt.threshold
				if got := tt.predicate(l, true); got != want {
					t.Errorf("%s(%d, true) = %v, want %v", tt.name, l, got, want)
				}
				// exact: true only at equality
				wantExact := l == tt.threshold
				if got := tt.predicate(l, false); got != wantExact {
					t.Errorf("%s(%d, false) = %v, want %v", tt.name, l, got, wantExact)
				}
			}
		})
	}
}

func TestIsSuperAdmin(t *testing.T) {
	for l := model.MinLevel; l <= model.MaxLevel; l++ {
		want := l == model.LevelSuperAdmin
		if got := IsSuperAdmin(l); got != want {
			t.Errorf("IsSuperAdmin(%d) = %v, want %v", l, got, want)
		}
	}
}

func TestRequire(t *testing.T) {
	if msg := Require(model.LevelServerAdmin, model.LevelServerAdmin); msg != "" {
		t.Errorf("Require at threshold = %q, want empty", msg)
	}
	if msg := Require(model.LevelMember, model.LevelServerAdmin); msg == "" {
		t.Error("Require below threshold: expected denial message")
	}
}

// Package permission provides level-based capability checks.
//
// Each predicate takes a member's permission level and an orHigher flag.
// With orHigher true (the usual gate) the predicate passes at or above its
// threshold; with orHigher false it passes only at exact equality.
// IsSuperAdmin has no or-higher variant because 8 is the top of the domain.
package permission

import "github.com/NicolasHaas/govox/pkg/model"

func at(l, threshold model.Level, orHigher bool) bool {
	if orHigher {
		return l >= threshold
	}
	return l == threshold
}

// IsMember reports whether the level grants ordinary membership.
func IsMember(l model.Level, orHigher bool) bool {
	return at(l, model.LevelMember, orHigher)
}

// IsChannelMod reports whether the level grants channel moderation.
func IsChannelMod(l model.Level, orHigher bool) bool {
	return at(l, model.LevelChannelMod, orHigher)
}

// IsChannelAdmin reports whether the level grants channel administration.
func IsChannelAdmin(l model.Level, orHigher bool) bool {
	return at(l, model.LevelChannelAdmin, orHigher)
}

// IsServerAdmin reports whether the level grants server administration.
func IsServerAdmin(l model.Level, orHigher bool) bool {
	return at(l, model.LevelServerAdmin, orHigher)
}

// IsServerOwner reports whether the level marks the server owner.
func IsServerOwner(l model.Level, orHigher bool) bool {
	return at(l, model.LevelServerOwner, orHigher)
}

// IsStaff reports whether the level marks platform staff.
func IsStaff(l model.Level, orHigher bool) bool {
	return at(l, model.LevelStaff, orHigher)
}

// IsSuperAdmin reports whether the level is exactly the super-admin level.
func IsSuperAdmin(l model.Level) bool {
	return l == model.LevelSuperAdmin
}

// Require returns an error message if the level is below the threshold,
// or empty string if allowed.
func Require(l, threshold model.Level) string {
	if l >= threshold {
		return ""
	}
	return "permission denied: requires " + threshold.String() + " or higher"
}

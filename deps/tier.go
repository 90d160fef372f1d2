package deps

import "fmt"

// Tier is the priority class of the data a snapshot holds. Lower values
// win when several tiers know the same value.
type Tier uint8

const (
	// TierCurrent is the archive being edited.
	TierCurrent Tier = iota

	// TierParent holds the archives the current one declares as
	// dependencies, in declaration order.
	TierParent

	// TierVanilla holds the base game archives.
	TierVanilla

	// TierBulk holds externally supplied reference data.
	TierBulk

	tierCount
)

func (t Tier) String() string {
	switch t {
	case TierCurrent:
		return "current"
	case TierParent:
		return "parent"
	case TierVanilla:
		return "vanilla"
	case TierBulk:
		return "bulk"
	default:
		return fmt.Sprintf("Tier(%d)", uint8(t))
	}
}

// persisted reports whether snapshots of t are kept on disk between runs.
func (t Tier) persisted() bool {
	return t == TierVanilla || t == TierBulk
}

// Package permission implements theater's permission lattice (C2): a
// partial order over per-capability permission records, with
// intersection (restrict) as the lattice meet, used to enforce that a
// child actor's requested capabilities never exceed its parent's.
//
// Grounded on
// _examples/original_source/crates/theater/src/config/permissions.rs,
// translated field-for-field from Rust's PartialOrd/RestrictWith impls
// into Go comparison and restriction functions. Every numeric field is a
// ceiling (parent >= child) except TimingPermissions.MinSleepDurationMS,
// which is a floor the parent enforces (parent <= child) — see that
// type's comment below.
package permission

// Ordering mirrors Rust's Option<Ordering>: a permission comparison can
// be Equal, Greater (parent strictly exceeds child), or Incomparable
// (child is not permitted by parent).
type Ordering int

const (
	Incomparable Ordering = iota
	Equal
	Greater
)

// Permits reports whether parent's authority covers candidate's request:
// true iff parent >= candidate in the lattice.
func Permits(parent, candidate *HandlerPermission) bool {
	ord := compareHandlerPermission(parent, candidate)
	return ord == Equal || ord == Greater
}

// --- generic helpers, grounded on permissions.rs's free functions ---

// optionSubset reports whether child is within parent's authority for an
// option-typed capability: None child is always permitted; None parent
// permits nothing; Some/Some defers to cmp.
func optionSubset[T any](parent, child *T, cmp func(p, c *T) bool) bool {
	switch {
	case child == nil:
		return true
	case parent == nil:
		return false
	default:
		return cmp(parent, child)
	}
}

// vecSuperset reports whether parent's set contains every element of
// child's set.
func vecSuperset[T comparable](parent, child []T) bool {
	set := make(map[T]struct{}, len(parent))
	for _, v := range parent {
		set[v] = struct{}{}
	}
	for _, v := range child {
		if _, ok := set[v]; !ok {
			return false
		}
	}
	return true
}

// leNum reports child <= parent, for capabilities where the permission
// is a ceiling (most numeric limits, including the "≥" fields on
// ProcessPermissions/RandomPermissions/TimingPermissions.Max: those are
// still ceilings the child must not exceed, so the comparison direction
// is the same leNum as every other capped field).
func leNum[T int | int64 | uint64](parent, child T) bool { return child <= parent }

// intersectOptions mirrors permissions.rs's intersect_options: the
// restriction of two optional allow-lists is their intersection if both
// are present, the first list if only it is present, and nil (deny-all)
// if the parent side is already nil.
func intersectOptions[T comparable](first, second []T) ([]T, bool) {
	if first == nil {
		return nil, false
	}
	if second == nil {
		return append([]T(nil), first...), true
	}
	set := make(map[T]struct{}, len(second))
	for _, v := range second {
		set[v] = struct{}{}
	}
	var out []T
	for _, v := range first {
		if _, ok := set[v]; ok {
			out = append(out, v)
		}
	}
	return out, true
}

func minOptional(parent, restrict *int) *int {
	switch {
	case parent == nil:
		return nil
	case restrict == nil:
		return parent
	case *restrict < *parent:
		return restrict
	default:
		return parent
	}
}

//go:build !linux

package sandbox

// ApplyLandlockAndSeccomp is a no-op on non-Linux platforms; the
// command-safety predicate is the only guard available there, matching
// spec §4.4's "other platforms: no enforcement" clause.
func ApplyLandlockAndSeccomp(p Policy) error {
	return nil
}

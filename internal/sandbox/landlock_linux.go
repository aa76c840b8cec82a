//go:build linux

package sandbox

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// landlockSupported probes whether the running kernel supports Landlock
// by querying the ABI version via the landlock_create_ruleset syscall
// with the LANDLOCK_CREATE_RULESET_VERSION flag. Unsupported kernels
// (< 5.13) fall back to the command-predicate guard only, per spec §4.4.
func landlockSupported() bool {
	abi, err := landlockABIVersion()
	return err == nil && abi > 0
}

func landlockABIVersion() (int, error) {
	r1, _, errno := unix.Syscall(unix.SYS_LANDLOCK_CREATE_RULESET, 0, 0, landlockCreateRulesetVersion)
	if errno != 0 {
		return 0, fmt.Errorf("landlock_create_ruleset: %w", errno)
	}
	return int(r1), nil
}

const landlockCreateRulesetVersion = 1 << 0

// ApplyLandlockAndSeccomp probes the kernel for Landlock support and,
// when it is present, sets PR_SET_NO_NEW_PRIVS on the calling process so
// it cannot regain privileges through a setuid binary. It builds no
// Landlock ruleset, installs no seccomp filter and does not read p, so
// filesystem and network limits come only from Policy.Check and the
// command predicate. On kernels without Landlock support it is a no-op.
func ApplyLandlockAndSeccomp(p Policy) error {
	if !landlockSupported() {
		return nil
	}
	// Only PR_SET_NO_NEW_PRIVS is applied; no landlock_add_rule or
	// landlock_restrict_self call is made.
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("prctl(PR_SET_NO_NEW_PRIVS): %w", err)
	}
	return nil
}

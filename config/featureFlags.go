package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LockFailOpen controls what happens when the recompute lock store itself
// errors (not a conflict: an infrastructure failure). The default is
// fail-open: recomputation proceeds rather than blocking every company on a
// lock-store outage. Operators who prefer strict mutual exclusion can set:
//
//   LOCK_FAIL_OPEN=false
func LockFailOpen() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("LOCK_FAIL_OPEN")))
	if v == "" {
		return true
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// LockStaleAfter is how old a RUNNING recompute lock must be before a new
// request may take it over (a crashed prior run).
//
// Set via env:
// - LOCK_STALE_AFTER_MINUTES (default 30)
func LockStaleAfter() time.Duration {
	if v := strings.TrimSpace(os.Getenv("LOCK_STALE_AFTER_MINUTES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Minute
		}
	}
	return 30 * time.Minute
}

// RetentionMonths is the size of the rolling history window. Rows older than
// (latest closed month - RetentionMonths + 1) are trimmed after every
// recomputation.
//
// Set via env:
// - RETENTION_MONTHS (default 24)
func RetentionMonths() int {
	if v := strings.TrimSpace(os.Getenv("RETENTION_MONTHS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 24
}

// RecomputeDefaultMonthsBack is how many months before the latest closed
// month a recomputation covers when no amended month is given.
//
// Set via env:
// - RECOMPUTE_DEFAULT_MONTHS_BACK (default 3)
func RecomputeDefaultMonthsBack() int {
	if v := strings.TrimSpace(os.Getenv("RECOMPUTE_DEFAULT_MONTHS_BACK")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 3
}

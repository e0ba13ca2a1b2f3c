//go:build !windows

package execution

// platformDefault returns the strategy used when none is configured.
// Unix-like hosts get genuine preemption.
func platformDefault() string {
	return StrategyPreemptive
}

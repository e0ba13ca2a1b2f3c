//go:build windows

package execution

// platformDefault returns the strategy used when none is configured.
// Windows hosts historically lack alarm-style delivery, so the join-based
// watchdog is the default there.
func platformDefault() string {
	return StrategyWatchdog
}

package embedcache

import "time"

// SetLockTimeout shortens the wait for a locked cache file and returns the restore func.
func SetLockTimeout(d time.Duration) func() {
	old := lockTimeout
	lockTimeout = d
	return func() { lockTimeout = old }
}

//go:build !unix

package runlock

// processAlive cannot probe processes here, so every lock is treated as held.
func processAlive(int) bool { return true }

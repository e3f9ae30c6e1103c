// Package ports derives deterministic localhost listen ports for application
// identities so sibling apps can find each other without a registry service.
package ports

import (
	"fmt"
	"hash/fnv"
)

// WindowSize is the number of slots in each domain's port window.
const WindowSize = 100

// MaxPort is the highest valid TCP port.
const MaxPort = 65535

// ResolvePort returns base + hash(appID) mod WindowSize.
// The same appID always maps to the same slot for a given base.
func ResolvePort(appID string, base int) int {
	return base + int(Hash(appID)%WindowSize)
}

// Hash is the 32-bit FNV-1a hash of appID.
func Hash(appID string) uint32 {
	h := fnv.New32a()
	// hash.Hash never returns an error from Write
	_, _ = h.Write([]byte(appID))
	return h.Sum32()
}

// Probe returns the port tried on the given attempt when linear probing from
// start inside the window beginning at base. Attempt 0 returns start.
// Probing wraps around the window.
func Probe(base, start, attempt int) int {
	offset := start - base
	return base + (offset+attempt)%WindowSize
}

// Window returns the inclusive port range for a domain base port.
func Window(base int) (lo, hi int) {
	return base, base + WindowSize - 1
}

// InWindow reports whether port falls inside the window starting at base.
func InWindow(base, port int) bool {
	lo, hi := Window(base)
	return port >= lo && port <= hi
}

// ValidateBase checks that a base port leaves room for a full window.
func ValidateBase(base int) error {
	if base < 1024 {
		return fmt.Errorf("base port %d is privileged", base)
	}
	if base+WindowSize-1 > MaxPort {
		return fmt.Errorf("base port %d leaves no room for a %d-slot window", base, WindowSize)
	}
	return nil
}

// Overlaps reports whether the windows starting at a and b intersect.
func Overlaps(a, b int) bool {
	if a > b {
		a, b = b, a
	}
	return b < a+WindowSize
}

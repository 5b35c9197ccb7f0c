// File: cmd/cleanup.go
package cmd

import (
	"sort"
	"sync"
)

var (
	cleanupMu   sync.Mutex
	cleanups    = map[int]func(){}
	nextCleanup int
)

// registerCleanup records fn for the panic sentinel and returns a function
// that removes it again once the command has cleaned up on its own.
func registerCleanup(fn func()) func() {
	cleanupMu.Lock()
	defer cleanupMu.Unlock()
	id := nextCleanup
	nextCleanup++
	cleanups[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			cleanupMu.Lock()
			delete(cleanups, id)
			cleanupMu.Unlock()
		})
	}
}

// RunCleanups runs and clears every registered cleanup, newest first. A
// panicking cleanup does not stop the others.
func RunCleanups() {
	cleanupMu.Lock()
	pending := cleanups
	cleanups = map[int]func(){}
	cleanupMu.Unlock()

	ids := make([]int, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(ids)))

	for _, id := range ids {
		func() {
			defer func() { _ = recover() }()
			pending[id]()
		}()
	}
}

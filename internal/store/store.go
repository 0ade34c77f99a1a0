// Package store persists the surviving strategy tier (Params and State)
// and the trade journal across process restarts. Vars are deliberately
// never stored.
package store

// Store is a keyed blob store. Keys are namespaced by the caller, e.g.
// "state/<strategy-id>" and "params/<strategy-id>".
type Store interface {
	// Put writes or replaces the value at key.
	Put(key string, value []byte) error
	// Get returns the value at key. The second return reports presence.
	Get(key string) ([]byte, bool, error)
	// Exists reports whether a value is stored at key.
	Exists(key string) (bool, error)
	// Delete removes the value at key. Deleting a missing key is a no-op.
	Delete(key string) error
	// Keys lists stored keys with the given prefix.
	Keys(prefix string) ([]string, error)
	// Close releases underlying resources.
	Close() error
}

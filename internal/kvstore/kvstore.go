// Package kvstore abstracts the durable and per-session key-value stores the
// pipeline shares across components. Durable values survive restarts; session
// values live only as long as the browsing context that owns them.
//
// There is no coordination between concurrent writers (for example two relay
// processes pointed at the same data directory): the last writer wins, which
// matches what the storage layer this replaces tolerated.
package kvstore

// Store is the minimal get/set/remove contract shared by the durable and
// session stores.
type Store interface {
	// Get returns the stored value and whether the key was present.
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Remove(key string) error
}

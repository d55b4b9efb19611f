package interfaces

// StateStore is the durable key-value port behind the filter state store
type StateStore interface {
	// Get returns the value stored under key and whether it exists
	Get(key string) (string, bool, error)

	// Set stores value under key, replacing any previous value
	Set(key, value string) error

	// Remove deletes key; removing a missing key is not an error
	Remove(key string) error

	// Close releases the underlying storage
	Close() error
}

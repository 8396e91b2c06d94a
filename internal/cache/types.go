package cache

// Cache stores opaque values by key
type Cache interface {
	// Get returns the value and true if present and not expired
	Get(key string) ([]byte, bool)

	// Set stores a value under key
	Set(key string, value []byte)

	// Len returns the number of stored entries, expired ones included
	Len() int

	// Close releases any resources held by the cache
	Close()
}

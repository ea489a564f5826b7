package cache

// Store is the minimal key-value contract a cache backend must satisfy.
// Implementations may be in-memory, file-backed or disabled entirely;
// callers never change behavior based on which one is wired in.
type Store interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Close() error
}

// NoopStore is the disabled backend: every read misses, every write is
// dropped.
type NoopStore struct{}

func (NoopStore) Get(string) ([]byte, bool, error) { return nil, false, nil }
func (NoopStore) Set(string, []byte) error         { return nil }
func (NoopStore) Close() error                     { return nil }

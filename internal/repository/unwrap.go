package repository

// Wrapper is implemented by decorators around a ChunkStore.
type Wrapper interface {
	Unwrap() ChunkStore
}

// find walks the decorator chain and returns the first store matching T.
func find[T any](store ChunkStore) (T, bool) {
	for store != nil {
		if v, ok := store.(T); ok {
			return v, true
		}
		w, ok := store.(Wrapper)
		if !ok {
			break
		}
		store = w.Unwrap()
	}
	var zero T
	return zero, false
}

// AsIDGenerator returns the id generator of the store or of any store it wraps.
func AsIDGenerator(store ChunkStore) (IDGenerator, bool) {
	return find[IDGenerator](store)
}

// AsOrphanLister returns the orphan lister of the store or of any store it wraps.
func AsOrphanLister(store ChunkStore) (OrphanLister, bool) {
	return find[OrphanLister](store)
}

// AsPinger returns the pinger of the store or of any store it wraps.
func AsPinger(store ChunkStore) (Pinger, bool) {
	return find[Pinger](store)
}

// AsCloser returns the closer of the store or of any store it wraps.
func AsCloser(store ChunkStore) (Closer, bool) {
	return find[Closer](store)
}

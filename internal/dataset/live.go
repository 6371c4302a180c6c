package dataset

import "sync/atomic"

// Live holds the dataset currently served. Readers always see a complete
// dataset; Store swaps it wholesale.
type Live struct {
	ds  atomic.Pointer[Dataset]
	gen atomic.Int64
}

// NewLive starts with ds, or an empty dataset when ds is nil.
func NewLive(ds *Dataset) *Live {
	l := &Live{}
	l.Store(ds)
	return l
}

// Load returns the current dataset. Callers must not mutate it.
func (l *Live) Load() *Dataset {
	return l.ds.Load()
}

// Store replaces the dataset and returns the new generation number.
func (l *Live) Store(ds *Dataset) int64 {
	if ds == nil {
		ds = New()
	}
	l.ds.Store(ds)
	return l.gen.Add(1)
}

// Generation counts Store calls, including the initial one.
func (l *Live) Generation() int64 {
	return l.gen.Load()
}

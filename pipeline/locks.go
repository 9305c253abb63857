package pipeline

import "sync"

// docLocks hands out one RW lock per document id and forgets it once no
// caller holds it.
type docLocks struct {
	mu    sync.Mutex
	locks map[string]*docLock
}

type docLock struct {
	sync.RWMutex
	refs int
}

func newDocLocks() *docLocks {
	return &docLocks{locks: make(map[string]*docLock)}
}

func (d *docLocks) acquire(docID string) *docLock {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locks[docID]
	if !ok {
		l = &docLock{}
		d.locks[docID] = l
	}
	l.refs++
	return l
}

func (d *docLocks) release(docID string, l *docLock) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(d.locks, docID)
	}
}

// Lock takes the writer side for docID.
func (d *docLocks) Lock(docID string) func() {
	l := d.acquire(docID)
	l.Lock()
	return func() {
		l.Unlock()
		d.release(docID, l)
	}
}

// RLock takes the reader side for docID.
func (d *docLocks) RLock(docID string) func() {
	l := d.acquire(docID)
	l.RLock()
	return func() {
		l.RUnlock()
		d.release(docID, l)
	}
}

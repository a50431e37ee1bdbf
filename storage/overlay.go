package storage

import (
	"errors"
	"sort"
	"sync"
)

var errOverlayClosed = errors.New("storage: overlay already committed")

// Overlay buffers writes on top of a parent database. Reads see buffered
// writes first. Nothing reaches the parent until Commit, which flushes every
// buffered write through a single batch. Dropping the overlay discards them.
type Overlay struct {
	parent Database

	mu      sync.RWMutex
	pending map[string]*memOp
	done    bool
}

// NewOverlay wraps parent in a write buffer.
func NewOverlay(parent Database) *Overlay {
	return &Overlay{parent: parent, pending: make(map[string]*memOp)}
}

func (o *Overlay) Put(key []byte, value []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done {
		return errOverlayClosed
	}
	o.pending[string(key)] = &memOp{key: string(key), value: append([]byte(nil), value...)}
	return nil
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	o.mu.RLock()
	op, ok := o.pending[string(key)]
	o.mu.RUnlock()
	if ok {
		if op.delete {
			return nil, ErrNotFound
		}
		return append([]byte(nil), op.value...), nil
	}
	return o.parent.Get(key)
}

func (o *Overlay) Has(key []byte) (bool, error) {
	o.mu.RLock()
	op, ok := o.pending[string(key)]
	o.mu.RUnlock()
	if ok {
		return !op.delete, nil
	}
	return o.parent.Has(key)
}

func (o *Overlay) Delete(key []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done {
		return errOverlayClosed
	}
	o.pending[string(key)] = &memOp{key: string(key), delete: true}
	return nil
}

// NewBatch returns a batch whose writes land in the overlay buffer.
func (o *Overlay) NewBatch() Batch {
	return &overlayBatch{overlay: o}
}

// Dirty reports the number of buffered keys.
func (o *Overlay) Dirty() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.pending)
}

// Commit flushes buffered writes to the parent atomically. The overlay cannot
// be written to afterwards.
func (o *Overlay) Commit() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done {
		return errOverlayClosed
	}
	keys := make([]string, 0, len(o.pending))
	for key := range o.pending {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	batch := o.parent.NewBatch()
	for _, key := range keys {
		op := o.pending[key]
		if op.delete {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), op.value)
	}
	if batch.Len() > 0 {
		if err := batch.Write(); err != nil {
			return err
		}
	}
	o.done = true
	o.pending = nil
	return nil
}

// Discard drops all buffered writes.
func (o *Overlay) Discard() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = make(map[string]*memOp)
}

// Close is a no-op; the parent owns the underlying resources.
func (o *Overlay) Close() {}

type overlayBatch struct {
	overlay *Overlay
	ops     []memOp
}

func (b *overlayBatch) Put(key []byte, value []byte) {
	b.ops = append(b.ops, memOp{key: string(key), value: append([]byte(nil), value...)})
}

func (b *overlayBatch) Delete(key []byte) {
	b.ops = append(b.ops, memOp{key: string(key), delete: true})
}

func (b *overlayBatch) Len() int { return len(b.ops) }

func (b *overlayBatch) Write() error {
	for _, op := range b.ops {
		var err error
		if op.delete {
			err = b.overlay.Delete([]byte(op.key))
		} else {
			err = b.overlay.Put([]byte(op.key), op.value)
		}
		if err != nil {
			return err
		}
	}
	b.ops = nil
	return nil
}

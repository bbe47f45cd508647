package storage

import (
	"errors"
	"sort"
)

var errOverlayClosed = errors.New("storage: overlay already committed or discarded")

// Overlay stages writes on top of a parent database. Reads observe the staged
// writes first and fall through to the parent. Nothing reaches the parent
// until Commit, which applies the whole write set as one batch.
//
// Overlay is not safe for concurrent use.
type Overlay struct {
	parent  Database
	pending map[string][]byte
	deleted map[string]struct{}
	closed  bool
}

// NewOverlay creates an empty staging layer over parent.
func NewOverlay(parent Database) *Overlay {
	return &Overlay{
		parent:  parent,
		pending: make(map[string][]byte),
		deleted: make(map[string]struct{}),
	}
}

func (o *Overlay) Put(key []byte, value []byte) error {
	if o.closed {
		return errOverlayClosed
	}
	k := string(key)
	delete(o.deleted, k)
	o.pending[k] = append([]byte(nil), value...)
	return nil
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	k := string(key)
	if _, gone := o.deleted[k]; gone {
		return nil, ErrNotFound
	}
	if value, ok := o.pending[k]; ok {
		return append([]byte(nil), value...), nil
	}
	return o.parent.Get(key)
}

func (o *Overlay) Delete(key []byte) error {
	if o.closed {
		return errOverlayClosed
	}
	k := string(key)
	delete(o.pending, k)
	o.deleted[k] = struct{}{}
	return nil
}

// NewBatch returns a batch that stages into the overlay itself, so nested
// transactions collapse into the outermost one.
func (o *Overlay) NewBatch() Batch {
	return &overlayBatch{overlay: o}
}

// Dirty reports how many keys are staged.
func (o *Overlay) Dirty() int {
	return len(o.pending) + len(o.deleted)
}

// Commit writes every staged change to the parent atomically and closes the
// overlay.
func (o *Overlay) Commit() error {
	if o.closed {
		return errOverlayClosed
	}
	batch := o.parent.NewBatch()
	// Sorted for a deterministic write order across backends.
	keys := make([]string, 0, len(o.pending))
	for k := range o.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		batch.Put([]byte(k), o.pending[k])
	}
	removed := make([]string, 0, len(o.deleted))
	for k := range o.deleted {
		removed = append(removed, k)
	}
	sort.Strings(removed)
	for _, k := range removed {
		batch.Delete([]byte(k))
	}
	if batch.Len() > 0 {
		if err := batch.Write(); err != nil {
			return err
		}
	}
	o.closed = true
	return nil
}

// Discard drops every staged change.
func (o *Overlay) Discard() {
	o.pending = make(map[string][]byte)
	o.deleted = make(map[string]struct{})
	o.closed = true
}

// Close satisfies Database; it discards staged writes.
func (o *Overlay) Close() {
	o.Discard()
}

type overlayBatch struct {
	overlay *Overlay
	ops     []batchOp
}

func (b *overlayBatch) Put(key, value []byte) {
	b.ops = append(b.ops, batchOp{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
}

func (b *overlayBatch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{key: append([]byte(nil), key...), delete: true})
}

func (b *overlayBatch) Len() int { return len(b.ops) }

func (b *overlayBatch) Write() error {
	for _, op := range b.ops {
		var err error
		if op.delete {
			err = b.overlay.Delete(op.key)
		} else {
			err = b.overlay.Put(op.key, op.value)
		}
		if err != nil {
			return err
		}
	}
	b.ops = nil
	return nil
}

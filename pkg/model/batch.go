// Copyright (c) Signalfan Authors.
// SPDX-License-Identifier: MPL-2.0

package model

// Batch is an immutable, ordered collection of one signal kind plus the
// resource that emitted it. The batcher seals batches at flush time and
// stamps them with a flush sequence number; exporters read batches but
// never mutate them.
type Batch[T Signal] struct {
	resource Resource
	items    []T
	seq      uint64
}

// NewBatch builds a batch from a resource and its items. The batch takes
// ownership of the items slice; callers must not modify it afterwards.
func NewBatch[T Signal](resource Resource, items []T) Batch[T] {
	return Batch[T]{resource: resource, items: items}
}

// Resource returns the resource shared by every item in the batch.
func (b Batch[T]) Resource() Resource { return b.resource }

// Items returns the batch contents in arrival order. The returned slice is
// shared; callers must treat it as read-only.
func (b Batch[T]) Items() []T { return b.items }

// Len returns the item count.
func (b Batch[T]) Len() int { return len(b.items) }

// Seq returns the flush sequence number stamped at seal time. Sequence
// numbers are monotonic per pipeline; zero means the batch has not been
// sealed by a flush yet.
func (b Batch[T]) Seq() uint64 { return b.seq }

// WithSeq returns a copy of the batch stamped with a flush sequence
// number.
func (b Batch[T]) WithSeq(seq uint64) Batch[T] {
	b.seq = seq
	return b
}

// Merge appends the items of other onto b, preserving order. Both inputs
// must share the same resource. The result is a new batch; the inputs are
// not modified.
func (b Batch[T]) Merge(other Batch[T]) Batch[T] {
	items := make([]T, 0, len(b.items)+len(other.items))
	items = append(items, b.items...)
	items = append(items, other.items...)
	return Batch[T]{resource: b.resource, items: items, seq: b.seq}
}

// ItemCount sums the items across a group of batches sealed by one flush.
func ItemCount[T Signal](batches []Batch[T]) int {
	var n int
	for _, b := range batches {
		n += b.Len()
	}
	return n
}

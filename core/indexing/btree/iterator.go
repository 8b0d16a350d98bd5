package btree

import (
	"github.com/gravel-db/graveldb/core/buffer"
	pagemanager "github.com/gravel-db/graveldb/core/storage/page_manager"
)

// IndexIterator walks leaf entries in ascending key order, following
// the sibling chain. It holds a read guard on at most one leaf at a
// time and releases it before latching the next, so iteration never
// blocks writers on more than a single page.
//
// Iteration is not a snapshot: entries moved by concurrent splits or
// merges may be missed or seen on a different leaf.
type IndexIterator[K any] struct {
	bpm   *buffer.BufferPoolManager
	codec KeyCodec[K]
	guard *buffer.ReadPageGuard
	index int
	atEnd bool
}

// Begin positions an iterator at the smallest key in the tree.
func (t *BPlusTree[K]) Begin() (*IndexIterator[K], error) {
	hdr, err := t.bpm.ReadPage(t.headerPageID)
	if err != nil {
		return nil, err
	}
	h, err := HeaderPageFrom(hdr.Data())
	if err != nil {
		hdr.Release()
		return nil, err
	}
	root := h.GetRootPageID()
	if root == pagemanager.InvalidPageID {
		hdr.Release()
		return t.End(), nil
	}
	cur, err := t.bpm.ReadPage(root)
	hdr.Release()
	if err != nil {
		return nil, err
	}
	for PageTypeOf(cur.Data()) == PageTypeInternal {
		node, err := InternalPageFrom(cur.Data(), t.codec)
		if err != nil {
			cur.Release()
			return nil, err
		}
		next, err := t.bpm.ReadPage(node.ChildAt(0))
		if err != nil {
			cur.Release()
			return nil, err
		}
		cur.Release()
		cur = next
	}
	it := &IndexIterator[K]{bpm: t.bpm, codec: t.codec, guard: cur}
	if err := it.skipEmpty(); err != nil {
		return nil, err
	}
	return it, nil
}

// BeginAt positions an iterator at the first key >= key.
func (t *BPlusTree[K]) BeginAt(key K) (*IndexIterator[K], error) {
	g, err := t.findLeafRead(key)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return t.End(), nil
	}
	leaf, err := LeafPageFrom(g.Data(), t.codec)
	if err != nil {
		g.Release()
		return nil, err
	}
	idx, _ := leaf.indexOfKey(key, t.cmp)
	it := &IndexIterator[K]{bpm: t.bpm, codec: t.codec, guard: g, index: idx}
	if err := it.skipEmpty(); err != nil {
		return nil, err
	}
	return it, nil
}

// End returns the past-the-last sentinel.
func (t *BPlusTree[K]) End() *IndexIterator[K] {
	return &IndexIterator[K]{atEnd: true}
}

// skipEmpty advances across leaves until the cursor rests on an entry,
// releasing each exhausted leaf before latching the next.
func (it *IndexIterator[K]) skipEmpty() error {
	for {
		leaf, err := LeafPageFrom(it.guard.Data(), it.codec)
		if err != nil {
			it.guard.Release()
			it.guard = nil
			it.atEnd = true
			return err
		}
		if it.index < leaf.GetSize() {
			return nil
		}
		next := leaf.GetNextPageID()
		it.guard.Release()
		it.guard = nil
		if next == pagemanager.InvalidPageID {
			it.atEnd = true
			return nil
		}
		g, err := it.bpm.ReadPage(next)
		if err != nil {
			it.atEnd = true
			return err
		}
		it.guard = g
		it.index = 0
	}
}

// IsEnd reports whether the iterator is past the last entry.
func (it *IndexIterator[K]) IsEnd() bool { return it.atEnd }

// Key returns the key at the cursor. The iterator must not be at end.
func (it *IndexIterator[K]) Key() K {
	leaf, err := LeafPageFrom(it.guard.Data(), it.codec)
	if err != nil {
		panic(err)
	}
	return leaf.KeyAt(it.index)
}

// Value returns the record id at the cursor. The iterator must not be
// at end.
func (it *IndexIterator[K]) Value() (pagemanager.RID, error) {
	leaf, err := LeafPageFrom(it.guard.Data(), it.codec)
	if err != nil {
		return pagemanager.RID{}, err
	}
	return leaf.ValueAt(it.index)
}

// Next advances the cursor one entry, crossing leaf boundaries through
// the sibling link. Advancing past the last entry puts the iterator at
// end; calling Next at end is a no-op.
func (it *IndexIterator[K]) Next() error {
	if it.atEnd {
		return nil
	}
	it.index++
	return it.skipEmpty()
}

// Close releases the held leaf guard. Safe to call at end or more than
// once; iterators abandoned mid-scan must be closed to drop their pin.
func (it *IndexIterator[K]) Close() {
	if it.guard != nil {
		it.guard.Release()
		it.guard = nil
	}
	it.atEnd = true
}

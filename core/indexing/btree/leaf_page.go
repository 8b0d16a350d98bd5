package btree

import (
	"fmt"

	diskmanager "github.com/gravel-db/graveldb/core/storage/disk_manager"
	pagemanager "github.com/gravel-db/graveldb/core/storage/page_manager"
)

// Leaf page layout:
//
//	offset 0:  common node header (type, size, max size)
//	offset 12: next leaf page id (uint64), InvalidPageID for the last leaf
//	offset 20: entry array, entry = key bytes + RID, sorted ascending
//
// One entry slot beyond max size is reserved so an insert can land
// before the overflow is resolved by a split.
const (
	offNextPageID  = nodeHeaderSize
	leafHeaderSize = nodeHeaderSize + 8
)

// LeafPage is a typed view over a leaf node. Keys are unique and
// strictly ascending; values are fixed-size RIDs.
type LeafPage[K any] struct {
	nodeView
	codec KeyCodec[K]
}

// InitLeafPage formats a raw page as an empty leaf with the given
// capacity. Fails when maxSize+1 entries cannot physically fit in the
// page.
func InitLeafPage[K any](data []byte, codec KeyCodec[K], maxSize int) (LeafPage[K], error) {
	need := leafHeaderSize + (maxSize+1)*(codec.Size()+pagemanager.RIDSize)
	if maxSize < 2 || need > len(data) {
		return LeafPage[K]{}, fmt.Errorf("%w: leaf max size %d does not fit page size %d",
			diskmanager.ErrInvalidPageData, maxSize, len(data))
	}
	l := LeafPage[K]{nodeView{data}, codec}
	l.setPageType(PageTypeLeaf)
	l.setSize(0)
	l.setMaxSize(maxSize)
	l.SetNextPageID(pagemanager.InvalidPageID)
	return l, nil
}

// LeafPageFrom builds a view over an existing leaf page, rejecting
// pages with the wrong type tag.
func LeafPageFrom[K any](data []byte, codec KeyCodec[K]) (LeafPage[K], error) {
	if err := expectPageType(data, PageTypeLeaf); err != nil {
		return LeafPage[K]{}, err
	}
	return LeafPage[K]{nodeView{data}, codec}, nil
}

func (l LeafPage[K]) entryWidth() int { return l.codec.Size() + pagemanager.RIDSize }

func (l LeafPage[K]) entryOffset(i int) int { return leafHeaderSize + i*l.entryWidth() }

// GetNextPageID returns the right sibling's page id, or InvalidPageID
// for the last leaf in the chain.
func (l LeafPage[K]) GetNextPageID() pagemanager.PageID {
	return readPageID(l.data[offNextPageID:])
}

// SetNextPageID links the right sibling.
func (l LeafPage[K]) SetNextPageID(id pagemanager.PageID) {
	writePageID(l.data[offNextPageID:], id)
}

// KeyAt returns the key at index i. Out-of-range access is a caller
// bug and panics.
func (l LeafPage[K]) KeyAt(i int) K {
	if i < 0 || i >= l.GetSize() {
		panic(fmt.Sprintf("leaf KeyAt(%d) out of range, size %d", i, l.GetSize()))
	}
	return l.codec.Decode(l.data[l.entryOffset(i):])
}

// ValueAt returns the RID at index i, failing when i is outside
// [0, size).
func (l LeafPage[K]) ValueAt(i int) (pagemanager.RID, error) {
	if i < 0 || i >= l.GetSize() {
		return pagemanager.RID{}, fmt.Errorf("%w: leaf index %d, size %d",
			diskmanager.ErrIndexOutOfRange, i, l.GetSize())
	}
	return readRID(l.data[l.entryOffset(i)+l.codec.Size():]), nil
}

// indexOfKey binary-searches for key, returning its index and true, or
// the insertion point and false.
func (l LeafPage[K]) indexOfKey(key K, cmp KeyComparator[K]) (int, bool) {
	low, high := 0, l.GetSize()-1
	for low <= high {
		mid := low + (high-low)/2
		c := cmp(l.KeyAt(mid), key)
		switch {
		case c == 0:
			return mid, true
		case c < 0:
			low = mid + 1
		default:
			high = mid - 1
		}
	}
	return low, false
}

// Lookup binary-searches for key and returns its RID.
func (l LeafPage[K]) Lookup(key K, cmp KeyComparator[K]) (pagemanager.RID, bool) {
	idx, found := l.indexOfKey(key, cmp)
	if !found {
		return pagemanager.RID{}, false
	}
	return readRID(l.data[l.entryOffset(idx)+l.codec.Size():]), true
}

// Insert places (key, rid) at its sorted position, shifting later
// entries right. A duplicate key is rejected with no mutation.
func (l LeafPage[K]) Insert(key K, rid pagemanager.RID, cmp KeyComparator[K]) bool {
	idx, found := l.indexOfKey(key, cmp)
	if found {
		return false
	}
	size := l.GetSize()
	copy(l.data[l.entryOffset(idx+1):l.entryOffset(size+1)], l.data[l.entryOffset(idx):l.entryOffset(size)])
	l.setEntry(idx, key, rid)
	l.setSize(size + 1)
	return true
}

func (l LeafPage[K]) setEntry(i int, key K, rid pagemanager.RID) {
	off := l.entryOffset(i)
	l.codec.Encode(key, l.data[off:])
	writeRID(l.data[off+l.codec.Size():], rid)
}

// RemoveAt deletes the entry at index i, shifting later entries left.
func (l LeafPage[K]) RemoveAt(i int) {
	size := l.GetSize()
	if i < 0 || i >= size {
		panic(fmt.Sprintf("leaf RemoveAt(%d) out of range, size %d", i, size))
	}
	copy(l.data[l.entryOffset(i):l.entryOffset(size-1)], l.data[l.entryOffset(i+1):l.entryOffset(size)])
	l.setSize(size - 1)
}

// IsOverflow reports whether the leaf holds more entries than its
// capacity and must be split.
func (l LeafPage[K]) IsOverflow() bool { return l.GetSize() > l.GetMaxSize() }

// MinSize is the minimum occupancy of a non-root leaf.
func (l LeafPage[K]) MinSize() int { return l.GetMaxSize() / 2 }

// IsUnderflow reports whether a non-root leaf has fallen below its
// minimum occupancy.
func (l LeafPage[K]) IsUnderflow() bool { return l.GetSize() < l.MinSize() }

// MoveUpperHalfTo moves the upper half of l's entries into the freshly
// initialized right sibling and splices it into the leaf chain.
func (l LeafPage[K]) MoveUpperHalfTo(right LeafPage[K], rightID pagemanager.PageID) {
	size := l.GetSize()
	keep := (size + 1) / 2
	moved := size - keep

	copy(right.data[right.entryOffset(0):right.entryOffset(moved)],
		l.data[l.entryOffset(keep):l.entryOffset(size)])
	right.setSize(moved)
	l.setSize(keep)

	right.SetNextPageID(l.GetNextPageID())
	l.SetNextPageID(rightID)
}

// MoveAllTo appends every entry of l to the left sibling and hands the
// sibling l's forward link. Used when merging l away.
func (l LeafPage[K]) MoveAllTo(left LeafPage[K]) {
	size, leftSize := l.GetSize(), left.GetSize()
	copy(left.data[left.entryOffset(leftSize):left.entryOffset(leftSize+size)],
		l.data[l.entryOffset(0):l.entryOffset(size)])
	left.setSize(leftSize + size)
	left.SetNextPageID(l.GetNextPageID())
	l.setSize(0)
}

// MoveLastToFrontOf shifts l's largest entry to the front of its right
// sibling. Used when the sibling borrows during redistribution.
func (l LeafPage[K]) MoveLastToFrontOf(right LeafPage[K]) {
	size := l.GetSize()
	key := l.KeyAt(size - 1)
	rid := readRID(l.data[l.entryOffset(size-1)+l.codec.Size():])

	rightSize := right.GetSize()
	copy(right.data[right.entryOffset(1):right.entryOffset(rightSize+1)],
		right.data[right.entryOffset(0):right.entryOffset(rightSize)])
	right.setEntry(0, key, rid)
	right.setSize(rightSize + 1)
	l.setSize(size - 1)
}

// MoveFirstToEndOf shifts l's smallest entry to the end of its left
// sibling.
func (l LeafPage[K]) MoveFirstToEndOf(left LeafPage[K]) {
	key := l.KeyAt(0)
	rid := readRID(l.data[l.entryOffset(0)+l.codec.Size():])

	leftSize := left.GetSize()
	left.setEntry(leftSize, key, rid)
	left.setSize(leftSize + 1)
	l.RemoveAt(0)
}

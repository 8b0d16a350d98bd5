package btree

import (
	"fmt"

	diskmanager "github.com/gravel-db/graveldb/core/storage/disk_manager"
	pagemanager "github.com/gravel-db/graveldb/core/storage/page_manager"
)

// Internal page layout:
//
//	offset 0:  common node header (type, size, max size)
//	offset 12: child page id array, capacity maxSize+2 (uint64 each)
//	after it:  separator key array, capacity maxSize+1
//
// size counts separator keys; a node with size keys has size+1 live
// children. Child i holds all keys in [key[i-1], key[i]), with sentinel
// bounds at both ends. One extra key/child slot is reserved so an
// overflowing insert lands before the split resolves it.
type InternalPage[K any] struct {
	nodeView
	codec KeyCodec[K]
}

// InitInternalPage formats a raw page as an empty internal node.
func InitInternalPage[K any](data []byte, codec KeyCodec[K], maxSize int) (InternalPage[K], error) {
	need := nodeHeaderSize + (maxSize+2)*8 + (maxSize+1)*codec.Size()
	if maxSize < 2 || need > len(data) {
		return InternalPage[K]{}, fmt.Errorf("%w: internal max size %d does not fit page size %d",
			diskmanager.ErrInvalidPageData, maxSize, len(data))
	}
	p := InternalPage[K]{nodeView{data}, codec}
	p.setPageType(PageTypeInternal)
	p.setSize(0)
	p.setMaxSize(maxSize)
	return p, nil
}

// InternalPageFrom builds a view over an existing internal page,
// rejecting pages with the wrong type tag.
func InternalPageFrom[K any](data []byte, codec KeyCodec[K]) (InternalPage[K], error) {
	if err := expectPageType(data, PageTypeInternal); err != nil {
		return InternalPage[K]{}, err
	}
	return InternalPage[K]{nodeView{data}, codec}, nil
}

func (p InternalPage[K]) childOffset(i int) int { return nodeHeaderSize + i*8 }

func (p InternalPage[K]) keyOffset(i int) int {
	return nodeHeaderSize + (p.GetMaxSize()+2)*8 + i*p.codec.Size()
}

// KeyAt returns separator key i, for i in [0, size). Out-of-range
// access is a caller bug and panics.
func (p InternalPage[K]) KeyAt(i int) K {
	if i < 0 || i >= p.GetSize() {
		panic(fmt.Sprintf("internal KeyAt(%d) out of range, size %d", i, p.GetSize()))
	}
	return p.codec.Decode(p.data[p.keyOffset(i):])
}

// SetKeyAt overwrites separator key i in place. Used when
// redistribution rotates a boundary through the parent.
func (p InternalPage[K]) SetKeyAt(i int, key K) {
	if i < 0 || i >= p.GetSize() {
		panic(fmt.Sprintf("internal SetKeyAt(%d) out of range, size %d", i, p.GetSize()))
	}
	p.codec.Encode(key, p.data[p.keyOffset(i):])
}

// ChildAt returns the child page id at slot i, for i in [0, size].
func (p InternalPage[K]) ChildAt(i int) pagemanager.PageID {
	if i < 0 || i > p.GetSize() {
		panic(fmt.Sprintf("internal ChildAt(%d) out of range, size %d", i, p.GetSize()))
	}
	return readPageID(p.data[p.childOffset(i):])
}

func (p InternalPage[K]) setChildAt(i int, id pagemanager.PageID) {
	writePageID(p.data[p.childOffset(i):], id)
}

// LookupIndex returns the slot of the child whose key range contains
// key: the number of separator keys not greater than key.
func (p InternalPage[K]) LookupIndex(key K, cmp KeyComparator[K]) int {
	// Binary search for the first separator strictly greater than key.
	low, high := 0, p.GetSize()
	for low < high {
		mid := low + (high-low)/2
		if cmp(p.KeyAt(mid), key) <= 0 {
			low = mid + 1
		} else {
			high = mid
		}
	}
	return low
}

// Lookup returns the child page id whose range contains key.
func (p InternalPage[K]) Lookup(key K, cmp KeyComparator[K]) pagemanager.PageID {
	return p.ChildAt(p.LookupIndex(key, cmp))
}

// ChildIndex locates a child page id among the node's children, or -1.
func (p InternalPage[K]) ChildIndex(child pagemanager.PageID) int {
	for i := 0; i <= p.GetSize(); i++ {
		if p.ChildAt(i) == child {
			return i
		}
	}
	return -1
}

// PopulateNewRoot initializes the node as a new root with one
// separator and two children, after the old root split.
func (p InternalPage[K]) PopulateNewRoot(left pagemanager.PageID, key K, right pagemanager.PageID) {
	p.setChildAt(0, left)
	p.codec.Encode(key, p.data[p.keyOffset(0):])
	p.setChildAt(1, right)
	p.setSize(1)
}

// InsertAfter inserts the separator produced by oldChild's split, with
// newChild immediately to its right. Failing to find oldChild means
// the caller's path is stale; that is a structural defect.
func (p InternalPage[K]) InsertAfter(oldChild pagemanager.PageID, key K, newChild pagemanager.PageID) error {
	j := p.ChildIndex(oldChild)
	if j < 0 {
		return fmt.Errorf("%w: child %d not found in internal node", diskmanager.ErrInvalidPageData, oldChild)
	}
	size := p.GetSize()
	// Shift keys[j..) and children[j+1..) one slot right.
	copy(p.data[p.keyOffset(j+1):p.keyOffset(size+1)], p.data[p.keyOffset(j):p.keyOffset(size)])
	copy(p.data[p.childOffset(j+2):p.childOffset(size+2)], p.data[p.childOffset(j+1):p.childOffset(size+1)])
	p.codec.Encode(key, p.data[p.keyOffset(j):])
	p.setChildAt(j+1, newChild)
	p.setSize(size + 1)
	return nil
}

// RemoveAt deletes separator key i and the child to its right,
// child i+1. Used when a merge empties that child.
func (p InternalPage[K]) RemoveAt(i int) {
	size := p.GetSize()
	if i < 0 || i >= size {
		panic(fmt.Sprintf("internal RemoveAt(%d) out of range, size %d", i, size))
	}
	copy(p.data[p.keyOffset(i):p.keyOffset(size-1)], p.data[p.keyOffset(i+1):p.keyOffset(size)])
	copy(p.data[p.childOffset(i+1):p.childOffset(size)], p.data[p.childOffset(i+2):p.childOffset(size+1)])
	p.setSize(size - 1)
}

// IsOverflow reports whether the node holds more separators than its
// capacity and must be split.
func (p InternalPage[K]) IsOverflow() bool { return p.GetSize() > p.GetMaxSize() }

// MinSize is the minimum separator count of a non-root internal node.
func (p InternalPage[K]) MinSize() int {
	if min := p.GetMaxSize() / 2; min > 1 {
		return min
	}
	return 1
}

// IsUnderflow reports whether a non-root internal node has fallen below
// its minimum occupancy.
func (p InternalPage[K]) IsUnderflow() bool { return p.GetSize() < p.MinSize() }

// MoveUpperHalfTo splits the node: the middle separator is returned to
// be pushed into the parent, and everything above it moves to the
// freshly initialized right sibling.
func (p InternalPage[K]) MoveUpperHalfTo(right InternalPage[K]) K {
	size := p.GetSize()
	mid := size / 2
	pushUp := p.KeyAt(mid)

	movedKeys := size - mid - 1
	copy(right.data[right.keyOffset(0):right.keyOffset(movedKeys)],
		p.data[p.keyOffset(mid+1):p.keyOffset(size)])
	copy(right.data[right.childOffset(0):right.childOffset(movedKeys+1)],
		p.data[p.childOffset(mid+1):p.childOffset(size+1)])
	right.setSize(movedKeys)
	p.setSize(mid)
	return pushUp
}

// MoveAllTo folds the node into its left sibling, absorbing the parent
// separator that divided them. Used when merging the node away.
func (p InternalPage[K]) MoveAllTo(left InternalPage[K], separator K) {
	size, leftSize := p.GetSize(), left.GetSize()
	left.codec.Encode(separator, left.data[left.keyOffset(leftSize):])
	copy(left.data[left.keyOffset(leftSize+1):left.keyOffset(leftSize+1+size)],
		p.data[p.keyOffset(0):p.keyOffset(size)])
	copy(left.data[left.childOffset(leftSize+1):left.childOffset(leftSize+2+size)],
		p.data[p.childOffset(0):p.childOffset(size+1)])
	left.setSize(leftSize + 1 + size)
	p.setSize(0)
}

// MoveLastToFrontOf rotates the node's last child into the front of its
// right sibling through the parent separator, returning the key that
// becomes the new separator.
func (p InternalPage[K]) MoveLastToFrontOf(right InternalPage[K], separator K) K {
	size := p.GetSize()
	newSeparator := p.KeyAt(size - 1)
	movedChild := p.ChildAt(size)

	rightSize := right.GetSize()
	copy(right.data[right.keyOffset(1):right.keyOffset(rightSize+1)],
		right.data[right.keyOffset(0):right.keyOffset(rightSize)])
	copy(right.data[right.childOffset(1):right.childOffset(rightSize+2)],
		right.data[right.childOffset(0):right.childOffset(rightSize+1)])
	right.codec.Encode(separator, right.data[right.keyOffset(0):])
	right.setChildAt(0, movedChild)
	right.setSize(rightSize + 1)

	p.setSize(size - 1)
	return newSeparator
}

// MoveFirstToEndOf rotates the node's first child onto the end of its
// left sibling through the parent separator, returning the key that
// becomes the new separator.
func (p InternalPage[K]) MoveFirstToEndOf(left InternalPage[K], separator K) K {
	size := p.GetSize()
	newSeparator := p.KeyAt(0)
	movedChild := p.ChildAt(0)

	leftSize := left.GetSize()
	left.codec.Encode(separator, left.data[left.keyOffset(leftSize):])
	left.setChildAt(leftSize+1, movedChild)
	left.setSize(leftSize + 1)

	copy(p.data[p.keyOffset(0):p.keyOffset(size-1)], p.data[p.keyOffset(1):p.keyOffset(size)])
	copy(p.data[p.childOffset(0):p.childOffset(size)], p.data[p.childOffset(1):p.childOffset(size+1)])
	p.setSize(size - 1)
	return newSeparator
}

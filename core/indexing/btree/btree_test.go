package btree

import (
	"math/rand"
	"path/filepath"
	"sync"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gravel-db/graveldb/core/buffer"
	diskmanager "github.com/gravel-db/graveldb/core/storage/disk_manager"
	pagemanager "github.com/gravel-db/graveldb/core/storage/page_manager"
)

func newTestTree(t *testing.T, leafMax, internalMax int) *BPlusTree[uint64] {
	t.Helper()
	tree, _ := newTestTreeAt(t, filepath.Join(t.TempDir(), "index.db"), leafMax, internalMax)
	return tree
}

func newTestTreeAt(t *testing.T, path string, leafMax, internalMax int) (*BPlusTree[uint64], *buffer.BufferPoolManager) {
	t.Helper()
	dm, err := diskmanager.NewDiskManager(path, diskmanager.DefaultPageSize, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })
	bpm := buffer.NewBufferPoolManager(64, 2, dm, zap.NewNop(), nil)

	headerID, err := bpm.NewPageID()
	require.NoError(t, err)
	tree, err := New[uint64]("test_index", headerID, bpm,
		CompareUint64, Uint64Codec{}, leafMax, internalMax, zap.NewNop())
	require.NoError(t, err)
	return tree, bpm
}

// collect drains an iterator into a key slice.
func collect(t *testing.T, it *IndexIterator[uint64]) []uint64 {
	t.Helper()
	var keys []uint64
	for !it.IsEnd() {
		keys = append(keys, it.Key())
		rid, err := it.Value()
		require.NoError(t, err)
		require.Equal(t, ridFor(it.Key()), rid)
		require.NoError(t, it.Next())
	}
	return keys
}

func TestBPlusTreeEmpty(t *testing.T) {
	tree := newTestTree(t, 4, 4)

	empty, err := tree.IsEmpty()
	require.NoError(t, err)
	require.True(t, empty)

	_, err = tree.GetValue(1)
	require.ErrorIs(t, err, diskmanager.ErrKeyNotFound)

	require.ErrorIs(t, tree.Remove(1), diskmanager.ErrKeyNotFound)

	it, err := tree.Begin()
	require.NoError(t, err)
	require.True(t, it.IsEnd())
}

func TestBPlusTreeInsertAndGet(t *testing.T) {
	tree := newTestTree(t, 4, 4)

	require.NoError(t, tree.Insert(42, ridFor(42)))

	empty, err := tree.IsEmpty()
	require.NoError(t, err)
	require.False(t, empty)

	rid, err := tree.GetValue(42)
	require.NoError(t, err)
	require.Equal(t, ridFor(42), rid)

	_, err = tree.GetValue(43)
	require.ErrorIs(t, err, diskmanager.ErrKeyNotFound)
}

func TestBPlusTreeDuplicateKeyRejected(t *testing.T) {
	tree := newTestTree(t, 4, 4)

	require.NoError(t, tree.Insert(7, ridFor(7)))
	require.ErrorIs(t, tree.Insert(7, ridFor(8)), diskmanager.ErrKeyAlreadyExists)

	// the original mapping is untouched
	rid, err := tree.GetValue(7)
	require.NoError(t, err)
	require.Equal(t, ridFor(7), rid)
}

func TestBPlusTreeLeafSplit(t *testing.T) {
	tree := newTestTree(t, 4, 4)

	// the fifth insert overflows the root leaf and splits it
	for k := uint64(1); k <= 5; k++ {
		require.NoError(t, tree.Insert(k, ridFor(k)))
	}

	for k := uint64(1); k <= 5; k++ {
		rid, err := tree.GetValue(k)
		require.NoError(t, err)
		require.Equal(t, ridFor(k), rid)
	}

	// the root is now an internal page
	rootID, err := tree.GetRootPageID()
	require.NoError(t, err)
	g, err := tree.bpm.ReadPage(rootID)
	require.NoError(t, err)
	require.Equal(t, PageTypeInternal, PageTypeOf(g.Data()))
	g.Release()
}

func TestBPlusTreeSequentialInsertAscendingScan(t *testing.T) {
	tree := newTestTree(t, 4, 4)

	const n = 200
	for k := uint64(1); k <= n; k++ {
		require.NoError(t, tree.Insert(k, ridFor(k)))
	}

	it, err := tree.Begin()
	require.NoError(t, err)
	keys := collect(t, it)
	require.Len(t, keys, n)
	for i, k := range keys {
		require.Equal(t, uint64(i+1), k)
	}
}

func TestBPlusTreeReverseInsert(t *testing.T) {
	tree := newTestTree(t, 4, 4)

	const n = 200
	for k := uint64(n); k >= 1; k-- {
		require.NoError(t, tree.Insert(k, ridFor(k)))
	}

	it, err := tree.Begin()
	require.NoError(t, err)
	keys := collect(t, it)
	require.Len(t, keys, n)
	for i, k := range keys {
		require.Equal(t, uint64(i+1), k)
	}
}

func TestBPlusTreeBeginAt(t *testing.T) {
	tree := newTestTree(t, 4, 4)

	for k := uint64(10); k <= 100; k += 10 {
		require.NoError(t, tree.Insert(k, ridFor(k)))
	}

	// exact hit
	it, err := tree.BeginAt(50)
	require.NoError(t, err)
	require.Equal(t, uint64(50), it.Key())
	it.Close()

	// between keys: first key >= 55 is 60
	it, err = tree.BeginAt(55)
	require.NoError(t, err)
	require.Equal(t, uint64(60), it.Key())
	it.Close()

	// past the largest key
	it, err = tree.BeginAt(101)
	require.NoError(t, err)
	require.True(t, it.IsEnd())
}

func TestBPlusTreeRemoveSimple(t *testing.T) {
	tree := newTestTree(t, 4, 4)

	for k := uint64(1); k <= 3; k++ {
		require.NoError(t, tree.Insert(k, ridFor(k)))
	}

	require.NoError(t, tree.Remove(2))
	_, err := tree.GetValue(2)
	require.ErrorIs(t, err, diskmanager.ErrKeyNotFound)

	rid, err := tree.GetValue(1)
	require.NoError(t, err)
	require.Equal(t, ridFor(1), rid)

	require.ErrorIs(t, tree.Remove(2), diskmanager.ErrKeyNotFound)
}

func TestBPlusTreeRemoveLastKeyEmptiesTree(t *testing.T) {
	tree := newTestTree(t, 4, 4)

	require.NoError(t, tree.Insert(1, ridFor(1)))
	require.NoError(t, tree.Remove(1))

	empty, err := tree.IsEmpty()
	require.NoError(t, err)
	require.True(t, empty)

	rootID, err := tree.GetRootPageID()
	require.NoError(t, err)
	require.Equal(t, pagemanager.InvalidPageID, rootID)

	// the tree is usable again after being emptied
	require.NoError(t, tree.Insert(2, ridFor(2)))
	rid, err := tree.GetValue(2)
	require.NoError(t, err)
	require.Equal(t, ridFor(2), rid)
}

func TestBPlusTreeRemoveWithMergesAndRootCollapse(t *testing.T) {
	tree := newTestTree(t, 4, 4)

	const n = 64
	for k := uint64(1); k <= n; k++ {
		require.NoError(t, tree.Insert(k, ridFor(k)))
	}

	// removing everything forces redistributions, merges and finally
	// the collapse of every level of the tree
	for k := uint64(1); k <= n; k++ {
		require.NoError(t, tree.Remove(k))
		_, err := tree.GetValue(k)
		require.ErrorIs(t, err, diskmanager.ErrKeyNotFound)
		if k < n {
			rid, err := tree.GetValue(k + 1)
			require.NoError(t, err)
			require.Equal(t, ridFor(k+1), rid)
		}
	}

	empty, err := tree.IsEmpty()
	require.NoError(t, err)
	require.True(t, empty)
}

func TestBPlusTreeRemoveDescendingOrder(t *testing.T) {
	tree := newTestTree(t, 4, 4)

	const n = 64
	for k := uint64(1); k <= n; k++ {
		require.NoError(t, tree.Insert(k, ridFor(k)))
	}
	for k := uint64(n); k >= 1; k-- {
		require.NoError(t, tree.Remove(k))
	}

	empty, err := tree.IsEmpty()
	require.NoError(t, err)
	require.True(t, empty)
}

func TestBPlusTreeRandomizedWorkload(t *testing.T) {
	tree := newTestTree(t, 6, 6)
	faker := gofakeit.New(11)

	present := make(map[uint64]bool)
	var keys []uint64
	for len(keys) < 500 {
		k := faker.Uint64()%100000 + 1
		if present[k] {
			continue
		}
		present[k] = true
		keys = append(keys, k)
	}

	rng := rand.New(rand.NewSource(11))
	rng.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
	for _, k := range keys {
		require.NoError(t, tree.Insert(k, ridFor(k)))
	}

	// remove a random half
	rng.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
	removed := keys[:len(keys)/2]
	for _, k := range removed {
		require.NoError(t, tree.Remove(k))
		delete(present, k)
	}

	for _, k := range keys {
		rid, err := tree.GetValue(k)
		if present[k] {
			require.NoError(t, err)
			require.Equal(t, ridFor(k), rid)
		} else {
			require.ErrorIs(t, err, diskmanager.ErrKeyNotFound)
		}
	}

	// the scan sees exactly the surviving keys, ascending
	it, err := tree.Begin()
	require.NoError(t, err)
	got := collect(t, it)
	require.Len(t, got, len(present))
	for i := 1; i < len(got); i++ {
		require.Less(t, got[i-1], got[i])
	}
	for _, k := range got {
		require.True(t, present[k])
	}
}

func TestBPlusTreePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")

	dm, err := diskmanager.NewDiskManager(path, diskmanager.DefaultPageSize, zap.NewNop())
	require.NoError(t, err)
	bpm := buffer.NewBufferPoolManager(64, 2, dm, zap.NewNop(), nil)
	headerID, err := bpm.NewPageID()
	require.NoError(t, err)

	tree, err := New[uint64]("persist_index", headerID, bpm,
		CompareUint64, Uint64Codec{}, 4, 4, zap.NewNop())
	require.NoError(t, err)
	for k := uint64(1); k <= 50; k++ {
		require.NoError(t, tree.Insert(k, ridFor(k)))
	}
	require.NoError(t, bpm.FlushAllPages())
	require.NoError(t, dm.Close())

	dm2, err := diskmanager.NewDiskManager(path, diskmanager.DefaultPageSize, zap.NewNop())
	require.NoError(t, err)
	defer dm2.Close()
	bpm2 := buffer.NewBufferPoolManager(64, 2, dm2, zap.NewNop(), nil)

	// attaching to the same header page finds the persisted root
	tree2, err := New[uint64]("persist_index", headerID, bpm2,
		CompareUint64, Uint64Codec{}, 4, 4, zap.NewNop())
	require.NoError(t, err)
	for k := uint64(1); k <= 50; k++ {
		rid, err := tree2.GetValue(k)
		require.NoError(t, err)
		require.Equal(t, ridFor(k), rid)
	}
}

func TestBPlusTreeStringKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strings.db")
	dm, err := diskmanager.NewDiskManager(path, diskmanager.DefaultPageSize, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })
	bpm := buffer.NewBufferPoolManager(16, 2, dm, zap.NewNop(), nil)
	headerID, err := bpm.NewPageID()
	require.NoError(t, err)

	tree, err := New[[]byte]("names", headerID, bpm,
		CompareBytes, NewBytesCodec(16), 4, 4, zap.NewNop())
	require.NoError(t, err)

	words := []string{"pear", "apple", "quince", "fig", "banana", "cherry", "mango"}
	for i, w := range words {
		require.NoError(t, tree.Insert([]byte(w), ridFor(uint64(i+1))))
	}

	rid, err := tree.GetValue([]byte("fig"))
	require.NoError(t, err)
	require.Equal(t, ridFor(4), rid)

	it, err := tree.Begin()
	require.NoError(t, err)
	var got []string
	for !it.IsEnd() {
		key := it.Key()
		got = append(got,stringFromPadded(key))
		require.NoError(t, it.Next())
	}
	require.Equal(t, []string{"apple", "banana", "cherry", "fig", "mango", "pear", "quince"}, got)
}

// stringFromPadded strips the zero padding a fixed-width codec adds.
func stringFromPadded(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func TestBPlusTreeConcurrentInserts(t *testing.T) {
	tree := newTestTree(t, 8, 8)

	const goroutines = 8
	const perGoroutine = 100
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(base uint64) {
			defer wg.Done()
			for i := uint64(0); i < perGoroutine; i++ {
				k := base*perGoroutine + i + 1
				if err := tree.Insert(k, ridFor(k)); err != nil {
					t.Error(err)
					return
				}
			}
		}(uint64(g))
	}
	wg.Wait()

	for k := uint64(1); k <= goroutines*perGoroutine; k++ {
		rid, err := tree.GetValue(k)
		require.NoError(t, err)
		require.Equal(t, ridFor(k), rid)
	}

	it, err := tree.Begin()
	require.NoError(t, err)
	keys := collect(t, it)
	require.Len(t, keys, goroutines*perGoroutine)
}

func TestBPlusTreeConcurrentMixedWorkload(t *testing.T) {
	tree := newTestTree(t, 8, 8)

	// preload even keys
	for k := uint64(2); k <= 1000; k += 2 {
		require.NoError(t, tree.Insert(k, ridFor(k)))
	}

	var wg sync.WaitGroup

	// writers insert odd keys
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(offset uint64) {
			defer wg.Done()
			for k := offset; k <= 1000; k += 8 {
				if err := tree.Insert(k, ridFor(k)); err != nil {
					t.Error(err)
					return
				}
			}
		}(uint64(g*2 + 1))
	}

	// removers delete keys divisible by four
	wg.Add(1)
	go func() {
		defer wg.Done()
		for k := uint64(4); k <= 1000; k += 4 {
			if err := tree.Remove(k); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	// readers hammer lookups of stable keys (even, not divisible by 4)
	for g := 0; g < 2; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for round := 0; round < 20; round++ {
				for k := uint64(2); k <= 1000; k += 4 {
					if _, err := tree.GetValue(k); err != nil {
						t.Error(err)
						return
					}
				}
			}
		}()
	}

	wg.Wait()

	// final state: odds present, multiples of four gone
	for k := uint64(1); k <= 1000; k++ {
		_, err := tree.GetValue(k)
		switch {
		case k%4 == 0:
			require.ErrorIs(t, err, diskmanager.ErrKeyNotFound, "key %d", k)
		default:
			require.NoError(t, err, "key %d", k)
		}
	}
}

// newTestTreePool builds a tree over an explicit pool size, reattaching
// to the file when the header page already exists.
func newTestTreePool(t *testing.T, path string, poolSize, leafMax, internalMax int) (*BPlusTree[uint64], *buffer.BufferPoolManager) {
	t.Helper()
	dm, err := diskmanager.NewDiskManager(path, diskmanager.DefaultPageSize, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })
	bpm := buffer.NewBufferPoolManager(poolSize, 2, dm, zap.NewNop(), nil)

	headerID := pagemanager.PageID(1)
	if dm.NumPages() <= uint64(headerID) {
		headerID, err = bpm.NewPageID()
		require.NoError(t, err)
	}
	tree, err := New[uint64]("small_pool_index", headerID, bpm,
		CompareUint64, Uint64Codec{}, leafMax, internalMax, zap.NewNop())
	require.NoError(t, err)
	return tree, bpm
}

func TestBPlusTreeInsertFailsCleanlyWhenPoolExhausted(t *testing.T) {
	// Two frames only: the header and the root leaf fill the pool, so
	// the split of the fifth insert cannot latch its new sibling.
	tree, _ := newTestTreePool(t, filepath.Join(t.TempDir(), "tiny.db"), 2, 4, 4)

	for k := uint64(1); k <= 4; k++ {
		require.NoError(t, tree.Insert(k, ridFor(k)))
	}
	err := tree.Insert(5, ridFor(5))
	require.ErrorIs(t, err, diskmanager.ErrBufferPoolFull)

	// the failed insert left no trace
	_, err = tree.GetValue(5)
	require.ErrorIs(t, err, diskmanager.ErrKeyNotFound)
	for k := uint64(1); k <= 4; k++ {
		rid, err := tree.GetValue(k)
		require.NoError(t, err)
		require.Equal(t, ridFor(k), rid)
	}

	rootID, err := tree.GetRootPageID()
	require.NoError(t, err)
	g, err := tree.bpm.ReadPage(rootID)
	require.NoError(t, err)
	defer g.Release()
	leaf, err := LeafPageFrom(g.Data(), tree.codec)
	require.NoError(t, err)
	require.Equal(t, 4, leaf.GetSize())
	require.False(t, leaf.IsOverflow())
}

func TestBPlusTreeRemoveFailsCleanlyWhenPoolExhausted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiny_remove.db")

	// build a two-leaf tree with a roomy pool and flush it out
	tree, bpm := newTestTreePool(t, path, 16, 4, 4)
	for k := uint64(1); k <= 5; k++ {
		require.NoError(t, tree.Insert(k, ridFor(k)))
	}
	require.NoError(t, bpm.FlushAllPages())

	// Reattach through three frames: header, root and leaf pin them
	// all during the removal, so the underflow repair cannot latch the
	// sibling it would borrow from.
	small, _ := newTestTreePool(t, path, 3, 4, 4)
	err := small.Remove(4)
	require.ErrorIs(t, err, diskmanager.ErrBufferPoolFull)

	// the failed removal left the entry in place
	rid, err := small.GetValue(4)
	require.NoError(t, err)
	require.Equal(t, ridFor(4), rid)
	keys := []uint64{1, 2, 3, 4, 5}
	for _, k := range keys {
		_, err := small.GetValue(k)
		require.NoError(t, err, "key %d", k)
	}
}

// subtreeShape checks separator ordering on every internal node under
// id and that every leaf below it sits at the same depth. Returns the
// subtree height, leaves counting as one.
func subtreeShape(t *testing.T, tree *BPlusTree[uint64], id pagemanager.PageID) int {
	t.Helper()
	g, err := tree.bpm.ReadPage(id)
	require.NoError(t, err)
	defer g.Release()

	switch PageTypeOf(g.Data()) {
	case PageTypeLeaf:
		leaf, err := LeafPageFrom(g.Data(), tree.codec)
		require.NoError(t, err)
		for i := 1; i < leaf.GetSize(); i++ {
			require.Less(t, leaf.KeyAt(i-1), leaf.KeyAt(i), "leaf %d keys out of order", id)
		}
		return 1
	case PageTypeInternal:
		node, err := InternalPageFrom(g.Data(), tree.codec)
		require.NoError(t, err)
		require.Greater(t, node.GetSize(), 0, "internal %d has no separators", id)
		for i := 1; i < node.GetSize(); i++ {
			require.Less(t, node.KeyAt(i-1), node.KeyAt(i), "internal %d separators out of order", id)
		}
		depth := subtreeShape(t, tree, node.ChildAt(0))
		for i := 1; i <= node.GetSize(); i++ {
			require.Equal(t, depth, subtreeShape(t, tree, node.ChildAt(i)),
				"leaves under internal %d at unequal depth", id)
		}
		return depth + 1
	default:
		t.Fatalf("page %d is not an index node", id)
		return 0
	}
}

func requireBalanced(t *testing.T, tree *BPlusTree[uint64]) {
	t.Helper()
	rootID, err := tree.GetRootPageID()
	require.NoError(t, err)
	if rootID == pagemanager.InvalidPageID {
		return
	}
	subtreeShape(t, tree, rootID)
}

func TestBPlusTreeBalancedThroughMixedWorkload(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	rng := rand.New(rand.NewSource(7))

	keys := rng.Perm(300)
	for _, k := range keys {
		require.NoError(t, tree.Insert(uint64(k+1), ridFor(uint64(k+1))))
	}
	requireBalanced(t, tree)

	// shrink the tree back through its merges and root collapses,
	// checking shape as levels disappear
	removed := 0
	for i, k := range keys {
		if i%3 == 0 {
			continue
		}
		require.NoError(t, tree.Remove(uint64(k+1)))
		removed++
		if removed%60 == 0 {
			requireBalanced(t, tree)
		}
	}
	requireBalanced(t, tree)

	it, err := tree.Begin()
	require.NoError(t, err)
	defer it.Close()
	require.Len(t, collect(t, it), 300-removed)
}

package btree

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/gravel-db/graveldb/core/buffer"
	diskmanager "github.com/gravel-db/graveldb/core/storage/disk_manager"
	pagemanager "github.com/gravel-db/graveldb/core/storage/page_manager"
)

// BPlusTree is a disk-backed B+Tree index mapping fixed-width keys to
// record ids. All node access goes through the buffer pool's page
// guards; concurrent operations coordinate with latch crabbing, so a
// single tree instance is safe for use from multiple goroutines.
//
// The tree owns one header page whose root pointer survives restarts.
// An empty tree stores InvalidPageID there.
type BPlusTree[K any] struct {
	name         string
	headerPageID pagemanager.PageID
	bpm          *buffer.BufferPoolManager
	cmp          KeyComparator[K]
	codec        KeyCodec[K]

	leafMaxSize     int
	internalMaxSize int

	logger *zap.Logger
}

// New attaches a tree to headerPageID, formatting the header page if it
// has not been initialized yet. leafMaxSize and internalMaxSize are
// validated against the buffer pool's page size.
func New[K any](name string, headerPageID pagemanager.PageID, bpm *buffer.BufferPoolManager,
	cmp KeyComparator[K], codec KeyCodec[K], leafMaxSize, internalMaxSize int,
	logger *zap.Logger) (*BPlusTree[K], error) {

	if logger == nil {
		logger = zap.NewNop()
	}
	scratch := make([]byte, bpm.GetPageSize())
	if _, err := InitLeafPage(scratch, codec, leafMaxSize); err != nil {
		return nil, fmt.Errorf("btree %q: %w", name, err)
	}
	if _, err := InitInternalPage(scratch, codec, internalMaxSize); err != nil {
		return nil, fmt.Errorf("btree %q: %w", name, err)
	}

	t := &BPlusTree[K]{
		name:            name,
		headerPageID:    headerPageID,
		bpm:             bpm,
		cmp:             cmp,
		codec:           codec,
		leafMaxSize:     leafMaxSize,
		internalMaxSize: internalMaxSize,
		logger:          logger.With(zap.String("index", name)),
	}

	g, err := bpm.WritePage(headerPageID)
	if err != nil {
		return nil, fmt.Errorf("btree %q: fetch header page: %w", name, err)
	}
	defer g.Release()
	if PageTypeOf(g.Data()) != PageTypeHeader {
		InitHeaderPage(g.Data())
		t.logger.Info("initialized index header page",
			zap.Uint64("header_page_id", uint64(headerPageID)))
	}
	return t, nil
}

// GetRootPageID returns the current root page id, InvalidPageID when
// the tree is empty.
func (t *BPlusTree[K]) GetRootPageID() (pagemanager.PageID, error) {
	g, err := t.bpm.ReadPage(t.headerPageID)
	if err != nil {
		return pagemanager.InvalidPageID, err
	}
	defer g.Release()
	h, err := HeaderPageFrom(g.Data())
	if err != nil {
		return pagemanager.InvalidPageID, err
	}
	return h.GetRootPageID(), nil
}

// IsEmpty reports whether the tree holds no entries.
func (t *BPlusTree[K]) IsEmpty() (bool, error) {
	root, err := t.GetRootPageID()
	if err != nil {
		return false, err
	}
	return root == pagemanager.InvalidPageID, nil
}

// findLeafRead descends to the leaf whose key range covers key, holding
// each parent's read guard until the child guard is acquired. Returns
// nil when the tree is empty.
func (t *BPlusTree[K]) findLeafRead(key K) (*buffer.ReadPageGuard, error) {
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
		return nil, nil
	}
	cur, err := t.bpm.ReadPage(root)
	hdr.Release()
	if err != nil {
		return nil, err
	}
	for {
		switch PageTypeOf(cur.Data()) {
		case PageTypeLeaf:
			return cur, nil
		case PageTypeInternal:
			node, err := InternalPageFrom(cur.Data(), t.codec)
			if err != nil {
				cur.Release()
				return nil, err
			}
			child := node.Lookup(key, t.cmp)
			next, err := t.bpm.ReadPage(child)
			if err != nil {
				cur.Release()
				return nil, err
			}
			cur.Release()
			cur = next
		default:
			id := cur.PageID()
			cur.Release()
			return nil, fmt.Errorf("%w: page %d is not an index node",
				diskmanager.ErrInvalidPageData, id)
		}
	}
}

// GetValue looks up key and returns its record id.
// ErrKeyNotFound when the key is absent.
func (t *BPlusTree[K]) GetValue(key K) (pagemanager.RID, error) {
	g, err := t.findLeafRead(key)
	if err != nil {
		return pagemanager.RID{}, err
	}
	if g == nil {
		return pagemanager.RID{}, diskmanager.ErrKeyNotFound
	}
	defer g.Release()
	leaf, err := LeafPageFrom(g.Data(), t.codec)
	if err != nil {
		return pagemanager.RID{}, err
	}
	rid, found := leaf.Lookup(key, t.cmp)
	if !found {
		return pagemanager.RID{}, diskmanager.ErrKeyNotFound
	}
	return rid, nil
}

// Insert adds a key/rid pair. Keys are unique:
// ErrKeyAlreadyExists when key is present.
//
// The optimistic path read-crabs to the leaf and only write-latches the
// leaf itself; when the leaf is full the whole attempt is discarded and
// the insert restarts pessimistically with write latches held from the
// header down (released early as nodes prove safe).
func (t *BPlusTree[K]) Insert(key K, rid pagemanager.RID) error {
	handled, err := t.insertOptimistic(key, rid)
	if handled || err != nil {
		return err
	}
	return t.insertPessimistic(key, rid)
}

func (t *BPlusTree[K]) insertOptimistic(key K, rid pagemanager.RID) (bool, error) {
	hdr, err := t.bpm.ReadPage(t.headerPageID)
	if err != nil {
		return false, err
	}
	h, err := HeaderPageFrom(hdr.Data())
	if err != nil {
		hdr.Release()
		return false, err
	}
	root := h.GetRootPageID()
	if root == pagemanager.InvalidPageID {
		hdr.Release()
		return false, nil
	}

	// parent stays latched until the child guard is in hand; for the
	// root the header guard plays the parent role.
	var parent interface{ Release() } = hdr
	cur, err := t.bpm.ReadPage(root)
	if err != nil {
		parent.Release()
		return false, err
	}
	for PageTypeOf(cur.Data()) == PageTypeInternal {
		node, err := InternalPageFrom(cur.Data(), t.codec)
		if err != nil {
			cur.Release()
			parent.Release()
			return false, err
		}
		child := node.Lookup(key, t.cmp)
		next, err := t.bpm.ReadPage(child)
		if err != nil {
			cur.Release()
			parent.Release()
			return false, err
		}
		parent.Release()
		parent = cur
		cur = next
	}

	leafRead, err := LeafPageFrom(cur.Data(), t.codec)
	if err != nil {
		cur.Release()
		parent.Release()
		return false, err
	}
	leafID := cur.PageID()
	full := leafRead.GetSize() >= leafRead.GetMaxSize()
	cur.Release()
	if full {
		parent.Release()
		return false, nil
	}

	// Swap the leaf latch read-to-write while still holding the parent
	// read guard: a concurrent split would need the parent's write
	// latch first, so the leaf cannot move out from under us.
	w, err := t.bpm.WritePage(leafID)
	parent.Release()
	if err != nil {
		return false, err
	}
	defer w.Release()
	leaf, err := LeafPageFrom(w.Data(), t.codec)
	if err != nil {
		return false, err
	}
	if leaf.GetSize() >= leaf.GetMaxSize() {
		// another inserter filled it between our latches
		return false, nil
	}
	if !leaf.Insert(key, rid, t.cmp) {
		return true, diskmanager.ErrKeyAlreadyExists
	}
	return true, nil
}

func (t *BPlusTree[K]) insertPessimistic(key K, rid pagemanager.RID) error {
	ctx := &opContext{}
	defer ctx.releaseAll()

	hdr, err := t.bpm.WritePage(t.headerPageID)
	if err != nil {
		return err
	}
	ctx.header = hdr
	h, err := HeaderPageFrom(hdr.Data())
	if err != nil {
		return err
	}

	root := h.GetRootPageID()
	if root == pagemanager.InvalidPageID {
		return t.startNewTree(h, key, rid)
	}

	g, err := t.bpm.WritePage(root)
	if err != nil {
		return err
	}
	ctx.push(g)
	for PageTypeOf(ctx.last().Data()) == PageTypeInternal {
		node, err := InternalPageFrom(ctx.last().Data(), t.codec)
		if err != nil {
			return err
		}
		if node.GetSize() < node.GetMaxSize() {
			ctx.releaseAncestors()
		}
		idx := node.LookupIndex(key, t.cmp)
		cg, err := t.bpm.WritePage(node.ChildAt(idx))
		if err != nil {
			return err
		}
		ctx.pushChild(idx, cg)
	}

	leafGuard := ctx.last()
	leaf, err := LeafPageFrom(leafGuard.Data(), t.codec)
	if err != nil {
		return err
	}
	if leaf.GetSize() < leaf.GetMaxSize() {
		ctx.releaseAncestors()
	}
	if _, found := leaf.indexOfKey(key, t.cmp); found {
		return diskmanager.ErrKeyAlreadyExists
	}
	if leaf.GetSize() < leaf.GetMaxSize() {
		leaf.Insert(key, rid, t.cmp)
		return nil
	}

	// The insert overflows the leaf. Reserve every page the split
	// cascade will need before touching anything: a failed reservation
	// then aborts with the tree unchanged.
	splits := 1
	for level := len(ctx.writeSet) - 2; level >= 0; level-- {
		node, err := InternalPageFrom(ctx.writeSet[level].Data(), t.codec)
		if err != nil {
			return err
		}
		if node.GetSize() < node.GetMaxSize() {
			break
		}
		splits++
	}
	pagesNeeded := splits
	if splits == len(ctx.writeSet) && ctx.writeSet[0].PageID() == root {
		pagesNeeded++ // the root itself splits and a new root sits above it
	}
	fresh, err := t.reservePages(pagesNeeded)
	if err != nil {
		return err
	}
	defer fresh.releaseAll()

	leaf.Insert(key, rid, t.cmp)
	sep, newID, err := t.splitLeaf(leafGuard.PageID(), leaf, fresh.take())
	if err != nil {
		return err
	}
	leftID := leafGuard.PageID()

	// Propagate the split up the retained path. Running out of retained
	// ancestors means the root itself split.
	for level := len(ctx.writeSet) - 2; ; level-- {
		if level < 0 {
			p := fresh.take()
			rootNode, err := InitInternalPage(p.guard.Data(), t.codec, t.internalMaxSize)
			if err != nil {
				return err
			}
			rootNode.PopulateNewRoot(leftID, sep, newID)
			h.SetRootPageID(p.id)
			t.logger.Debug("root split",
				zap.Uint64("new_root", uint64(p.id)))
			return nil
		}
		parent, err := InternalPageFrom(ctx.writeSet[level].Data(), t.codec)
		if err != nil {
			return err
		}
		if err := parent.InsertAfter(leftID, sep, newID); err != nil {
			return err
		}
		if !parent.IsOverflow() {
			return nil
		}
		sep, newID, err = t.splitInternal(parent, fresh.take())
		if err != nil {
			return err
		}
		leftID = ctx.writeSet[level].PageID()
	}
}

// reservePages allocates and write-latches n fresh pages for a split
// cascade. On any failure everything acquired so far is returned to the
// disk manager and the error reported, leaving the tree untouched.
func (t *BPlusTree[K]) reservePages(n int) (*reservedPages, error) {
	r := &reservedPages{bpm: t.bpm, pages: make([]reservedPage, 0, n)}
	for i := 0; i < n; i++ {
		id, err := t.bpm.NewPageID()
		if err != nil {
			r.releaseAll()
			return nil, err
		}
		g, err := t.bpm.WritePage(id)
		if err != nil {
			_ = t.bpm.DeletePage(id)
			r.releaseAll()
			return nil, fmt.Errorf("reserving split page: %w", err)
		}
		r.pages = append(r.pages, reservedPage{id: id, guard: g})
	}
	return r, nil
}

// startNewTree creates a root leaf holding the first entry. Caller
// holds the header write guard.
func (t *BPlusTree[K]) startNewTree(h HeaderPage, key K, rid pagemanager.RID) error {
	rootID, err := t.bpm.NewPageID()
	if err != nil {
		return err
	}
	g, err := t.bpm.WritePage(rootID)
	if err != nil {
		_ = t.bpm.DeletePage(rootID)
		return err
	}
	defer g.Release()
	leaf, err := InitLeafPage(g.Data(), t.codec, t.leafMaxSize)
	if err != nil {
		return err
	}
	leaf.Insert(key, rid, t.cmp)
	h.SetRootPageID(rootID)
	t.logger.Debug("created root leaf", zap.Uint64("page_id", uint64(rootID)))
	return nil
}

// splitLeaf moves the upper half of an overflowing leaf into a reserved
// sibling page and returns the separator key (the sibling's first key)
// and the sibling's page id.
func (t *BPlusTree[K]) splitLeaf(leftID pagemanager.PageID, left LeafPage[K], p reservedPage) (K, pagemanager.PageID, error) {
	var zero K
	right, err := InitLeafPage(p.guard.Data(), t.codec, t.leafMaxSize)
	if err != nil {
		return zero, pagemanager.InvalidPageID, err
	}
	left.MoveUpperHalfTo(right, p.id)
	t.logger.Debug("split leaf",
		zap.Uint64("left", uint64(leftID)), zap.Uint64("right", uint64(p.id)))
	return right.KeyAt(0), p.id, nil
}

// splitInternal moves the upper half of an overflowing internal node
// into a reserved sibling page and returns the key pushed up.
func (t *BPlusTree[K]) splitInternal(left InternalPage[K], p reservedPage) (K, pagemanager.PageID, error) {
	var zero K
	right, err := InitInternalPage(p.guard.Data(), t.codec, t.internalMaxSize)
	if err != nil {
		return zero, pagemanager.InvalidPageID, err
	}
	pushUp := left.MoveUpperHalfTo(right)
	return pushUp, p.id, nil
}

// Remove deletes key from the tree, rebalancing by redistribution or
// merge as nodes underflow. ErrKeyNotFound when the key is absent.
func (t *BPlusTree[K]) Remove(key K) error {
	ctx := &opContext{}
	defer ctx.releaseAll()

	hdr, err := t.bpm.WritePage(t.headerPageID)
	if err != nil {
		return err
	}
	ctx.header = hdr
	h, err := HeaderPageFrom(hdr.Data())
	if err != nil {
		return err
	}
	rootID := h.GetRootPageID()
	if rootID == pagemanager.InvalidPageID {
		return diskmanager.ErrKeyNotFound
	}

	g, err := t.bpm.WritePage(rootID)
	if err != nil {
		return err
	}
	ctx.push(g)
	for PageTypeOf(ctx.last().Data()) == PageTypeInternal {
		node, err := InternalPageFrom(ctx.last().Data(), t.codec)
		if err != nil {
			return err
		}
		// The root is safe while it keeps >1 separator (no collapse);
		// any other node while it stays above minimum occupancy.
		safe := node.GetSize() > node.MinSize()
		if ctx.last().PageID() == rootID {
			safe = node.GetSize() > 1
		}
		if safe {
			ctx.releaseAncestors()
		}
		idx := node.LookupIndex(key, t.cmp)
		cg, err := t.bpm.WritePage(node.ChildAt(idx))
		if err != nil {
			return err
		}
		ctx.pushChild(idx, cg)
	}

	leafGuard := ctx.last()
	leaf, err := LeafPageFrom(leafGuard.Data(), t.codec)
	if err != nil {
		return err
	}
	safe := leaf.GetSize() > leaf.MinSize()
	if leafGuard.PageID() == rootID {
		safe = leaf.GetSize() > 1
	}
	if safe {
		ctx.releaseAncestors()
	}
	idx, found := leaf.indexOfKey(key, t.cmp)
	if !found {
		return diskmanager.ErrKeyNotFound
	}

	if leafGuard.PageID() == rootID {
		leaf.RemoveAt(idx)
		if leaf.GetSize() == 0 {
			h.SetRootPageID(pagemanager.InvalidPageID)
			id := leafGuard.PageID()
			leafGuard.Release()
			t.deletePage(id)
			t.logger.Debug("tree emptied")
		}
		return nil
	}
	if leaf.GetSize()-1 >= leaf.MinSize() {
		leaf.RemoveAt(idx)
		return nil
	}

	// The removal underflows the leaf. Latch every sibling the repair
	// will touch before mutating anything: a failed acquisition then
	// aborts with the tree unchanged.
	plan, err := t.planRebalance(ctx, rootID)
	if err != nil {
		return err
	}
	defer plan.release()

	leaf.RemoveAt(idx)
	return t.executeRebalance(ctx, h, rootID, plan)
}

// planRebalance decides, bottom-up, how each underflowing level of the
// retained latch path will be repaired and latches the sibling each
// step operates on. Nothing is mutated here: on an acquisition failure
// every latched sibling is released and the caller abandons the
// removal with the tree intact.
func (t *BPlusTree[K]) planRebalance(ctx *opContext, rootID pagemanager.PageID) (*rebalancePlan, error) {
	plan := &rebalancePlan{}
	for level := len(ctx.writeSet) - 1; level > 0; level-- {
		parent, err := InternalPageFrom(ctx.writeSet[level-1].Data(), t.codec)
		if err != nil {
			plan.release()
			return nil, err
		}
		step, borrowed, err := t.planLevel(parent, ctx.indexes[level-1])
		if err != nil {
			plan.release()
			return nil, err
		}
		plan.steps = append(plan.steps, step)
		if borrowed {
			return plan, nil
		}
		// A merge costs the parent one separator. Stop when the parent
		// stays valid; the root only collapses at zero separators and
		// needs no sibling for that.
		if ctx.writeSet[level-1].PageID() == rootID {
			return plan, nil
		}
		if parent.GetSize()-1 >= parent.MinSize() {
			return plan, nil
		}
	}
	return plan, nil
}

// planLevel picks the repair for one underflowing node: borrow from a
// sibling with spare entries, else merge with one. Reports whether the
// step is a borrow, which ends the cascade.
func (t *BPlusTree[K]) planLevel(parent InternalPage[K], idxInParent int) (rebalanceStep, bool, error) {
	spare := func(g *buffer.WritePageGuard) (bool, error) {
		if PageTypeOf(g.Data()) == PageTypeLeaf {
			sib, err := LeafPageFrom(g.Data(), t.codec)
			if err != nil {
				return false, err
			}
			return sib.GetSize() > sib.MinSize(), nil
		}
		sib, err := InternalPageFrom(g.Data(), t.codec)
		if err != nil {
			return false, err
		}
		return sib.GetSize() > sib.MinSize(), nil
	}

	var leftGuard *buffer.WritePageGuard
	if idxInParent > 0 {
		g, err := t.bpm.WritePage(parent.ChildAt(idxInParent - 1))
		if err != nil {
			return rebalanceStep{}, false, fmt.Errorf("latching left sibling: %w", err)
		}
		ok, err := spare(g)
		if err != nil {
			g.Release()
			return rebalanceStep{}, false, err
		}
		if ok {
			return rebalanceStep{mode: rebalanceBorrowLeft, sibling: g}, true, nil
		}
		leftGuard = g
	}
	if idxInParent < parent.GetSize() {
		g, err := t.bpm.WritePage(parent.ChildAt(idxInParent + 1))
		if err != nil {
			if leftGuard != nil {
				leftGuard.Release()
			}
			return rebalanceStep{}, false, fmt.Errorf("latching right sibling: %w", err)
		}
		ok, err := spare(g)
		if err != nil {
			g.Release()
			if leftGuard != nil {
				leftGuard.Release()
			}
			return rebalanceStep{}, false, err
		}
		if ok {
			if leftGuard != nil {
				leftGuard.Release()
			}
			return rebalanceStep{mode: rebalanceBorrowRight, sibling: g}, true, nil
		}
		if leftGuard == nil {
			return rebalanceStep{mode: rebalanceMergeRight, sibling: g}, false, nil
		}
		g.Release()
	}
	return rebalanceStep{mode: rebalanceMergeLeft, sibling: leftGuard}, false, nil
}

// executeRebalance applies a planned repair bottom-up. Every latch the
// steps need is already held, so no step can fail on acquisition.
func (t *BPlusTree[K]) executeRebalance(ctx *opContext, h HeaderPage, rootID pagemanager.PageID, plan *rebalancePlan) error {
	level := len(ctx.writeSet) - 1
	for _, step := range plan.steps {
		parent, err := InternalPageFrom(ctx.writeSet[level-1].Data(), t.codec)
		if err != nil {
			return err
		}
		idxInParent := ctx.indexes[level-1]
		g := ctx.writeSet[level]

		if PageTypeOf(g.Data()) == PageTypeLeaf {
			err = t.applyLeafStep(g, parent, idxInParent, step)
		} else {
			err = t.applyInternalStep(g, parent, idxInParent, step)
		}
		if err != nil {
			return err
		}
		level--
	}

	// A merge chain that consumed the root's last separator leaves the
	// root with a single child, which takes its place.
	top := ctx.writeSet[level]
	if top.PageID() != rootID || PageTypeOf(top.Data()) != PageTypeInternal {
		return nil
	}
	node, err := InternalPageFrom(top.Data(), t.codec)
	if err != nil {
		return err
	}
	if node.GetSize() == 0 {
		h.SetRootPageID(node.ChildAt(0))
		id := top.PageID()
		top.Release()
		t.deletePage(id)
		t.logger.Debug("root collapsed",
			zap.Uint64("new_root", uint64(h.GetRootPageID())))
	}
	return nil
}

// applyLeafStep repairs an underflowing leaf using its pre-latched
// sibling. Borrows refresh the parent's separator; merges drop it and
// free the emptied page.
func (t *BPlusTree[K]) applyLeafStep(g *buffer.WritePageGuard, parent InternalPage[K], idxInParent int, step rebalanceStep) error {
	cur, err := LeafPageFrom(g.Data(), t.codec)
	if err != nil {
		return err
	}
	sib, err := LeafPageFrom(step.sibling.Data(), t.codec)
	if err != nil {
		return err
	}
	switch step.mode {
	case rebalanceBorrowLeft:
		sib.MoveLastToFrontOf(cur)
		parent.SetKeyAt(idxInParent-1, cur.KeyAt(0))
	case rebalanceBorrowRight:
		sib.MoveFirstToEndOf(cur)
		parent.SetKeyAt(idxInParent, sib.KeyAt(0))
	case rebalanceMergeLeft:
		cur.MoveAllTo(sib)
		parent.RemoveAt(idxInParent - 1)
		id := g.PageID()
		g.Release()
		t.deletePage(id)
	case rebalanceMergeRight:
		sib.MoveAllTo(cur)
		parent.RemoveAt(idxInParent)
		id := step.sibling.PageID()
		step.sibling.Release()
		t.deletePage(id)
	}
	return nil
}

// applyInternalStep is the internal-node counterpart of applyLeafStep;
// borrows and merges rotate through the parent's separator key.
func (t *BPlusTree[K]) applyInternalStep(g *buffer.WritePageGuard, parent InternalPage[K], idxInParent int, step rebalanceStep) error {
	cur, err := InternalPageFrom(g.Data(), t.codec)
	if err != nil {
		return err
	}
	sib, err := InternalPageFrom(step.sibling.Data(), t.codec)
	if err != nil {
		return err
	}
	switch step.mode {
	case rebalanceBorrowLeft:
		sep := parent.KeyAt(idxInParent - 1)
		parent.SetKeyAt(idxInParent-1, sib.MoveLastToFrontOf(cur, sep))
	case rebalanceBorrowRight:
		sep := parent.KeyAt(idxInParent)
		parent.SetKeyAt(idxInParent, sib.MoveFirstToEndOf(cur, sep))
	case rebalanceMergeLeft:
		cur.MoveAllTo(sib, parent.KeyAt(idxInParent-1))
		parent.RemoveAt(idxInParent - 1)
		id := g.PageID()
		g.Release()
		t.deletePage(id)
	case rebalanceMergeRight:
		sib.MoveAllTo(cur, parent.KeyAt(idxInParent))
		parent.RemoveAt(idxInParent)
		id := step.sibling.PageID()
		step.sibling.Release()
		t.deletePage(id)
	}
	return nil
}

// deletePage returns a merged-away page to the disk manager. A reader
// racing us may still hold a pin (an iterator following a sibling
// link); the page then simply stays allocated, which is harmless.
func (t *BPlusTree[K]) deletePage(id pagemanager.PageID) {
	if err := t.bpm.DeletePage(id); err != nil {
		if errors.Is(err, diskmanager.ErrPagePinned) {
			t.logger.Debug("deferred page delete, still pinned",
				zap.Uint64("page_id", uint64(id)))
			return
		}
		t.logger.Warn("delete page failed",
			zap.Uint64("page_id", uint64(id)), zap.Error(err))
	}
}

package btree

import (
	"github.com/gravel-db/graveldb/core/buffer"
	pagemanager "github.com/gravel-db/graveldb/core/storage/page_manager"
)

// opContext is the per-operation latch stack for write descents. It
// owns the header guard and the root-to-current chain of write guards,
// acquired top-down. Guards are released in reverse acquisition order;
// since guard Release is idempotent, releaseAll can be deferred as a
// backstop for every exit path while the operation releases ancestors
// early as nodes prove safe.
type opContext struct {
	header   *buffer.WritePageGuard
	writeSet []*buffer.WritePageGuard

	// indexes[i] is the child slot taken from writeSet[i] into
	// writeSet[i+1]; underflow handling uses it to locate siblings.
	indexes []int
}

// push appends the next guard of the descent.
func (ctx *opContext) push(g *buffer.WritePageGuard) {
	ctx.writeSet = append(ctx.writeSet, g)
}

// pushChild appends the guard of the child reached through slot idx of
// the current node.
func (ctx *opContext) pushChild(idx int, g *buffer.WritePageGuard) {
	ctx.indexes = append(ctx.indexes, idx)
	ctx.writeSet = append(ctx.writeSet, g)
}

// last returns the deepest held guard.
func (ctx *opContext) last() *buffer.WritePageGuard {
	return ctx.writeSet[len(ctx.writeSet)-1]
}

// releaseAncestors drops the header guard and every guard above the
// current node. Called once the current node is proven safe: no split
// or merge can propagate past it.
func (ctx *opContext) releaseAncestors() {
	n := len(ctx.writeSet)
	for i := n - 2; i >= 0; i-- {
		ctx.writeSet[i].Release()
	}
	ctx.writeSet[0] = ctx.writeSet[n-1]
	ctx.writeSet = ctx.writeSet[:1]
	ctx.indexes = ctx.indexes[:0]
	if ctx.header != nil {
		ctx.header.Release()
	}
}

// releaseAll drops every held guard, deepest first.
func (ctx *opContext) releaseAll() {
	for i := len(ctx.writeSet) - 1; i >= 0; i-- {
		ctx.writeSet[i].Release()
	}
	ctx.writeSet = ctx.writeSet[:0]
	ctx.indexes = ctx.indexes[:0]
	if ctx.header != nil {
		ctx.header.Release()
	}
}

// reservedPage is a freshly allocated page held under a write latch for
// a structural change that has not happened yet.
type reservedPage struct {
	id    pagemanager.PageID
	guard *buffer.WritePageGuard
}

// reservedPages hands out pages reserved up front for a split cascade,
// so every acquisition that can fail happens before the first mutation.
type reservedPages struct {
	bpm   *buffer.BufferPoolManager
	pages []reservedPage
	next  int
}

// take hands out the next reserved page. The caller links it into the
// tree; its guard stays held until releaseAll.
func (r *reservedPages) take() reservedPage {
	p := r.pages[r.next]
	r.next++
	return p
}

// releaseAll unlatches every reserved page and returns the untaken ones
// to the disk manager.
func (r *reservedPages) releaseAll() {
	for i, p := range r.pages {
		p.guard.Release()
		if i >= r.next {
			_ = r.bpm.DeletePage(p.id)
		}
	}
	r.pages = nil
	r.next = 0
}

// rebalanceMode says how a planned step repairs an underflowing node.
type rebalanceMode int

const (
	rebalanceBorrowLeft rebalanceMode = iota
	rebalanceBorrowRight
	rebalanceMergeLeft
	rebalanceMergeRight
)

// rebalanceStep is one level of a planned underflow repair: the mode
// and the pre-latched sibling it operates on.
type rebalanceStep struct {
	mode    rebalanceMode
	sibling *buffer.WritePageGuard
}

// rebalancePlan is the bottom-up repair for one removal, ordered leaf
// first. All sibling latches are acquired during planning, before the
// removal mutates anything.
type rebalancePlan struct {
	steps []rebalanceStep
}

// release unlatches every planned sibling; guards already released
// during execution are skipped by Release's idempotence.
func (p *rebalancePlan) release() {
	for i := len(p.steps) - 1; i >= 0; i-- {
		p.steps[i].sibling.Release()
	}
	p.steps = nil
}

package buffer

import (
	pagemanager "github.com/gravel-db/graveldb/core/storage/page_manager"
)

// Page guards scope access to a page's bytes. A guard holds one pin and
// the page latch from acquisition until Release; the bytes returned by
// Data must not be referenced after Release. Guards belong to a single
// goroutine and Release is idempotent, so it is safe to defer a Release
// that may already have happened on an early-exit path.

// ReadPageGuard holds a shared latch on a page.
type ReadPageGuard struct {
	bpm      *BufferPoolManager
	page     *pagemanager.Page
	pageID   pagemanager.PageID
	released bool
}

// ReadPage pins pageID and acquires its shared latch. Blocks until the
// latch is available; the pin taken first keeps the frame from being
// evicted while this caller waits.
func (bpm *BufferPoolManager) ReadPage(pageID pagemanager.PageID) (*ReadPageGuard, error) {
	page, err := bpm.FetchPage(pageID)
	if err != nil {
		return nil, err
	}
	page.RLock()
	return &ReadPageGuard{bpm: bpm, page: page, pageID: pageID}, nil
}

// PageID returns the guarded page's id.
func (g *ReadPageGuard) PageID() pagemanager.PageID { return g.pageID }

// Data returns the page bytes. Valid only until Release.
func (g *ReadPageGuard) Data() []byte { return g.page.GetData() }

// Release unlatches and unpins the page. Safe to call more than once.
func (g *ReadPageGuard) Release() {
	if g.released {
		return
	}
	g.released = true
	g.page.RUnlock()
	// Unpin after unlatching so a zero pin count implies no latch
	// holder is left on the frame.
	_ = g.bpm.UnpinPage(g.pageID, false)
}

// WritePageGuard holds an exclusive latch on a page. Releasing it marks
// the page dirty.
type WritePageGuard struct {
	bpm      *BufferPoolManager
	page     *pagemanager.Page
	pageID   pagemanager.PageID
	released bool
}

// WritePage pins pageID and acquires its exclusive latch.
func (bpm *BufferPoolManager) WritePage(pageID pagemanager.PageID) (*WritePageGuard, error) {
	page, err := bpm.FetchPage(pageID)
	if err != nil {
		return nil, err
	}
	page.Lock()
	return &WritePageGuard{bpm: bpm, page: page, pageID: pageID}, nil
}

// PageID returns the guarded page's id.
func (g *WritePageGuard) PageID() pagemanager.PageID { return g.pageID }

// Data returns the page bytes for mutation. Valid only until Release.
func (g *WritePageGuard) Data() []byte { return g.page.GetData() }

// Release unlatches the page, marking it dirty, and drops the pin. Safe
// to call more than once.
func (g *WritePageGuard) Release() {
	if g.released {
		return
	}
	g.released = true
	g.page.Unlock()
	_ = g.bpm.UnpinPage(g.pageID, true)
}

package pagemanager

import (
	"sync"
)

// PageID is the unique identifier of a page on disk.
type PageID uint64

// InvalidPageID marks an unallocated page reference. Page 0 is the
// reserved file header, so 0 never refers to a live data page.
const InvalidPageID PageID = 0

// RID identifies a record in a table heap: the page holding the record
// and its slot within that page. RIDs are the only value type stored in
// the index.
type RID struct {
	PageID  PageID
	SlotNum uint32
}

// RIDSize is the serialized width of a RID.
const RIDSize = 12

// Page is a buffer-pool frame: an in-memory copy of one disk page plus
// the bookkeeping the pool needs (pin count, dirty flag) and a latch
// protecting the page contents.
type Page struct {
	id       PageID
	data     []byte
	pinCount uint32
	isDirty  bool

	// latch guards the page bytes, not the bookkeeping fields; those
	// are protected by the buffer pool's own mutex.
	latch sync.RWMutex
}

// NewPage creates an empty frame of the given page size.
func NewPage(id PageID, size int) *Page {
	return &Page{
		id:   id,
		data: make([]byte, size),
	}
}

// Reset returns the frame to its unallocated state. The data is zeroed
// so a reused frame cannot leak bytes of the page it used to hold.
func (p *Page) Reset() {
	p.id = InvalidPageID
	p.pinCount = 0
	p.isDirty = false
	for i := range p.data {
		p.data[i] = 0
	}
}

func (p *Page) GetData() []byte     { return p.data }
func (p *Page) GetPageID() PageID   { return p.id }
func (p *Page) SetPageID(id PageID) { p.id = id }
func (p *Page) IsDirty() bool       { return p.isDirty }
func (p *Page) SetDirty(dirty bool) { p.isDirty = dirty }
func (p *Page) Pin()                { p.pinCount++ }
func (p *Page) Unpin() {
	if p.pinCount > 0 {
		p.pinCount--
	}
}
func (p *Page) GetPinCount() uint32 { return p.pinCount }

// RLock acquires a shared latch on the page contents.
func (p *Page) RLock() { p.latch.RLock() }

// RUnlock releases a shared latch.
func (p *Page) RUnlock() { p.latch.RUnlock() }

// Lock acquires an exclusive latch on the page contents.
func (p *Page) Lock() { p.latch.Lock() }

// Unlock releases an exclusive latch.
func (p *Page) Unlock() { p.latch.Unlock() }

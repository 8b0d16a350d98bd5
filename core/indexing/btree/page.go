// Package btree implements a disk-backed B+Tree index over buffer-pool
// pages. Pages are plain byte blocks owned by the buffer pool; this
// package interprets them through typed views validated against the
// page's type tag.
package btree

import (
	"encoding/binary"
	"fmt"

	diskmanager "github.com/gravel-db/graveldb/core/storage/disk_manager"
	pagemanager "github.com/gravel-db/graveldb/core/storage/page_manager"
)

// PageType tags the interpretation of a tree page.
type PageType uint32

const (
	PageTypeInvalid  PageType = 0
	PageTypeHeader   PageType = 1
	PageTypeInternal PageType = 2
	PageTypeLeaf     PageType = 3
)

func (t PageType) String() string {
	switch t {
	case PageTypeHeader:
		return "header"
	case PageTypeInternal:
		return "internal"
	case PageTypeLeaf:
		return "leaf"
	default:
		return "invalid"
	}
}

// Common node header layout, shared by leaf and internal pages:
//
//	offset 0: page type  (uint32)
//	offset 4: size       (uint32) - live entry count
//	offset 8: max size   (uint32) - capacity before a split is required
const (
	offPageType    = 0
	offSize        = 4
	offMaxSize     = 8
	nodeHeaderSize = 12
)

// PageTypeOf reads the type tag of a raw page.
func PageTypeOf(data []byte) PageType {
	return PageType(binary.LittleEndian.Uint32(data[offPageType:]))
}

// nodeView is the shared header accessor embedded in the typed views.
// Views never own the bytes; they borrow them from a page guard.
type nodeView struct {
	data []byte
}

func (v nodeView) setPageType(t PageType) {
	binary.LittleEndian.PutUint32(v.data[offPageType:], uint32(t))
}

// GetSize returns the number of live entries.
func (v nodeView) GetSize() int {
	return int(binary.LittleEndian.Uint32(v.data[offSize:]))
}

func (v nodeView) setSize(n int) {
	binary.LittleEndian.PutUint32(v.data[offSize:], uint32(n))
}

// GetMaxSize returns the node's capacity before a split is required.
func (v nodeView) GetMaxSize() int {
	return int(binary.LittleEndian.Uint32(v.data[offMaxSize:]))
}

func (v nodeView) setMaxSize(n int) {
	binary.LittleEndian.PutUint32(v.data[offMaxSize:], uint32(n))
}

// expectPageType rejects a view over a page whose tag does not match.
// A mismatch means the caller followed a stale or corrupt page
// reference; it is a defect, never a runtime condition to retry.
func expectPageType(data []byte, want PageType) error {
	if got := PageTypeOf(data); got != want {
		return fmt.Errorf("%w: expected %s page, found %s",
			diskmanager.ErrInvalidPageData, want, got)
	}
	return nil
}

func readPageID(b []byte) pagemanager.PageID {
	return pagemanager.PageID(binary.LittleEndian.Uint64(b))
}

func writePageID(b []byte, id pagemanager.PageID) {
	binary.LittleEndian.PutUint64(b, uint64(id))
}

func readRID(b []byte) pagemanager.RID {
	return pagemanager.RID{
		PageID:  pagemanager.PageID(binary.LittleEndian.Uint64(b)),
		SlotNum: binary.LittleEndian.Uint32(b[8:]),
	}
}

func writeRID(b []byte, rid pagemanager.RID) {
	binary.LittleEndian.PutUint64(b, uint64(rid.PageID))
	binary.LittleEndian.PutUint32(b[8:], rid.SlotNum)
}

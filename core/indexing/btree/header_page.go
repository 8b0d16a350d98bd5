package btree

import (
	pagemanager "github.com/gravel-db/graveldb/core/storage/page_manager"
)

// The header page is the tree's single persisted anchor: one slot
// holding the current root page id, or InvalidPageID for an empty tree.
//
//	offset 0:  page type (uint32), PageTypeHeader
//	offset 12: root page id (uint64)
const offRootPageID = nodeHeaderSize

// HeaderPage is a typed view over the tree's header page.
type HeaderPage struct {
	nodeView
}

// InitHeaderPage formats a raw page as a header page with an empty-tree
// root pointer.
func InitHeaderPage(data []byte) HeaderPage {
	h := HeaderPage{nodeView{data}}
	h.setPageType(PageTypeHeader)
	h.setSize(0)
	h.setMaxSize(0)
	h.SetRootPageID(pagemanager.InvalidPageID)
	return h
}

// HeaderPageFrom builds a view over an existing header page, rejecting
// pages with the wrong type tag.
func HeaderPageFrom(data []byte) (HeaderPage, error) {
	if err := expectPageType(data, PageTypeHeader); err != nil {
		return HeaderPage{}, err
	}
	return HeaderPage{nodeView{data}}, nil
}

// GetRootPageID returns the current root, or InvalidPageID when the
// tree is empty.
func (h HeaderPage) GetRootPageID() pagemanager.PageID {
	return readPageID(h.data[offRootPageID:])
}

// SetRootPageID updates the persisted root pointer.
func (h HeaderPage) SetRootPageID(id pagemanager.PageID) {
	writePageID(h.data[offRootPageID:], id)
}

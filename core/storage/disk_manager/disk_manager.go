// Package diskmanager persists fixed-size pages to a single database
// file. Page 0 is reserved for the file header; data pages start at 1.
package diskmanager

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	pagemanager "github.com/gravel-db/graveldb/core/storage/page_manager"
	"go.uber.org/zap"
)

const (
	// DefaultPageSize is the page size used when callers have no reason
	// to pick another one.
	DefaultPageSize = 4096

	// DBMagic identifies a GravelDB data file.
	DBMagic uint32 = 0x64A7E1DB

	fileHeaderSize = 64
	formatVersion  = 1
)

// fileHeader is the on-disk layout of page 0. All fields are fixed-size
// so binary.Read/Write round-trip it byte-for-byte.
type fileHeader struct {
	Magic    uint32
	Version  uint32
	PageSize uint32
	_        [fileHeaderSize - 3*4]byte // pad to fileHeaderSize
}

// DiskManager reads and writes pages at pageID*pageSize offsets. All
// methods are safe for concurrent use.
type DiskManager struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	pageSize int
	numPages uint64 // total pages in the file, header page included

	// freePages holds deallocated page ids for reuse. In-memory only:
	// after a reopen the file simply grows from its end again.
	freePages []pagemanager.PageID

	logger *zap.Logger
}

// NewDiskManager opens the database file at filePath, creating and
// initializing it if it does not exist. An existing file is validated
// against the magic number and the configured page size.
func NewDiskManager(filePath string, pageSize int, logger *zap.Logger) (*DiskManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dm := &DiskManager{
		filePath: filePath,
		pageSize: pageSize,
		logger:   logger,
	}

	_, statErr := os.Stat(filePath)
	switch {
	case os.IsNotExist(statErr):
		file, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
		if err != nil {
			return nil, fmt.Errorf("%w: creating file %s: %v", ErrIO, filePath, err)
		}
		dm.file = file
		if err := dm.writeHeader(); err != nil {
			_ = file.Close()
			_ = os.Remove(filePath)
			return nil, err
		}
		// Page 0 is the header; the first data page will be page 1.
		dm.numPages = 1
		logger.Info("created database file",
			zap.String("path", filePath), zap.Int("page_size", pageSize))

	case statErr == nil:
		file, err := os.OpenFile(filePath, os.O_RDWR, 0666)
		if err != nil {
			return nil, fmt.Errorf("%w: opening file %s: %v", ErrIO, filePath, err)
		}
		dm.file = file
		if err := dm.validateHeader(); err != nil {
			_ = file.Close()
			return nil, err
		}
		fi, err := file.Stat()
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("%w: stating file %s: %v", ErrIO, filePath, err)
		}
		dm.numPages = uint64(fi.Size()) / uint64(pageSize)
		if dm.numPages == 0 {
			dm.numPages = 1
		}
		logger.Info("opened database file",
			zap.String("path", filePath), zap.Uint64("pages", dm.numPages))

	default:
		return nil, fmt.Errorf("%w: stating file %s: %v", ErrIO, filePath, statErr)
	}

	return dm, nil
}

func (dm *DiskManager) writeHeader() error {
	header := fileHeader{
		Magic:    DBMagic,
		Version:  formatVersion,
		PageSize: uint32(dm.pageSize),
	}
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("%w: serializing file header: %v", ErrInvalidPageData, err)
	}
	if _, err := dm.file.WriteAt(buf.Bytes(), 0); err != nil {
		return fmt.Errorf("%w: writing file header: %v", ErrIO, err)
	}
	return dm.file.Sync()
}

func (dm *DiskManager) validateHeader() error {
	data := make([]byte, fileHeaderSize)
	n, err := dm.file.ReadAt(data, 0)
	if err != nil && !(err == io.EOF && n == fileHeaderSize) {
		return fmt.Errorf("%w: reading file header: %v", ErrIO, err)
	}
	var header fileHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("%w: deserializing file header: %v", ErrInvalidPageData, err)
	}
	if header.Magic != DBMagic {
		return fmt.Errorf("%w: got 0x%x", ErrInvalidMagic, header.Magic)
	}
	if header.PageSize != uint32(dm.pageSize) {
		return fmt.Errorf("%w: file has %d, configured %d",
			ErrPageSizeMismatch, header.PageSize, dm.pageSize)
	}
	return nil
}

// GetPageSize returns the configured page size.
func (dm *DiskManager) GetPageSize() int { return dm.pageSize }

// NumPages returns the number of pages in the file, header included.
func (dm *DiskManager) NumPages() uint64 {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.numPages
}

// ReadPage reads a page's bytes into pageData, which must be exactly one
// page long.
func (dm *DiskManager) ReadPage(pageID pagemanager.PageID, pageData []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return fmt.Errorf("%w: file not open", ErrIO)
	}
	if len(pageData) != dm.pageSize {
		return fmt.Errorf("%w: page buffer size (%d) != page size (%d)",
			ErrInvalidPageData, len(pageData), dm.pageSize)
	}
	if uint64(pageID) >= dm.numPages {
		return fmt.Errorf("%w: page %d beyond end of file (%d pages)",
			ErrPageNotFound, pageID, dm.numPages)
	}
	offset := int64(pageID) * int64(dm.pageSize)
	n, err := dm.file.ReadAt(pageData, offset)
	if err != nil {
		if err == io.EOF {
			return fmt.Errorf("%w: EOF reading page %d at offset %d", ErrIO, pageID, offset)
		}
		return fmt.Errorf("%w: reading page %d at offset %d: %v", ErrIO, pageID, offset, err)
	}
	if n != dm.pageSize {
		return fmt.Errorf("%w: short read for page %d, expected %d, got %d",
			ErrIO, pageID, dm.pageSize, n)
	}
	return nil
}

// WritePage writes pageData at pageID's offset. Durability is the
// caller's concern: the buffer pool syncs on flush-all and close, not on
// every page write.
func (dm *DiskManager) WritePage(pageID pagemanager.PageID, pageData []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return fmt.Errorf("%w: file not open", ErrIO)
	}
	if len(pageData) != dm.pageSize {
		return fmt.Errorf("%w: page buffer size (%d) != page size (%d)",
			ErrInvalidPageData, len(pageData), dm.pageSize)
	}
	offset := int64(pageID) * int64(dm.pageSize)
	if _, err := dm.file.WriteAt(pageData, offset); err != nil {
		return fmt.Errorf("%w: writing page %d at offset %d: %v", ErrIO, pageID, offset, err)
	}
	return nil
}

// AllocatePage returns a fresh page id, reusing a deallocated page when
// one is available and extending the file otherwise.
func (dm *DiskManager) AllocatePage() (pagemanager.PageID, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return pagemanager.InvalidPageID, fmt.Errorf("%w: file not open", ErrIO)
	}

	if n := len(dm.freePages); n > 0 {
		pageID := dm.freePages[n-1]
		dm.freePages = dm.freePages[:n-1]
		// Zero the reused page so a later read cannot observe bytes
		// of the page it used to be.
		empty := make([]byte, dm.pageSize)
		offset := int64(pageID) * int64(dm.pageSize)
		if _, err := dm.file.WriteAt(empty, offset); err != nil {
			return pagemanager.InvalidPageID,
				fmt.Errorf("%w: zeroing reused page %d: %v", ErrIO, pageID, err)
		}
		return pageID, nil
	}

	newPageID := pagemanager.PageID(dm.numPages)
	empty := make([]byte, dm.pageSize)
	offset := int64(newPageID) * int64(dm.pageSize)
	if _, err := dm.file.WriteAt(empty, offset); err != nil {
		return pagemanager.InvalidPageID,
			fmt.Errorf("%w: extending file for new page %d: %v", ErrIO, newPageID, err)
	}
	dm.numPages++
	return newPageID, nil
}

// DeallocatePage returns a page id to the free list for reuse.
func (dm *DiskManager) DeallocatePage(pageID pagemanager.PageID) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if pageID == pagemanager.InvalidPageID || uint64(pageID) >= dm.numPages {
		return fmt.Errorf("%w: cannot deallocate page %d", ErrInvalidPageData, pageID)
	}
	dm.freePages = append(dm.freePages, pageID)
	return nil
}

// Sync flushes all buffered writes to stable storage.
func (dm *DiskManager) Sync() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file != nil {
		return dm.file.Sync()
	}
	return nil
}

// Close syncs and closes the underlying file.
func (dm *DiskManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return nil
	}
	if err := dm.file.Sync(); err != nil {
		dm.logger.Error("sync on close failed", zap.Error(err))
	}
	err := dm.file.Close()
	dm.file = nil
	return err
}

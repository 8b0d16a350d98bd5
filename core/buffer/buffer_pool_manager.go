package buffer

import (
	"context"
	"fmt"
	"sync"

	diskmanager "github.com/gravel-db/graveldb/core/storage/disk_manager"
	pagemanager "github.com/gravel-db/graveldb/core/storage/page_manager"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// BufferPoolManager caches disk pages in a fixed set of frames and
// consults the LRU-K replacer when a miss needs a frame and none is
// free. Page contents are handed out through latched guards; the pool's
// own mutex only covers the frame bookkeeping, never a page latch or
// disk read issued on behalf of a guard holder.
type BufferPoolManager struct {
	diskManager *diskmanager.DiskManager
	poolSize    int
	pages       []*pagemanager.Page
	pageTable   map[pagemanager.PageID]FrameID
	freeList    []FrameID
	replacer    *LRUKReplacer
	mu          sync.Mutex
	pageSize    int

	logger  *zap.Logger
	metrics *poolMetrics
}

// poolMetrics holds the pool's OpenTelemetry instruments. A nil counter
// simply drops the measurement, so metrics are optional.
type poolMetrics struct {
	hits      metric.Int64Counter
	misses    metric.Int64Counter
	evictions metric.Int64Counter
	flushes   metric.Int64Counter
}

func newPoolMetrics(meter metric.Meter, logger *zap.Logger) *poolMetrics {
	m := &poolMetrics{}
	var err error
	if m.hits, err = meter.Int64Counter("graveldb.bufferpool.hits"); err != nil {
		logger.Warn("failed to create hit counter", zap.Error(err))
	}
	if m.misses, err = meter.Int64Counter("graveldb.bufferpool.misses"); err != nil {
		logger.Warn("failed to create miss counter", zap.Error(err))
	}
	if m.evictions, err = meter.Int64Counter("graveldb.bufferpool.evictions"); err != nil {
		logger.Warn("failed to create eviction counter", zap.Error(err))
	}
	if m.flushes, err = meter.Int64Counter("graveldb.bufferpool.flushes"); err != nil {
		logger.Warn("failed to create flush counter", zap.Error(err))
	}
	return m
}

func (m *poolMetrics) add(c metric.Int64Counter) {
	if c != nil {
		c.Add(context.Background(), 1)
	}
}

// NewBufferPoolManager creates a pool of poolSize frames over the given
// disk manager, evicting with LRU-K over the last replacerK accesses.
func NewBufferPoolManager(poolSize, replacerK int, diskManager *diskmanager.DiskManager,
	logger *zap.Logger, meter metric.Meter) *BufferPoolManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	bpm := &BufferPoolManager{
		diskManager: diskManager,
		poolSize:    poolSize,
		pages:       make([]*pagemanager.Page, poolSize),
		pageTable:   make(map[pagemanager.PageID]FrameID),
		freeList:    make([]FrameID, 0, poolSize),
		replacer:    NewLRUKReplacer(poolSize, replacerK),
		pageSize:    diskManager.GetPageSize(),
		logger:      logger,
	}
	for i := 0; i < poolSize; i++ {
		bpm.pages[i] = pagemanager.NewPage(pagemanager.InvalidPageID, bpm.pageSize)
		bpm.freeList = append(bpm.freeList, FrameID(i))
	}
	if meter != nil {
		bpm.metrics = newPoolMetrics(meter, logger)
	}
	logger.Info("buffer pool initialized",
		zap.Int("pool_size", poolSize), zap.Int("replacer_k", replacerK),
		zap.Int("page_size", bpm.pageSize))
	return bpm
}

// GetPageSize returns the pool's page size.
func (bpm *BufferPoolManager) GetPageSize() int { return bpm.pageSize }

// NewPageID allocates a fresh page on disk and returns its id. The page
// is not brought into the pool; the first WritePage guard does that.
func (bpm *BufferPoolManager) NewPageID() (pagemanager.PageID, error) {
	return bpm.diskManager.AllocatePage()
}

// FetchPage pins the requested page, loading it from disk into a free
// or evicted frame on a miss. The caller owns one pin and must balance
// it with UnpinPage.
func (bpm *BufferPoolManager) FetchPage(pageID pagemanager.PageID) (*pagemanager.Page, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	// 1. Resident: pin and record the access.
	if frameID, ok := bpm.pageTable[pageID]; ok {
		page := bpm.pages[frameID]
		page.Pin()
		if err := bpm.replacer.RecordAccess(frameID); err != nil {
			return nil, err
		}
		if err := bpm.replacer.SetEvictable(frameID, false); err != nil {
			return nil, err
		}
		if bpm.metrics != nil {
			bpm.metrics.add(bpm.metrics.hits)
		}
		return page, nil
	}

	// 2. Miss: take a frame from the free list or evict a victim.
	frameID, err := bpm.acquireFrameLocked()
	if err != nil {
		return nil, err
	}
	page := bpm.pages[frameID]

	// 3. Load the page bytes from disk.
	if err := bpm.diskManager.ReadPage(pageID, page.GetData()); err != nil {
		page.Reset()
		bpm.freeList = append(bpm.freeList, frameID)
		return nil, fmt.Errorf("failed to read page %d from disk: %w", pageID, err)
	}

	// 4. Track the new resident.
	page.SetPageID(pageID)
	page.Pin()
	page.SetDirty(false)
	bpm.pageTable[pageID] = frameID
	if err := bpm.replacer.RecordAccess(frameID); err != nil {
		return nil, err
	}
	if err := bpm.replacer.SetEvictable(frameID, false); err != nil {
		return nil, err
	}
	if bpm.metrics != nil {
		bpm.metrics.add(bpm.metrics.misses)
	}
	return page, nil
}

// acquireFrameLocked finds a frame for a new resident, flushing an
// evicted victim first if it is dirty. Must be called with bpm.mu held.
func (bpm *BufferPoolManager) acquireFrameLocked() (FrameID, error) {
	if n := len(bpm.freeList); n > 0 {
		frameID := bpm.freeList[n-1]
		bpm.freeList = bpm.freeList[:n-1]
		return frameID, nil
	}

	frameID, ok := bpm.replacer.Evict()
	if !ok {
		bpm.logger.Warn("buffer pool full, no evictable frame")
		return 0, diskmanager.ErrBufferPoolFull
	}
	victim := bpm.pages[frameID]
	victimID := victim.GetPageID()
	if victim.IsDirty() && victimID != pagemanager.InvalidPageID {
		if err := bpm.diskManager.WritePage(victimID, victim.GetData()); err != nil {
			return 0, fmt.Errorf("failed to flush dirty victim page %d: %w", victimID, err)
		}
		if bpm.metrics != nil {
			bpm.metrics.add(bpm.metrics.flushes)
		}
	}
	if victimID != pagemanager.InvalidPageID {
		delete(bpm.pageTable, victimID)
	}
	victim.Reset()
	if bpm.metrics != nil {
		bpm.metrics.add(bpm.metrics.evictions)
	}
	bpm.logger.Debug("evicted frame",
		zap.Int("frame", int(frameID)), zap.Uint64("page", uint64(victimID)))
	return frameID, nil
}

// UnpinPage drops one pin. When the count reaches zero the frame
// becomes evictable. isDirty records whether the caller modified the
// page.
func (bpm *BufferPoolManager) UnpinPage(pageID pagemanager.PageID, isDirty bool) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, ok := bpm.pageTable[pageID]
	if !ok {
		return fmt.Errorf("%w: page %d not resident to unpin", diskmanager.ErrPageNotFound, pageID)
	}
	page := bpm.pages[frameID]
	if page.GetPinCount() == 0 {
		return fmt.Errorf("cannot unpin page %d with pin count 0", pageID)
	}
	page.Unpin()
	if isDirty {
		page.SetDirty(true)
	}
	if page.GetPinCount() == 0 {
		if err := bpm.replacer.SetEvictable(frameID, true); err != nil {
			return err
		}
	}
	return nil
}

// DeletePage drops an unpinned page from the pool and deallocates it on
// disk. A non-resident page is deallocated directly.
func (bpm *BufferPoolManager) DeletePage(pageID pagemanager.PageID) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	if frameID, ok := bpm.pageTable[pageID]; ok {
		page := bpm.pages[frameID]
		if page.GetPinCount() > 0 {
			return fmt.Errorf("%w: page %d", diskmanager.ErrPagePinned, pageID)
		}
		delete(bpm.pageTable, pageID)
		bpm.replacer.Remove(frameID)
		page.Reset()
		bpm.freeList = append(bpm.freeList, frameID)
	}
	return bpm.diskManager.DeallocatePage(pageID)
}

// FlushPage writes a resident dirty page to disk. The page's read latch
// is held for the disk write so a concurrent write guard cannot tear the
// bytes; the caller must not hold a write guard on the page itself.
func (bpm *BufferPoolManager) FlushPage(pageID pagemanager.PageID) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, ok := bpm.pageTable[pageID]
	if !ok {
		return fmt.Errorf("%w: page %d not resident to flush", diskmanager.ErrPageNotFound, pageID)
	}
	page := bpm.pages[frameID]
	if !page.IsDirty() {
		return nil
	}
	page.RLock()
	err := bpm.diskManager.WritePage(pageID, page.GetData())
	page.RUnlock()
	if err != nil {
		return err
	}
	page.SetDirty(false)
	if bpm.metrics != nil {
		bpm.metrics.add(bpm.metrics.flushes)
	}
	return nil
}

// FlushAllPages writes every dirty resident page to disk and syncs the
// file. The first error is returned after attempting every page. Each
// page's read latch is held for its disk write; the caller must not
// hold a write guard on any page.
func (bpm *BufferPoolManager) FlushAllPages() error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	var firstErr error
	for _, page := range bpm.pages {
		if page.GetPageID() == pagemanager.InvalidPageID || !page.IsDirty() {
			continue
		}
		page.RLock()
		err := bpm.diskManager.WritePage(page.GetPageID(), page.GetData())
		page.RUnlock()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			bpm.logger.Error("failed to flush page",
				zap.Uint64("page", uint64(page.GetPageID())), zap.Error(err))
			continue
		}
		page.SetDirty(false)
		if bpm.metrics != nil {
			bpm.metrics.add(bpm.metrics.flushes)
		}
	}
	if err := bpm.diskManager.Sync(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
